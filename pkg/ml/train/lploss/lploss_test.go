// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package lploss_test

import (
	"testing"

	"github.com/gomlx/fno/pkg/ml/train/lploss"
	_ "github.com/gomlx/gomlx/backends/default"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/stretchr/testify/require"
)

func TestRelative(t *testing.T) {
	graphtest.RunTestGraphFn(t, "Relative", func(g *Graph) (inputs, outputs []*Node) {
		labels := Const(g, [][]float32{{3, 4}, {1, 0}})
		predictions := Const(g, [][]float32{{0, 0}, {1, 1}})
		closer := Const(g, [][]float32{{3, 4}, {2, 0}})
		// Predictions with a trailing channel axis, the way the network outputs them.
		closerWithChannel := Reshape(closer, 2, 2, 1)
		inputs = []*Node{labels, predictions}
		outputs = []*Node{
			lploss.RelativeL2(labels, predictions),
			lploss.New().Reduce(lploss.Mean).Relative(labels, predictions),
			lploss.RelativeL2(labels, closerWithChannel),
			lploss.New().Reduce(lploss.None).Relative(labels, closer),
			lploss.New().P(1).Relative(Const(g, [][]float32{{1, -1}}), Const(g, [][]float32{{0, 0}})),
		}
		return
	}, []any{
		float32(2),
		float32(1),
		float32(1),
		[]float32{0, 1},
		float32(1),
	}, 1e-5)
}

func TestRelativeGradient(t *testing.T) {
	// The first example is predicted exactly: its error norm is 0 and must contribute a zero gradient.
	graphtest.RunTestGraphFn(t, "RelativeGradient", func(g *Graph) (inputs, outputs []*Node) {
		labels := Const(g, [][]float32{{1, 2, 2}, {3, 0, 4}})
		predictions := Const(g, [][]float32{{1, 2, 2}, {3, 0, 5}})
		inputs = []*Node{labels, predictions}
		loss := lploss.RelativeL2(labels, predictions)
		lossP1 := lploss.New().P(1).Relative(labels, predictions)
		outputs = []*Node{
			loss,
			Gradient(loss, predictions)[0],
			Gradient(lossP1, predictions)[0],
		}
		return
	}, []any{
		float32(0.2),
		[][]float32{{0, 0, 0}, {0, 0, 0.2}},
		[][]float32{{0, 0, 0}, {0, 0, 1.0 / 7}},
	}, 1e-5)
}

func TestAbsolute(t *testing.T) {
	graphtest.RunTestGraphFn(t, "Absolute", func(g *Graph) (inputs, outputs []*Node) {
		labels := Const(g, [][]float32{{0, 0, 0}, {0, 0, 0}})
		predictions := Const(g, [][]float32{{3, 4, 0}, {0, 0, 1}})
		inputs = []*Node{labels, predictions}
		// Grid spacing h=1/2, scale h^(2/2) = 0.5.
		outputs = []*Node{
			lploss.New().Absolute(labels, predictions),
			lploss.New().Reduce(lploss.None).Absolute(labels, predictions),
		}
		return
	}, []any{
		float32(3),
		[]float32{2.5, 0.5},
	}, 1e-5)
}

func TestMeanSquaredError(t *testing.T) {
	graphtest.RunTestGraphFn(t, "MeanSquaredError", func(g *Graph) (inputs, outputs []*Node) {
		labels := Const(g, [][]float32{{1, 2}, {0, 0}})
		predictions := Const(g, [][][]float32{{{3}, {2}}, {{0}, {-2}}})
		inputs = []*Node{labels, predictions}
		outputs = []*Node{lploss.MeanSquaredError(labels, predictions)}
		return
	}, []any{
		float32(2),
	}, 1e-5)
}

func TestShapeMismatch(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	require.Panics(t, func() {
		exec := MustNewExec(backend, func(labels, predictions *Node) *Node {
			return lploss.RelativeL2(labels, predictions)
		})
		_ = exec.MustExec1([][]float32{{1, 2}}, [][]float32{{1, 2, 3}})
	})
	require.Panics(t, func() {
		exec := MustNewExec(backend, func(labels, predictions *Node) *Node {
			return lploss.MeanSquaredError(labels, predictions)
		})
		_ = exec.MustExec1([][]float32{{1, 2}, {3, 4}}, [][]float32{{1, 2, 3, 4}})
	})
}
