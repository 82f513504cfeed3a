// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fno

import (
	"math"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/regularizers"
)

// Dense is a layers.DenseWithBias over the last axis of x, with weights and biases initialized
// uniformly in [-1/√inputDim, 1/√inputDim).
func Dense(ctx *context.Context, x *Node, outputDim int) *Node {
	if x.Rank() < 1 || outputDim <= 0 {
		exceptions.Panicf("fno.Dense: invalid x.shape=%s or outputDim=%d", x.Shape(), outputDim)
	}
	inputDim := x.Shape().Dimensions[x.Rank()-1]
	return layers.DenseWithBias(withFanInInitializer(ctx, inputDim), x, outputDim)
}

// Pointwise applies a kernel-size-1 convolution to a channel-major x shaped [batchSize, inChannels, gridSize]:
// the same affine map mixes the channels at every grid position, and the output is shaped
// [batchSize, outChannels, gridSize].
//
// Weights and biases are initialized uniformly in [-1/√inChannels, 1/√inChannels). The weights are
// regularized as configured by regularizers.FromContext.
func Pointwise(ctx *context.Context, x *Node, outChannels int) *Node {
	if x.Rank() != 3 || outChannels <= 0 {
		exceptions.Panicf("fno.Pointwise: x must be shaped [batchSize, inChannels, gridSize] and outChannels > 0, "+
			"got x.shape=%s, outChannels=%d", x.Shape(), outChannels)
	}
	g := x.Graph()
	dtype := x.DType()
	inChannels := x.Shape().Dimensions[1]
	ctx = withFanInInitializer(ctx, inChannels)
	weightsVar := ctx.VariableWithShape("weights", shapes.Make(dtype, inChannels, outChannels))
	if regularizer := regularizers.FromContext(ctx); regularizer != nil {
		regularizer(ctx, g, weightsVar)
	}
	weights := weightsVar.ValueGraph(g)
	biases := ctx.VariableWithShape("biases", shapes.Make(dtype, outChannels)).ValueGraph(g)

	x = Einsum("bin,io->bon", x, weights)
	return Add(x, Reshape(biases, 1, outChannels, 1))
}

func withFanInInitializer(ctx *context.Context, fanIn int) *context.Context {
	bound := 1.0 / math.Sqrt(float64(fanIn))
	return ctx.WithInitializer(initializers.RandomUniformFn(ctx, -bound, bound))
}
