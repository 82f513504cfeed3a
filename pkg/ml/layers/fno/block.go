// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fno

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

// Block is one Fourier layer: the sum of a SpectralConv1D (global, smooth part) and a Pointwise map
// (local part) over x shaped [batchSize, width, gridSize], followed by the activation if applyActivation
// is true. The output has the same shape as x.
//
// Variables are created under the "spectral" and "pointwise" sub-scopes of ctx.
func Block(ctx *context.Context, x *Node, modes int, activation activations.Type, applyActivation bool) *Node {
	if x.Rank() != 3 {
		exceptions.Panicf("fno.Block: input must be shaped [batchSize, width, gridSize], got x.shape=%s", x.Shape())
	}
	width := x.Shape().Dimensions[1]
	spectral := SpectralConv1D(ctx.In("spectral"), x, width, modes)
	local := Pointwise(ctx.In("pointwise"), x, width)
	y := Add(spectral, local)
	if applyActivation {
		y = activations.Apply(activation, y)
	}
	return y
}
