// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fno implements a 1D Fourier Neural Operator (FNO) and its building blocks.
//
// A Fourier Neural Operator learns a map between functions sampled on a regular grid. Each of its
// layers (see Block) sums a global operator, applied in the Fourier domain on a truncated number of
// frequencies (see SpectralConv1D), and a local per-position channel mixing (see Pointwise).
//
// E.g.: a model mapping a forcing function f, shaped [batchSize, gridSize, 1], to the solution u of a
// differential equation, shaped [batchSize, gridSize, 1]:
//
//	func ModelGraph(ctx *context.Context, f *Node) *Node {
//		return fno.New(ctx.In("model"), f).
//			Modes(16).
//			Width(64).
//			Done()
//	}
//
// Defaults can also be given by the context hyperparameters, see ParamModes, ParamWidth,
// ParamNumBlocks, ParamProjectionDim and ParamGridEndpoint.
package fno

import (
	"math"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gopjrt/dtypes"
)

const (
	// ParamModes is the hyperparameter with the number of Fourier modes kept by each spectral layer.
	// The default is 16 (int).
	ParamModes = "fno_modes"

	// ParamWidth is the hyperparameter with the number of channels of the operator blocks.
	// The default is 64 (int).
	ParamWidth = "fno_width"

	// ParamNumBlocks is the hyperparameter with the number of operator blocks.
	// The default is 3 (int).
	ParamNumBlocks = "fno_num_blocks"

	// ParamProjectionDim is the hyperparameter with the hidden dimension of the output projection head.
	// The default is 128 (int).
	ParamProjectionDim = "fno_projection_dim"

	// ParamGridEndpoint is the hyperparameter that defines whether the coordinate grid includes 2π as its
	// last point (like numpy.linspace(0, 2π, n)), or whether it is the half-open interval [0, 2π).
	// The default is true (bool).
	ParamGridEndpoint = "fno_grid_endpoint"
)

// Config is created with New and can be configured with its methods, or simply setting the corresponding
// hyperparameters in the context.
type Config struct {
	ctx                              *context.Context
	input                            *Node
	modes, width, numBlocks, projDim int
	activation                       activations.Type
	gridEndpoint                     bool
}

// New creates the configuration of a 1D Fourier Neural Operator over the input, shaped
// [batchSize, gridSize, inputChannels] (usually inputChannels is 1).
// Call Done to build the network; its output is shaped [batchSize, gridSize, 1].
//
// The network concatenates a coordinate grid (see Grid) to the input channels, lifts the channels to
// width with Dense, applies NumBlocks operator blocks (see Block) and projects back to one channel with
// a two layers head.
//
// The activation defaults to the hyperparameter activations.ParamActivation, or "gelu" if not set.
func New(ctx *context.Context, input *Node) *Config {
	if input.Rank() != 3 {
		exceptions.Panicf("fno: input must be shaped [batchSize, gridSize, channels], got input.shape=%s", input.Shape())
	}
	return &Config{
		ctx:          ctx,
		input:        input,
		modes:        context.GetParamOr(ctx, ParamModes, 16),
		width:        context.GetParamOr(ctx, ParamWidth, 64),
		numBlocks:    context.GetParamOr(ctx, ParamNumBlocks, 3),
		projDim:      context.GetParamOr(ctx, ParamProjectionDim, 128),
		activation:   activations.FromName(context.GetParamOr(ctx, activations.ParamActivation, "gelu")),
		gridEndpoint: context.GetParamOr(ctx, ParamGridEndpoint, true),
	}
}

// Modes sets the number of Fourier modes kept by every spectral layer.
// It must be at most gridSize/2+1, see ValidateModes.
func (c *Config) Modes(modes int) *Config {
	if modes < 0 {
		exceptions.Panicf("fno: modes must be >= 0, got %d", modes)
	}
	c.modes = modes
	return c
}

// Width sets the number of channels used inside the operator blocks.
func (c *Config) Width(width int) *Config {
	if width <= 0 {
		exceptions.Panicf("fno: width must be > 0, got %d", width)
	}
	c.width = width
	return c
}

// NumBlocks sets the number of operator blocks. The last one is not followed by an activation.
func (c *Config) NumBlocks(numBlocks int) *Config {
	if numBlocks < 1 {
		exceptions.Panicf("fno: at least one operator block is required, got %d", numBlocks)
	}
	c.numBlocks = numBlocks
	return c
}

// ProjectionDim sets the hidden dimension of the output head.
func (c *Config) ProjectionDim(dim int) *Config {
	if dim <= 0 {
		exceptions.Panicf("fno: projection dimension must be > 0, got %d", dim)
	}
	c.projDim = dim
	return c
}

// Activation used after each operator block (but the last) and inside the output head.
func (c *Config) Activation(activation activations.Type) *Config {
	c.activation = activation
	return c
}

// GridEndpoint configures whether the coordinate grid includes 2π. See ParamGridEndpoint.
func (c *Config) GridEndpoint(endpoint bool) *Config {
	c.gridEndpoint = endpoint
	return c
}

// Done builds the network and returns its output, shaped [batchSize, gridSize, 1].
func (c *Config) Done() *Node {
	ctx := c.ctx
	x := c.input
	g := x.Graph()
	batchSize, gridSize := x.Shape().Dimensions[0], x.Shape().Dimensions[1]
	if err := ValidateModes(gridSize, c.modes); err != nil {
		exceptions.Panicf("%v", err)
	}
	if c.numBlocks < 1 || c.width <= 0 || c.projDim <= 0 {
		exceptions.Panicf("fno: invalid configuration numBlocks=%d, width=%d, projectionDim=%d",
			c.numBlocks, c.width, c.projDim)
	}

	grid := Grid(g, x.DType(), batchSize, gridSize, c.gridEndpoint)
	x = Concatenate([]*Node{x, grid}, -1)
	x = Dense(ctx.In("lift"), x, c.width)

	// Operator blocks work channel-major.
	x = TransposeAllDims(x, 0, 2, 1)
	for ii := range c.numBlocks {
		isLast := ii == c.numBlocks-1
		x = Block(ctx.Inf("block_%d", ii), x, c.modes, c.activation, !isLast)
	}
	x = TransposeAllDims(x, 0, 2, 1)

	x = Dense(ctx.In("projection"), x, c.projDim)
	x = activations.Apply(c.activation, x)
	x = Dense(ctx.In("output"), x, 1)
	x.AssertDims(batchSize, gridSize, 1)
	return x
}

// Grid returns the coordinates of a regular grid of gridSize points starting at 0 and spanning 2π,
// broadcast to shape [batchSize, gridSize, 1].
//
// If endpoint is true the last point is 2π (spacing 2π/(gridSize-1)), otherwise the grid covers
// [0, 2π) with spacing 2π/gridSize.
func Grid(g *Graph, dtype dtypes.DType, batchSize, gridSize int, endpoint bool) *Node {
	spacing := 2 * math.Pi / float64(gridSize)
	if endpoint && gridSize > 1 {
		spacing = 2 * math.Pi / float64(gridSize-1)
	}
	grid := Iota(g, shapes.Make(dtype, gridSize), 0)
	grid = MulScalar(grid, spacing)
	grid = Reshape(grid, 1, gridSize, 1)
	return BroadcastToDims(grid, batchSize, gridSize, 1)
}

// CountParameters returns the total number of scalar values held by the trainable variables of ctx.
// Complex spectral weights count twice, once for their real and once for their imaginary part.
func CountParameters(ctx *context.Context) int {
	total := 0
	ctx.EnumerateVariables(func(v *context.Variable) {
		if v.Trainable {
			total += v.Shape().Size()
		}
	})
	return total
}
