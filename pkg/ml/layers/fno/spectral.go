// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fno

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/layers/regularizers"
	"github.com/pkg/errors"
)

const (
	// WeightsRealVarName and WeightsImagVarName are the names of the variables holding the real and
	// imaginary parts of the spectral weights, shaped [inChannels, outChannels, modes].
	WeightsRealVarName = "weights_real"
	WeightsImagVarName = "weights_imag"
)

// ValidateModes checks that a spectral layer keeping `modes` frequencies can operate on a grid of
// gridSize points.
//
// The real FFT of gridSize points has gridSize/2+1 frequency bins, so modes must be in [0, gridSize/2+1].
// Odd grid sizes are fine: the inverse transform is always given the original grid size.
func ValidateModes(gridSize, modes int) error {
	if gridSize < 1 {
		return errors.Errorf("fno: grid size must be >= 1, got %d", gridSize)
	}
	numBins := gridSize/2 + 1
	if modes < 0 || modes > numBins {
		return errors.Errorf("fno: number of modes must be between 0 and %d (gridSize/2+1) for a grid of size %d, got %d",
			numBins, gridSize, modes)
	}
	return nil
}

// SpectralConv1D applies a learned linear transform in the Fourier domain to x, shaped
// [batchSize, inChannels, gridSize], and returns a tensor shaped [batchSize, outChannels, gridSize].
//
// It takes the real FFT of x along the last axis, keeps the lowest `modes` frequencies, multiplies
// each kept frequency by its own complex [inChannels, outChannels] matrix, zero-fills the dropped
// frequencies and transforms back with the inverse real FFT.
//
// The complex weights are stored as two real variables (see WeightsRealVarName and WeightsImagVarName),
// initialized uniformly in [0, 1/(inChannels*outChannels)).
//
// Kernel regularization configured in the context (see regularizers.FromContext) is applied to
// both weights variables.
//
// If modes is 0 no variables are created and the output is all zeros.
// It panics if x is not rank-3 or if ValidateModes fails.
func SpectralConv1D(ctx *context.Context, x *Node, outChannels, modes int) *Node {
	if x.Rank() != 3 {
		exceptions.Panicf("fno.SpectralConv1D: input must be shaped [batchSize, inChannels, gridSize], got x.shape=%s",
			x.Shape())
	}
	if outChannels <= 0 {
		exceptions.Panicf("fno.SpectralConv1D: outChannels must be > 0, got %d", outChannels)
	}
	g := x.Graph()
	dtype := x.DType()
	batchSize, inChannels, gridSize := x.Shape().Dimensions[0], x.Shape().Dimensions[1], x.Shape().Dimensions[2]
	if err := ValidateModes(gridSize, modes); err != nil {
		exceptions.Panicf("fno.SpectralConv1D: %v", err)
	}
	if modes == 0 {
		return Zeros(g, shapes.Make(dtype, batchSize, outChannels, gridSize))
	}

	weightsShape := shapes.Make(dtype, inChannels, outChannels, modes)
	scale := 1.0 / float64(inChannels*outChannels)
	initCtx := ctx.WithInitializer(initializers.RandomUniformFn(ctx, 0, scale))
	weightsRealVar := initCtx.VariableWithShape(WeightsRealVarName, weightsShape)
	weightsImagVar := initCtx.VariableWithShape(WeightsImagVarName, weightsShape)
	if regularizer := regularizers.FromContext(ctx); regularizer != nil {
		regularizer(ctx, g, weightsRealVar, weightsImagVar)
	}
	weightsReal := weightsRealVar.ValueGraph(g)
	weightsImag := weightsImagVar.ValueGraph(g)

	spectrum := RealFFT(x)
	numBins := spectrum.Shape().Dimensions[2]
	spectrum = Slice(spectrum, AxisRange(), AxisRange(), AxisRange(0, modes))
	specReal, specImag := Real(spectrum), Imag(spectrum)

	// (a+bi)(c+di) = (ac-bd) + (ad+bc)i, contracted over the input channels.
	const equation = "bim,iom->bom"
	outReal := Sub(Einsum(equation, specReal, weightsReal), Einsum(equation, specImag, weightsImag))
	outImag := Add(Einsum(equation, specReal, weightsImag), Einsum(equation, specImag, weightsReal))

	if modes < numBins {
		padding := Zeros(g, shapes.Make(dtype, batchSize, outChannels, numBins-modes))
		outReal = Concatenate([]*Node{outReal, padding}, -1)
		outImag = Concatenate([]*Node{outImag, padding}, -1)
	}
	output := InverseRealFFT(Complex(outReal, outImag), gridSize)
	output.AssertDims(batchSize, outChannels, gridSize)
	return output
}
