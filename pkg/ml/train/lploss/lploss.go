// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package lploss implements Lp-norm based losses used to train operators over functions sampled on a grid:
// the relative error ‖pred−label‖ₚ/‖label‖ₚ, the absolute error scaled by the grid spacing, and the
// mean squared error.
//
// Each example is flattened before taking norms, so predictions shaped [batchSize, gridSize, 1] can be
// compared with labels shaped [batchSize, gridSize]. Any other mismatch panics.
//
// Example: the sum over the batch of the relative L2 errors, the usual training loss of Fourier Neural
// Operators:
//
//	loss := lploss.RelativeL2(labels, predictions)
package lploss

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// Reduction defines how the per-example losses are combined.
type Reduction int

const (
	// Sum of the per-example losses. The caller divides by the number of examples to get averages.
	Sum Reduction = iota

	// Mean of the per-example losses.
	Mean

	// None returns the per-example losses, shaped [batchSize].
	None
)

// Config of an Lp loss. Create it with New.
type Config struct {
	p         float64
	dim       int
	reduction Reduction
}

// New returns the configuration of an L2 loss with Sum reduction, on a 2-dimensional domain
// (only used by Absolute).
func New() *Config {
	return &Config{p: 2, dim: 2, reduction: Sum}
}

// P sets the order of the norm. It must be > 0.
func (c *Config) P(p float64) *Config {
	if p <= 0 {
		exceptions.Panicf("lploss: p must be > 0, got %g", p)
	}
	c.p = p
	return c
}

// Dim sets the dimension of the domain, used to scale the absolute error by h^(dim/p), where h is the
// grid spacing. Default is 2.
func (c *Config) Dim(dim int) *Config {
	c.dim = dim
	return c
}

// Reduce sets how per-example losses are combined. Default is Sum.
func (c *Config) Reduce(reduction Reduction) *Config {
	c.reduction = reduction
	return c
}

// Relative returns the relative error ‖predictions−labels‖ₚ/‖labels‖ₚ of each example, reduced as configured.
func (c *Config) Relative(labels, predictions *Node) *Node {
	labels, predictions = flattenPair(labels, predictions)
	diffNorms := c.norm(Sub(predictions, labels))
	labelNorms := c.norm(labels)
	return c.reduce(Div(diffNorms, labelNorms))
}

// Absolute returns h^(dim/p)·‖predictions−labels‖ₚ for each example, reduced as configured, where
// h = 1/(gridSize-1) is the spacing of a unit grid with gridSize points per example.
func (c *Config) Absolute(labels, predictions *Node) *Node {
	labels, predictions = flattenPair(labels, predictions)
	gridSize := labels.Shape().Dimensions[1]
	h := 1.0
	if gridSize > 1 {
		h = 1.0 / float64(gridSize-1)
	}
	g := labels.Graph()
	scale := Pow(Scalar(g, labels.DType(), h), Scalar(g, labels.DType(), float64(c.dim)/c.p))
	return c.reduce(Mul(scale, c.norm(Sub(predictions, labels))))
}

// norm of each row of x, shaped [batchSize, size].
//
// Rows that are all zeros get a norm of 0 with a zero gradient: the root is only taken over the
// positive sums, otherwise its infinite derivative at 0 turns the gradient into NaN.
func (c *Config) norm(x *Node) *Node {
	g := x.Graph()
	dtype := x.DType()
	var sum *Node
	if c.p == 2 {
		sum = ReduceSum(Square(x), -1)
	} else {
		sum = ReduceSum(Pow(Abs(x), Scalar(g, dtype, c.p)), -1)
	}
	zero := ZerosLike(sum)
	isPositive := GreaterThan(sum, zero)
	safeSum := Where(isPositive, sum, OnesLike(sum))
	var root *Node
	if c.p == 2 {
		root = Sqrt(safeSum)
	} else {
		root = Pow(safeSum, Scalar(g, dtype, 1/c.p))
	}
	return Where(isPositive, root, zero)
}

func (c *Config) reduce(perExample *Node) *Node {
	switch c.reduction {
	case Sum:
		return ReduceAllSum(perExample)
	case Mean:
		return ReduceAllMean(perExample)
	case None:
		return perExample
	}
	exceptions.Panicf("lploss: unknown reduction %d", c.reduction)
	return nil
}

// RelativeL2 returns the sum over the batch of ‖predictions−labels‖₂/‖labels‖₂.
func RelativeL2(labels, predictions *Node) *Node {
	return New().Relative(labels, predictions)
}

// MeanSquaredError returns the mean over all elements of (predictions−labels)².
func MeanSquaredError(labels, predictions *Node) *Node {
	labels, predictions = flattenPair(labels, predictions)
	return ReduceAllMean(Square(Sub(predictions, labels)))
}

// flattenPair reshapes labels and predictions to [batchSize, size], after checking that they hold the same
// number of examples of the same size.
func flattenPair(labels, predictions *Node) (*Node, *Node) {
	if labels.Rank() < 1 || predictions.Rank() < 1 {
		exceptions.Panicf("lploss: labels and predictions must have a batch axis, got labels.shape=%s, predictions.shape=%s",
			labels.Shape(), predictions.Shape())
	}
	batchSize := labels.Shape().Dimensions[0]
	if predictions.Shape().Dimensions[0] != batchSize || predictions.Shape().Size() != labels.Shape().Size() ||
		labels.DType() != predictions.DType() {
		exceptions.Panicf("lploss: labels.shape=%s and predictions.shape=%s don't match", labels.Shape(), predictions.Shape())
	}
	size := 1
	if batchSize > 0 {
		size = labels.Shape().Size() / batchSize
	}
	return Reshape(labels, batchSize, size), Reshape(predictions, batchSize, size)
}
