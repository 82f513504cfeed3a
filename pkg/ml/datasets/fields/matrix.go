// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fields reads sampled functions ("fields") stored as 2D matrices shaped [numSamples, gridSize],
// subsamples them and serves them as batched in-memory datasets (train.Dataset).
//
// Fields can be read from MATLAB v5 ".mat" files (see ReadMAT) or from a directory with one CSV file per
// field (see CSVDir).
package fields

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Matrix holds a field in row-major order: row i is sample i, column j is grid position j.
type Matrix struct {
	Rows, Cols int
	Data       []float32
}

// NewMatrix creates a zero-filled Matrix.
func NewMatrix(rows, cols int) *Matrix {
	return &Matrix{Rows: rows, Cols: cols, Data: make([]float32, rows*cols)}
}

// MatrixFromRows creates a Matrix copying the given rows, that must all have the same length.
func MatrixFromRows(rows [][]float32) (*Matrix, error) {
	if len(rows) == 0 {
		return &Matrix{}, nil
	}
	m := NewMatrix(len(rows), len(rows[0]))
	for ii, row := range rows {
		if len(row) != m.Cols {
			return nil, errors.Errorf("row %d has %d columns, but row 0 has %d", ii, len(row), m.Cols)
		}
		copy(m.Row(ii), row)
	}
	return m, nil
}

// At returns the value at row i, column j.
func (m *Matrix) At(i, j int) float32 {
	return m.Data[i*m.Cols+j]
}

// Row returns a slice (not a copy) with the values of row i.
func (m *Matrix) Row(i int) []float32 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// Subsample returns a new Matrix with the first n rows and every sub-th column (starting at column 0).
// It is the equivalent of field[:n, ::sub].
func (m *Matrix) Subsample(n, sub int) (*Matrix, error) {
	if n < 0 || n > m.Rows {
		return nil, errors.Errorf("cannot take %d samples from a field with %d samples", n, m.Rows)
	}
	if sub <= 0 {
		return nil, errors.Errorf("subsampling stride must be > 0, got %d", sub)
	}
	cols := (m.Cols + sub - 1) / sub
	out := NewMatrix(n, cols)
	for i := range n {
		row := m.Row(i)
		outRow := out.Row(i)
		for j := range cols {
			outRow[j] = row[j*sub]
		}
	}
	return out, nil
}

// Tensor converts the Matrix to a tensor shaped [Rows, Cols], followed by the optional extra trailing
// dimensions (which must be 1s, e.g. to add a channel axis).
func (m *Matrix) Tensor(trailingDims ...int) *tensors.Tensor {
	dims := append([]int{m.Rows, m.Cols}, trailingDims...)
	return tensors.FromFlatDataAndDimensions(append([]float32(nil), m.Data...), dims...)
}
