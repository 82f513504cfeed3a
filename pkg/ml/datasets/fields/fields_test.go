// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fields

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// iotaMatrix returns a matrix where the value at (i, j) is 100*i+j.
func iotaMatrix(rows, cols int) *Matrix {
	m := NewMatrix(rows, cols)
	for i := range rows {
		for j := range cols {
			m.Data[i*cols+j] = float32(100*i + j)
		}
	}
	return m
}

func TestSubsample(t *testing.T) {
	m := iotaMatrix(4, 8)
	sub, err := m.Subsample(3, 4)
	require.NoError(t, err)
	require.Equal(t, 3, sub.Rows)
	require.Equal(t, 2, sub.Cols)
	assert.Equal(t, []float32{0, 4, 100, 104, 200, 204}, sub.Data)

	// Stride not dividing the number of columns: like [::3] it keeps columns 0, 3 and 6.
	sub, err = m.Subsample(1, 3)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 3, 6}, sub.Data)

	_, err = m.Subsample(5, 1)
	require.Error(t, err)
	_, err = m.Subsample(2, 0)
	require.Error(t, err)
}

func TestMatrixFromRows(t *testing.T) {
	m, err := MatrixFromRows([][]float32{{1, 2}, {3, 4}})
	require.NoError(t, err)
	assert.Equal(t, float32(3), m.At(1, 0))
	assert.Equal(t, []int{2, 2, 1}, m.Tensor(1).Shape().Dimensions)

	_, err = MatrixFromRows([][]float32{{1, 2}, {3}})
	require.Error(t, err)
}

func TestReadCSV(t *testing.T) {
	m, err := ReadCSV(strings.NewReader("1,2,3\n4.5,-5,6e-1\n"))
	require.NoError(t, err)
	require.Equal(t, 2, m.Rows)
	require.Equal(t, 3, m.Cols)
	assert.InDeltaSlice(t, []float32{1, 2, 3, 4.5, -5, 0.6}, m.Data, 1e-6)
}

func TestCSVDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f_train.csv"), []byte("0,1,2,3\n4,5,6,7\n"), 0o644))

	reader, err := Open(dir, 4)
	require.NoError(t, err)
	m, err := reader.ReadField("f_train")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 2, 3, 4, 5, 6, 7}, m.Data)

	_, err = reader.ReadField("u_train")
	require.Error(t, err)

	_, err = Open(filepath.Join(dir, "missing.mat"), 4)
	require.Error(t, err)
}

// writeMAT writes a little-endian MATLAB v5 file with one double matrix per field, stored column-major.
func writeMAT(t *testing.T, path string, names []string, fields [][][]float64) {
	const (
		miINT8   = 1
		miINT32  = 5
		miUINT32 = 6
		miDOUBLE = 9
		miMATRIX = 14
		mxDOUBLE = 6
	)
	var buf bytes.Buffer
	header := []byte("MATLAB 5.0 MAT-file, Platform: posix, Created on: Mon Feb 18 17:12:08 2013")
	buf.Write(header)
	buf.Write(bytes.Repeat([]byte(" "), 116-len(header)))
	buf.Write(make([]byte, 8))              // Subsystem data offset.
	buf.Write([]byte{0x00, 0x01, 'I', 'M'}) // Version and endianness.
	write := func(w *bytes.Buffer, values ...any) {
		for _, v := range values {
			require.NoError(t, binary.Write(w, binary.LittleEndian, v))
		}
	}
	padTo8 := func(w *bytes.Buffer) {
		for w.Len()%8 != 0 {
			w.WriteByte(0)
		}
	}
	for ii, name := range names {
		field := fields[ii]
		rows, cols := len(field), len(field[0])
		var matrix bytes.Buffer
		write(&matrix, uint32(miUINT32), uint32(8), uint32(mxDOUBLE), uint32(0))
		write(&matrix, uint32(miINT32), uint32(8), int32(rows), int32(cols))
		write(&matrix, uint32(miINT8), uint32(len(name)))
		matrix.WriteString(name)
		padTo8(&matrix)
		write(&matrix, uint32(miDOUBLE), uint32(8*rows*cols))
		for col := range cols {
			for row := range rows {
				write(&matrix, field[row][col])
			}
		}
		write(&buf, uint32(miMATRIX), uint32(matrix.Len()))
		buf.Write(matrix.Bytes())
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestReadMAT(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poisson.mat")
	writeMAT(t, path, []string{"f_train", "u_train"}, [][][]float64{
		{{0, 1, 2, 3}, {10, 11, 12, 13}, {20, 21, 22, 23}},
		{{0.5, 1.5, 2.5, 3.5}, {-1, -2, -3, -4}, {7, 8, 9, 10}},
	})

	reader, err := Open(path, 4)
	require.NoError(t, err)
	m, err := reader.ReadField("f_train")
	require.NoError(t, err)
	require.Equal(t, 3, m.Rows)
	require.Equal(t, 4, m.Cols)
	assert.Equal(t, []float32{0, 1, 2, 3, 10, 11, 12, 13, 20, 21, 22, 23}, m.Data)
	m, err = reader.ReadField("u_train")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 1.5, 2.5, 3.5, -1, -2, -3, -4, 7, 8, 9, 10}, m.Data)
	_, err = reader.ReadField("f_test")
	require.Error(t, err)

	// The same 12 values on a grid of 6 points must not be silently reshaped.
	reader, err = Open(path, 6)
	require.NoError(t, err)
	_, err = reader.ReadField("f_train")
	require.ErrorContains(t, err, "grid size")

	// Without a grid size the shape stored in the file is used.
	matFile, err := ReadMAT(path, 0)
	require.NoError(t, err)
	m, err = matFile.ReadField("u_train")
	require.NoError(t, err)
	assert.Equal(t, float32(8), m.At(2, 1))
}

func collectEpoch(t *testing.T, ds *Dataset) (inputs, labels [][]float32, batchSizes []int) {
	for {
		_, in, lab, err := ds.Yield()
		if err == io.EOF {
			return
		}
		require.NoError(t, err)
		require.Len(t, in, 1)
		require.Len(t, lab, 1)
		dims := in[0].Shape().Dimensions
		require.Equal(t, 3, len(dims))
		require.Equal(t, 1, dims[2])
		batchSizes = append(batchSizes, dims[0])
		inValues := in[0].Value().([][][]float32)
		labValues := lab[0].Value().([][]float32)
		for ii := range inValues {
			row := make([]float32, len(inValues[ii]))
			for jj := range inValues[ii] {
				row[jj] = inValues[ii][jj][0]
			}
			inputs = append(inputs, row)
			labels = append(labels, labValues[ii])
		}
	}
}

func TestDataset(t *testing.T) {
	inputs := iotaMatrix(5, 4)
	labels := iotaMatrix(5, 2)
	ds, err := NewDataset("test", inputs, labels)
	require.NoError(t, err)
	ds.BatchSize(2, false)
	assert.Equal(t, "test", ds.Name())
	assert.Equal(t, 5, ds.NumExamples())
	assert.Equal(t, 3, ds.NumBatches())

	gotInputs, gotLabels, batchSizes := collectEpoch(t, ds)
	assert.Equal(t, []int{2, 2, 1}, batchSizes)
	for ii := range 5 {
		assert.Equal(t, inputs.Row(ii), gotInputs[ii])
		assert.Equal(t, labels.Row(ii), gotLabels[ii])
	}

	// Exhausted until Reset.
	_, _, _, err = ds.Yield()
	require.ErrorIs(t, err, io.EOF)
	ds.Reset()
	_, _, batchSizes = collectEpoch(t, ds)
	assert.Equal(t, []int{2, 2, 1}, batchSizes)

	ds.BatchSize(2, true)
	ds.Reset()
	assert.Equal(t, 2, ds.NumBatches())
	_, _, batchSizes = collectEpoch(t, ds)
	assert.Equal(t, []int{2, 2}, batchSizes)

	_, err = NewDataset("mismatch", iotaMatrix(3, 2), iotaMatrix(2, 2))
	require.Error(t, err)
}

func TestDatasetShuffle(t *testing.T) {
	const numExamples = 20
	newDataset := func(seed int64) *Dataset {
		ds, err := NewDataset("shuffled", iotaMatrix(numExamples, 3), iotaMatrix(numExamples, 3))
		require.NoError(t, err)
		return ds.BatchSize(3, false).Shuffle(seed)
	}
	ds1, ds2 := newDataset(42), newDataset(42)
	epoch1a, labels1a, _ := collectEpoch(t, ds1)
	epoch2a, _, _ := collectEpoch(t, ds2)
	assert.Equal(t, epoch1a, epoch2a, "same seed must yield the same order")

	// Inputs and labels stay paired, and every example is seen once per epoch.
	seen := make(map[float32]bool)
	for ii := range epoch1a {
		assert.Equal(t, epoch1a[ii], labels1a[ii])
		seen[epoch1a[ii][0]] = true
	}
	assert.Len(t, seen, numExamples)

	ds1.Reset()
	ds2.Reset()
	epoch1b, _, _ := collectEpoch(t, ds1)
	epoch2b, _, _ := collectEpoch(t, ds2)
	assert.Equal(t, epoch1b, epoch2b)
	assert.NotEqual(t, epoch1a, epoch1b, "each epoch should be reshuffled")
}

func TestExample(t *testing.T) {
	ds, err := NewDataset("test", iotaMatrix(3, 4), iotaMatrix(3, 4))
	require.NoError(t, err)
	input, label, err := ds.Example(2)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4, 1}, input.Shape().Dimensions)
	assert.Equal(t, [][]float32{{200, 201, 202, 203}}, label.Value())
	_, _, err = ds.Example(3)
	require.Error(t, err)
}
