// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fields

import (
	"io"
	"os"
	"path/filepath"

	"github.com/daniellowtw/matlab"
	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Reader returns fields by name.
type Reader interface {
	ReadField(name string) (*Matrix, error)
}

// Open returns a Reader for path: a directory is read with CSVDir, anything else is parsed as a
// MATLAB ".mat" file (see ReadMAT).
func Open(path string, gridSize int) (Reader, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open fields from %q", path)
	}
	if info.IsDir() {
		return CSVDir(path), nil
	}
	return ReadMAT(path, gridSize)
}

// MATFile holds the variables of a MATLAB v5 file.
type MATFile struct {
	path     string
	file     *matlab.File
	gridSize int
}

// ReadMAT parses the MATLAB v5 file at path.
//
// Each field must be a 2D numeric array shaped [numSamples, gridSize]. If gridSize > 0, fields with a
// different number of columns are rejected.
func ReadMAT(path string, gridSize int) (*MATFile, error) {
	if gridSize < 0 {
		return nil, errors.Errorf("invalid grid size %d to read %q", gridSize, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q", path)
	}
	defer func() { _ = f.Close() }()

	matFile, err := matlab.NewFileFromReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse Matlab file %q", path)
	}
	// Variables are read lazily: read them all now, while the file is open.
	if len(matFile.GetVarsNames()) == 0 {
		return nil, errors.Errorf("no variables found in Matlab file %q", path)
	}
	return &MATFile{path: path, file: matFile, gridSize: gridSize}, nil
}

// ReadField implements Reader.
func (m *MATFile) ReadField(name string) (*Matrix, error) {
	matVar, found := m.file.GetVar(name)
	if !found {
		return nil, errors.Errorf("field %q not found in Matlab file %q", name, m.path)
	}
	if len(matVar.Dimension) != 2 {
		return nil, errors.Errorf("field %q in %q has dimensions %v, expected [numSamples, gridSize]",
			name, m.path, matVar.Dimension)
	}
	rows, cols := int(matVar.Dimension[0]), int(matVar.Dimension[1])
	if m.gridSize > 0 && cols != m.gridSize {
		return nil, errors.Errorf("field %q in %q has grid size %d, expected %d", name, m.path, cols, m.gridSize)
	}
	values := matVar.Value()
	if len(values) != rows*cols {
		return nil, errors.Errorf("field %q in %q has %d values, expected %d x %d", name, m.path, len(values), rows, cols)
	}
	field := NewMatrix(rows, cols)
	for idx, value := range values {
		v, err := toFloat32(value)
		if err != nil {
			return nil, errors.WithMessagef(err, "field %q in %q", name, m.path)
		}
		// Column-major: idx = col*rows + row.
		row, col := idx%rows, idx/rows
		field.Data[row*field.Cols+col] = v
	}
	klog.V(1).Infof("Read field %q from %q: %d samples x %d grid points", name, m.path, rows, cols)
	return field, nil
}

func toFloat32(value any) (float32, error) {
	switch v := value.(type) {
	case float64:
		return float32(v), nil
	case float32:
		return v, nil
	case int8:
		return float32(v), nil
	case uint8:
		return float32(v), nil
	case int16:
		return float32(v), nil
	case uint16:
		return float32(v), nil
	case int32:
		return float32(v), nil
	case uint32:
		return float32(v), nil
	case int64:
		return float32(v), nil
	case uint64:
		return float32(v), nil
	}
	return 0, errors.Errorf("unsupported value type %T", value)
}

// CSVDir reads each field from the file "<name>.csv" in a directory. See ReadCSV for the format.
type CSVDir string

// ReadField implements Reader.
func (dir CSVDir) ReadField(name string) (*Matrix, error) {
	path := filepath.Join(string(dir), name+".csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open field %q", name)
	}
	defer func() { _ = f.Close() }()
	field, err := ReadCSV(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading field %q from %q", name, path)
	}
	klog.V(1).Infof("Read field %q from %q: %d samples x %d grid points", name, path, field.Rows, field.Cols)
	return field, nil
}

// ReadCSV reads a field from CSV contents without header: one sample per line, one value per grid point.
func ReadCSV(r io.Reader) (*Matrix, error) {
	df := dataframe.ReadCSV(r,
		dataframe.HasHeader(false),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.Float))
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "failed to parse CSV")
	}
	field := NewMatrix(df.Nrow(), df.Ncol())
	for i := range field.Rows {
		row := field.Row(i)
		for j := range field.Cols {
			row[j] = float32(df.Elem(i, j).Float())
		}
	}
	return field, nil
}
