// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fields

import (
	"io"
	"math/rand"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Dataset serves pairs of (input, label) fields held in memory, in batches.
// It implements train.Dataset.
//
// Inputs are yielded shaped [batchSize, gridSize, 1] and labels [batchSize, gridSize]. The last batch of an
// epoch may be smaller, unless configured with BatchSize(n, true).
type Dataset struct {
	name           string
	inputs, labels *Matrix
	inputGridSize  int
	labelGridSize  int
	numExamples    int
	muSampling     sync.Mutex
	batchSize      int
	dropIncomplete bool
	next           int
	shuffle        []int
	rng            *rand.Rand
}

// NewDataset creates a Dataset with pairs of rows of inputs and labels, that must have the same number of rows.
// It is initially not shuffled, with batch size 1.
func NewDataset(name string, inputs, labels *Matrix) (*Dataset, error) {
	if inputs.Rows != labels.Rows {
		return nil, errors.Errorf("dataset %q: inputs have %d samples but labels have %d",
			name, inputs.Rows, labels.Rows)
	}
	return &Dataset{
		name:          name,
		inputs:        inputs,
		labels:        labels,
		inputGridSize: inputs.Cols,
		labelGridSize: labels.Cols,
		numExamples:   inputs.Rows,
		batchSize:     1,
	}, nil
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// NumExamples in the dataset.
func (ds *Dataset) NumExamples() int { return ds.numExamples }

// NumBatches returns the number of batches yielded per epoch.
func (ds *Dataset) NumBatches() int {
	ds.muSampling.Lock()
	defer ds.muSampling.Unlock()
	if ds.dropIncomplete {
		return ds.numExamples / ds.batchSize
	}
	return (ds.numExamples + ds.batchSize - 1) / ds.batchSize
}

// BatchSize configures the number of examples per batch. If dropIncompleteBatch is true, the last batch of
// an epoch is dropped when there are not enough examples to fill it.
//
// It returns the modified Dataset, so calls can be cascaded.
func (ds *Dataset) BatchSize(n int, dropIncompleteBatch bool) *Dataset {
	ds.muSampling.Lock()
	defer ds.muSampling.Unlock()
	if n < 1 {
		n = 1
	}
	ds.batchSize = n
	ds.dropIncomplete = dropIncompleteBatch
	return ds
}

// Shuffle configures the Dataset to yield examples in a random order, using a random number generator
// seeded with seed. A new order is drawn immediately and at every Reset, so the sequence of epochs is
// fully determined by the seed.
//
// It returns the modified Dataset, so calls can be cascaded.
func (ds *Dataset) Shuffle(seed int64) *Dataset {
	ds.muSampling.Lock()
	defer ds.muSampling.Unlock()
	ds.rng = rand.New(rand.NewSource(seed))
	ds.shuffle = make([]int, ds.numExamples)
	ds.shuffleLocked()
	return ds
}

func (ds *Dataset) shuffleLocked() {
	for ii := range ds.shuffle {
		ds.shuffle[ii] = ii
	}
	ds.rng.Shuffle(len(ds.shuffle), func(i, j int) {
		ds.shuffle[i], ds.shuffle[j] = ds.shuffle[j], ds.shuffle[i]
	})
}

// Reset implements train.Dataset. It restarts the epoch, reshuffling if configured to shuffle.
func (ds *Dataset) Reset() {
	ds.muSampling.Lock()
	defer ds.muSampling.Unlock()
	ds.next = 0
	if ds.shuffle != nil {
		ds.shuffleLocked()
	}
}

// Yield implements train.Dataset. It returns io.EOF at the end of the epoch.
func (ds *Dataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	ds.muSampling.Lock()
	defer ds.muSampling.Unlock()
	remaining := ds.numExamples - ds.next
	if remaining <= 0 || (ds.dropIncomplete && remaining < ds.batchSize) {
		err = io.EOF
		return
	}
	batchSize := min(ds.batchSize, remaining)
	inputData := make([]float32, 0, batchSize*ds.inputGridSize)
	labelData := make([]float32, 0, batchSize*ds.labelGridSize)
	for ii := range batchSize {
		idx := ds.next + ii
		if ds.shuffle != nil {
			idx = ds.shuffle[idx]
		}
		inputData = append(inputData, ds.inputs.Row(idx)...)
		labelData = append(labelData, ds.labels.Row(idx)...)
	}
	ds.next += batchSize
	inputs = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(inputData, batchSize, ds.inputGridSize, 1)}
	labels = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(labelData, batchSize, ds.labelGridSize)}
	return
}

// Example returns one example as a batch of 1: input shaped [1, gridSize, 1] and label [1, gridSize].
func (ds *Dataset) Example(idx int) (input, label *tensors.Tensor, err error) {
	if idx < 0 || idx >= ds.numExamples {
		return nil, nil, errors.Errorf("dataset %q: example %d out of range [0, %d)", ds.name, idx, ds.numExamples)
	}
	input = tensors.FromFlatDataAndDimensions(append([]float32(nil), ds.inputs.Row(idx)...), 1, ds.inputGridSize, 1)
	label = tensors.FromFlatDataAndDimensions(append([]float32(nil), ds.labels.Row(idx)...), 1, ds.labelGridSize)
	return
}
