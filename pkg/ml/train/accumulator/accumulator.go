// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package accumulator implements a fixed-size vector of running sums, used to aggregate per-batch
// metrics over an epoch.
//
// It performs no normalization: callers divide the sums by the number of batches or examples.
package accumulator

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrDimensionMismatch is returned (wrapped) by Accumulator.Add when the number of values doesn't match the
// number of slots.
var ErrDimensionMismatch = errors.New("accumulator: number of values doesn't match number of slots")

// Accumulator holds k running sums, all starting at 0.
//
// There is no reset: create a new Accumulator instead.
type Accumulator struct {
	sums []float64
}

// New creates an Accumulator with numSlots slots set to 0.
func New(numSlots int) *Accumulator {
	if numSlots < 0 {
		numSlots = 0
	}
	return &Accumulator{sums: make([]float64, numSlots)}
}

// Add values to the corresponding slots. It fails with ErrDimensionMismatch if len(values) differs from
// the number of slots, in which case no slot is changed.
func (a *Accumulator) Add(values ...float64) error {
	if len(values) != len(a.sums) {
		return errors.Wrapf(ErrDimensionMismatch, "got %d values for %d slots", len(values), len(a.sums))
	}
	for ii, v := range values {
		a.sums[ii] += v
	}
	return nil
}

// At returns the current sum of slot i. It panics if i is out of range, like a slice would.
func (a *Accumulator) At(i int) float64 {
	return a.sums[i]
}

// Len returns the number of slots.
func (a *Accumulator) Len() int {
	return len(a.sums)
}

// Values returns a copy of the current sums.
func (a *Accumulator) Values() []float64 {
	return append([]float64(nil), a.sums...)
}

// String implements fmt.Stringer.
func (a *Accumulator) String() string {
	parts := make([]string, len(a.sums))
	for ii, v := range a.sums {
		parts[ii] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
