// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package stepschedule implements a step-wise learning rate decay: the learning rate is multiplied by
// gamma every stepSize epochs.
//
// Unlike schedules built into the training graph, it is driven from the host: call Scheduler.Step once at
// the end of every epoch, and it updates the optimizer's learning rate variable (see
// optimizers.LearningRateVar) that the next training steps read.
//
// Example:
//
//	scheduler, err := stepschedule.New(ctx, dtypes.Float32).FromContext().Done()
//	...
//	for epoch := range numEpochs {
//		trainOneEpoch()
//		if err := scheduler.Step(); err != nil { ... }
//	}
package stepschedule

import (
	"math"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

const (
	// ParamStepSize is the number of epochs between two decays of the learning rate.
	// The default is 50 (int).
	ParamStepSize = "lr_step_size"

	// ParamGamma is the multiplicative factor applied to the learning rate at every decay.
	// The default is 0.5 (float64).
	ParamGamma = "lr_gamma"
)

// Config of the step schedule. Create it with New and finalize with Done.
type Config struct {
	ctx          *context.Context
	dtype        dtypes.DType
	learningRate float64
	stepSize     int
	gamma        float64
}

// New creates a configuration for a step schedule of the learning rate of the optimizer using ctx.
// The dtype must match the dtype of the loss (and hence of the learning rate variable) used by the optimizer.
func New(ctx *context.Context, dtype dtypes.DType) *Config {
	return &Config{
		ctx:          ctx,
		dtype:        dtype,
		learningRate: -1,
		stepSize:     50,
		gamma:        0.5,
	}
}

// FromContext reads the configuration from the hyperparameters ParamStepSize, ParamGamma and
// optimizers.ParamLearningRate.
func (c *Config) FromContext() *Config {
	c.stepSize = context.GetParamOr(c.ctx, ParamStepSize, c.stepSize)
	c.gamma = context.GetParamOr(c.ctx, ParamGamma, c.gamma)
	c.learningRate = context.GetParamOr(c.ctx, optimizers.ParamLearningRate, c.learningRate)
	return c
}

// LearningRate sets the initial learning rate.
// If not set, it is read from the hyperparameter optimizers.ParamLearningRate.
func (c *Config) LearningRate(learningRate float64) *Config {
	c.learningRate = learningRate
	return c
}

// StepSize sets the number of epochs between decays.
func (c *Config) StepSize(stepSize int) *Config {
	c.stepSize = stepSize
	return c
}

// Gamma sets the multiplicative decay factor.
func (c *Config) Gamma(gamma float64) *Config {
	c.gamma = gamma
	return c
}

// Done validates the configuration, sets the learning rate variable to its initial value and returns
// the Scheduler.
func (c *Config) Done() (*Scheduler, error) {
	if c.learningRate < 0 {
		c.learningRate = context.GetParamOr(c.ctx, optimizers.ParamLearningRate, -1.0)
		if c.learningRate < 0 {
			return nil, errors.Errorf("stepschedule: learning rate not configured and hyperparameter %q not set",
				optimizers.ParamLearningRate)
		}
	}
	if c.stepSize <= 0 {
		return nil, errors.Errorf("stepschedule: step size must be > 0, got %d", c.stepSize)
	}
	if c.gamma <= 0 {
		return nil, errors.Errorf("stepschedule: gamma must be > 0, got %g", c.gamma)
	}
	s := &Scheduler{
		config: c,
		lrVar:  optimizers.LearningRateVar(c.ctx, c.dtype, c.learningRate),
	}
	if err := s.apply(); err != nil {
		return nil, err
	}
	return s, nil
}

// Scheduler updates the learning rate once per epoch.
type Scheduler struct {
	config *Config
	lrVar  *context.Variable
	epoch  int
}

// Step marks the end of an epoch and updates the learning rate variable accordingly.
func (s *Scheduler) Step() error {
	s.epoch++
	return s.apply()
}

// Epoch returns the number of times Step was called.
func (s *Scheduler) Epoch() int { return s.epoch }

// LearningRate returns the learning rate for the current epoch.
func (s *Scheduler) LearningRate() float64 {
	return LearningRateAt(s.config.learningRate, s.config.gamma, s.config.stepSize, s.epoch)
}

func (s *Scheduler) apply() error {
	value := tensors.FromAnyValue(shapes.CastAsDType(s.LearningRate(), s.config.dtype))
	if err := s.lrVar.SetValue(value); err != nil {
		return errors.WithMessagef(err, "stepschedule: failed to set learning rate for epoch %d", s.epoch)
	}
	return nil
}

// LearningRateAt returns initial·gamma^⌊epoch/stepSize⌋.
func LearningRateAt(initial, gamma float64, stepSize, epoch int) float64 {
	return initial * math.Pow(gamma, float64(epoch/stepSize))
}
