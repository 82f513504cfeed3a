// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package stepschedule_test

import (
	"testing"

	"github.com/gomlx/fno/pkg/ml/train/optimizers/stepschedule"
	_ "github.com/gomlx/gomlx/backends/default"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLearningRateAt(t *testing.T) {
	assert.Equal(t, 0.001, stepschedule.LearningRateAt(0.001, 0.5, 50, 0))
	assert.Equal(t, 0.001, stepschedule.LearningRateAt(0.001, 0.5, 50, 49))
	assert.Equal(t, 0.0005, stepschedule.LearningRateAt(0.001, 0.5, 50, 50))
	assert.Equal(t, 0.00025, stepschedule.LearningRateAt(0.001, 0.5, 50, 100))
}

func TestScheduler(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	ctx.SetParams(map[string]any{
		optimizers.ParamLearningRate: 1.0,
		stepschedule.ParamStepSize:   2,
		stepschedule.ParamGamma:      0.5,
	})
	scheduler, err := stepschedule.New(ctx, dtypes.Float32).FromContext().Done()
	require.NoError(t, err)

	// The graph reads the same variable the optimizers use.
	readLR := context.MustNewExec(backend, ctx.Checked(false), func(ctx *context.Context, g *Graph) *Node {
		return optimizers.LearningRateVar(ctx, dtypes.Float32, 1e3).ValueGraph(g)
	})
	want := []float32{1, 1, 0.5, 0.5, 0.25, 0.25, 0.125}
	for epoch, wantLR := range want {
		require.Equal(t, epoch, scheduler.Epoch())
		assert.InDelta(t, float64(wantLR), scheduler.LearningRate(), 1e-9, "epoch %d", epoch)
		lr := tensors.ToScalar[float32](readLR.MustExec1())
		assert.Equal(t, wantLR, lr, "epoch %d", epoch)
		require.NoError(t, scheduler.Step())
	}
}

func TestSchedulerErrors(t *testing.T) {
	_, err := stepschedule.New(context.New(), dtypes.Float32).Done()
	require.Error(t, err, "learning rate is not configured")

	_, err = stepschedule.New(context.New(), dtypes.Float32).LearningRate(0.1).StepSize(0).Done()
	require.Error(t, err)

	_, err = stepschedule.New(context.New(), dtypes.Float32).LearningRate(0.1).Gamma(0).Done()
	require.Error(t, err)
}
