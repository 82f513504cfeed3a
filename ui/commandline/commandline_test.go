// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gomlx/fno/pkg/ml/datasets/fields"
	"github.com/gomlx/fno/pkg/ml/train/epochs"
	_ "github.com/gomlx/gomlx/backends/default"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		"learning_rate": 0.001,
		"fno_modes":     16,
		"seed":          int64(0),
		"shuffle":       true,
		"activation":    "gelu",
		"list_int":      []int{},
	})
	return ctx
}

func TestParseContextSettings(t *testing.T) {
	ctx := createTestContext()
	paramsSet, err := ParseContextSettings(ctx,
		"learning_rate=0.01;/model/block_0/fno_modes=8;seed=1_000;shuffle=false;activation=relu;list_int=1,3,7;")
	require.NoError(t, err)
	require.Equal(t, []string{"learning_rate", "/model/block_0/fno_modes", "seed", "shuffle", "activation", "list_int"},
		paramsSet)

	assert.Equal(t, 0.01, context.GetParamOr(ctx, "learning_rate", 0.0))
	assert.Equal(t, 16, context.GetParamOr(ctx, "fno_modes", 0))
	assert.Equal(t, 8, context.GetParamOr(ctx.In("model").In("block_0"), "fno_modes", 0))
	assert.Equal(t, int64(1000), context.GetParamOr(ctx, "seed", int64(0)))
	assert.False(t, context.GetParamOr(ctx, "shuffle", true))
	assert.Equal(t, "relu", context.GetParamOr(ctx, "activation", ""))
	assert.Equal(t, []int{1, 3, 7}, context.GetParamOr(ctx, "list_int", []int{}))

	modified := SprintModifiedContextSettings(ctx, append(paramsSet, "seed"))
	assert.Equal(t, 1, strings.Count(modified, `"seed"`))

	// Unknown parameter.
	_, err = ParseContextSettings(ctx, "q=3")
	require.Error(t, err)

	// Parameter only known in a sub-scope.
	ctx.In("c").SetParam("q", 13)
	_, err = ParseContextSettings(ctx, "q=3")
	require.Error(t, err)

	// Wrong type of value.
	_, err = ParseContextSettings(ctx, "fno_modes=3.14")
	require.Error(t, err)

	// Scope not absolute.
	_, err = ParseContextSettings(ctx, "model/fno_modes=3")
	require.Error(t, err)

	// Malformed.
	_, err = ParseContextSettings(ctx, "fno_modes")
	require.Error(t, err)
}

func TestParseContextSettingsFile(t *testing.T) {
	ctx := createTestContext()
	path := filepath.Join(t.TempDir(), "settings.txt")
	require.NoError(t, os.WriteFile(path, []byte("# Smaller model\nfno_modes=4\n\nlearning_rate=0.5;shuffle=false\n"), 0o644))
	paramsSet, err := ParseContextSettings(ctx, "file:"+path+";seed=3")
	require.NoError(t, err)
	assert.Equal(t, []string{"fno_modes", "learning_rate", "shuffle", "seed"}, paramsSet)
	assert.Equal(t, 4, context.GetParamOr(ctx, "fno_modes", 0))
	assert.Equal(t, 0.5, context.GetParamOr(ctx, "learning_rate", 0.0))

	_, err = ParseContextSettings(ctx, "file:"+filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.23s", FormatDuration(1234567*time.Microsecond))
	assert.Equal(t, "850.00ms", FormatDuration(850*time.Millisecond))
	assert.Equal(t, "1m30s", FormatDuration(90*time.Second))
}

func TestEpochReports(t *testing.T) {
	report := epochs.EpochReport{
		Epoch:    3,
		Duration: 1500 * time.Millisecond,
		TrainMSE: 0.25,
		TrainL2:  0.125,
		TestL2:   0.0625,
	}
	assert.Equal(t, "3 1.5000 0.25 0.125 0.0625", FormatEpochLine(report))

	table := EpochsTable([]epochs.EpochReport{report, {Epoch: 4, TestL2: 0.03}})
	assert.Contains(t, table, "Test L2")
	assert.Contains(t, table, "0.0625")
	assert.Contains(t, table, "0.03")
}

func TestProgressBarStop(t *testing.T) {
	rows := [][]float32{{1, 2, 3, 4}, {4, 3, 2, 1}}
	matrix, err := fields.MatrixFromRows(rows)
	require.NoError(t, err)
	newDataset := func(name string) *fields.Dataset {
		ds, err := fields.NewDataset(name, matrix, matrix)
		require.NoError(t, err)
		return ds.BatchSize(1, false)
	}
	model := func(ctx *context.Context, inputs *Node) *Node {
		return Mul(inputs, ctx.VariableWithValue("scale", float32(1)).ValueGraph(inputs.Graph()))
	}
	loop, err := epochs.New(graphtest.BuildTestBackend(), context.New(), model,
		optimizers.Adam().LearningRate(1e-3).Done(), nil)
	require.NoError(t, err)
	stop := AttachProgressBar(loop, 4)
	loop.OnStep("abort", 1, func(_ *epochs.Loop, phase epochs.Phase, batch int, _ float64) error {
		if phase == epochs.Evaluation {
			return errors.New("abort")
		}
		return nil
	})

	// The run fails before its end, so the display must be stopped by the caller.
	_, err = loop.Run(newDataset("train"), newDataset("test"), 3)
	require.ErrorContains(t, err, "abort")
	done := make(chan struct{})
	go func() {
		stop()
		stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("progress bar display didn't stop")
	}
}
