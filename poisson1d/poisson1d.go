// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package poisson1d trains a 1D Fourier Neural Operator that maps the forcing function f of a Poisson
// equation to its solution u, both sampled on a regular grid.
//
// The data holds four fields, "f_train", "u_train", "f_test" and "u_test", each shaped
// [numSamples, fullGridSize], stored in a MATLAB ".mat" file or in a directory with one "<field>.csv" file
// per field. See LoadData.
//
// All the configuration is given by the context hyperparameters created by CreateDefaultContext.
package poisson1d

import (
	"github.com/gomlx/fno/pkg/ml/layers/fno"
	"github.com/gomlx/fno/pkg/ml/train/optimizers/stepschedule"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/regularizers"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
)

// Hyperparameters of the application. The model hyperparameters are defined in the fno package.
const (
	// ParamTrainSamples is the number of samples taken from the start of the train fields.
	ParamTrainSamples = "train_samples"

	// ParamTestSamples is the number of samples taken from the start of the test fields.
	ParamTestSamples = "test_samples"

	// ParamSub is the subsampling stride of the grid: every sub-th grid point is used.
	ParamSub = "sub"

	// ParamFullGridSize is the number of grid points of the stored fields. It is required to reshape
	// fields read from MATLAB files.
	ParamFullGridSize = "full_grid_size"

	// ParamBatchSize for both training and evaluation.
	ParamBatchSize = "batch_size"

	// ParamNumEpochs is the number of epochs to train.
	ParamNumEpochs = "num_epochs"

	// ParamSeed seeds the model initialization, the shuffling of the train set and the choice of the test
	// sample reported at the end.
	ParamSeed = "seed"

	// ParamShuffle enables shuffling the train set at every epoch.
	ParamShuffle = "shuffle"
)

// CreateDefaultContext sets the context with default hyperparameters to use with Train.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		// Data.
		ParamTrainSamples: 10_000,
		ParamTestSamples:  625,
		ParamSub:          8,
		ParamFullGridSize: 8192,

		// Training.
		ParamBatchSize:               10,
		ParamNumEpochs:               10,
		ParamSeed:                    int64(0),
		ParamShuffle:                 true,
		optimizers.ParamLearningRate: 0.001,
		stepschedule.ParamStepSize:   50,
		stepschedule.ParamGamma:      0.5,

		// Weight decay of 1e-4 added to the gradients, that is, an L2 term of 1e-4/2·Σw².
		regularizers.ParamL2:            0.5e-4,
		optimizers.ParamAdamWeightDecay: 0.0,

		// Model.
		fno.ParamModes:              16,
		fno.ParamWidth:              64,
		fno.ParamNumBlocks:          3,
		fno.ParamProjectionDim:      128,
		fno.ParamGridEndpoint:       true,
		activations.ParamActivation: "gelu",
	})
	return ctx
}

// ModelGraph maps the forcing functions f, shaped [batchSize, gridSize, 1], to the predicted
// solutions, shaped [batchSize, gridSize, 1].
func ModelGraph(ctx *context.Context, f *Node) *Node {
	return fno.New(ctx.In("model"), f).Done()
}
