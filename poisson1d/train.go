// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package poisson1d

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/fno/pkg/ml/datasets/fields"
	"github.com/gomlx/fno/pkg/ml/layers/fno"
	"github.com/gomlx/fno/pkg/ml/train/epochs"
	"github.com/gomlx/fno/pkg/ml/train/optimizers/stepschedule"
	"github.com/gomlx/fno/ui/commandline"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Config of a training run.
type Config struct {
	Backend backends.Backend

	// Context with the hyperparameters, see CreateDefaultContext. It also holds the model variables once
	// trained.
	Context *context.Context

	// ParamsSet are the hyperparameters set by the user, only used for printing.
	ParamsSet []string

	// Reader of the data fields, see fields.Open.
	Reader fields.Reader

	// Verbosity: if < 0 nothing is printed, if 0 only the epoch lines and the final sample error, and if >= 1
	// also the backend, the hyperparameters set and the number of parameters.
	Verbosity int

	// ProgressBar replaces the epoch lines by a progress bar, if Verbosity >= 0.
	ProgressBar bool
}

// Result of a training run.
type Result struct {
	Reports []epochs.EpochReport

	// NumParameters is the number of trainable scalars of the model, complex values counted twice.
	NumParameters int

	// SampleIndex is a test example picked at random after training, and SampleL2 its relative L2 error.
	SampleIndex int
	SampleL2    float64
}

// Train loads the data, creates the model and trains it for ParamNumEpochs epochs.
func Train(config *Config) (*Result, error) {
	ctx := config.Context
	if config.Verbosity >= 1 {
		fmt.Printf("Backend %q:\t%s\n", config.Backend.Name(), config.Backend.Description())
		if len(config.ParamsSet) > 0 {
			fmt.Printf("Hyperparameters set:\n%s\n", commandline.SprintModifiedContextSettings(ctx, config.ParamsSet))
		}
	}
	seed := context.GetParamOr(ctx, ParamSeed, int64(0))
	if err := ctx.SetRNGStateFromSeed(seed); err != nil {
		return nil, errors.WithMessage(err, "seeding the random number generator")
	}

	trainDS, testDS, err := LoadData(ctx, config.Reader)
	if err != nil {
		return nil, err
	}
	if testDS.NumExamples() == 0 {
		return nil, errors.New("no test examples, at least one is required")
	}

	scheduler, err := stepschedule.New(ctx, dtypes.Float32).FromContext().Done()
	if err != nil {
		return nil, err
	}
	optimizer := optimizers.Adam().FromContext(ctx).Done()
	loop, err := epochs.New(config.Backend, ctx, ModelGraph, optimizer, scheduler)
	if err != nil {
		return nil, err
	}

	// Create the model variables by evaluating on the first test example, so the number of parameters
	// can be reported before training.
	input, label, err := testDS.Example(0)
	if err != nil {
		return nil, err
	}
	if _, err = loop.EvalStep(input, label); err != nil {
		return nil, errors.WithMessage(err, "initializing model")
	}
	result := &Result{NumParameters: fno.CountParameters(ctx)}
	if config.Verbosity >= 1 {
		fmt.Printf("Model: %s trainable parameters\n", humanize.Comma(int64(result.NumParameters)))
	}

	if config.Verbosity >= 0 {
		if config.ProgressBar {
			stopProgressBar := commandline.AttachProgressBar(loop, trainDS.NumBatches()+testDS.NumBatches())
			defer stopProgressBar()
		} else {
			commandline.AttachEpochPrinter(loop, os.Stdout)
		}
	}
	numEpochs := context.GetParamOr(ctx, ParamNumEpochs, 10)
	result.Reports, err = loop.Run(trainDS, testDS, numEpochs)
	if err != nil {
		return nil, err
	}

	// Report the error on a random test example.
	rng := rand.New(rand.NewSource(seed))
	result.SampleIndex = rng.Intn(testDS.NumExamples())
	input, label, err = testDS.Example(result.SampleIndex)
	if err != nil {
		return nil, err
	}
	result.SampleL2, err = loop.EvalStep(input, label)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("test example #%d: relative L2 error %g", result.SampleIndex, result.SampleL2)
	if config.Verbosity >= 0 {
		fmt.Printf("Test example #%d: relative L2 error %s\n", result.SampleIndex,
			humanize.FormatFloat("#.######", result.SampleL2))
	}
	return result, nil
}
