// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// poisson1d trains a 1D Fourier Neural Operator on the solutions of a Poisson equation.
//
// Example:
//
//	poisson1d -data=~/work/poisson/poisson1d.mat -set="num_epochs=100;fno_modes=12"
//
// Run with -help to list all the hyperparameters that can be set.
package main

import (
	"flag"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/fno/pkg/ml/datasets/fields"
	"github.com/gomlx/fno/poisson1d"
	"github.com/gomlx/fno/ui/commandline"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagData = flag.String("data", "~/work/poisson/poisson1d.mat",
		"MATLAB .mat file, or directory with one CSV file per field, with the fields f_train, u_train, f_test and u_test.")
	flagVerbosity = flag.Int("verbosity", 1, "Level of verbosity, the higher the more verbose.")
	flagProgress  = flag.Bool("progress", true, "Display a progress bar instead of one line per epoch.")
)

func main() {
	ctx := poisson1d.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()

	err := exceptions.TryCatch[error](func() {
		paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))
		dataPath := must.M1(fsutil.ReplaceTildeInDir(*flagData))
		fullGridSize := context.GetParamOr(ctx, poisson1d.ParamFullGridSize, 8192)
		reader := must.M1(fields.Open(dataPath, fullGridSize))
		_ = must.M1(poisson1d.Train(&poisson1d.Config{
			Backend:     backends.MustNew(),
			Context:     ctx,
			ParamsSet:   paramsSet,
			Reader:      reader,
			Verbosity:   *flagVerbosity,
			ProgressBar: *flagProgress,
		}))
	})
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}
