// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package poisson1d

import (
	"github.com/gomlx/fno/pkg/ml/datasets/fields"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Names of the fields read from the data.
const (
	FieldTrainInputs = "f_train"
	FieldTrainLabels = "u_train"
	FieldTestInputs  = "f_test"
	FieldTestLabels  = "u_test"
)

// LoadData reads the train and test fields from reader and returns the datasets, configured with the
// hyperparameters in ctx: the first ParamTrainSamples (resp. ParamTestSamples) samples are taken, with
// every ParamSub-th grid point, and batched by ParamBatchSize.
//
// The train dataset is reshuffled at every epoch if ParamShuffle is set, with ParamSeed. The test dataset
// is always read in order.
func LoadData(ctx *context.Context, reader fields.Reader) (trainDS, testDS *fields.Dataset, err error) {
	numTrain := context.GetParamOr(ctx, ParamTrainSamples, 10_000)
	numTest := context.GetParamOr(ctx, ParamTestSamples, 625)
	sub := context.GetParamOr(ctx, ParamSub, 8)
	batchSize := context.GetParamOr(ctx, ParamBatchSize, 10)

	trainDS, err = loadSplit(reader, "train", FieldTrainInputs, FieldTrainLabels, numTrain, sub)
	if err != nil {
		return nil, nil, err
	}
	testDS, err = loadSplit(reader, "test", FieldTestInputs, FieldTestLabels, numTest, sub)
	if err != nil {
		return nil, nil, err
	}
	trainDS.BatchSize(batchSize, false)
	testDS.BatchSize(batchSize, false)
	if context.GetParamOr(ctx, ParamShuffle, true) {
		trainDS.Shuffle(context.GetParamOr(ctx, ParamSeed, int64(0)))
	}
	return trainDS, testDS, nil
}

func loadSplit(reader fields.Reader, name, inputsField, labelsField string, n, sub int) (*fields.Dataset, error) {
	var matrices [2]*fields.Matrix
	for ii, field := range []string{inputsField, labelsField} {
		full, err := reader.ReadField(field)
		if err != nil {
			return nil, err
		}
		matrices[ii], err = full.Subsample(n, sub)
		if err != nil {
			return nil, errors.WithMessagef(err, "field %q", field)
		}
		klog.V(1).Infof("field %q: %d x %d, using %d x %d", field, full.Rows, full.Cols,
			matrices[ii].Rows, matrices[ii].Cols)
	}
	return fields.NewDataset(name, matrices[0], matrices[1])
}
