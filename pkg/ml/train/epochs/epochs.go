// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package epochs implements the epoch based training and evaluation loop of operator models trained
// with the relative L2 loss.
//
// Each epoch trains over every batch of the train dataset (one optimizer step per batch), then evaluates
// over the test dataset with the parameters frozen, and finally steps the learning rate schedule.
// The epoch is summarized in an EpochReport handed to the hooks registered with Loop.OnEpochEnd.
//
// Example:
//
//	loop, err := epochs.New(backend, ctx, ModelGraph, optimizers.Adam().Done(), scheduler)
//	...
//	loop.OnEpochEnd("print", 0, func(loop *epochs.Loop, report epochs.EpochReport) error {
//		fmt.Println(report)
//		return nil
//	})
//	reports, err := loop.Run(trainDS, testDS, numEpochs)
package epochs

import (
	"fmt"
	"io"
	"iter"
	"slices"
	"sort"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/fno/pkg/ml/train/accumulator"
	"github.com/gomlx/fno/pkg/ml/train/lploss"
	"github.com/gomlx/fno/pkg/ml/train/optimizers/stepschedule"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ModelFn builds the model graph: it takes the inputs of a batch, shaped [batchSize, gridSize, 1], and
// returns the predictions, shaped [batchSize, gridSize, 1].
type ModelFn func(ctx *context.Context, inputs *Node) *Node

// Phase of an epoch.
type Phase int

const (
	// Training phase, parameters are updated after every batch.
	Training Phase = iota

	// Evaluation phase, parameters are frozen.
	Evaluation
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case Training:
		return "train"
	case Evaluation:
		return "eval"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Slots of the per-epoch accumulator.
const (
	slotTrainMSE = iota
	slotTrainL2
	slotTestL2
	numSlots
)

// EpochReport summarizes one epoch.
type EpochReport struct {
	// Epoch index, starting from 0.
	Epoch int

	// Duration is the wall-clock time of the epoch, including evaluation.
	Duration time.Duration

	// TrainMSE is the sum of the per-batch mean squared errors, divided by the number of train batches.
	TrainMSE float64

	// TrainL2 is the sum of the per-example relative L2 errors over the train set, divided by the number of
	// train examples.
	TrainL2 float64

	// TestL2 is the same as TrainL2, over the test set, using the parameters at the end of the epoch.
	TestL2 float64

	// LearningRate used during the epoch.
	LearningRate float64

	// NumTrainBatches, NumTrainExamples and NumTestExamples seen in the epoch.
	NumTrainBatches, NumTrainExamples, NumTestExamples int
}

// String implements fmt.Stringer, with the same columns printed by the command line.
func (r EpochReport) String() string {
	return fmt.Sprintf("epoch %d: %.3fs, train_mse=%.6g, train_l2=%.6g, test_l2=%.6g",
		r.Epoch, r.Duration.Seconds(), r.TrainMSE, r.TrainL2, r.TestL2)
}

// Priority for hooks: hooks with lower priority values are called first.
type Priority int

// OnStartFn is called at the start of Loop.Run, after Loop.NumEpochs is set.
type OnStartFn func(loop *Loop) error

// OnStepFn is called after every train or eval batch. The batch index starts at 0 in every phase, and
// loss is the batch relative L2 loss (summed over the batch).
type OnStepFn func(loop *Loop, phase Phase, batch int, loss float64) error

// OnEpochEndFn is called after every epoch. Returning an error aborts the run.
type OnEpochEndFn func(loop *Loop, report EpochReport) error

// OnEndFn is called at the end of a successful Loop.Run with the reports of all epochs.
type OnEndFn func(loop *Loop, reports []EpochReport) error

// Loop trains a model with an optimizer for a number of epochs, evaluating at the end of every epoch.
//
// The public attributes are meant for reading only.
type Loop struct {
	// Epoch currently being executed, starting from 0.
	Epoch int

	// NumEpochs of the current run.
	NumEpochs int

	// TrainStepDurations collected during the last epoch.
	TrainStepDurations []time.Duration

	backend   backends.Backend
	ctx       *context.Context
	model     ModelFn
	optimizer optimizers.Interface
	scheduler *stepschedule.Scheduler

	trainExec, evalExec *context.Exec

	onStart    *priorityHooks[*hookWithName[OnStartFn]]
	onStep     *priorityHooks[*hookWithName[OnStepFn]]
	onEpochEnd *priorityHooks[*hookWithName[OnEpochEndFn]]
	onEnd      *priorityHooks[*hookWithName[OnEndFn]]
}

// New creates a Loop for the model: both the train and eval graphs are built with ctx, so they share the
// model variables. If scheduler is nil the learning rate is left unchanged between epochs.
func New(backend backends.Backend, ctx *context.Context, model ModelFn, optimizer optimizers.Interface,
	scheduler *stepschedule.Scheduler) (*Loop, error) {
	if model == nil || optimizer == nil {
		return nil, errors.New("epochs.New: model and optimizer must be given")
	}
	loop := &Loop{
		backend:    backend,
		ctx:        ctx,
		model:      model,
		optimizer:  optimizer,
		scheduler:  scheduler,
		onStart:    newPriorityHooks[*hookWithName[OnStartFn]](),
		onStep:     newPriorityHooks[*hookWithName[OnStepFn]](),
		onEpochEnd: newPriorityHooks[*hookWithName[OnEpochEndFn]](),
		onEnd:      newPriorityHooks[*hookWithName[OnEndFn]](),
	}
	var err error
	// The train graph creates the variables on its first execution, the eval graph reuses them:
	// the context is unchecked so that either order works.
	loop.trainExec, err = context.NewExec(backend, ctx.Checked(false), loop.trainStepGraph)
	if err != nil {
		return nil, errors.WithMessage(err, "epochs.New: creating train step executor")
	}
	loop.evalExec, err = context.NewExec(backend, ctx.Checked(false), loop.evalStepGraph)
	if err != nil {
		return nil, errors.WithMessage(err, "epochs.New: creating eval step executor")
	}
	return loop, nil
}

// Context used by the loop.
func (loop *Loop) Context() *context.Context { return loop.ctx }

// trainStepGraph computes the predictions and losses of a batch and updates the parameters with the
// gradient of the relative L2 loss. The mean squared error is only reported.
func (loop *Loop) trainStepGraph(ctx *context.Context, inputs, labels *Node) (mse, l2 *Node) {
	g := inputs.Graph()
	ctx.SetTraining(g, true)
	predictions := loop.model(ctx, inputs)
	mse = lploss.MeanSquaredError(labels, predictions)
	l2 = lploss.RelativeL2(labels, predictions)

	// Regularization terms added by the model (see train.AddLoss) are optimized, but not reported.
	train.SetLossNoRegularization(ctx, l2)
	train.AddLoss(ctx, l2)
	loop.optimizer.UpdateGraph(ctx, g, train.GetLosses(ctx, g))
	return
}

// evalStepGraph returns the relative L2 loss of a batch.
func (loop *Loop) evalStepGraph(ctx *context.Context, inputs, labels *Node) *Node {
	ctx.SetTraining(inputs.Graph(), false)
	predictions := loop.model(ctx, inputs)
	return lploss.RelativeL2(labels, predictions)
}

// TrainStep runs one optimizer step on the batch and returns its mean squared error and relative L2 loss.
func (loop *Loop) TrainStep(inputs, labels *tensors.Tensor) (mse, l2 float64, err error) {
	var mseT, l2T *tensors.Tensor
	err = exceptions.TryCatch[error](func() {
		mseT, l2T = loop.trainExec.MustExec2(inputs, labels)
	})
	if err != nil {
		return 0, 0, errors.WithMessage(err, "train step")
	}
	defer mseT.MustFinalizeAll()
	defer l2T.MustFinalizeAll()
	return scalarValue(mseT), scalarValue(l2T), nil
}

// EvalStep returns the relative L2 loss (summed over the batch) of the model on the batch.
func (loop *Loop) EvalStep(inputs, labels *tensors.Tensor) (l2 float64, err error) {
	var l2T *tensors.Tensor
	err = exceptions.TryCatch[error](func() {
		l2T = loop.evalExec.MustExec1(inputs, labels)
	})
	if err != nil {
		return 0, errors.WithMessage(err, "eval step")
	}
	defer l2T.MustFinalizeAll()
	return scalarValue(l2T), nil
}

// Predict returns the model predictions for the inputs, with the parameters frozen.
// The model variables must already exist, that is, at least one train or eval step must have run.
func (loop *Loop) Predict(inputs *tensors.Tensor) (predictions *tensors.Tensor, err error) {
	err = exceptions.TryCatch[error](func() {
		predictions = context.MustExecOnce(loop.backend, loop.ctx.Reuse(), func(ctx *context.Context, x *Node) *Node {
			ctx.SetTraining(x.Graph(), false)
			return loop.model(ctx, x)
		}, inputs)
	})
	if err != nil {
		return nil, errors.WithMessage(err, "predict")
	}
	return predictions, nil
}

func scalarValue(t *tensors.Tensor) float64 {
	switch v := t.Value().(type) {
	case float32:
		return float64(v)
	case float64:
		return v
	}
	exceptions.Panicf("expected a float scalar, got %s", t.Shape())
	return 0
}

// Run trains for numEpochs epochs over trainDS, evaluating on testDS after each epoch, and returns the
// report of every epoch.
//
// Any error (including a shape mismatch between predictions and labels) aborts the run.
func (loop *Loop) Run(trainDS, testDS train.Dataset, numEpochs int) (reports []EpochReport, err error) {
	if numEpochs < 0 {
		return nil, errors.Errorf("epochs.Run: numEpochs must be >= 0, got %d", numEpochs)
	}
	loop.NumEpochs = numEpochs
	loop.Epoch = 0
	for hook := range loop.onStart.All() {
		if err := hook.fn(loop); err != nil {
			return nil, errors.WithMessagef(err, "OnStart(hook %q)", hook.name)
		}
	}
	for loop.Epoch = 0; loop.Epoch < numEpochs; loop.Epoch++ {
		report, err := loop.RunEpoch(trainDS, testDS)
		if err != nil {
			return reports, errors.WithMessagef(err, "epoch %d of %d", loop.Epoch, numEpochs)
		}
		reports = append(reports, report)
		for hook := range loop.onEpochEnd.All() {
			if err := hook.fn(loop, report); err != nil {
				return reports, errors.WithMessagef(err, "OnEpochEnd(hook %q)", hook.name)
			}
		}
	}
	for hook := range loop.onEnd.All() {
		if err := hook.fn(loop, reports); err != nil {
			return reports, errors.WithMessagef(err, "OnEnd(hook %q)", hook.name)
		}
	}
	return reports, nil
}

// RunEpoch trains over every batch of trainDS, then evaluates over testDS and steps the learning rate
// schedule. Both datasets are reset before use.
func (loop *Loop) RunEpoch(trainDS, testDS train.Dataset) (report EpochReport, err error) {
	start := time.Now()
	report.Epoch = loop.Epoch
	if loop.scheduler != nil {
		report.LearningRate = loop.scheduler.LearningRate()
	}
	acc := accumulator.New(numSlots)
	loop.TrainStepDurations = loop.TrainStepDurations[:0]

	trainDS.Reset()
	report.NumTrainBatches, report.NumTrainExamples, err = loop.runPhase(Training, trainDS, acc)
	if err != nil {
		return
	}
	testDS.Reset()
	_, report.NumTestExamples, err = loop.runPhase(Evaluation, testDS, acc)
	if err != nil {
		return
	}
	if loop.scheduler != nil {
		if err = loop.scheduler.Step(); err != nil {
			return
		}
	}

	if report.NumTrainBatches > 0 {
		report.TrainMSE = acc.At(slotTrainMSE) / float64(report.NumTrainBatches)
	}
	if report.NumTrainExamples > 0 {
		report.TrainL2 = acc.At(slotTrainL2) / float64(report.NumTrainExamples)
	}
	if report.NumTestExamples > 0 {
		report.TestL2 = acc.At(slotTestL2) / float64(report.NumTestExamples)
	}
	report.Duration = time.Since(start)
	klog.V(1).Infof("%s (lr=%g)", report, report.LearningRate)
	return
}

// runPhase loops over the dataset until io.EOF, accumulating the losses of the phase.
func (loop *Loop) runPhase(phase Phase, ds train.Dataset, acc *accumulator.Accumulator) (numBatches, numExamples int, err error) {
	for {
		_, inputs, labels, yieldErr := ds.Yield()
		if yieldErr == io.EOF {
			return
		}
		if yieldErr != nil {
			err = errors.WithMessagef(yieldErr, "%s: failed reading from dataset %q", phase, ds.Name())
			return
		}
		if len(inputs) != 1 || len(labels) != 1 {
			err = errors.Errorf("%s: dataset %q must yield one input and one label tensor, got %d and %d",
				phase, ds.Name(), len(inputs), len(labels))
			return
		}
		batchSize := labels[0].Shape().Dimensions[0]

		var l2 float64
		switch phase {
		case Training:
			var mse float64
			stepStart := time.Now()
			mse, l2, err = loop.TrainStep(inputs[0], labels[0])
			loop.TrainStepDurations = append(loop.TrainStepDurations, time.Since(stepStart))
			if err == nil {
				err = acc.Add(mse, l2, 0)
			}
		case Evaluation:
			l2, err = loop.EvalStep(inputs[0], labels[0])
			if err == nil {
				err = acc.Add(0, 0, l2)
			}
		}
		finalizeYielded(inputs, labels)
		if err != nil {
			err = errors.WithMessagef(err, "%s: batch #%d of dataset %q", phase, numBatches, ds.Name())
			return
		}

		for hook := range loop.onStep.All() {
			if err = hook.fn(loop, phase, numBatches, l2); err != nil {
				err = errors.WithMessagef(err, "OnStep(hook %q)", hook.name)
				return
			}
		}
		numBatches++
		numExamples += batchSize
	}
}

// finalizeYielded frees the device memory of the yielded tensors right after use.
func finalizeYielded(inputs, labels []*tensors.Tensor) {
	for _, slice := range [][]*tensors.Tensor{inputs, labels} {
		for _, t := range slice {
			if err := t.FinalizeAll(); err != nil {
				klog.Warningf("failed to finalize yielded tensor: %+v", err)
			}
		}
	}
}

// MedianTrainStepDuration returns the median duration of the train steps of the last epoch. It returns
// 1 millisecond if no step was recorded.
func (loop *Loop) MedianTrainStepDuration() time.Duration {
	if len(loop.TrainStepDurations) == 0 {
		return time.Millisecond
	}
	times := slices.Clone(loop.TrainStepDurations)
	slices.Sort(times)
	return times[len(times)/2]
}

// OnStart adds a hook with given priority and name (for error reporting), called at the start of a run.
func (loop *Loop) OnStart(name string, priority Priority, fn OnStartFn) {
	loop.onStart.Add(priority, &hookWithName[OnStartFn]{name: name, fn: fn})
}

// OnStep adds a hook with given priority and name (for error reporting), called after every batch.
func (loop *Loop) OnStep(name string, priority Priority, fn OnStepFn) {
	loop.onStep.Add(priority, &hookWithName[OnStepFn]{name: name, fn: fn})
}

// OnEpochEnd adds a hook with given priority and name (for error reporting), called with the report of
// every epoch.
func (loop *Loop) OnEpochEnd(name string, priority Priority, fn OnEpochEndFn) {
	loop.onEpochEnd.Add(priority, &hookWithName[OnEpochEndFn]{name: name, fn: fn})
}

// OnEnd adds a hook with given priority and name (for error reporting), called after the last epoch.
func (loop *Loop) OnEnd(name string, priority Priority, fn OnEndFn) {
	loop.onEnd.Add(priority, &hookWithName[OnEndFn]{name: name, fn: fn})
}

type hookWithName[F any] struct {
	name string
	fn   F
}

// priorityHooks organizes hooks per priority.
type priorityHooks[H any] struct {
	hooks map[Priority][]H
}

func newPriorityHooks[H any]() *priorityHooks[H] {
	return &priorityHooks[H]{hooks: make(map[Priority][]H)}
}

// Add hook at the given priority.
func (h *priorityHooks[H]) Add(priority Priority, hook H) {
	h.hooks[priority] = append(h.hooks[priority], hook)
}

// All iterates over the hooks in priority order, and in order of registration within the same priority.
func (h *priorityHooks[H]) All() iter.Seq[H] {
	return func(yield func(H) bool) {
		keys := make([]Priority, 0, len(h.hooks))
		for key := range h.hooks {
			keys = append(keys, key)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		for _, key := range keys {
			for _, hook := range h.hooks[key] {
				if !yield(hook) {
					return
				}
			}
		}
	}
}
