// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sentiment trains and evaluates binary sentiment classifiers for movie reviews,
// using the IMDB corpus of 50k reviews.
//
// The main model is a recurrent (LSTM) classifier over learned token embeddings -- see
// LSTMModelGraph -- trained with AdaDelta and early stopping on a validation split. A "bag
// of words" baseline is also included. The demo program in cmd/sentiment trains a model
// from the command line.
package sentiment

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/layers/regularizers"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"

	"github.com/gomlx/sentiment/adadelta"
	"github.com/gomlx/sentiment/imdb"
)

var (
	// ValidModels is the list of model types supported.
	ValidModels = map[string]train.ModelFn{
		"lstm": LSTMModelGraph,
		"bow":  BagOfWordsModelGraph,
	}

	// ParamsExcludedFromLoading is the list of parameters (see CreateDefaultContext) that
	// shouldn't be saved along on the models checkpoints, and may be overwritten in further
	// training sessions.
	ParamsExcludedFromLoading = []string{
		"data_dir", "train_steps", "num_checkpoints",
	}
)

// CreateDefaultContext sets the context with default hyperparameters to use with TrainModel.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.ResetRNGState()
	ctx.SetParams(map[string]any{
		// Model type to use: one of ValidModels.
		"model":           "lstm",
		"train_steps":     10_000,
		"num_checkpoints": 3,

		// batch_size for training.
		"batch_size": 16,

		// eval_batch_size can be larger than training, it's more efficient.
		"eval_batch_size": 200,

		// Corpus parameters:
		"content_max_len":      100,    // Maximum number of tokens to take per review, from the end.
		"max_vocab":            10_000, // Top most frequent tokens to consider, the rest pools at the last id.
		"validation_fraction":  0.05,   // Fraction of the training split carved out for early stopping.
		"include_separators":   false,  // If true include the word separator symbols in the tokens.

		// Model parameters:
		"token_embedding_size": 128, // Size of the token embedding table.
		"hidden_size":          128, // Size of the LSTM hidden and cell states.

		// Early stopping: evaluate the validation split every early_stop_eval_steps, stop
		// when the validation loss hasn't improved for early_stop_patience evaluations.
		// Set patience to 0 to disable.
		"early_stop_eval_steps": 1000,
		"early_stop_patience":   10,

		optimizers.ParamOptimizer:    "adadelta",
		optimizers.ParamLearningRate: adadelta.DefaultLearningRate,
		adadelta.ParamRho:            0.95,
		adadelta.ParamEpsilon:        1e-6,
		regularizers.ParamL2:         0.0,
	})
	return ctx
}

// TrainModel with hyperparameters given in ctx.
//
// dataDir is the directory where the corpus is downloaded and prepared. If checkpointPath
// is not empty, the model is saved periodically there, and loaded from there during future
// training sessions (paramsSet lists the hyperparameters set from the command line, which
// are never overwritten by a loaded checkpoint).
//
// At the end of training it reports the evaluation on all the splits, including the error
// rate on the test split.
func TrainModel(
	ctx *context.Context,
	dataDir, checkpointPath string,
	paramsSet []string,
	evaluateOnEnd bool,
	verbosity int,
) {
	// Data directory: corpus files and top-level directory holding checkpoints for
	// different models.
	dataDir = fsutil.MustReplaceTildeInDir(dataDir)
	if !fsutil.MustFileExists(dataDir) {
		must.M(os.MkdirAll(dataDir, 0777))
	}

	// Corpus preparation.
	imdb.IncludeSeparators = context.GetParamOr(ctx, "include_separators", false)
	imdb.ValidationFraction = context.GetParamOr(ctx, "validation_fraction", 0.05)
	must.M(imdb.Download(dataDir))

	// Backend handles creation of ML computation graphs, accelerator resources, etc.
	backend := backends.MustNew()
	if verbosity >= 1 {
		fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())
	}

	// Create datasets used for training and evaluation.
	batchSize := context.GetParamOr(ctx, "batch_size", int(0))
	if batchSize <= 0 {
		exceptions.Panicf("Batch size must be > 0 (maybe it was not set?): %d", batchSize)
	}
	evalBatchSize := context.GetParamOr(ctx, "eval_batch_size", int(0))
	if evalBatchSize <= 0 {
		evalBatchSize = batchSize
	}
	maxLen := context.GetParamOr(ctx, "content_max_len", 100)
	var trainDS, trainEvalDS, validationEvalDS, testEvalDS train.Dataset
	trainDS = imdb.NewDataset("train", imdb.TypeTrain, maxLen, batchSize, true).Shuffle()
	trainEvalDS = imdb.NewDataset("train-eval", imdb.TypeTrain, maxLen, evalBatchSize, false)
	validationEvalDS = imdb.NewDataset("validation-eval", imdb.TypeValidation, maxLen, evalBatchSize, false)
	testEvalDS = imdb.NewDataset("test-eval", imdb.TypeTest, maxLen, evalBatchSize, false)

	// Parallelize generation of batches.
	trainDS = datasets.Parallel(trainDS)
	trainEvalDS = datasets.Parallel(trainEvalDS)
	validationEvalDS = datasets.Parallel(validationEvalDS)
	testEvalDS = datasets.Parallel(testEvalDS)

	// Checkpoints saving.
	var checkpoint *checkpoints.Handler
	if checkpointPath != "" {
		numCheckpointsToKeep := context.GetParamOr(ctx, "num_checkpoints", 3)
		checkpoint = must.M1(checkpoints.Build(ctx).
			DirFromBase(checkpointPath, dataDir).
			Keep(numCheckpointsToKeep).
			ExcludeParams(append(paramsSet, ParamsExcludedFromLoading...)...).
			Done())
		fmt.Printf("Checkpoint: %q\n", checkpoint.Dir())
	}
	if verbosity >= 2 {
		fmt.Println(commandline.SprintContextSettings(ctx))
	}

	// Select model graph building function.
	modelType := context.GetParamOr(ctx, "model", "lstm")
	modelFn, found := ValidModels[modelType]
	if !found {
		exceptions.Panicf("Parameter \"model\" must take one value from %v, got %q", maps.Keys(ValidModels), modelType)
	}
	fmt.Printf("Model: %s\n", modelType)

	// Metrics we are interested in.
	meanAccuracyMetric := metrics.NewMeanBinaryLogitsAccuracy("Mean Accuracy", "#acc")
	movingAccuracyMetric := metrics.NewMovingAverageBinaryLogitsAccuracy("Moving Average Accuracy", "~acc", 0.01)

	// Create a train.Trainer: this object will orchestrate running the model, feeding
	// results to the optimizer, evaluating the metrics, etc. (all happens in
	// trainer.TrainStep).
	ctx = ctx.In("model") // Convention scope used for model creation.
	trainer := train.NewTrainer(backend, ctx, modelFn,
		losses.BinaryCrossentropyLogits,
		optimizers.FromContext(ctx),
		[]metrics.Interface{movingAccuracyMetric}, // trainMetrics
		[]metrics.Interface{meanAccuracyMetric})   // evalMetrics

	// Use standard training loop.
	loop := train.NewLoop(trainer)
	if verbosity >= 0 {
		commandline.AttachProgressBar(loop) // Attaches a progress bar to the loop.
	}

	// Checkpoint saving: every 3 minutes of training.
	if checkpoint != nil {
		period := time.Minute * 3
		train.PeriodicCallback(loop, period, true, "saving checkpoint", 100,
			func(loop *train.Loop, metrics []*tensors.Tensor) error {
				return checkpoint.Save()
			})
	}

	// Early stopping on the validation split.
	patience := context.GetParamOr(ctx, "early_stop_patience", 0)
	if patience > 0 {
		evalSteps := context.GetParamOr(ctx, "early_stop_eval_steps", 1000)
		AttachEarlyStopping(loop, trainer, validationEvalDS, evalSteps, patience)
	}

	// Loop for given number of steps.
	numTrainSteps := context.GetParamOr(ctx, "train_steps", 0)
	globalStep := int(optimizers.GetGlobalStep(ctx))
	if globalStep > 0 {
		trainer.SetContext(ctx.Reuse())
	}
	if globalStep < numTrainSteps {
		_, err := loop.RunSteps(trainDS, numTrainSteps-globalStep)
		if err != nil {
			if !errors.Is(err, ErrEarlyStop) {
				exceptions.Panicf("training failed: %+v", err)
			}
			fmt.Printf("Training interrupted at step %d: %v\n", loop.LoopStep, err)
			if checkpoint != nil {
				must.M(checkpoint.Save())
			}
		}
		if verbosity >= 1 {
			fmt.Printf("\t[Step %d] median train step: %d microseconds\n",
				loop.LoopStep, loop.MedianTrainStepDuration().Microseconds())
		}
	} else {
		fmt.Printf("\t - target train_steps=%d already reached. To train further, set a number additional "+
			"to current global step.\n", numTrainSteps)
	}

	// Finally, print an evaluation on the various splits, and the error rate on test.
	if evaluateOnEnd {
		if verbosity >= 1 {
			fmt.Println()
		}
		must.M(commandline.ReportEval(trainer, trainEvalDS, validationEvalDS, testEvalDS))
		errorRate := must.M1(EvalErrorRate(trainer, testEvalDS))
		fmt.Printf("Test error rate: %.2f%%\n", 100.0*errorRate)
	}
}

// EvalErrorRate evaluates the trainer on ds and returns the error rate, that is, one minus
// the value of the first accuracy metric.
func EvalErrorRate(trainer *train.Trainer, ds train.Dataset) (float64, error) {
	metricsValues, err := trainer.Eval(ds)
	if err != nil {
		return 0, errors.WithMessagef(err, "evaluating %q", ds.Name())
	}
	ds.Reset()
	for metricIdx, metric := range trainer.EvalMetrics() {
		if metric.MetricType() != metrics.AccuracyMetricType {
			continue
		}
		switch v := metricsValues[metricIdx].Value().(type) {
		case float32:
			return 1.0 - float64(v), nil
		case float64:
			return 1.0 - v, nil
		default:
			return 0, errors.Errorf("accuracy metric %q returned unexpected type %T", metric.Name(), v)
		}
	}
	return 0, errors.Errorf("no accuracy metric found among the evaluation metrics")
}

var sampleStyle = lipgloss.NewStyle().
	Border(lipgloss.NormalBorder()).
	Padding(1, 4, 1, 4).
	Width(60)

// PrintSample of n examples of the test split.
func PrintSample(n int) {
	const maxLen = 100
	ds := imdb.NewDataset("sample", imdb.TypeTest, maxLen, n, true).Shuffle()
	_, inputs, labels := must.M3(ds.Yield())
	tensors.MustConstFlatData(labels[0], func(labelsData []int8) {
		for ii := range n {
			fmt.Println(sampleStyle.Render(
				fmt.Sprintf("[Sample %d - label %v]\n%s\n", ii, labelsData[ii], imdb.InputToString(inputs[0], ii))))
		}
	})
	fmt.Println()
}
