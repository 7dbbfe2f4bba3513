// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sentiment

import (
	"fmt"
	"math"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"

	"github.com/gomlx/sentiment/adadelta"
	"github.com/gomlx/sentiment/imdb"
)

// setupTestCorpus installs a tiny synthetic corpus in the imdb package globals, and returns
// a function that restores the previous values.
func setupTestCorpus() func() {
	savedVocab, savedExamples := imdb.LoadedVocab, imdb.LoadedExamples
	vocab := imdb.NewVocab()
	for _, token := range []string{"awful", "great", "movie"} {
		vocab.RegisterToken(token)
	}
	imdb.LoadedVocab = vocab
	// ids: awful=2, great=3, movie=4. Sentiment is decided by a single token, so even a
	// tiny model can fit it.
	imdb.LoadedExamples = []*imdb.Example{
		{Set: imdb.TypeTrain, Label: 0, Length: 2, Content: []int{2, 4}},
		{Set: imdb.TypeTrain, Label: 1, Length: 2, Content: []int{3, 4}},
		{Set: imdb.TypeTrain, Label: 0, Length: 3, Content: []int{4, 2, 2}},
		{Set: imdb.TypeTrain, Label: 1, Length: 1, Content: []int{3}},
		{Set: imdb.TypeTest, Label: 0, Length: 1, Content: []int{2}},
		{Set: imdb.TypeTest, Label: 1, Length: 2, Content: []int{4, 3}},
	}
	return func() {
		imdb.LoadedVocab, imdb.LoadedExamples = savedVocab, savedExamples
	}
}

// newTestContext returns a context with hyperparameters scaled down for the tests.
func newTestContext() *context.Context {
	ctx := CreateDefaultContext()
	ctx.SetParams(map[string]any{
		"max_vocab":            8,
		"token_embedding_size": 4,
		"hidden_size":          4,
	})
	return ctx
}

func testModelTraining(t *testing.T, modelName string) {
	defer setupTestCorpus()()
	backend := graphtest.BuildTestBackend()
	ctx := newTestContext()

	const maxLen = 4
	const batchSize = 4
	trainDS := imdb.NewDataset("train", imdb.TypeTrain, maxLen, batchSize, true)

	modelFn, found := ValidModels[modelName]
	require.True(t, found)
	trainer := train.NewTrainer(backend, ctx.In("model"), modelFn,
		losses.BinaryCrossentropyLogits,
		adadelta.New().Done(),
		nil,
		[]metrics.Interface{metrics.NewMeanBinaryLogitsAccuracy("accuracy", "#acc")})

	var firstLoss, lastLoss float64
	const numSteps = 100
	for step := range numSteps {
		_, inputs, labels, err := trainDS.Yield()
		require.NoError(t, err)
		stepMetrics, err := trainer.TrainStep(nil, inputs, labels)
		require.NoError(t, err)
		lastLoss = float64(stepMetrics[0].Value().(float32))
		require.Falsef(t, math.IsNaN(lastLoss) || math.IsInf(lastLoss, 0),
			"%s: loss became %v at step %d", modelName, lastLoss, step)
		if step == 0 {
			firstLoss = lastLoss
		}
	}
	fmt.Printf("\t%s: loss %.4f -> %.4f after %d steps\n", modelName, firstLoss, lastLoss, numSteps)
	require.Less(t, lastLoss, firstLoss)

	require.Equal(t, int64(numSteps), optimizers.GetGlobalStep(ctx.In("model")))
}

func TestLSTMModelTraining(t *testing.T) {
	testModelTraining(t, "lstm")
}

func TestBagOfWordsModelTraining(t *testing.T) {
	testModelTraining(t, "bow")
}

func TestEvalErrorRate(t *testing.T) {
	defer setupTestCorpus()()
	backend := graphtest.BuildTestBackend()
	ctx := newTestContext()

	const maxLen = 4
	trainDS := imdb.NewDataset("train", imdb.TypeTrain, maxLen, 4, true)
	testDS := imdb.NewDataset("test", imdb.TypeTest, maxLen, 2, false)

	trainer := train.NewTrainer(backend, ctx.In("model"), LSTMModelGraph,
		losses.BinaryCrossentropyLogits,
		adadelta.New().Done(),
		nil,
		[]metrics.Interface{metrics.NewMeanBinaryLogitsAccuracy("accuracy", "#acc")})
	for range 20 {
		_, inputs, labels, err := trainDS.Yield()
		require.NoError(t, err)
		_, err = trainer.TrainStep(nil, inputs, labels)
		require.NoError(t, err)
	}

	errorRate, err := EvalErrorRate(trainer, testDS)
	require.NoError(t, err)
	require.GreaterOrEqual(t, errorRate, 0.0)
	require.LessOrEqual(t, errorRate, 1.0)

	// The dataset was reset: it can be evaluated again.
	_, err = EvalErrorRate(trainer, testDS)
	require.NoError(t, err)
}

func TestCreateDefaultContext(t *testing.T) {
	ctx := CreateDefaultContext()
	require.Equal(t, "lstm", context.GetParamOr(ctx, "model", ""))
	require.Equal(t, "adadelta", context.GetParamOr(ctx, optimizers.ParamOptimizer, ""))
	require.Contains(t, ValidModels, "lstm")
	require.Contains(t, ValidModels, "bow")
}
