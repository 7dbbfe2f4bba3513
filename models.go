// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sentiment

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/fnn"
	"github.com/gomlx/gomlx/pkg/ml/layers/regularizers"
	"github.com/gomlx/compute/dtypes"

	"github.com/gomlx/sentiment/imdb"
	"github.com/gomlx/sentiment/rnn"
)

// DType used in the models.
var DType = dtypes.Float32

// EmbedTokensGraph creates embeddings for the given tokens.
//
//   - tokens: padded (at the start) token ids, shaped (int32)[batch_size, content_len].
//
// The token ids are indexed by frequency in the corpus, so ids above "max_vocab" are mapped
// to the last embedding entry, which pools all the rare tokens.
//
// It returns the embeddings shaped [batch_size, content_len, <token_embedding_size>].
func EmbedTokensGraph(ctx *context.Context, tokens *Node) *Node {
	g := tokens.Graph()
	maxVocab := len(imdb.LoadedVocab.ListEntries)
	maxVocab = min(maxVocab, context.GetParamOr(ctx, "max_vocab", 10_000))
	tokens = Where(GreaterOrEqual(tokens, Scalar(g, dtypes.Int32, float64(maxVocab))),
		MulScalar(OnesLike(tokens), float64(maxVocab-1)),
		tokens)

	embedSize := context.GetParamOr(ctx, "token_embedding_size", 128)
	return layers.Embedding(ctx.In("tokens"), tokens, DType, maxVocab, embedSize, false)
}

// LSTMModelGraph builds the graph for the recurrent sentiment classifier: embedded tokens
// feed an LSTM, the hidden states are mean-pooled over the valid (non-padding) positions,
// and a linear readout produces one logit per example.
//
// Inputs are as yielded by imdb.Dataset: inputs[0] are the token ids and inputs[1] the
// padding mask. It returns the logits shaped [batch_size, 1].
func LSTMModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	tokens, mask := inputs[0], inputs[1]
	embed := EmbedTokensGraph(ctx, tokens)

	hiddenSize := context.GetParamOr(ctx, "hidden_size", 128)
	allStates, _, _ := rnn.New(ctx.In("lstm"), embed, hiddenSize).
		Mask(mask).
		Done()

	// [batch_size, content_len, hidden_size] -> [batch_size, hidden_size]
	pooled := rnn.MaskedMeanPooling(allStates, mask)
	logits := fnn.New(ctx.In("readout"), pooled, 1).
		Regularizer(regularizers.FromContext(ctx)).
		Done()
	return []*Node{logits}
}

// BagOfWordsModelGraph builds the graph for a baseline model that ignores the order of the
// tokens: the embeddings of the valid tokens are max-reduced over the content length and a
// linear readout produces the logit.
//
// It is much cheaper to train than the LSTM and a good sanity baseline.
func BagOfWordsModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	tokens, mask := inputs[0], inputs[1]
	embed := EmbedTokensGraph(ctx, tokens)

	// Zero out the embeddings of the padding before pooling.
	embed = Where(BroadcastToShape(ExpandAxes(mask, -1), embed.Shape()), embed, ZerosLike(embed))
	pooled := ReduceMax(embed, 1)
	logits := fnn.New(ctx.In("readout"), pooled, 1).
		Regularizer(regularizers.FromContext(ctx)).
		Done()
	return []*Node{logits}
}
