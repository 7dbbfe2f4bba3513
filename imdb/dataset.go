// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package imdb

import (
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
)

// Dataset implements train.Dataset over the loaded IMDB examples.
//
// Each batch yields two inputs and one label:
//
//   - inputs[0] are the token ids, shaped int32[batch_size, max_len]. Reviews longer than
//     max_len are trimmed to their last max_len tokens; shorter reviews are right-aligned,
//     prefixed with the "<START>" token and left-padded with the "<INVALID>" (0) token.
//   - inputs[1] is the padding mask, shaped bool[batch_size, max_len]: true where inputs[0]
//     holds an actual token, false on padding.
//   - labels[0] are the labels, shaped int8[batch_size], 0 for negative, 1 for positive.
//
// It allows for concurrent Yield calls, so it can be wrapped with datasets.Parallel.
type Dataset struct {
	name      string
	Set       SetType
	MaxLen    int
	BatchSize int
	Examples  []*Example
	Infinite  bool

	// muIndices protects the mutable part of the Dataset, to allow for concurrent
	// calls to Yield.
	muIndices sync.Mutex
	pos       int
	shuffle   *rand.Rand
}

// Assert *Dataset implements train.Dataset.
var _ train.Dataset = &Dataset{}

// NewDataset creates a Dataset over the examples of the given split. Download must have
// been called first.
//
// If infinite, Yield never returns io.EOF and reshuffles (when Shuffle was called) at the
// end of each epoch; otherwise it returns io.EOF when there are no more full batches, until
// Reset is called.
func NewDataset(name string, set SetType, maxLen, batchSize int, infinite bool) *Dataset {
	ds := &Dataset{
		name:      name,
		Set:       set,
		MaxLen:    maxLen,
		BatchSize: batchSize,
		Infinite:  infinite,
	}
	ds.Examples = make([]*Example, 0, len(LoadedExamples)/2)
	for _, ex := range LoadedExamples {
		if ex.Set == set {
			ds.Examples = append(ds.Examples, ex)
		}
	}
	return ds
}

// Shuffle sets the dataset to shuffle the order of the examples, before the start and at
// every epoch. It returns the updated dataset, so calls can be chained.
func (ds *Dataset) Shuffle() *Dataset {
	ds.muIndices.Lock()
	defer ds.muIndices.Unlock()
	ds.shuffle = rand.New(rand.NewSource(time.Now().UTC().UnixNano()))
	ds.shuffleLocked()
	return ds
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// Yield implements train.Dataset. If not infinite, it returns io.EOF at the end of the
// dataset.
//
// It returns spec==nil always, since inputs and labels always have the same type of content.
//
// It can be called concurrently.
func (ds *Dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	// Lock only while selecting the examples for the batch.
	ds.muIndices.Lock()
	if ds.pos+ds.BatchSize > len(ds.Examples) {
		if !ds.Infinite {
			ds.muIndices.Unlock()
			return nil, nil, nil, io.EOF
		}
		ds.resetLocked()
	}
	batch := ds.Examples[ds.pos : ds.pos+ds.BatchSize]
	ds.pos += ds.BatchSize
	ds.muIndices.Unlock()

	// Build the batch tensors.
	tokens := tensors.FromScalarAndDimensions(int32(0), ds.BatchSize, ds.MaxLen)
	mask := tensors.FromScalarAndDimensions(false, ds.BatchSize, ds.MaxLen)
	labelsData := make([]int8, ds.BatchSize)
	tensors.MustMutableFlatData(tokens, func(tokensData []int32) {
		tensors.MustMutableFlatData(mask, func(maskData []bool) {
			for batchIdx, ex := range batch {
				if ex.Length == 0 {
					err = errors.Errorf("dataset %q: example with empty content, cannot build a batch "+
						"with no valid tokens", ds.name)
					return
				}
				labelsData[batchIdx] = int8(ex.Label)
				content := ex.Content
				if len(content) > ds.MaxLen {
					content = content[len(content)-ds.MaxLen:]
				}
				// Right-align: padding on the left, so the recurrence ends on real tokens.
				rowTokens := tokensData[batchIdx*ds.MaxLen : (batchIdx+1)*ds.MaxLen]
				rowMask := maskData[batchIdx*ds.MaxLen : (batchIdx+1)*ds.MaxLen]
				start := ds.MaxLen - len(content)
				for ii, tokenID := range content {
					rowTokens[start+ii] = int32(tokenID)
					rowMask[start+ii] = true
				}
				if start > 0 {
					rowTokens[start-1] = 1 // Token "<START>".
					rowMask[start-1] = true
				}
			}
		})
	})
	if err != nil {
		return nil, nil, nil, err
	}
	inputs = []*tensors.Tensor{tokens, mask}
	labels = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(labelsData, ds.BatchSize)}
	return
}

// Reset restarts the dataset from the beginning. It can be called after io.EOF is reached,
// for instance when running another evaluation on a test dataset.
func (ds *Dataset) Reset() {
	ds.muIndices.Lock()
	defer ds.muIndices.Unlock()
	ds.resetLocked()
}

// resetLocked implements Reset, when Dataset.muIndices is already locked.
func (ds *Dataset) resetLocked() {
	ds.shuffleLocked()
	ds.pos = 0
}

func (ds *Dataset) shuffleLocked() {
	if ds.shuffle == nil {
		return
	}
	ds.shuffle.Shuffle(len(ds.Examples), func(i, j int) {
		ds.Examples[i], ds.Examples[j] = ds.Examples[j], ds.Examples[i]
	})
}

// InputToString returns a string rendered content of one row (pointed to by batchIdx) of a
// tokens input. The input is assumed to be a batch created by a Dataset object, and the
// global LoadedVocab is used to map token ids back to tokens.
func InputToString(input *tensors.Tensor, batchIdx int) string {
	if batchIdx < 0 || batchIdx >= input.Shape().Dimensions[0] {
		return fmt.Sprintf("invalid batch idx %d: input shape is %s", batchIdx, input.Shape())
	}
	maxLen := input.Shape().Dimensions[1]
	var parts []string
	tensors.MustConstFlatData(input, func(inputData []int32) {
		start := batchIdx * maxLen
		for _, tokenID := range inputData[start : start+maxLen] {
			if tokenID == 0 {
				continue
			}
			parts = append(parts, LoadedVocab.ListEntries[tokenID].Token)
		}
	})
	return strings.Join(parts, " ")
}
