// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rnn

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/compute/dtypes"
)

// MaskedMeanPooling averages a sequence of per-position values over the valid
// (mask=true) positions only, returning one fixed-size vector per example.
//
//   - sequence: shaped [batchSize, sequenceSize, embedSize].
//   - mask: boolean, shaped [batchSize, sequenceSize].
//
// Returns the mean shaped [batchSize, embedSize].
//
// The mean is undefined for an example whose mask is all false -- it yields
// NaN (0/0). Callers must guarantee at least one valid position per example;
// the dataset in this repository rejects empty sequences at batching time.
func MaskedMeanPooling(sequence, mask *Node) *Node {
	sequence.AssertRank(3)
	if mask.DType() != dtypes.Bool {
		exceptions.Panicf("rnn.MaskedMeanPooling: mask must be boolean, got %s", mask.Shape())
	}
	mask.AssertDims(sequence.Shape().Dim(0), sequence.Shape().Dim(1))

	dtype := sequence.DType()
	maskF := ConvertDType(mask, dtype)                    // [batch, sequence]
	summed := ReduceSum(Mul(sequence, ExpandAxes(maskF, -1)), 1) // [batch, embed]
	counts := ExpandAxes(ReduceSum(maskF, -1), -1)        // [batch, 1]
	return Div(summed, counts)
}
