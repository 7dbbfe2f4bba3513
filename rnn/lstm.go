// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package rnn provides the recurrent layer used by the sentiment classifier: a
// "Long Short-Term Memory" (LSTM) [1] in its classic no-peephole form, plus the
// masked mean-pooling used to read a fixed-size representation out of the
// per-timestep hidden states.
//
// The LSTM addresses the vanishing/exploding gradient problem of vanilla RNNs:
// the memory cell has a self-connection of weight 1.0, and learned sigmoid
// gates modulate what enters, what is kept and what is exposed. Since GoMLX
// doesn't implement loops, the graph is O(N) on the sequence length -- each
// timestep is instantiated as its own graph nodes.
//
// See discussion in [2].
//
// [1] https://www.bioinf.jku.at/publications/older/2604.pdf, Hochreiter & Schmidhuber, 1997
// [2] https://colah.github.io/posts/2015-08-Understanding-LSTMs/
package rnn

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/compute/dtypes"
)

// Order of the gates in the concatenated kernel/bias: the combined
// pre-activation z_t = x_t·W + h_{t-1}·U + b is shaped [batch, 4*hiddenSize]
// and sliced in this order.
const (
	gateInput = iota
	gateForget
	gateCandidate
	gateOutput
	numGates
)

// LSTM holds the configuration of an LSTM layer. Create it with New (or
// NewWithWeights), configure it, and apply it to the input with Done.
type LSTM struct {
	ctx                         *context.Context
	x, mask                     *Node
	initialHidden, initialCell  *Node
	batchSize, featuresSize     int
	hiddenSize                  int

	// Model weights: the per-gate matrices are concatenated along the last
	// axis, in the gate order above.
	//   - inputKernel: [featuresSize, 4*hiddenSize]
	//   - recurrentKernel: [hiddenSize, 4*hiddenSize]
	//   - bias: [4*hiddenSize]
	inputKernel, recurrentKernel, bias *Node
}

// New creates an LSTM layer to be configured and then applied to x, creating
// its weights as variables in ctx.
//
// x must be shaped [batchSize, sequenceSize, featuresSize]. If the sequences
// are padded, set LSTM.Mask.
//
// Once finished configuring, call LSTM.Done to apply the layer.
func New(ctx *context.Context, x *Node, hiddenSize int) *LSTM {
	x.AssertRank(3)
	if hiddenSize <= 0 {
		exceptions.Panicf("rnn.New: hiddenSize must be > 0, got %d", hiddenSize)
	}
	return &LSTM{
		ctx:          ctx,
		x:            x,
		batchSize:    x.Shape().Dim(0),
		featuresSize: x.Shape().Dim(2),
		hiddenSize:   hiddenSize,
	}
}

// NewWithWeights creates an LSTM layer using the given weights, as opposed to
// creating them on-the-fly.
//
// Args:
//   - x: shaped [batchSize, sequenceSize, featuresSize]
//   - inputKernel: shaped [featuresSize, 4*hiddenSize]
//   - recurrentKernel: shaped [hiddenSize, 4*hiddenSize]
//   - bias: shaped [4*hiddenSize]
func NewWithWeights(x, inputKernel, recurrentKernel, bias *Node) *LSTM {
	l := New(nil, x, inputKernel.Shape().Dim(1)/numGates)
	l.inputKernel = inputKernel
	l.recurrentKernel = recurrentKernel
	l.bias = bias
	inputKernel.AssertDims(l.featuresSize, numGates*l.hiddenSize)
	recurrentKernel.AssertDims(l.hiddenSize, numGates*l.hiddenSize)
	bias.AssertDims(numGates * l.hiddenSize)
	return l
}

// Mask indicates which positions of x hold real tokens (true) as opposed to
// padding (false). It must be boolean and shaped [batchSize, sequenceSize].
//
// At padded positions the hidden and cell states carry forward unchanged, so
// padding never influences the states of the valid positions.
//
// The default is to assume the sequences are dense -- used to the end.
func (l *LSTM) Mask(mask *Node) *LSTM {
	l.mask = mask
	return l
}

// InitialStates configures the initial hidden and cell states (h_0 and C_0 in
// the literature). Both must be shaped [batchSize, hiddenSize]. If not set,
// they default to zeros.
func (l *LSTM) InitialStates(hidden, cell *Node) *LSTM {
	l.initialHidden = hidden
	l.initialCell = cell
	return l
}

// Done applies the LSTM layer to the sequences in x.
//
// Returns:
//   - allHiddenStates: [batchSize, sequenceSize, hiddenSize], the hidden state
//     at every position -- at masked positions it repeats the last valid state.
//   - lastHiddenState and lastCellState: [batchSize, hiddenSize].
func (l *LSTM) Done() (allHiddenStates, lastHiddenState, lastCellState *Node) {
	ctx := l.ctx
	x := l.x
	g := x.Graph()
	dtype := x.DType()
	batchSize := l.batchSize
	sequenceSize := x.Shape().Dim(1)
	hiddenSize := l.hiddenSize
	inputKernel := l.inputKernel
	recurrentKernel := l.recurrentKernel
	bias := l.bias

	if l.mask != nil {
		l.mask.AssertDims(batchSize, sequenceSize)
		if l.mask.DType() != dtypes.Bool {
			exceptions.Panicf("rnn: mask must be boolean, got %s", l.mask.Shape())
		}
	}

	// If model weights were not given, create them in the context.
	if inputKernel == nil {
		inputKernel = ctx.VariableWithShape(
			"kernel", shapes.Make(dtype, l.featuresSize, numGates*hiddenSize)).ValueGraph(g)
		recurrentKernel = ctx.VariableWithShape(
			"recurrent_kernel", shapes.Make(dtype, hiddenSize, numGates*hiddenSize)).ValueGraph(g)
		bias = ctx.WithInitializer(initializers.Zero).VariableWithShape(
			"bias", shapes.Make(dtype, numGates*hiddenSize)).ValueGraph(g)
	}

	// Input projections of all positions at once, bias included:
	// b->batchSize, s->sequenceSize, f->featuresSize, j->4*hiddenSize.
	projX := Einsum("bsf,fj->bsj", x, inputKernel)
	projX = Add(projX, ExpandAxes(bias, 0, 1))

	// Starting states: h_{t-1} and C_{t-1} so to say.
	prevHidden, prevCell := l.initialHidden, l.initialCell
	if prevHidden == nil {
		prevHidden = Zeros(g, shapes.Make(dtype, batchSize, hiddenSize))
	} else {
		prevHidden.AssertDims(batchSize, hiddenSize)
	}
	if prevCell == nil {
		prevCell = Zeros(g, shapes.Make(dtype, batchSize, hiddenSize))
	} else {
		prevCell.AssertDims(batchSize, hiddenSize)
	}

	seqHiddenStates := make([]*Node, sequenceSize)
	for seqPos := range sequenceSize {
		// Combined pre-activation z_t = x_t·W + h_{t-1}·U + b, then sliced
		// per gate. Shape [batchSize, 4*hiddenSize].
		zT := Reshape(Slice(projX, AxisRange(), AxisElem(seqPos)), batchSize, numGates*hiddenSize)
		zT = Add(zT, Einsum("bh,hj->bj", prevHidden, recurrentKernel))
		gateFn := func(gate int) *Node {
			return Slice(zT, AxisRange(), AxisRange(gate*hiddenSize, (gate+1)*hiddenSize))
		}

		iT := Sigmoid(gateFn(gateInput))
		fT := Sigmoid(gateFn(gateForget))
		candidateT := Tanh(gateFn(gateCandidate))
		oT := Sigmoid(gateFn(gateOutput)) // No peephole: o_t doesn't see C_t.

		cellState := Add(
			Mul(iT, candidateT),
			Mul(fT, prevCell))
		hiddenState := Mul(oT, Tanh(cellState))

		// At padded positions keep the previous states unchanged.
		if l.mask != nil {
			maskT := Slice(l.mask, AxisRange(), AxisElem(seqPos)) // [batchSize, 1]
			hiddenState = Where(maskT, hiddenState, prevHidden)
			cellState = Where(maskT, cellState, prevCell)
		}

		seqHiddenStates[seqPos] = hiddenState
		prevHidden = hiddenState
		prevCell = cellState
	}

	allHiddenStates = Stack(seqHiddenStates, 1)
	lastHiddenState = prevHidden
	lastCellState = prevCell
	return
}
