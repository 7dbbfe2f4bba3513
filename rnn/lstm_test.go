// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rnn

import (
	"math"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func sigmoid(x float64) float64 { return 1.0 / (1.0 + math.Exp(-x)) }

// refLSTM recomputes the recurrence directly in Go (float64), to check the
// graph version against: z_t = x_t·W + h_{t-1}·U + b, sliced into
// (i, f, candidate, o); C_t = i_t*candidate_t + f_t*C_{t-1};
// h_t = o_t*tanh(C_t).
type refLSTM struct {
	inputKernel     [][]float64 // [features][4*hidden]
	recurrentKernel [][]float64 // [hidden][4*hidden]
	bias            []float64   // [4*hidden]
	hiddenSize      int
}

func (r refLSTM) step(x, h, c []float64) (newH, newC []float64) {
	z := make([]float64, len(r.bias))
	copy(z, r.bias)
	for f, xv := range x {
		for j, w := range r.inputKernel[f] {
			z[j] += xv * w
		}
	}
	for k, hv := range h {
		for j, w := range r.recurrentKernel[k] {
			z[j] += hv * w
		}
	}
	hs := r.hiddenSize
	newH, newC = make([]float64, hs), make([]float64, hs)
	for u := range hs {
		iT := sigmoid(z[u])
		fT := sigmoid(z[hs+u])
		candidateT := math.Tanh(z[2*hs+u])
		oT := sigmoid(z[3*hs+u])
		newC[u] = iT*candidateT + fT*c[u]
		newH[u] = oT * math.Tanh(newC[u])
	}
	return
}

// run the reference recurrence over a sequence. Masked (false) positions carry
// the previous states forward unchanged.
func (r refLSTM) run(xs [][]float64, mask []bool) (states [][]float64, h, c []float64) {
	h = make([]float64, r.hiddenSize)
	c = make([]float64, r.hiddenSize)
	states = make([][]float64, len(xs))
	for t, x := range xs {
		if mask == nil || mask[t] {
			h, c = r.step(x, h, c)
		}
		states[t] = h
	}
	return
}

func toF32(v []float64) []float32 {
	r := make([]float32, len(v))
	for i, x := range v {
		r[i] = float32(x)
	}
	return r
}

func toF32Rows(vs [][]float64) [][]float32 {
	r := make([][]float32, len(vs))
	for i, v := range vs {
		r[i] = toF32(v)
	}
	return r
}

var (
	// Fixed literal weights shared by the recomputation tests:
	// 2 features, hidden size 2 -> kernels with 8 columns.
	testInputKernel = [][]float64{
		{0.1, -0.2, 0.3, 0.4, -0.1, 0.2, 0.5, -0.3},
		{0.2, 0.1, -0.4, 0.3, 0.2, -0.2, 0.1, 0.4},
	}
	testRecurrentKernel = [][]float64{
		{0.3, -0.1, 0.2, 0.1, -0.3, 0.2, -0.1, 0.2},
		{-0.2, 0.4, 0.1, -0.2, 0.3, 0.1, 0.2, -0.1},
	}
	testBias = []float64{0.1, -0.1, 0.2, 0.0, 0.05, -0.05, 0.1, 0.2}

	testSequence = [][]float64{{1.0, 0.5}, {-0.5, 1.0}, {0.25, -1.0}}
)

func testWeightNodes(g *Graph) (inputKernel, recurrentKernel, bias *Node) {
	inputKernel = Const(g, toF32Rows(testInputKernel))
	recurrentKernel = Const(g, toF32Rows(testRecurrentKernel))
	bias = Const(g, toF32(testBias))
	return
}

// Checks the layer against a direct recomputation of the recurrence on a fixed
// 3-step sequence with literal scalar weights.
func TestLSTMDirectRecomputation(t *testing.T) {
	ref := refLSTM{testInputKernel, testRecurrentKernel, testBias, 2}
	wantStates, wantH, wantC := ref.run(testSequence, nil)

	graphtest.RunTestGraphFn(t, "LSTM: direct recomputation",
		func(g *Graph) (inputs, outputs []*Node) {
			x := Const(g, [][][]float32{toF32Rows(testSequence)}) // [1, 3, 2]
			inputKernel, recurrentKernel, bias := testWeightNodes(g)
			allStates, lastHidden, lastCell := NewWithWeights(x, inputKernel, recurrentKernel, bias).Done()
			allStates.AssertDims(1, 3, 2)
			lastHidden.AssertDims(1, 2)
			lastCell.AssertDims(1, 2)
			inputs = []*Node{x}
			outputs = []*Node{allStates, lastHidden, lastCell}
			return
		}, []any{
			[][][]float32{toF32Rows(wantStates)},
			[][]float32{toF32(wantH)},
			[][]float32{toF32(wantC)},
		}, 1e-4)
}

// Masked positions must carry the previous hidden/cell states forward
// unchanged, and an all-ones mask must match the unmasked recurrence exactly.
func TestLSTMMask(t *testing.T) {
	sequence := append(append([][]float64{}, testSequence...), []float64{2.0, -2.0})
	ref := refLSTM{testInputKernel, testRecurrentKernel, testBias, 2}
	mask := []bool{true, true, false, false}
	wantStates, wantH, wantC := ref.run(sequence, mask)

	graphtest.RunTestGraphFn(t, "LSTM: padded positions carry state",
		func(g *Graph) (inputs, outputs []*Node) {
			x := Const(g, [][][]float32{toF32Rows(sequence)}) // [1, 4, 2]
			maskNode := Const(g, [][]bool{mask})
			inputKernel, recurrentKernel, bias := testWeightNodes(g)
			allStates, lastHidden, lastCell := NewWithWeights(x, inputKernel, recurrentKernel, bias).
				Mask(maskNode).Done()
			inputs = []*Node{x}
			outputs = []*Node{allStates, lastHidden, lastCell}
			return
		}, []any{
			[][][]float32{toF32Rows(wantStates)},
			[][]float32{toF32(wantH)},
			[][]float32{toF32(wantC)},
		}, 1e-4)

	graphtest.RunTestGraphFn(t, "LSTM: all-ones mask equals no mask",
		func(g *Graph) (inputs, outputs []*Node) {
			x := Const(g, [][][]float32{toF32Rows(sequence)})
			onesMask := Const(g, [][]bool{{true, true, true, true}})
			inputKernel, recurrentKernel, bias := testWeightNodes(g)
			_, maskedH, maskedC := NewWithWeights(x, inputKernel, recurrentKernel, bias).
				Mask(onesMask).Done()
			_, plainH, plainC := NewWithWeights(x, inputKernel, recurrentKernel, bias).Done()
			inputs = []*Node{x}
			outputs = []*Node{Sub(maskedH, plainH), Sub(maskedC, plainC)}
			return
		}, []any{
			[][]float32{{0, 0}},
			[][]float32{{0, 0}},
		}, 1e-6)
}

// With the input gate saturated to 1 and the forget gate to 0, the cell state
// collapses to the candidate: no memory is retained across steps.
func TestLSTMNoMemoryRetention(t *testing.T) {
	// 1 feature, hidden size 1. Only the candidate slice of the input kernel
	// is non-zero, so candidate_t = tanh(0.7*x_t) depends only on x_t. Biases
	// of +/-25 saturate the sigmoid gates.
	sequence := []float64{0.5, -1.0, 2.0}
	lastCandidate := math.Tanh(0.7 * sequence[2])

	graphtest.RunTestGraphFn(t, "LSTM: i=1, f=0 collapses cell to candidate",
		func(g *Graph) (inputs, outputs []*Node) {
			x := Const(g, [][][]float32{{{0.5}, {-1.0}, {2.0}}})
			inputKernel := Const(g, [][]float32{{0, 0, 0.7, 0}})
			recurrentKernel := Const(g, [][]float32{{0, 0, 0, 0}})
			bias := Const(g, []float32{25, -25, 0, 25})
			_, lastHidden, lastCell := NewWithWeights(x, inputKernel, recurrentKernel, bias).Done()
			inputs = []*Node{x}
			outputs = []*Node{lastCell, lastHidden}
			return
		}, []any{
			[][]float32{{float32(lastCandidate)}},
			[][]float32{{float32(math.Tanh(lastCandidate))}},
		}, 1e-4)
}

// With the input gate saturated to 0 and the forget gate to 1, the cell state
// stays constant at C_0.
func TestLSTMPerfectMemoryRetention(t *testing.T) {
	c0 := 0.6
	graphtest.RunTestGraphFn(t, "LSTM: i=0, f=1 keeps cell at C_0",
		func(g *Graph) (inputs, outputs []*Node) {
			x := Const(g, [][][]float32{{{0.5}, {-1.0}, {2.0}}})
			inputKernel := Const(g, [][]float32{{0, 0, 0.7, 0}})
			recurrentKernel := Const(g, [][]float32{{0, 0, 0, 0}})
			bias := Const(g, []float32{-25, 25, 0, 25})
			h0 := Const(g, [][]float32{{0.3}})
			c0Node := Const(g, [][]float32{{float32(c0)}})
			_, lastHidden, lastCell := NewWithWeights(x, inputKernel, recurrentKernel, bias).
				InitialStates(h0, c0Node).Done()
			inputs = []*Node{x}
			outputs = []*Node{lastCell, lastHidden}
			return
		}, []any{
			[][]float32{{float32(c0)}},
			[][]float32{{float32(math.Tanh(c0))}},
		}, 1e-4)
}

// Sigmoid must stay strictly inside (0, 1) for finite inputs.
func TestSigmoidRange(t *testing.T) {
	xs := []float64{-30, -4, -1, 0, 1, 4, 30}
	want := make([]float64, len(xs))
	for i, x := range xs {
		want[i] = sigmoid(x)
		require.Greater(t, want[i], 0.0)
		require.Less(t, want[i], 1.0)
	}
	graphtest.RunTestGraphFn(t, "Sigmoid in (0,1)",
		func(g *Graph) (inputs, outputs []*Node) {
			x := Const(g, xs)
			inputs = []*Node{x}
			outputs = []*Node{Sigmoid(x)}
			return
		}, []any{want}, 1e-8)
}
