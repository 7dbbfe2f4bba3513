// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package adadelta implements the AdaDelta optimizer as an
// optimizers.Interface, so it can be used with train.Trainer or directly in a
// custom optimization loop.
//
// AdaDelta [1] adapts the step taken for each weight using a decaying average
// of the recent squared gradients (denominator) and of the recent squared
// updates (numerator), so no hand-tuned learning rate is required -- the
// learning rate here is only a final multiplier, and defaults to 1.0.
//
// Importing the package registers it in optimizers.KnownOptimizers under the
// name "adadelta", so it can be selected with the "optimizer" context
// hyperparameter.
//
// [1] https://arxiv.org/abs/1212.5701, Zeiler, 2012
package adadelta

import (
	"fmt"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/compute/dtypes"
)

const (
	// DefaultLearningRate is the final multiplier applied to the AdaDelta
	// step. The original paper uses no multiplier, hence 1.0.
	DefaultLearningRate = 1.0

	// DefaultScope is the default scope name for the accumulators used by
	// AdaDelta.
	DefaultScope = "AdaDeltaOptimizer"

	// ParamRho can be used to configure the decay of the moving averages of
	// the squared gradients and squared updates. It must be a float64.
	// The default value is 0.95.
	ParamRho = "adadelta_rho"

	// ParamEpsilon can be used to configure the conditioning constant added
	// inside both square roots. It must be a float64. The default is 1e-6.
	ParamEpsilon = "adadelta_epsilon"
)

func init() {
	optimizers.KnownOptimizers["adadelta"] = func(ctx *context.Context) optimizers.Interface {
		return New().FromContext(ctx).Done()
	}
}

// New returns a configuration object for an AdaDelta optimizer. Once
// configured, call Config.Done and it will return an optimizers.Interface.
//
// See Config.FromContext to configure it from the context hyperparameters.
//
// Clipping of the gradient updates is available by setting the context
// hyperparameters optimizers.ParamClipStepByValue ("clip_step_by_value") and
// optimizers.ParamClipNaN ("clip_nan").
func New() *Config {
	return &Config{
		scopeName:    DefaultScope,
		learningRate: -1, // < 0 means use the default.
		rho:          0.95,
		epsilon:      1e-6,
		dtype:        dtypes.InvalidDType,
	}
}

// Config holds the configuration for an AdaDelta optimizer. Create it with
// New, and once configured call Done.
type Config struct {
	scopeName    string
	dtype        dtypes.DType // If invalid, use the loss dtype instead.
	learningRate float64
	rho, epsilon float64
}

// FromContext configures AdaDelta with the hyperparameters set in the given
// context: ParamRho ("adadelta_rho") and ParamEpsilon ("adadelta_epsilon").
func (c *Config) FromContext(ctx *context.Context) *Config {
	c.rho = context.GetParamOr(ctx, ParamRho, c.rho)
	c.epsilon = context.GetParamOr(ctx, ParamEpsilon, c.epsilon)
	return c
}

// Scope defines the top-level scope used to store the accumulated squared
// gradients and squared updates. It defaults to DefaultScope.
func (c *Config) Scope(name string) *Config {
	c.scopeName = name
	return c
}

// DType sets the dtype used for the AdaDelta accumulators and computation.
// If set to dtypes.InvalidDType (the default) it uses the dtype of the loss.
func (c *Config) DType(dtype dtypes.DType) *Config {
	c.dtype = dtype
	return c
}

// LearningRate sets the final multiplier applied to the AdaDelta step.
//
// Default is either the value of optimizers.ParamLearningRate
// ("learning_rate") in the context if defined, or 1.0 if not.
func (c *Config) LearningRate(value float64) *Config {
	c.learningRate = value
	return c
}

// Rho sets the decay of the two moving averages. It defaults to 0.95.
func (c *Config) Rho(rho float64) *Config {
	if rho <= 0 || rho >= 1 {
		exceptions.Panicf("adadelta: rho must be in (0, 1), got %g", rho)
	}
	c.rho = rho
	return c
}

// Epsilon sets the conditioning constant added inside both square roots: it
// starts the very first updates off and keeps denominators away from zero.
func (c *Config) Epsilon(epsilon float64) *Config {
	c.epsilon = epsilon
	return c
}

// Done finishes the configuration and constructs the optimizers.Interface.
func (c *Config) Done() optimizers.Interface {
	return &adaDelta{config: c}
}

// adaDelta implements the AdaDelta algorithm as an optimizers.Interface.
type adaDelta struct {
	config *Config
}

// UpdateGraph builds the graph to update the weights for one training step.
// It implements optimizers.Interface.
func (o *adaDelta) UpdateGraph(ctx *context.Context, g *Graph, loss *Node) {
	if !loss.Shape().IsScalar() {
		exceptions.Panicf("optimizer requires a scalar loss to optimize, got loss.shape=%s instead", loss.Shape())
	}
	grads := ctx.BuildTrainableVariablesGradientsGraph(loss)
	if len(grads) == 0 {
		exceptions.Panicf(
			"Context.BuildTrainableVariablesGradientsGraph returned 0 gradients, are there any trainable variables ?")
	}

	dtype := o.config.dtype
	if dtype == dtypes.InvalidDType {
		dtype = loss.DType()
	}

	lrValue := o.config.learningRate
	if lrValue < 0 {
		lrValue = context.GetParamOr(ctx, optimizers.ParamLearningRate, DefaultLearningRate)
	}
	lrVar := optimizers.LearningRateVar(ctx, dtype, lrValue)
	learningRate := lrVar.ValueGraph(g)

	_ = optimizers.IncrementGlobalStepGraph(ctx, g, dtype)

	rho := ConstAsDType(g, dtype, o.config.rho)
	epsilon := ConstAsDType(g, dtype, o.config.epsilon)

	// Apply gradient one variable at a time.
	numTrainable := len(grads)
	varIdx := 0
	for v := range ctx.IterVariables() {
		if v.Trainable && v.InUseByGraph(g) {
			if varIdx < numTrainable {
				o.applyGraph(ctx, g, v, dtype, grads[varIdx], learningRate, rho, epsilon)
			}
			varIdx++
		}
	}
	if varIdx != numTrainable {
		exceptions.Panicf("Context.BuildTrainableVariablesGradientsGraph returned gradients for %d variables, but "+
			"AdaDelta only sees %d variables -- were new variables created in between ?",
			numTrainable, varIdx)
	}
}

// applyGraph calculates the update of one variable and of its two
// accumulators.
func (o *adaDelta) applyGraph(ctx *context.Context, g *Graph, v *context.Variable, dtype dtypes.DType,
	grad, learningRate, rho, epsilon *Node) {
	gradSqVar, updateSqVar := o.getAccumulatorVariables(ctx, v, dtype)
	gradSqAvg := gradSqVar.ValueGraph(g)
	updateSqAvg := updateSqVar.ValueGraph(g)

	if grad.DType() != dtype {
		grad = ConvertDType(grad, dtype)
	}
	optimizers.TraceNaNInGradients(ctx, v, grad)
	grad = optimizers.ClipNaNsInGradients(ctx, grad)

	// E[g^2] = rho*E[g^2] + (1-rho)*g^2
	gradSqAvg = Add(
		Mul(rho, gradSqAvg),
		Mul(OneMinus(rho), Square(grad)))
	gradSqVar.SetValueGraph(gradSqAvg)

	// update = RMS[dx] / RMS[g] * g, with the epsilon inside both roots.
	update := Mul(grad, Div(
		Sqrt(Add(updateSqAvg, epsilon)),
		Sqrt(Add(gradSqAvg, epsilon))))

	// E[dx^2] = rho*E[dx^2] + (1-rho)*update^2
	updateSqAvg = Add(
		Mul(rho, updateSqAvg),
		Mul(OneMinus(rho), Square(update)))
	updateSqVar.SetValueGraph(updateSqAvg)

	stepDirection := Mul(learningRate, update)
	stepDirection = optimizers.ClipStepByValue(ctx, stepDirection)

	value := v.ValueGraph(g)
	if value.DType() != dtype {
		value = ConvertDType(value, dtype)
	}
	updated := Sub(value, stepDirection)
	updated = optimizers.ClipNaNsInUpdates(ctx, value, updated)
	if v.Shape().DType != dtype {
		updated = ConvertDType(updated, v.Shape().DType)
	}
	v.SetValueGraph(updated)
}

// getAccumulatorVariables returns the accumulator variables corresponding to
// the given trainable variable, creating them (zero-initialized) if needed.
func (o *adaDelta) getAccumulatorVariables(
	ctx *context.Context, trainable *context.Variable, dtype dtypes.DType) (gradSq, updateSq *context.Variable) {
	scopePath := fmt.Sprintf("%s%s%s", context.ScopeSeparator, o.config.scopeName, trainable.Scope())
	shape := trainable.Shape().Clone()
	shape.DType = dtype
	ctx = ctx.Checked(false) // It shouldn't matter whether it's the first time creating the variable.
	gradSq = ctx.InAbsPath(scopePath).
		WithInitializer(initializers.Zero).
		VariableWithShape(fmt.Sprintf("%s_grad_sq_avg", trainable.Name()), shape).
		SetTrainable(false)
	updateSq = ctx.InAbsPath(scopePath).
		WithInitializer(initializers.Zero).
		VariableWithShape(fmt.Sprintf("%s_update_sq_avg", trainable.Name()), shape).
		SetTrainable(false)
	return
}

// Clear deletes the accumulator variables used by the optimizer.
// It implements optimizers.Interface.
func (o *adaDelta) Clear(ctx *context.Context) error {
	return ctx.In(o.config.scopeName).DeleteVariablesInScope()
}
