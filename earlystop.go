// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sentiment

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/pkg/errors"
)

// ErrEarlyStop is the cause of the error returned by the training loop when early stopping
// interrupted it. It is not a failure: the model simply stopped improving on the validation
// split. Check with errors.Is.
var ErrEarlyStop = errors.New("early stopping: validation loss stopped improving")

// AttachEarlyStopping attaches to the loop a periodic evaluation of the validation dataset
// ds, every everyNSteps steps. If the validation loss fails to improve over its best value
// seen so far for more than patience consecutive evaluations, the loop is interrupted with
// an error wrapping ErrEarlyStop.
//
// The dataset ds must be finite; it is reset after each evaluation.
func AttachEarlyStopping(loop *train.Loop, trainer *train.Trainer, ds train.Dataset, everyNSteps, patience int) {
	bestLoss := float64(0)
	badEvals := 0
	seen := 0
	train.EveryNSteps(loop, everyNSteps, "early stopping", 120,
		func(loop *train.Loop, _ []*tensors.Tensor) error {
			loss, err := validationLoss(trainer, ds)
			if err != nil {
				return err
			}
			seen++
			if seen == 1 || loss < bestLoss {
				bestLoss = loss
				badEvals = 0
				return nil
			}
			badEvals++
			if badEvals > patience {
				return errors.WithMessagef(ErrEarlyStop,
					"validation loss %.4f has not improved on best %.4f for %d evaluations (step %d)",
					loss, bestLoss, badEvals, loop.LoopStep)
			}
			return nil
		})
}

// validationLoss evaluates the trainer on ds and returns the value of its loss metric.
func validationLoss(trainer *train.Trainer, ds train.Dataset) (float64, error) {
	metricsValues, err := trainer.Eval(ds)
	if err != nil {
		return 0, errors.WithMessagef(err, "early stopping evaluation on %q", ds.Name())
	}
	ds.Reset()
	for metricIdx, metric := range trainer.EvalMetrics() {
		if metric.MetricType() != metrics.LossMetricType {
			continue
		}
		switch v := metricsValues[metricIdx].Value().(type) {
		case float32:
			return float64(v), nil
		case float64:
			return v, nil
		default:
			return 0, errors.Errorf("loss metric %q returned unexpected type %T", metric.Name(), v)
		}
	}
	return 0, errors.Errorf("no loss metric found among the evaluation metrics")
}
