// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"sync"
	"testing"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"

	"github.com/gomlx/sentiment"
)

var (
	flagSettings *string
	muTrain      sync.Mutex
)

func init() {
	ctx := sentiment.CreateDefaultContext()
	flagSettings = commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	if _, found := os.LookupEnv(backends.ConfigEnvVar); !found {
		// For testing, we use the CPU backend (and avoid GPU if not explicitly requested).
		must.M(os.Setenv(backends.ConfigEnvVar, "xla:cpu"))
	}
}

// TestMainTraining downloads the corpus and runs a few steps of training end-to-end: slow
// and network-bound, so skipped in short mode.
func TestMainTraining(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testing in short mode")
		return
	}

	ctx := sentiment.CreateDefaultContext()
	ctx.SetParam("train_steps", 10)
	ctx.SetParam("early_stop_patience", 0)
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *flagSettings))

	muTrain.Lock()
	defer muTrain.Unlock()
	require.NotPanics(t, func() {
		sentiment.TrainModel(ctx, *flagDataDir, *flagCheckpoint, paramsSet, *flagEval, *flagVerbosity)
	})
}
