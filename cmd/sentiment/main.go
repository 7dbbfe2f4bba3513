// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Command sentiment trains and evaluates a binary sentiment classifier on the IMDB corpus
// of 50k movie reviews.
//
// On the first run it downloads the corpus (~80MB) to the --data directory. Model and
// training hyperparameters are given with --set, e.g.:
//
//	sentiment --set="model=lstm;train_steps=20000;hidden_size=256"
//
// Use --checkpoint to save the trained model, and to resume training a previous session.
package main

import (
	"flag"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/gomlx/sentiment"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagDataDir    = flag.String("data", "~/tmp/imdb", "Directory to cache downloaded and generated dataset files.")
	flagEval       = flag.Bool("eval", true, "Whether to evaluate the model on the test data in the end.")
	flagVerbosity  = flag.Int("verbosity", 1, "Level of verbosity, the higher the more verbose.")
	flagCheckpoint = flag.String("checkpoint", "", "Directory save and load checkpoints from. If left empty, no checkpoints are created.")
)

func main() {
	ctx := sentiment.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))
	err := exceptions.TryCatch[error](func() {
		sentiment.TrainModel(ctx, *flagDataDir, *flagCheckpoint, paramsSet, *flagEval, *flagVerbosity)
	})
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}
