// main.go - hybridtrain CLI: duenner Treiber ueber den Trainingskern
// (spec.md §6). Subcommands: info, benchmark-optimizer, train,
// test-forward. Aufbau an cmd/cmd.go angelehnt (cobra.Command-Baum,
// SilenceUsage/SilenceErrors, explizite Exit-Codes statt os.Exit verstreut
// im Code).
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hybridtrain/core/config"
	"github.com/hybridtrain/core/memtrack"
	"github.com/hybridtrain/core/qmodel"
)

// Exit codes per spec.md §6.
const (
	exitSuccess = 0
	exitInitFailure = 1
	exitTrainFailure = 2
	exitCancelled = 3
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func newRootCmd() *cobra.Command {
	cobra.EnableCommandSorting = false
	root := &cobra.Command{
		Use:           "hybridtrain",
		Short:         "Memory-constrained LoRA fine-tuning driver",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newInfoCmd(),
		newBenchmarkOptimizerCmd(),
		newTrainCmd(),
		newTestForwardCmd(),
	)
	return root
}

// exitStatus lets a subcommand attach a specific exit code to an error
// without main needing to know which command produced it.
type exitStatus struct {
	code int
	err  error
}

func (e *exitStatus) Error() string { return e.err.Error() }
func (e *exitStatus) Unwrap() error { return e.err }

func withExit(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitStatus{code: code, err: err}
}

func exitCodeFor(err error) int {
	var es *exitStatus
	if e, ok := err.(*exitStatus); ok {
		es = e
		return es.code
	}
	return exitInitFailure
}

// newModelForCLI builds a small random-initialized model for the `info`
// command, since this core has no
// pretrained-weight loader of its own (spec.md Non-goals: no inference
// serving, no training-data preprocessing pipeline).
func newModelForCLI() (*memtrack.Accountant, *qmodel.QuantizedModel, error) {
	acc := memtrack.New()
	cfg := config.DefaultModelConfig()
	cfg.NumLayers = 4 // keep CLI demo runs small regardless of the library default
	model, err := qmodel.NewRandom(acc, cfg, 64, false)
	if err != nil {
		return nil, nil, err
	}
	return acc, model, nil
}

func logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
