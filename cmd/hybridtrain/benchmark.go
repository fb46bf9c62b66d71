// benchmark.go - `hybridtrain benchmark-optimizer`: laeuft AdamW.Step
// wiederholt ueber zufaellige Parameter/Gradienten und meldet die
// gewaehlte Kernel-Variante (optim.SelectVariant) plus mittlere
// Schrittdauer. Es gibt keinen mitgelieferten SIMD-Kernel - dieser
// Befehl existiert, damit optim.OptimizerKernel/SelectVariant ueberhaupt
// einen aufrufbaren Ort im Baum haben.
package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hybridtrain/core/config"
	"github.com/hybridtrain/core/memtrack"
	"github.com/hybridtrain/core/optim"
	"github.com/hybridtrain/core/tensor"
)

func newBenchmarkOptimizerCmd() *cobra.Command {
	var n, iters int
	cmd := &cobra.Command{
		Use:   "benchmark-optimizer",
		Short: "Measure AdamW.Step throughput on a synthetic parameter vector",
		RunE: func(cmd *cobra.Command, args []string) error {
			variant := optim.SelectVariant(n)
			cfg := config.DefaultOptimizerConfig()
			opt := optim.NewAdamW(cfg, nil)

			acc := memtrack.New()
			param, err := tensor.Randn(acc, tensor.ModelWeights, 0.02, n)
			if err != nil {
				return withExit(exitInitFailure, err)
			}
			defer param.Release()

			params := map[string]*tensor.Tensor{"bench.A": param}

			elapsed := time.Duration(0)
			for i := 0; i < iters; i++ {
				grad, err := tensor.Randn(acc, tensor.Temporary, 0.01, n)
				if err != nil {
					return withExit(exitTrainFailure, err)
				}
				grads := map[string]*tensor.Tensor{"bench.A": grad}

				start := time.Now()
				err = opt.Step(params, grads)
				elapsed += time.Since(start)
				grad.Release()
				if err != nil {
					return withExit(exitTrainFailure, err)
				}
			}

			fmt.Printf("kernel variant: %s\n", variant)
			fmt.Printf("params: %d, iterations: %d\n", n, iters)
			fmt.Printf("mean step latency: %s\n", elapsed/time.Duration(iters))
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "params", 4096, "number of parameters in the synthetic vector")
	cmd.Flags().IntVar(&iters, "iterations", 50, "number of optimizer steps to time")
	return cmd
}
