// train.go - `hybridtrain train`: baut ein zufaellig initialisiertes
// Modell, haengt einen LoRA-Adapter an layer0.state-out-proj, und treibt
// train.TrainingLoop.Run ueber einen RandomDataSource-Strom. Optional
// startet parallel der statusserver (spec.md §6: lokaler Statusendpunkt).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/hybridtrain/core/ckpt"
	"github.com/hybridtrain/core/config"
	"github.com/hybridtrain/core/lora"
	"github.com/hybridtrain/core/memtrack"
	"github.com/hybridtrain/core/optim"
	"github.com/hybridtrain/core/qmodel"
	"github.com/hybridtrain/core/statusserver"
	"github.com/hybridtrain/core/train"
)

func newTrainCmd() *cobra.Command {
	var numBatches int
	var rank int
	var checkpointDir string
	var statusAddr string
	var runDBPath string

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run a training loop over synthetic batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger()

			acc := memtrack.New()
			modelCfg := config.DefaultModelConfig()
			modelCfg.NumLayers = 4
			model, err := qmodel.NewRandom(acc, modelCfg, 64, false)
			if err != nil {
				return withExit(exitInitFailure, err)
			}

			adapters := lora.NewSet()
			inDim := modelCfg.DModel * modelCfg.SSM.ExpandFactor
			ad, err := lora.New(acc, "layer0."+qmodel.ParamStateOutProj, inDim, modelCfg.DModel,
				lora.Config{Rank: rank, Alpha: float64(2 * rank), Targets: []lora.TargetModule{lora.TargetStateOutProj}})
			if err != nil {
				return withExit(exitInitFailure, err)
			}
			adapters.Add(ad)

			optCfg := config.DefaultOptimizerConfig()
			sched := &optim.CosineWarmup{WarmupSteps: optCfg.WarmupSteps, TotalSteps: optCfg.TotalSteps, BaseLR: optCfg.LearningRate, MinLR: optCfg.MinLR}
			opt := optim.NewAdamW(optCfg, sched)

			dataCfg := config.DefaultDataConfig()
			dataCfg.BatchSize = 2
			dataCfg.SeqLength = 32
			dataCfg.VocabSize = modelCfg.VocabSize
			data := train.NewRandomDataSource(dataCfg, numBatches)

			loop := train.NewTrainingLoop(model, adapters, opt, data, acc)
			loop.Checkpoints = config.DefaultCheckpointConfig()

			slogger, runID := train.NewLogger(os.Stderr, slog.LevelInfo)
			loop.Logger = slogger
			loop.RunID = runID

			if checkpointDir != "" {
				if err := os.MkdirAll(checkpointDir, 0o755); err != nil {
					return withExit(exitInitFailure, err)
				}
				train.CheckpointDir = checkpointDir
				loop.Sink = &ckpt.FileSink{}

				if runDBPath != "" {
					ri, err := ckpt.OpenRunIndex(runDBPath)
					if err != nil {
						return withExit(exitInitFailure, err)
					}
					defer ri.Close()
					loop.RunIndex = ri
				}
			}

			if statusAddr != "" {
				srv := statusserver.New(acc)
				go func() {
					if err := srv.Run(statusAddr); err != nil {
						log.Warn("status server exited", "error", err.Error())
					}
				}()
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			if err := loop.Run(ctx); err != nil {
				if ctx.Err() != nil {
					return withExit(exitCancelled, err)
				}
				return withExit(exitTrainFailure, err)
			}
			fmt.Println("training complete")
			return nil
		},
	}
	cmd.Flags().IntVar(&numBatches, "batches", 20, "number of synthetic batches to train over")
	cmd.Flags().IntVar(&rank, "rank", 8, "LoRA rank for the demo adapter")
	cmd.Flags().StringVar(&checkpointDir, "checkpoint-dir", "", "directory to write adapter checkpoints (empty disables checkpointing)")
	cmd.Flags().StringVar(&statusAddr, "status-addr", "", "address to serve GET /status on (empty disables the status server)")
	cmd.Flags().StringVar(&runDBPath, "run-index", "", "sqlite path for the checkpoint run index (requires --checkpoint-dir)")
	return cmd
}
