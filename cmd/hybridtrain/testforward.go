// testforward.go - `hybridtrain test-forward`: baut ein kleines Modell,
// laeuft Embed -> je Schicht ForwardLayer -> ProjectToVocab -> loss.Forward
// auf einer einzelnen zufaelligen Sequenz und druckt Loss/Accuracy. Dient
// als schneller Rauchtest ohne Optimizer/Checkpointing.
package main

import (
	"fmt"
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/hybridtrain/core/config"
	"github.com/hybridtrain/core/loss"
	"github.com/hybridtrain/core/memtrack"
	"github.com/hybridtrain/core/qmodel"
)

func newTestForwardCmd() *cobra.Command {
	var seqLen int
	cmd := &cobra.Command{
		Use:   "test-forward",
		Short: "Run one forward pass plus loss on a random sequence",
		RunE: func(cmd *cobra.Command, args []string) error {
			acc := memtrack.New()
			cfg := config.DefaultModelConfig()
			cfg.NumLayers = 4
			model, err := qmodel.NewRandom(acc, cfg, 64, false)
			if err != nil {
				return withExit(exitInitFailure, err)
			}

			ids := make([]int, seqLen)
			for i := range ids {
				ids[i] = 1 + rand.Intn(cfg.VocabSize-1)
			}
			targets := make([]int, seqLen)
			copy(targets, ids[1:])

			hidden, err := model.Embed(ids)
			if err != nil {
				return withExit(exitTrainFailure, err)
			}
			missingScan, missingExpert := 0, 0
			for i := range model.Layers {
				res, err := model.ForwardLayer(i, hidden, nil, nil,
					func() { missingScan++ }, func() { missingExpert++ })
				hidden.Release()
				if err != nil {
					return withExit(exitTrainFailure, err)
				}
				res.PreActivation.Release()
				hidden = res.Output
			}
			defer hidden.Release()

			logits, err := model.ProjectToVocab(hidden)
			if err != nil {
				return withExit(exitTrainFailure, err)
			}
			defer logits.Release()

			lossVal, accuracy, err := loss.Forward(logits, [][]int{targets})
			if err != nil {
				return withExit(exitTrainFailure, err)
			}

			fmt.Printf("loss: %.4f\n", lossVal)
			fmt.Printf("accuracy: %.4f\n", accuracy)
			fmt.Printf("host scan/expert fallbacks used: %d\n", missingScan+missingExpert)
			return nil
		},
	}
	cmd.Flags().IntVar(&seqLen, "seq-len", 16, "length of the synthetic sequence")
	return cmd
}
