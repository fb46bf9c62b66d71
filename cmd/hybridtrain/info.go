// info.go - `hybridtrain info`: druckt Modellgeometrie und aktuellen
// Speicherstand als Tabelle. Stil an cmd/cmd_list.go angelehnt
// (tablewriter.NewWriter, SetHeader/Append/Render).
package main

import (
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show model geometry and current memory accounting",
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, model, err := newModelForCLI()
			if err != nil {
				return withExit(exitInitFailure, err)
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Field", "Value"})
			cfg := model.Config
			table.Append([]string{"vocab size", strconv.Itoa(cfg.VocabSize)})
			table.Append([]string{"d_model", strconv.Itoa(cfg.DModel)})
			table.Append([]string{"num layers", strconv.Itoa(cfg.NumLayers)})
			table.Append([]string{"ssm expand factor", strconv.Itoa(cfg.SSM.ExpandFactor)})
			table.Append([]string{"ssm d_state", strconv.Itoa(cfg.SSM.DState)})
			table.Append([]string{"moe num experts", strconv.Itoa(cfg.MoE.NumExperts)})
			table.Append([]string{"moe top-k", strconv.Itoa(cfg.MoE.TopK)})
			table.Render()

			snap := acc.Report(0)
			mem := tablewriter.NewWriter(os.Stdout)
			mem.SetHeader([]string{"Category", "Current bytes", "Peak bytes"})
			for cat, stats := range snap.ByCategory {
				mem.Append([]string{cat.String(), strconv.Itoa(int(stats.Current)), strconv.Itoa(int(stats.Peak))})
			}
			mem.Render()
			return nil
		},
	}
}
