// param_names.go - benannte Parameter pro Schichttyp und ihre Formen.
// Die Namen "state-in-proj"/"state-x-proj"/"state-out-proj" sind
// deckungsgleich mit den gleichnamigen LoRA-Zielmodul-Bezeichnern
// (lora.TargetModule); die MoE-Namen "router"/"expert{j}" sind es nicht,
// dort lauten die Bezeichner "moe-router"/"moe-experts".
package qmodel

import (
	"fmt"

	"github.com/hybridtrain/core/config"
)

const (
	ParamStateInProj  = "state-in-proj"
	ParamStateXProj   = "state-x-proj"
	ParamStateOutProj = "state-out-proj"
	ParamStateDtProj  = "dt-proj"
	ParamStateALog    = "A-log"
	ParamStateDSkip   = "D-skip"

	ParamRouter = "router"
)

func dInner(cfg config.ModelConfig) int { return cfg.DModel * cfg.SSM.ExpandFactor }

func dtRank(cfg config.ModelConfig) int {
	r := cfg.DModel / 16
	if r < 1 {
		r = 1
	}
	return r
}

func stateSpaceParamShapes(cfg config.ModelConfig) map[string][]int {
	di := dInner(cfg)
	return map[string][]int{
		ParamStateInProj:  {cfg.DModel, 2 * di},
		ParamStateXProj:   {di, dtRank(cfg) + 2*cfg.SSM.DState},
		ParamStateDtProj:  {dtRank(cfg), di},
		ParamStateALog:    {di, cfg.SSM.DState},
		ParamStateDSkip:   {di, 1},
		ParamStateOutProj: {di, cfg.DModel},
	}
}

func moeParamShapes(cfg config.ModelConfig) map[string][]int {
	shapes := map[string][]int{
		ParamRouter: {cfg.DModel, cfg.MoE.NumExperts},
	}
	for j := 0; j < cfg.MoE.NumExperts; j++ {
		shapes[expertW1Name(j)] = []int{cfg.DModel, cfg.MoE.DFF}
		shapes[expertW2Name(j)] = []int{cfg.MoE.DFF, cfg.DModel}
	}
	return shapes
}

func expertW1Name(j int) string { return fmt.Sprintf("expert%d.w1", j) }
func expertW2Name(j int) string { return fmt.Sprintf("expert%d.w2", j) }

func orderedNames(kind LayerKind, cfg config.ModelConfig) []string {
	if kind == StateSpace {
		return []string{
			ParamStateInProj, ParamStateXProj, ParamStateDtProj,
			ParamStateALog, ParamStateDSkip, ParamStateOutProj,
		}
	}
	names := []string{ParamRouter}
	for j := 0; j < cfg.MoE.NumExperts; j++ {
		names = append(names, expertW1Name(j), expertW2Name(j))
	}
	return names
}
