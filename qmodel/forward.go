// forward.go - ForwardLayer: dequantisiert die Gewichte einer Schicht bei
// Bedarf und delegiert an den passenden Schicht-Operator.
package qmodel

import (
	"fmt"

	"github.com/hybridtrain/core/errs"
	"github.com/hybridtrain/core/moelayer"
	"github.com/hybridtrain/core/nf4"
	"github.com/hybridtrain/core/ssmlayer"
	"github.com/hybridtrain/core/tensor"
)

// LayerResult buendelt, was eine Schicht an den Trainingsschritt zurueckgibt:
// die Ausgabe, die optionale Hilfsverlustfunktion (nur MoE) und die
// vor-LoRA-Aktivierung am jeweiligen Anlagepunkt ("state-out-proj" bzw. "router").
type LayerResult struct {
	Output        *tensor.Tensor
	AuxLoss       float64
	HasAuxLoss    bool
	PreActivation *tensor.Tensor
	AttachPoint   string // e.g. "layer0.state-out-proj" or "layer3.router"
}

// ForwardLayer dequantisiert die Parameter von Schicht i und fuehrt ihren
// Forward-Operator aus (spec.md §4.2 forward_layer).
func (m *QuantizedModel) ForwardLayer(i int, input *tensor.Tensor, scan ssmlayer.ScanKernel, expert moelayer.ExpertKernel, onMissingScan, onMissingExpert func()) (*LayerResult, error) {
	if i < 0 || i >= len(m.Layers) {
		return nil, errs.New(errs.ShapeMismatch, fmt.Sprintf("layer index %d out of range", i))
	}
	switch m.Layers[i] {
	case StateSpace:
		return m.forwardStateSpace(i, input, scan, onMissingScan)
	case MoE:
		return m.forwardMoE(i, input, expert, onMissingExpert)
	default:
		return nil, errs.New(errs.ShapeMismatch, "unknown layer kind")
	}
}

func (m *QuantizedModel) dequantizeNamed(i int, name string) (*tensor.Tensor, error) {
	q, err := m.Param(i, name)
	if err != nil {
		return nil, err
	}
	return nf4.DequantizeAs(m.Accountant, q, tensor.Temporary)
}

func (m *QuantizedModel) forwardStateSpace(i int, input *tensor.Tensor, scan ssmlayer.ScanKernel, onMissingScan func()) (*LayerResult, error) {
	names := []string{ParamStateInProj, ParamStateXProj, ParamStateDtProj, ParamStateALog, ParamStateDSkip, ParamStateOutProj}
	tensors := make([]*tensor.Tensor, len(names))
	for idx, name := range names {
		t, err := m.dequantizeNamed(i, name)
		if err != nil {
			releaseAll(tensors[:idx])
			return nil, err
		}
		tensors[idx] = t
	}
	defer releaseAll(tensors)

	w := ssmlayer.Weights{
		InProj:  tensors[0],
		XProj:   tensors[1],
		DtProj:  tensors[2],
		ALog:    tensors[3],
		DSkip:   tensors[4],
		OutProj: tensors[5],
	}
	layer := &ssmlayer.Layer{Scan: scan, OnMissingScan: onMissingScan}
	out, preOutProj, err := layer.Forward(m.Accountant, w, input)
	if err != nil {
		return nil, err
	}
	return &LayerResult{
		Output:        out,
		PreActivation: preOutProj,
		AttachPoint:   fmt.Sprintf("layer%d.%s", i, ParamStateOutProj),
	}, nil
}

func (m *QuantizedModel) forwardMoE(i int, input *tensor.Tensor, expert moelayer.ExpertKernel, onMissingExpert func()) (*LayerResult, error) {
	router, err := m.dequantizeNamed(i, ParamRouter)
	if err != nil {
		return nil, err
	}
	defer router.Release()

	w1 := make([]*tensor.Tensor, m.Config.MoE.NumExperts)
	w2 := make([]*tensor.Tensor, m.Config.MoE.NumExperts)
	for j := 0; j < m.Config.MoE.NumExperts; j++ {
		t1, err := m.dequantizeNamed(i, expertW1Name(j))
		if err != nil {
			releaseAll(w1[:j])
			releaseAll(w2[:j])
			return nil, err
		}
		t2, err := m.dequantizeNamed(i, expertW2Name(j))
		if err != nil {
			t1.Release()
			releaseAll(w1[:j])
			releaseAll(w2[:j])
			return nil, err
		}
		w1[j], w2[j] = t1, t2
	}
	defer releaseAll(w1)
	defer releaseAll(w2)

	weights := moelayer.Weights{Router: router, ExpertW1: w1, ExpertW2: w2}
	cfg := moelayer.Config{
		NumExperts:    m.Config.MoE.NumExperts,
		TopK:          m.Config.MoE.TopK,
		AuxLossWeight: m.Config.MoE.AuxLossWeight,
	}
	layer := &moelayer.Layer{Kernel: expert, OnMissingExpert: onMissingExpert}
	out, aux, preRouter, err := layer.Forward(m.Accountant, cfg, weights, input)
	if err != nil {
		return nil, err
	}
	return &LayerResult{
		Output:        out,
		AuxLoss:       aux,
		HasAuxLoss:    true,
		PreActivation: preRouter,
		AttachPoint:   fmt.Sprintf("layer%d.%s", i, ParamRouter),
	}, nil
}

func releaseAll(ts []*tensor.Tensor) {
	for _, t := range ts {
		if t != nil {
			t.Release()
		}
	}
}
