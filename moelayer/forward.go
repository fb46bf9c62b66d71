// forward.go - Forward-Pass der MoE-Schicht (spec.md §4.4).
package moelayer

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hybridtrain/core/errs"
	"github.com/hybridtrain/core/tensor"
)

const rmsNormEps = 1e-5

// Layer buendelt den optionalen Experten-Kernel mit der Einmal-Warnung,
// die beim ersten Fallback auf den CPU-Dense-Pfad ausgeloest wird
// (spec.md §7, MissingKernel: "log a warning once per operator"; gleiches
// Muster wie ssmlayer.Layer.warnOnce/OnMissingScan).
type Layer struct {
	Kernel ExpertKernel

	warnOnce        sync.Once
	OnMissingExpert func()
}

// Forward berechnet spec.md §4.4 Schritte 1-7 fuer Input X [B,L,D] und
// gibt zusaetzlich zur Residual-Ausgabe die Hilfsverlustfunktion und die
// vor-router-Aktivierung (LoRA-Anlagepunkt "layer{i}.router") zurueck.
func (l *Layer) Forward(a tensor.Accountant, cfg Config, w Weights, x *tensor.Tensor) (out *tensor.Tensor, auxLoss float64, preRouter *tensor.Tensor, err error) {
	shape := x.Shape()
	if len(shape) != 3 {
		return nil, 0, nil, errs.New(errs.ShapeMismatch, "moe forward requires [B,L,D] input")
	}
	b, seqLen, d := shape[0], shape[1], shape[2]
	rows := b * seqLen

	xHat, err := tensor.RMSNorm(a, x, rmsNormEps)
	if err != nil {
		return nil, 0, nil, err
	}
	defer xHat.Release()

	flat, err := xHat.Reshape(rows, d)
	if err != nil {
		return nil, 0, nil, err
	}
	defer flat.Release()

	logits, err := tensor.MatMul(a, flat, w.Router)
	if err != nil {
		return nil, 0, nil, err
	}
	defer logits.Release()

	routing, err := route(logits, cfg.NumExperts, cfg.TopK)
	if err != nil {
		return nil, 0, nil, err
	}

	// Pro Experte die zugewiesenen Zeilen sammeln (Zeilenindex, Gewicht).
	type assignment struct {
		row int
		w   float32
	}
	byExpert := make([][]assignment, cfg.NumExperts)
	for r := 0; r < rows; r++ {
		for k, j := range routing.Indices[r] {
			byExpert[j] = append(byExpert[j], assignment{row: r, w: routing.Weights[r][k]})
		}
	}

	flatVals := flat.Floats()
	combined := make([]float32, rows*d)

	expertOutputs := make([][]float32, cfg.NumExperts)
	grp, _ := errgroup.WithContext(context.Background())
	for j := 0; j < cfg.NumExperts; j++ {
		j := j
		assigns := byExpert[j]
		if len(assigns) == 0 {
			continue
		}
		grp.Go(func() error {
			u := make([]float32, len(assigns)*d)
			for i, as := range assigns {
				copy(u[i*d:(i+1)*d], flatVals[as.row*d:(as.row+1)*d])
			}
			uT, err := tensor.FromFloats(a, tensor.Temporary, u, len(assigns), d)
			if err != nil {
				return err
			}
			defer uT.Release()

			var outT *tensor.Tensor
			if l.Kernel != nil {
				outT, err = l.Kernel.Run(uT, w.ExpertW1[j], w.ExpertW2[j])
			} else {
				l.warnOnce.Do(func() {
					if l.OnMissingExpert != nil {
						l.OnMissingExpert()
					}
				})
				outT, err = denseExpertFallback(a, uT, w.ExpertW1[j], w.ExpertW2[j])
			}
			if err != nil {
				return err
			}
			defer outT.Release()
			expertOutputs[j] = append([]float32(nil), outT.Floats()...)
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, 0, nil, err
	}

	for j := 0; j < cfg.NumExperts; j++ {
		assigns := byExpert[j]
		if len(assigns) == 0 {
			continue
		}
		outVals := expertOutputs[j]
		for i, as := range assigns {
			base := as.row * d
			src := i * d
			for c := 0; c < d; c++ {
				combined[base+c] += as.w * outVals[src+c]
			}
		}
	}

	combinedT, err := tensor.FromFloats(a, x.Category(), combined, rows, d)
	if err != nil {
		return nil, 0, nil, err
	}
	defer combinedT.Release()

	combinedSeq, err := combinedT.Reshape(b, seqLen, d)
	if err != nil {
		return nil, 0, nil, err
	}
	defer combinedSeq.Release()

	residual, err := tensor.Add(a, x, combinedSeq)
	if err != nil {
		return nil, 0, nil, err
	}

	aux := AuxLoss(routing, cfg.NumExperts, cfg.AuxLossWeight)

	// flat.Reshape retains flat's storage, outlives the deferred
	// flat.Release() above (same pattern as ssmlayer.Layer.Forward).
	preRouterView, err := flat.Reshape(b, seqLen, d)
	if err != nil {
		residual.Release()
		return nil, 0, nil, err
	}
	return residual, aux, preRouterView, nil
}

// denseExpertFallback berechnet ReLU(u·W1)·W2 auf der CPU, wenn kein
// Geraete-Kernel bereitsteht (spec.md §4.4).
func denseExpertFallback(a tensor.Accountant, u, w1, w2 *tensor.Tensor) (*tensor.Tensor, error) {
	hidden, err := tensor.MatMul(a, u, w1)
	if err != nil {
		return nil, err
	}
	defer hidden.Release()
	activated, err := tensor.ReLU(a, hidden)
	if err != nil {
		return nil, err
	}
	defer activated.Release()
	return tensor.MatMul(a, activated, w2)
}
