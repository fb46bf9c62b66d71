// adamw.go - AdamW-Optimierer mit bias-korrigiertem m/v, optionalem
// AMSGrad, globalem Gradient-Clipping und NaN/Inf-Rollback (spec.md §4.7,
// §7).
package optim

import (
	"math"
	"sort"

	"github.com/hybridtrain/core/config"
	"github.com/hybridtrain/core/errs"
	"github.com/hybridtrain/core/tensor"
)

// AdamW haelt den globalen Schritt-Zaehler, die Hyperparameter, die
// Lernraten-Schedule und den Zustand (m/v/v_max) je Parametername.
// Ein Schritt mutiert die uebergebenen Parameter-Tensoren in-place.
type AdamW struct {
	Config   config.OptimizerConfig
	Schedule LRSchedule
	Kernel   OptimizerKernel // optional; Step ruft ihn nicht auf, jeder Schritt laeuft auf dem Host-f32-Pfad

	states     map[string]*paramState
	step       int
	lrHalvings int // kumulative LR-Halbierungen nach Numerical-Rollbacks
}

// NewAdamW erstellt einen AdamW-Optimierer. sched darf nil sein; dann
// wird Config.LearningRate konstant verwendet.
func NewAdamW(cfg config.OptimizerConfig, sched LRSchedule) *AdamW {
	return &AdamW{
		Config:   cfg,
		Schedule: sched,
		states:   make(map[string]*paramState),
	}
}

// Step fuehrt einen AdamW-Schritt fuer alle benannten Parameter aus.
// grads muss fuer jeden Schluessel in params einen Gradienten gleicher
// Form enthalten. Bei NaN/Inf im Ergebnis eines Parameters wird der
// gesamte Schritt verworfen (kein Parameter veraendert), die Lernrate
// fuer zukuenftige Schritte halbiert, und ein errs.Numerical
// zurueckgegeben (spec.md §7).
func (o *AdamW) Step(params map[string]*tensor.Tensor, grads map[string]*tensor.Tensor) error {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	gradSlices := make(map[string][]float32, len(names))
	for _, name := range names {
		g, ok := grads[name]
		if !ok {
			return errs.New(errs.ShapeMismatch, "missing gradient for parameter "+name)
		}
		p := params[name]
		if p.NumElements() != g.NumElements() {
			return errs.New(errs.ShapeMismatch, "gradient/parameter element count mismatch for "+name)
		}
		gradSlices[name] = g.Floats()
	}

	if o.Config.MaxGradNorm > 0 {
		clipGlobalNorm(gradSlices, o.Config.MaxGradNorm)
	}

	o.step++
	lr := o.Config.LearningRate
	if o.Schedule != nil {
		lr = o.Schedule.Get(o.step)
	}
	// Kumulative Halbierungen aus vorherigen Numerical-Rollbacks bleiben
	// fuer alle kuenftigen Schritte wirksam.
	lr *= math.Pow(0.5, float64(o.lrHalvings))

	beta1, beta2, eps, wd := o.Config.Beta1, o.Config.Beta2, o.Config.Epsilon, o.Config.WeightDecay
	biasCorr1 := 1 - math.Pow(beta1, float64(o.step))
	biasCorr2 := 1 - math.Pow(beta2, float64(o.step))

	updated := make(map[string][]float32, len(names))
	newStates := make(map[string]*paramState, len(names))

	for _, name := range names {
		p := params[name]
		n := p.NumElements()
		st := o.states[name]
		if st == nil {
			st = newParamState(n, o.Config.AMSGrad)
		}

		pVals := p.Floats()
		gVals := gradSlices[name]
		mVals := st.m
		vVals := st.vFloats()
		var vMaxVals []float32
		if o.Config.AMSGrad {
			vMaxVals = st.vMaxFloats()
		}

		newP := make([]float32, n)
		newM := make([]float32, n)
		newV := make([]float32, n)
		var newVMax []float32
		if o.Config.AMSGrad {
			newVMax = make([]float32, n)
		}

		for i := 0; i < n; i++ {
			g := float64(gVals[i])
			m := beta1*float64(mVals[i]) + (1-beta1)*g
			v := beta2*float64(vVals[i]) + (1-beta2)*g*g

			mHat := m / biasCorr1
			vHat := v / biasCorr2
			if o.Config.AMSGrad {
				prevMax := float64(vMaxVals[i])
				if v > prevMax {
					prevMax = v
				}
				newVMax[i] = float32(prevMax)
				vHat = prevMax / biasCorr2
			}

			update := mHat/(math.Sqrt(vHat)+eps) + wd*float64(pVals[i])
			newM[i] = float32(m)
			newV[i] = float32(v)
			newP[i] = pVals[i] - float32(lr*update)
		}

		if hasNonFinite(newP) {
			return o.rollbackOnNumerical(name)
		}

		updated[name] = newP
		ns := &paramState{m: newM, n: n}
		ns.setV(newV)
		if o.Config.AMSGrad {
			ns.setVMax(newVMax)
		}
		newStates[name] = ns
	}

	for _, name := range names {
		params[name].FromFloats(updated[name])
		o.states[name] = newStates[name]
	}
	return nil
}

// rollbackOnNumerical verwirft den laufenden Schritt vollstaendig (kein
// Zustand wurde oben bereits committet, da Commit erst nach der
// Schleife erfolgt) und halbiert die Lernrate fuer kuenftige Schritte.
func (o *AdamW) rollbackOnNumerical(paramName string) error {
	o.lrHalvings++
	return errs.New(errs.Numerical, "non-finite update for parameter "+paramName)
}

func hasNonFinite(vals []float32) bool {
	for _, v := range vals {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return true
		}
	}
	return false
}

// clipGlobalNorm skaliert alle Gradienten gemeinsam, wenn ihre L2-Norm
// ueber allen Tensoren maxNorm uebersteigt (spec.md §4.7 Schritt 1).
func clipGlobalNorm(grads map[string][]float32, maxNorm float64) {
	var sumSq float64
	for _, g := range grads {
		for _, v := range g {
			sumSq += float64(v) * float64(v)
		}
	}
	norm := math.Sqrt(sumSq)
	if norm <= maxNorm {
		return
	}
	scale := float32(maxNorm / (norm + 1e-6))
	for _, g := range grads {
		for i := range g {
			g[i] *= scale
		}
	}
}

// LastStep gibt den zuletzt ausgefuehrten globalen Schritt-Zaehler zurueck.
func (o *AdamW) LastStep() int { return o.step }

// LRHalvings gibt die Anzahl kumulativer Numerical-Rollback-Halbierungen zurueck.
func (o *AdamW) LRHalvings() int { return o.lrHalvings }
