// accumulator.go - GradientAccumulator: summiert Adapter-Gradienten ueber
// Mikro-Batches, bis die konfigurierte Akkumulationsstufe erreicht ist
// (spec.md §4.9).
package train

import (
	"github.com/hybridtrain/core/tensor"
)

// GradientAccumulator sums per-adapter (grad_A, grad_B) pairs across
// micro-batches. Zero resets the accumulator and releases its held
// tensors (spec.md §8 testable property 11: accountant counters must
// return to their pre-step values after zero()).
type GradientAccumulator struct {
	accountant tensor.Accountant
	gradA      map[string]*tensor.Tensor
	gradB      map[string]*tensor.Tensor
	count      int
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator(a tensor.Accountant) *GradientAccumulator {
	return &GradientAccumulator{
		accountant: a,
		gradA:      make(map[string]*tensor.Tensor),
		gradB:      make(map[string]*tensor.Tensor),
	}
}

// Add accumulates one micro-batch's gradients for adapter name into the
// running totals, summing element-wise with any prior accumulation.
func (g *GradientAccumulator) Add(name string, gradA, gradB *tensor.Tensor) error {
	sumA, err := addOrAdopt(g.accountant, g.gradA[name], gradA)
	if err != nil {
		return err
	}
	g.gradA[name] = sumA

	sumB, err := addOrAdopt(g.accountant, g.gradB[name], gradB)
	if err != nil {
		return err
	}
	g.gradB[name] = sumB
	return nil
}

// MicroBatchDone increments the micro-batch counter; call once per
// completed backward pass.
func (g *GradientAccumulator) MicroBatchDone() { g.count++ }

// Ready reports whether accumSteps micro-batches have been accumulated.
func (g *GradientAccumulator) Ready(accumSteps int) bool {
	return accumSteps <= 1 || g.count >= accumSteps
}

// Grads returns the accumulated gradients, named "{adapter}.A" / "{adapter}.B",
// matching lora.Adapter's two trainable tensors for optim.AdamW.Step.
func (g *GradientAccumulator) Grads() map[string]*tensor.Tensor {
	out := make(map[string]*tensor.Tensor, 2*len(g.gradA))
	for name, t := range g.gradA {
		out[name+".A"] = t
	}
	for name, t := range g.gradB {
		out[name+".B"] = t
	}
	return out
}

// Zero releases all accumulated tensors and resets the micro-batch counter.
func (g *GradientAccumulator) Zero() {
	for name, t := range g.gradA {
		t.Release()
		delete(g.gradA, name)
	}
	for name, t := range g.gradB {
		t.Release()
		delete(g.gradB, name)
	}
	g.count = 0
}

func addOrAdopt(a tensor.Accountant, acc, next *tensor.Tensor) (*tensor.Tensor, error) {
	if acc == nil {
		return next, nil
	}
	sum, err := tensor.Add(a, acc, next)
	if err != nil {
		return nil, err
	}
	acc.Release()
	next.Release()
	return sum, nil
}
