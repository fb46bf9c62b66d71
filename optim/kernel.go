// kernel.go - OptimizerKernel-Kollaborator und Varianten-Auswahl (spec.md §4.7).
package optim

// Variant unterscheidet die beiden vom externen Kernel-Kollaborator
// angebotenen Code-Pfade.
type Variant int

const (
	VariantScalar Variant = iota
	VariantSIMD
)

func (v Variant) String() string {
	if v == VariantSIMD {
		return "simd"
	}
	return "scalar"
}

// simdWidth ist die angenommene Elementbreite des SIMD-Pfads.
const simdWidth = 8

// SelectVariant waehlt die Kernel-Variante nach spec.md §4.7: SIMD, wenn
// n ein Vielfaches der SIMD-Breite und >= 1024 ist, sonst skalar.
func SelectVariant(n int) Variant {
	if n >= 1024 && n%simdWidth == 0 {
		return VariantSIMD
	}
	return VariantScalar
}

// OptimizerKernel performs the AdamW element update for a parameter slab.
// AdamW.Step does not call it: every step runs the pure host f32
// computation, whether or not AdamW.Kernel is set, and this repository
// ships no device kernel. SelectVariant's choice is only reported, by
// `cmd/hybridtrain benchmark-optimizer`.
type OptimizerKernel interface {
	Step(variant Variant, params, grads, m, v []float32, lr, beta1, beta2, eps, weightDecay, biasCorr1, biasCorr2 float64) ([]float32, []float32, []float32, error)
}
