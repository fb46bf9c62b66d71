// types.go - Gewichte und Kernel-Schnittstelle der MoE-Schicht.
package moelayer

import "github.com/hybridtrain/core/tensor"

// Weights sind die dequantisierten Gewichte einer MoE-Schicht: ein
// Router und je Experte ein Paar (W1, W2) fuer das ReLU-gated FFN.
type Weights struct {
	Router *tensor.Tensor // [D, NumExperts]

	ExpertW1 []*tensor.Tensor // je [D, DFF]
	ExpertW2 []*tensor.Tensor // je [DFF, D]
}

// Config sind die fuer das Routing benoetigten Hyperparameter.
type Config struct {
	NumExperts    int
	TopK          int
	AuxLossWeight float64
}

// ExpertKernel wendet das ReLU-gated FFN eines Experten an:
// out = ReLU(u·W1)·W2. Ist typischerweise ein Geraete-Kernel; ohne ihn
// greift Forward auf eine dichte CPU-Schleife zurueck (spec.md §4.4).
type ExpertKernel interface {
	Run(u, w1, w2 *tensor.Tensor) (*tensor.Tensor, error)
}
