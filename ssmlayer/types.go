// types.go - Gewichte und Kernel-Schnittstelle der Selective-State-Space-Schicht.
package ssmlayer

import "github.com/hybridtrain/core/tensor"

// Weights sind die dequantisierten Gewichte einer einzelnen
// State-Space-Schicht (vom Aufrufer lazy aus dem QuantizedModel geholt).
type Weights struct {
	InProj  *tensor.Tensor // [D, 2*dInner]
	XProj   *tensor.Tensor // [dInner, dtRank + 2*DState]
	DtProj  *tensor.Tensor // [dtRank, dInner]
	ALog    *tensor.Tensor // [dInner, DState]
	DSkip   *tensor.Tensor // [dInner, 1]
	OutProj *tensor.Tensor // [dInner, D]
}

// ScanKernel fuehrt die selektive Scan-Rekurrenz aus spec.md §4.3 Schritt 4
// aus: h_t = h_{t-1}*exp(A_c*Δ_t) + B_t*x_t, y_t = C_t*h_t + D_c*x_t.
// Wird typischerweise von einem Geraete-Kernel bereitgestellt; ist er nil,
// greift Forward auf den Skip-only-CPU-Fallback zurueck (spec.md §4.3,
// §9 Open Question 3).
type ScanKernel interface {
	Run(x, delta, a, bSSM, cSSM, d *tensor.Tensor) (*tensor.Tensor, error)
}
