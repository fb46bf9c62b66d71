// adapter.go - LoRAAdapter: A/B-Matrizenpaar mit Null-init B (spec.md §3,
// §8 Eigenschaft 3) und die Forward/Backward-Algebra aus spec.md §4.5.
package lora

import (
	"math"

	"github.com/hybridtrain/core/errs"
	"github.com/hybridtrain/core/tensor"
)

// Adapter ist ein benanntes A/B-Paar fuer einen Anlagepunkt im Modellgraphen.
type Adapter struct {
	Name   string
	Config Config
	A      *tensor.Tensor // [inDim, r]
	B      *tensor.Tensor // [r, outDim]
}

// New legt einen Adapter an: A ~ N(0, 1/sqrt(inDim)), B = 0, wie von
// spec.md §3 gefordert ("initial adapter output is zero").
func New(a tensor.Accountant, name string, inDim, outDim int, cfg Config) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	matA, err := tensor.Randn(a, tensor.ModelWeights, 1.0/math.Sqrt(float64(inDim)), inDim, cfg.Rank)
	if err != nil {
		return nil, err
	}
	matB, err := tensor.Zeros(a, tensor.F32, tensor.ModelWeights, cfg.Rank, outDim)
	if err != nil {
		matA.Release()
		return nil, err
	}
	return &Adapter{Name: name, Config: cfg, A: matA, B: matB}, nil
}

// Release frees the adapter's trainable parameters.
func (ad *Adapter) Release() {
	ad.A.Release()
	ad.B.Release()
}

// Apply computes y = base + scaling*(x·A)·B, the effective forward of
// spec.md §4.5. x is the frozen module's input (the activation the
// caller must cache under "{name}.pre" for backward), base is x·W from
// the frozen path.
func (ad *Adapter) Apply(a tensor.Accountant, x, base *tensor.Tensor) (*tensor.Tensor, error) {
	xa, err := tensor.MatMul(a, x, ad.A)
	if err != nil {
		return nil, err
	}
	defer xa.Release()
	delta, err := tensor.MatMul(a, xa, ad.B)
	if err != nil {
		return nil, err
	}
	defer delta.Release()
	scaled, err := tensor.Scale(a, delta, ad.Config.Scaling())
	if err != nil {
		return nil, err
	}
	defer scaled.Release()
	return tensor.Add(a, base, scaled)
}

// Backward implements spec.md §4.5: grad_B = σ·(x·A)ᵀ·G, grad_A =
// σ·xᵀ·(G·Bᵀ). Fails with ShapeMismatch if x/G shapes disagree with A/B.
func (ad *Adapter) Backward(a tensor.Accountant, x, g *tensor.Tensor) (gradA, gradB *tensor.Tensor, err error) {
	xShape, aShape := x.Shape(), ad.A.Shape()
	if len(xShape) != 2 || xShape[1] != aShape[0] {
		return nil, nil, errs.New(errs.ShapeMismatch, "lora backward: x shape incompatible with A")
	}
	gShape, bShape := g.Shape(), ad.B.Shape()
	if len(gShape) != 2 || gShape[1] != bShape[1] || gShape[0] != xShape[0] {
		return nil, nil, errs.New(errs.ShapeMismatch, "lora backward: G shape incompatible with x/B")
	}

	sigma := ad.Config.Scaling()

	xa, err := tensor.MatMul(a, x, ad.A) // [rows, r]
	if err != nil {
		return nil, nil, err
	}
	defer xa.Release()
	xaT, err := tensor.Transpose(a, xa) // [r, rows]
	if err != nil {
		return nil, nil, err
	}
	defer xaT.Release()
	gradBRaw, err := tensor.MatMul(a, xaT, g) // [r, outDim]
	if err != nil {
		return nil, nil, err
	}
	defer gradBRaw.Release()
	gradB, err = tensor.Scale(a, gradBRaw, sigma)
	if err != nil {
		return nil, nil, err
	}

	bT, err := tensor.Transpose(a, ad.B) // [outDim, r]
	if err != nil {
		gradB.Release()
		return nil, nil, err
	}
	defer bT.Release()
	gbt, err := tensor.MatMul(a, g, bT) // [rows, r]
	if err != nil {
		gradB.Release()
		return nil, nil, err
	}
	defer gbt.Release()
	xT, err := tensor.Transpose(a, x) // [inDim, rows]
	if err != nil {
		gradB.Release()
		return nil, nil, err
	}
	defer xT.Release()
	gradARaw, err := tensor.MatMul(a, xT, gbt) // [inDim, r]
	if err != nil {
		gradB.Release()
		return nil, nil, err
	}
	defer gradARaw.Release()
	gradA, err = tensor.Scale(a, gradARaw, sigma)
	if err != nil {
		gradB.Release()
		return nil, nil, err
	}
	return gradA, gradB, nil
}
