// ops.go - Grundlegende lineare Algebra und Elementweise-Operationen
// Enthaelt: GEMM, Add, Scale, Mul (elementweise), RMSNorm, SiLU, Softplus.
// Alle Operatoren arbeiten auf F32-Tensoren; GEMM nutzt gonum/mat fuer
// die eigentliche Matrixmultiplikation.
package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/hybridtrain/core/errs"
)

// MatMul berechnet C = A·B fuer zweidimensionale F32-Tensoren A [m,k]
// und B [k,n], Ergebnis C [m,n] in der Kategorie von A.
func MatMul(a Accountant, x, w *Tensor) (*Tensor, error) {
	if x.dtype != F32 || w.dtype != F32 {
		return nil, errs.New(errs.ShapeMismatch, "matmul requires f32 operands")
	}
	if len(x.shape) != 2 || len(w.shape) != 2 || x.shape[1] != w.shape[0] {
		return nil, errs.New(errs.ShapeMismatch, fmt.Sprintf("matmul shape mismatch %v x %v", x.shape, w.shape))
	}
	m, k, n := x.shape[0], x.shape[1], w.shape[1]

	xd := mat.NewDense(m, k, toFloat64(x.Floats()))
	wd := mat.NewDense(k, n, toFloat64(w.Floats()))
	var cd mat.Dense
	cd.Mul(xd, wd)

	out, err := newOwned(a, F32, x.category, []int{m, n})
	if err != nil {
		return nil, err
	}
	vals := make([]float32, m*n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			vals[i*n+j] = float32(cd.At(i, j))
		}
	}
	out.FromFloats(vals)
	return out, nil
}

// Transpose returns the transpose of a 2-D F32 tensor.
func Transpose(a Accountant, t *Tensor) (*Tensor, error) {
	if t.dtype != F32 || len(t.shape) != 2 {
		return nil, errs.New(errs.ShapeMismatch, "transpose requires a 2-d f32 tensor")
	}
	m, n := t.shape[0], t.shape[1]
	out, err := newOwned(a, F32, t.category, []int{n, m})
	if err != nil {
		return nil, err
	}
	x := t.Floats()
	vals := make([]float32, m*n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			vals[j*m+i] = x[i*n+j]
		}
	}
	out.FromFloats(vals)
	return out, nil
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

// Add berechnet t + other elementweise (gleiche Form vorausgesetzt).
func Add(a Accountant, t, other *Tensor) (*Tensor, error) {
	if t.NumElements() != other.NumElements() {
		return nil, errs.New(errs.ShapeMismatch, "add requires matching element counts")
	}
	out, err := newOwned(a, F32, t.category, t.shape)
	if err != nil {
		return nil, err
	}
	x := toFloat64(t.Floats())
	y := toFloat64(other.Floats())
	floats.Add(x, y)
	vals := make([]float32, len(x))
	for i, v := range x {
		vals[i] = float32(v)
	}
	out.FromFloats(vals)
	return out, nil
}

// Mul berechnet das elementweise Produkt von t und other (Hadamard-Produkt).
func Mul(a Accountant, t, other *Tensor) (*Tensor, error) {
	if t.NumElements() != other.NumElements() {
		return nil, errs.New(errs.ShapeMismatch, "mul requires matching element counts")
	}
	out, err := newOwned(a, F32, t.category, t.shape)
	if err != nil {
		return nil, err
	}
	x := t.Floats()
	y := other.Floats()
	vals := make([]float32, len(x))
	for i := range x {
		vals[i] = x[i] * y[i]
	}
	out.FromFloats(vals)
	return out, nil
}

// Scale skaliert jedes Element von t mit s.
func Scale(a Accountant, t *Tensor, s float64) (*Tensor, error) {
	out, err := newOwned(a, F32, t.category, t.shape)
	if err != nil {
		return nil, err
	}
	x := toFloat64(t.Floats())
	floats.Scale(s, x)
	vals := make([]float32, len(x))
	for i, v := range x {
		vals[i] = float32(v)
	}
	out.FromFloats(vals)
	return out, nil
}

// RMSNorm normalisiert die letzte Dimension: x / sqrt(mean(x^2) + eps).
func RMSNorm(a Accountant, t *Tensor, eps float32) (*Tensor, error) {
	if len(t.shape) == 0 {
		return nil, errs.New(errs.ShapeMismatch, "rmsnorm requires at least 1 dimension")
	}
	last := t.shape[len(t.shape)-1]
	n := t.NumElements()
	rows := n / last
	x := t.Floats()
	out, err := newOwned(a, F32, t.category, t.shape)
	if err != nil {
		return nil, err
	}
	vals := make([]float32, n)
	for r := 0; r < rows; r++ {
		var sumSq float64
		base := r * last
		for i := 0; i < last; i++ {
			v := float64(x[base+i])
			sumSq += v * v
		}
		meanSq := sumSq / float64(last)
		denom := float32(math.Sqrt(meanSq + float64(eps)))
		for i := 0; i < last; i++ {
			vals[base+i] = x[base+i] / denom
		}
	}
	out.FromFloats(vals)
	return out, nil
}

// SiLU berechnet x * sigmoid(x) elementweise.
func SiLU(a Accountant, t *Tensor) (*Tensor, error) {
	out, err := newOwned(a, F32, t.category, t.shape)
	if err != nil {
		return nil, err
	}
	x := t.Floats()
	vals := make([]float32, len(x))
	for i, v := range x {
		vals[i] = v * sigmoid(v)
	}
	out.FromFloats(vals)
	return out, nil
}

// ReLU berechnet max(0, x) elementweise.
func ReLU(a Accountant, t *Tensor) (*Tensor, error) {
	out, err := newOwned(a, F32, t.category, t.shape)
	if err != nil {
		return nil, err
	}
	x := t.Floats()
	vals := make([]float32, len(x))
	for i, v := range x {
		if v > 0 {
			vals[i] = v
		}
	}
	out.FromFloats(vals)
	return out, nil
}

// Softplus berechnet log(1 + exp(x)) elementweise, numerisch stabil.
func Softplus(a Accountant, t *Tensor) (*Tensor, error) {
	out, err := newOwned(a, F32, t.category, t.shape)
	if err != nil {
		return nil, err
	}
	x := t.Floats()
	vals := make([]float32, len(x))
	for i, v := range x {
		vals[i] = softplus1(v)
	}
	out.FromFloats(vals)
	return out, nil
}

func softplus1(x float32) float32 {
	if x > 20 {
		return x
	}
	return float32(math.Log1p(math.Exp(float64(x))))
}

func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(float64(-x))))
}
