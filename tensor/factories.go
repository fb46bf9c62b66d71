// factories.go - Fabrikfunktionen zur Tensor-Erstellung
// Enthaelt: Zeros, Ones, Randn (Box-Muller via gonum), FromBuffer.
package tensor

import (
	"encoding/binary"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/hybridtrain/core/errs"
)

// Zeros erstellt einen mit Nullen gefuellten Tensor der gegebenen Form,
// registriert bei a unter der Kategorie category.
func Zeros(a Accountant, dtype DType, category Category, shape ...int) (*Tensor, error) {
	return newOwned(a, dtype, category, shape)
}

// Ones erstellt einen mit Einsen gefuellten f32-Tensor.
func Ones(a Accountant, category Category, shape ...int) (*Tensor, error) {
	t, err := newOwned(a, F32, category, shape)
	if err != nil {
		return nil, err
	}
	vals := make([]float32, t.NumElements())
	for i := range vals {
		vals[i] = 1
	}
	t.FromFloats(vals)
	return t, nil
}

// Randn erstellt einen f32-Tensor mit Standardnormal-verteilten Werten
// (Mittelwert 0, Standardabweichung std), gezogen ueber eine
// Box-Muller-aequivalente Transformation (gonum stat/distuv.Normal).
func Randn(a Accountant, category Category, std float64, shape ...int) (*Tensor, error) {
	t, err := newOwned(a, F32, category, shape)
	if err != nil {
		return nil, err
	}
	dist := distuv.Normal{Mu: 0, Sigma: std}
	vals := make([]float32, t.NumElements())
	for i := range vals {
		vals[i] = float32(dist.Rand())
	}
	t.FromFloats(vals)
	return t, nil
}

// FromFloats erstellt einen f32-Tensor aus vorgegebenen Werten.
func FromFloats(a Accountant, category Category, vals []float32, shape ...int) (*Tensor, error) {
	t, err := newOwned(a, F32, category, shape)
	if err != nil {
		return nil, err
	}
	if len(vals) != t.NumElements() {
		return nil, errs.New(errs.ShapeMismatch, "value count does not match shape")
	}
	t.FromFloats(vals)
	return t, nil
}

// FromBuffer erstellt einen Tensor, dessen Speicher aus rohen Bytes
// uebernommen wird (kopiert, damit der Accountant korrekt bucht).
func FromBuffer(a Accountant, dtype DType, category Category, buf []byte, shape ...int) (*Tensor, error) {
	t, err := newOwned(a, dtype, category, shape)
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) < t.ByteCount() {
		return nil, errs.New(errs.ShapeMismatch, "buffer shorter than declared byte count")
	}
	copy(t.store.buf, buf[:t.ByteCount()])
	return t, nil
}

// FromFloats ueberschreibt den Inhalt eines bestehenden f32-Tensors.
func (t *Tensor) FromFloats(vals []float32) {
	for i, v := range vals {
		binary.LittleEndian.PutUint32(t.store.buf[i*4:], math.Float32bits(v))
	}
}

// Floats liest den Inhalt eines f32-Tensors als []float32 (Kopie).
func (t *Tensor) Floats() []float32 {
	n := t.NumElements()
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.store.buf[i*4:]))
	}
	return out
}
