// view.go - Views auf bestehende Tensoren: Reshape, Slice
// Views teilen sich den Speicher des Eigentuemers und registrieren
// keine neuen Bytes beim Accountant (siehe spec §3 Tensor-Invariante).
package tensor

import (
	"fmt"

	"github.com/hybridtrain/core/errs"
)

// Reshape gibt einen View mit neuer Form zurueck; die Elementanzahl
// muss unveraendert bleiben.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return nil, errs.New(errs.ShapeMismatch, fmt.Sprintf("non-positive dimension in reshape %v", shape))
		}
		n *= d
	}
	if n != t.NumElements() {
		return nil, errs.New(errs.ShapeMismatch, fmt.Sprintf("reshape %v changes element count from %d", shape, t.NumElements()))
	}
	return viewOf(t, t.dtype, shape), nil
}

// Slice gibt einen View zurueck, der die Zeilen [low, high) entlang der
// ersten Dimension auswaehlt. Nur fuer F32-Tensoren unterstuetzt, da
// andere DTypes nicht byte-adressierbar auf Zeilengrenzen liegen.
func (t *Tensor) Slice(low, high int) (*Tensor, error) {
	if t.dtype != F32 {
		return nil, errs.New(errs.ShapeMismatch, "slice only supported for f32 tensors")
	}
	if len(t.shape) == 0 || low < 0 || high > t.shape[0] || low >= high {
		return nil, errs.New(errs.ShapeMismatch, fmt.Sprintf("invalid slice [%d:%d) of dim0=%v", low, high, t.shape))
	}
	rowElems := 1
	for _, d := range t.shape[1:] {
		rowElems *= d
	}
	byteOff := low * rowElems * 4
	byteLen := (high - low) * rowElems * 4

	newShape := append([]int{high - low}, t.shape[1:]...)
	t.store.retain()
	sub := &storage{
		buf:        t.store.buf[byteOff : byteOff+byteLen],
		category:   t.category,
		byteCount:  0, // shares accounting with parent; release() below decrements parent only
		accountant: nil,
		refs:       1,
	}
	view := &Tensor{shape: newShape, dtype: t.dtype, category: t.category, store: sub, isView: true}
	// attach a finalizer-less release chain: releasing the slice view must
	// release the parent's retained reference too.
	view.parentRelease = t.store.release
	return view, nil
}

// parentRelease, wenn gesetzt, wird von Release() zusaetzlich aufgerufen.
// (Slice-Views teilen keinen storage-Zeiger mit dem Original, weil sie
// ein verkuerztes buf-Slice brauchen, muessen aber dieselbe Referenz halten.)
