// tensor.go - Tensor-Kerntyp: Form, Speicher, Besitz
// Enthaelt: Tensor-Struct, Storage-Besitz, Release-Semantik.
package tensor

import (
	"fmt"

	"github.com/hybridtrain/core/errs"
)

// Accountant ist die schmale Schnittstelle, die der Tensor-Unterbau
// braucht, um Allokationen gegen den Memory-Accountant zu buchen.
// Die konkrete Implementierung lebt in Paket memtrack.
type Accountant interface {
	Register(category Category, bytes int64)
	Unregister(category Category, bytes int64)
}

// storage ist der referenzgezaehlte Speicher-Backing eines Tensors.
// Views teilen sich eine storage-Instanz; nur der Eigentuemer, der sie
// erzeugt hat, bucht/entbucht beim Accountant.
type storage struct {
	buf        []byte
	category   Category
	byteCount  int64
	accountant Accountant
	refs       int
	released   bool
}

func (s *storage) retain() { s.refs++ }

func (s *storage) release() {
	s.refs--
	if s.refs > 0 || s.released {
		return
	}
	s.released = true
	if s.accountant != nil {
		s.accountant.Unregister(s.category, s.byteCount)
	}
}

// Tensor ist ein dichter, zusammenhaengender Puffer mit Form, Elementtyp
// und Speicher-Kategorie. Views (Reshape/Slice) teilen sich den Speicher
// des Eigentuemers und registrieren keine neuen Bytes.
type Tensor struct {
	shape    []int
	dtype    DType
	category Category
	store    *storage

	// isView ist true fuer Tensoren, die durch Reshape/Slice/View aus
	// einem anderen Tensor entstanden sind. Views duerfen nicht mutiert
	// werden, solange ein anderer View auf demselben Speicher existiert.
	isView bool

	// parentRelease wird, falls gesetzt, zusaetzlich beim Release()
	// aufgerufen (Slice-Views halten ein verkuerztes Byte-Slice, teilen
	// aber die Referenzzaehlung des Eigentuemers).
	parentRelease func()
}

// Shape gibt die Form des Tensors zurueck (Kopie, zur Sicherheit gegen Mutation).
func (t *Tensor) Shape() []int {
	out := make([]int, len(t.shape))
	copy(out, t.shape)
	return out
}

// DType gibt den Elementtyp zurueck.
func (t *Tensor) DType() DType { return t.dtype }

// Category gibt die Speicher-Kategorie zurueck.
func (t *Tensor) Category() Category { return t.category }

// NumElements berechnet das Produkt aller Formdimensionen.
func (t *Tensor) NumElements() int {
	n := 1
	for _, d := range t.shape {
		n *= d
	}
	return n
}

// ByteCount gibt die Groesse des logischen Inhalts in Bytes zurueck.
func (t *Tensor) ByteCount() int64 {
	return int64(ByteCount(t.dtype, t.NumElements()))
}

// IsView meldet, ob dieser Tensor Speicher mit einem anderen teilt.
func (t *Tensor) IsView() bool { return t.isView }

// Bytes gibt den rohen Puffer zurueck (kein Kopie - Vorsicht bei Mutation ueber Views).
func (t *Tensor) Bytes() []byte {
	return t.store.buf
}

// Release gibt die Eigentuemerschaft dieses Tensors frei. Wenn keine
// anderen Besitzer mehr existieren, werden die Bytes beim Accountant
// entbucht.
func (t *Tensor) Release() {
	if t.store != nil {
		t.store.release()
	}
	if t.parentRelease != nil {
		t.parentRelease()
	}
}

// newOwned erstellt einen neuen Tensor mit frischem, registriertem Speicher.
func newOwned(a Accountant, dtype DType, category Category, shape []int) (*Tensor, error) {
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return nil, errs.New(errs.ShapeMismatch, fmt.Sprintf("non-positive dimension in shape %v", shape))
		}
		n *= d
	}
	byteCount := int64(ByteCount(dtype, n))
	st := &storage{
		buf:        make([]byte, byteCount),
		category:   category,
		byteCount:  byteCount,
		accountant: a,
		refs:       1,
	}
	if a != nil {
		a.Register(category, byteCount)
	}
	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)
	return &Tensor{shape: shapeCopy, dtype: dtype, category: category, store: st}, nil
}

// viewOf erstellt einen Tensor, der sich den Speicher von t teilt.
func viewOf(t *Tensor, dtype DType, shape []int) *Tensor {
	t.store.retain()
	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)
	return &Tensor{shape: shapeCopy, dtype: dtype, category: t.category, store: t.store, isView: true}
}
