// types.go - Datentypen fuer den Tensor-Unterbau
// Enthaelt: DType, Category und die zugehoerigen Groessenberechnungen.
package tensor

// DType ist der Elementtyp eines Tensors.
type DType int

const (
	F32 DType = iota
	F16
	I8
	NF4 // gepackt, zwei Werte pro Byte, niedriges Nibble zuerst
)

// String gibt den Namen des Elementtyps zurueck.
func (d DType) String() string {
	switch d {
	case F32:
		return "f32"
	case F16:
		return "f16"
	case I8:
		return "i8"
	case NF4:
		return "nf4"
	default:
		return "unknown"
	}
}

// BytesPerElement gibt die Anzahl Bytes pro Element zurueck. Fuer NF4
// ist dies 0.5 (zwei Werte pro Byte); Aufrufer muessen ⌈N/2⌉ selbst bilden.
func (d DType) BytesPerElement() float64 {
	switch d {
	case F32:
		return 4
	case F16:
		return 2
	case I8:
		return 1
	case NF4:
		return 0.5
	default:
		return 0
	}
}

// Category markiert, welchem Speicher-Budget ein Tensor angerechnet wird.
type Category int

const (
	ModelWeights Category = iota
	Activations
	OptimizerStates
	Gradients
	Temporary
)

// String gibt den Namen der Speicher-Kategorie zurueck.
func (c Category) String() string {
	switch c {
	case ModelWeights:
		return "model_weights"
	case Activations:
		return "activations"
	case OptimizerStates:
		return "optimizer_states"
	case Gradients:
		return "gradients"
	case Temporary:
		return "temporary"
	default:
		return "unknown"
	}
}

// ByteCount berechnet die Bytegroesse fuer n Elemente vom Typ d,
// mit Aufrundung auf ganze Bytes (relevant fuer NF4).
func ByteCount(d DType, n int) int {
	if d == NF4 {
		return (n + 1) / 2
	}
	return int(float64(n) * d.BytesPerElement())
}
