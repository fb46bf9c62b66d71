// quantized_tensor.go - QuantizedTensor: gepackter NF4-Payload plus Skalen
package nf4

import (
	"github.com/x448/float16"

	"github.com/hybridtrain/core/tensor"
)

// QuantizedTensor ist das Ergebnis von Quantize: gepackter 4-Bit-Payload,
// plus Skalen in einer von zwei Formen.
//
// Ohne Double-Quantization: ScaleL1 traegt eine f16-Skala pro Block,
// ScaleSuper/ScaleL2 bleiben leer.
//
// Mit Double-Quantization (QLoRA-Schema): ScaleSuper traegt eine f16-
// Konstante ŝ pro Superblock von 4 Bloecken (den groessten Blockskalar
// dieses Superblocks), und ScaleL2 traegt einen u8 pro Block -
// round(block_scale/ŝ * 255) - der die Blockskala relativ zu ŝ codiert.
// ScaleL1 bleibt in diesem Modus leer: der u8 pro Block ersetzt ihn.
type QuantizedTensor struct {
	Packed      []byte // ⌈N/2⌉ Bytes, niedriges Nibble zuerst
	ScaleL1     []float16.Float16
	ScaleSuper  []float16.Float16 // ein ŝ je Superblock, nur wenn DoubleQuant
	ScaleL2     []uint8           // ein u8 je Block, nur wenn DoubleQuant
	Shape       []int
	BlockSize   int
	DoubleQuant bool

	accountant tensor.Accountant
	byteCount  int64
	released   bool
}

// Release entbucht die Bytes dieses quantisierten Tensors vom Accountant.
// Wird mit der besitzenden Schicht freigegeben (spec §3 Lifecycle).
func (q *QuantizedTensor) Release() {
	if q.released || q.accountant == nil {
		return
	}
	q.released = true
	q.accountant.Unregister(tensor.ModelWeights, q.byteCount)
}

// NumElements berechnet die Gesamtzahl der urspruenglichen Elemente.
func (q *QuantizedTensor) NumElements() int {
	n := 1
	for _, d := range q.Shape {
		n *= d
	}
	return n
}

// numBlocks gibt die Anzahl der Level-1-Bloecke zurueck.
func (q *QuantizedTensor) numBlocks() int {
	n := q.NumElements()
	return (n + q.BlockSize - 1) / q.BlockSize
}
