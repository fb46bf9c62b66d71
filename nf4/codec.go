// codec.go - Block- und Superblock-Quantisierung (Double-Quant) nach NF4
// Enthaelt: Quantize, Dequantize.
package nf4

import (
	"math"

	"github.com/x448/float16"

	"github.com/hybridtrain/core/errs"
	"github.com/hybridtrain/core/tensor"
)

const minBlockScale = 1e-8

// Quantize wandelt einen F32-Tensor in eine gepackte NF4-Repraesentation
// um. blockSize bestimmt die Groesse eines Skalierungsblocks (Standard
// 64); der letzte Block darf kuerzer sein. Wenn doubleQuant gesetzt ist,
// werden je 4 aufeinanderfolgende Bloecke zu einem Superblock
// zusammengefasst: der Superblock traegt eine f16-Konstante ŝ (sein
// groesster Blockskalar), und jeder Block darin traegt nur noch einen u8
// fuer block_scale/ŝ statt seiner eigenen f16-Skala.
func Quantize(a tensor.Accountant, t *tensor.Tensor, blockSize int, doubleQuant bool) (*QuantizedTensor, error) {
	shape := t.Shape()
	n := t.NumElements()
	if n == 0 || blockSize <= 0 {
		return nil, errs.New(errs.CodecSize, "quantize requires a non-empty tensor and positive block size")
	}

	vals := t.Floats()
	numBlocks := (n + blockSize - 1) / blockSize

	packed := make([]byte, (n+1)/2)
	blockScalesF32 := make([]float32, numBlocks)

	for b := 0; b < numBlocks; b++ {
		start := b * blockSize
		end := start + blockSize
		if end > n {
			end = n
		}
		s := float32(0)
		for i := start; i < end; i++ {
			if v := abs32(vals[i]); v > s {
				s = v
			}
		}
		if s < minBlockScale {
			s = minBlockScale
		}
		blockScalesF32[b] = s

		for i := start; i < end; i++ {
			xNorm := vals[i] / s
			idx := nearestIndex(xNorm)
			packByte(packed, i, idx)
		}
	}

	var scaleL1 []float16.Float16
	var scaleSuper []float16.Float16
	var scaleL2 []uint8
	if doubleQuant {
		// QLoRA double-quant: ŝ per superblock stays an f16 constant
		// (full usable precision, including sub-unit values), and each
		// block's scale is recorded relative to it as a u8 in [0,255] -
		// the u8 never needs to represent ŝ itself, only a block's
		// fraction of it, so sigma << 1 regimes don't collapse to zero.
		numSuper := (numBlocks + 3) / 4
		scaleSuper = make([]float16.Float16, numSuper)
		scaleL2 = make([]uint8, numBlocks)
		for sb := 0; sb < numSuper; sb++ {
			start := sb * 4
			end := start + 4
			if end > numBlocks {
				end = numBlocks
			}
			var shat float32
			for b := start; b < end; b++ {
				if blockScalesF32[b] > shat {
					shat = blockScalesF32[b]
				}
			}
			if shat < minBlockScale {
				shat = minBlockScale
			}
			scaleSuper[sb] = float16.Fromfloat32(shat)

			for b := start; b < end; b++ {
				scaleL2[b] = uint8(clampRound(blockScalesF32[b]/shat*255, 0, 255))
			}
		}
	} else {
		scaleL1 = make([]float16.Float16, numBlocks)
		for b := 0; b < numBlocks; b++ {
			scaleL1[b] = float16.Fromfloat32(blockScalesF32[b])
		}
	}

	byteCount := int64(len(packed) + len(scaleL1)*2 + len(scaleSuper)*2 + len(scaleL2))
	if a != nil {
		a.Register(tensor.ModelWeights, byteCount)
	}

	return &QuantizedTensor{
		Packed:      packed,
		ScaleL1:     scaleL1,
		ScaleSuper:  scaleSuper,
		ScaleL2:     scaleL2,
		Shape:       shape,
		BlockSize:   blockSize,
		DoubleQuant: doubleQuant,
		accountant:  a,
		byteCount:   byteCount,
	}, nil
}

// Dequantize rekonstruiert einen F32-Tensor aus einer QuantizedTensor und
// markiert ihn als Activations (der haeufigste Aufrufkontext: Gather,
// Tests, Ad-hoc-Inspektion).
func Dequantize(a tensor.Accountant, q *QuantizedTensor) (*tensor.Tensor, error) {
	return DequantizeAs(a, q, tensor.Activations)
}

// DequantizeAs ist wie Dequantize, erlaubt aber dem Aufrufer, die
// Speicherkategorie des rekonstruierten Tensors zu waehlen - etwa
// `tensor.Temporary` fuer on-the-fly dequantisierte Schichtgewichte, die
// direkt nach dem Forward-Schritt wieder freigegeben werden.
func DequantizeAs(a tensor.Accountant, q *QuantizedTensor, category tensor.Category) (*tensor.Tensor, error) {
	n := q.NumElements()
	if n == 0 || q.BlockSize <= 0 {
		return nil, errs.New(errs.CodecSize, "dequantize requires a non-empty tensor and positive block size")
	}

	vals := make([]float32, n)
	for g := 0; g < n; g++ {
		b := g / q.BlockSize
		var scale float32
		if q.DoubleQuant {
			sb := b / 4
			scale = q.ScaleSuper[sb].Float32() * float32(q.ScaleL2[b]) / 255
		} else {
			scale = q.ScaleL1[b].Float32()
		}
		idx := unpackByte(q.Packed, g)
		vals[g] = codebook[idx] * scale
	}

	return tensor.FromFloats(a, category, vals, q.Shape...)
}

// UnpackIndices extracts the raw NF4 codebook index for every element,
// useful for inspection and tests.
func UnpackIndices(q *QuantizedTensor) []uint8 {
	n := q.NumElements()
	out := make([]uint8, n)
	for i := 0; i < n; i++ {
		out[i] = unpackByte(q.Packed, i)
	}
	return out
}

func packByte(packed []byte, elemIdx int, nibble uint8) {
	byteIdx := elemIdx / 2
	if elemIdx%2 == 0 {
		packed[byteIdx] = (packed[byteIdx] & 0xF0) | (nibble & 0x0F)
	} else {
		packed[byteIdx] = (packed[byteIdx] & 0x0F) | (nibble << 4)
	}
}

func unpackByte(packed []byte, elemIdx int) uint8 {
	b := packed[elemIdx/2]
	if elemIdx%2 == 0 {
		return b & 0x0F
	}
	return (b >> 4) & 0x0F
}

func clampRound(x float32, lo, hi float64) float32 {
	r := math.Round(float64(x))
	if r < lo {
		r = lo
	}
	if r > hi {
		r = hi
	}
	return float32(r)
}
