// crossentropy.go - Kreuzentropie-Verlust mit Padding-Maske (spec.md §4.6).
// Target-ID 0 gilt als Padding und wird in Verlust, Genauigkeit und
// Gradient ignoriert.
package loss

import (
	"math"

	"github.com/hybridtrain/core/errs"
	"github.com/hybridtrain/core/tensor"
)

const paddingID = 0

// Forward computes the mean cross-entropy loss and accuracy over the
// non-padding positions of logits [B,L,V] against integer targets [B,L].
func Forward(logits *tensor.Tensor, targets [][]int) (lossVal, accuracy float32, err error) {
	shape := logits.Shape()
	if len(shape) != 3 {
		return 0, 0, errs.New(errs.ShapeMismatch, "cross entropy requires [B,L,V] logits")
	}
	b, seqLen, vocab := shape[0], shape[1], shape[2]
	if len(targets) != b || (b > 0 && len(targets[0]) != seqLen) {
		return 0, 0, errs.New(errs.ShapeMismatch, "targets shape does not match logits")
	}

	vals := logits.Floats()
	var totalLoss float64
	var correct, valid int

	for bi := 0; bi < b; bi++ {
		for t := 0; t < seqLen; t++ {
			target := targets[bi][t]
			if target == paddingID {
				continue
			}
			base := (bi*seqLen + t) * vocab
			row := vals[base : base+vocab]
			lse, maxIdx := logSumExpAndArgmax(row)
			totalLoss += lse - float64(row[target])
			valid++
			if maxIdx == target {
				correct++
			}
		}
	}
	if valid == 0 {
		return 0, 0, errs.New(errs.EmptyBatch, "cross entropy requires at least one non-padding target")
	}
	return float32(totalLoss / float64(valid)), float32(correct) / float32(valid), nil
}

// Backward computes G_logits[b,l,v] = (softmax(logits[b,l]) -
// one_hot(target))/valid_positions for non-padding positions, zero
// elsewhere (spec.md §4.6 step 4).
func Backward(a tensor.Accountant, logits *tensor.Tensor, targets [][]int) (*tensor.Tensor, error) {
	shape := logits.Shape()
	if len(shape) != 3 {
		return nil, errs.New(errs.ShapeMismatch, "cross entropy requires [B,L,V] logits")
	}
	b, seqLen, vocab := shape[0], shape[1], shape[2]

	vals := logits.Floats()
	valid := 0
	for bi := 0; bi < b; bi++ {
		for t := 0; t < seqLen; t++ {
			if targets[bi][t] != paddingID {
				valid++
			}
		}
	}
	if valid == 0 {
		return nil, errs.New(errs.EmptyBatch, "cross entropy requires at least one non-padding target")
	}

	grad := make([]float32, len(vals))
	for bi := 0; bi < b; bi++ {
		for t := 0; t < seqLen; t++ {
			target := targets[bi][t]
			base := (bi*seqLen + t) * vocab
			if target == paddingID {
				continue
			}
			row := vals[base : base+vocab]
			probs := softmax(row)
			for v := 0; v < vocab; v++ {
				g := probs[v]
				if v == target {
					g -= 1
				}
				grad[base+v] = g / float32(valid)
			}
		}
	}
	return tensor.FromFloats(a, tensor.Gradients, grad, b, seqLen, vocab)
}

func logSumExpAndArgmax(row []float32) (lse float64, argmax int) {
	maxV := row[0]
	argmax = 0
	for i, v := range row {
		if v > maxV {
			maxV = v
			argmax = i
		}
	}
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v - maxV))
	}
	return float64(maxV) + math.Log(sum), argmax
}

func softmax(row []float32) []float32 {
	maxV := row[0]
	for _, v := range row {
		if v > maxV {
			maxV = v
		}
	}
	out := make([]float32, len(row))
	var sum float64
	for i, v := range row {
		e := math.Exp(float64(v - maxV))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}
