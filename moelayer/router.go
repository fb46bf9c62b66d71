// router.go - Router-Softmax, Top-K-Auswahl mit Renormalisierung und
// Tie-Break auf den niedrigeren Expertenindex (spec.md §4.4 Schritt 3).
package moelayer

import (
	"math"
	"sort"

	"github.com/hybridtrain/core/errs"
	"github.com/hybridtrain/core/tensor"
)

// Routing haelt fuer jede Zeile (Token) die K gewaehlten Expertenindizes
// und ihre renormalisierten Gewichte.
type Routing struct {
	Indices [][]int
	Weights [][]float32
	NumRows int
}

// route berechnet softmax(routerLogits) je Zeile und waehlt die K
// hoechsten Eintraege; bei Gleichstand gewinnt der niedrigere Index.
func route(logits *tensor.Tensor, numExperts, topK int) (*Routing, error) {
	if topK <= 0 || topK > numExperts {
		return nil, errs.New(errs.ShapeMismatch, "top_k must be in [1, num_experts]")
	}
	shape := logits.Shape()
	rows := shape[0]
	vals := logits.Floats()

	out := &Routing{
		Indices: make([][]int, rows),
		Weights: make([][]float32, rows),
		NumRows: rows,
	}
	for r := 0; r < rows; r++ {
		base := r * numExperts
		row := vals[base : base+numExperts]
		probs := softmaxRow(row)

		type cand struct {
			idx int
			p   float32
		}
		cands := make([]cand, numExperts)
		for j := 0; j < numExperts; j++ {
			cands[j] = cand{idx: j, p: probs[j]}
		}
		sort.SliceStable(cands, func(i, j int) bool {
			if cands[i].p != cands[j].p {
				return cands[i].p > cands[j].p
			}
			return cands[i].idx < cands[j].idx
		})
		top := cands[:topK]
		var sum float32
		for _, c := range top {
			sum += c.p
		}
		indices := make([]int, topK)
		weights := make([]float32, topK)
		for i, c := range top {
			indices[i] = c.idx
			if sum > 0 {
				weights[i] = c.p / sum
			} else {
				weights[i] = 1.0 / float32(topK)
			}
		}
		out.Indices[r] = indices
		out.Weights[r] = weights
	}
	return out, nil
}

func softmaxRow(row []float32) []float32 {
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

// AuxLoss berechnet die Load-Balancing-Hilfsverlustfunktion aus spec.md
// §4.4 Schritt 7: f_j = Zuweisungen an j / (Zeilen*K), tau = 1/E,
// loss = lambda * (1/E) * sum_j (f_j - tau)^2.
func AuxLoss(routing *Routing, numExperts int, lambda float64) float64 {
	if routing.NumRows == 0 {
		return 0
	}
	counts := make([]float64, numExperts)
	total := 0
	for _, idxs := range routing.Indices {
		for _, j := range idxs {
			counts[j]++
			total++
		}
	}
	tau := 1.0 / float64(numExperts)
	var sumSq float64
	for j := 0; j < numExperts; j++ {
		f := counts[j] / float64(total)
		d := f - tau
		sumSq += d * d
	}
	return lambda * (1.0 / float64(numExperts)) * sumSq
}
