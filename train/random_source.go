// random_source.go - RandomDataSource: synthetischer Batch-Erzeuger fuer
// `hybridtrain train`, gemaess config.DataConfig. Nutzt gonum/stat/distuv wie tensor.Randn, statt
// math/rand direkt, um im Stil des restlichen Tensor-Unterbaus zu bleiben.
package train

import (
	"context"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/hybridtrain/core/config"
)

// RandomDataSource produces NumBatches batches of uniformly random token
// ids in [1, VocabSize) (0 is reserved for padding, spec.md §4.6), each
// shaped [BatchSize, SeqLength]. TargetIDs are InputIDs shifted left by
// one position, with the final column padded with 0.
type RandomDataSource struct {
	cfg        config.DataConfig
	numBatches int
	dist       distuv.Uniform

	emitted int
}

// NewRandomDataSource builds a RandomDataSource that yields numBatches
// batches before returning ErrExhausted.
func NewRandomDataSource(cfg config.DataConfig, numBatches int) *RandomDataSource {
	return &RandomDataSource{
		cfg:        cfg,
		numBatches: numBatches,
		dist:       distuv.Uniform{Min: 1, Max: float64(cfg.VocabSize)},
	}
}

func (r *RandomDataSource) Next(ctx context.Context) (Batch, error) {
	select {
	case <-ctx.Done():
		return Batch{}, ctx.Err()
	default:
	}
	if r.emitted >= r.numBatches {
		return Batch{}, ErrExhausted
	}
	r.emitted++

	inputs := make([][]int, r.cfg.BatchSize)
	targets := make([][]int, r.cfg.BatchSize)
	for i := range inputs {
		row := make([]int, r.cfg.SeqLength)
		for j := range row {
			row[j] = int(r.dist.Rand())
		}
		inputs[i] = row

		targetRow := make([]int, r.cfg.SeqLength)
		copy(targetRow, row[1:])
		targetRow[len(targetRow)-1] = 0
		targets[i] = targetRow
	}
	return Batch{InputIDs: inputs, TargetIDs: targets}, nil
}
