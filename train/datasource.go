// datasource.go - DataSource-Kollaborator und Batch-Typ (spec.md §6:
// "DataSource.next_batch() -> {input_ids, target_ids, attention_mask} |
// None"). Token-ID 0 ist global das Padding-Symbol (spec.md §4.6).
package train

import (
	"context"
	"errors"

	"github.com/hybridtrain/core/errs"
)

// ErrExhausted is returned by DataSource.Next when no further batches
// remain (the "| None" case of spec.md §6).
var ErrExhausted = errors.New("data source exhausted")

// Batch carries one micro-batch of token ids, row-major [B][L].
// TargetIDs are the next-token targets (typically InputIDs shifted by
// one); a target of 0 marks a padded, ignored position.
type Batch struct {
	InputIDs  [][]int
	TargetIDs [][]int
}

// DataSource supplies training batches. Next returns ErrExhausted when
// the underlying source has no more data, and respects ctx cancellation
// (spec.md §5: the batch fetch is a suspension point the training loop
// checks between steps).
type DataSource interface {
	Next(ctx context.Context) (Batch, error)
}

// validate checks that a batch's rows are rectangular and non-empty,
// returning errs.EmptyBatch otherwise.
func (b Batch) validate() error {
	if len(b.InputIDs) == 0 || len(b.TargetIDs) == 0 {
		return errs.New(errs.EmptyBatch, "batch has no rows")
	}
	if len(b.InputIDs) != len(b.TargetIDs) {
		return errs.New(errs.ShapeMismatch, "input/target row count mismatch")
	}
	l := len(b.InputIDs[0])
	for _, row := range b.InputIDs {
		if len(row) != l || l == 0 {
			return errs.New(errs.ShapeMismatch, "ragged or empty input rows")
		}
	}
	for _, row := range b.TargetIDs {
		if len(row) != l {
			return errs.New(errs.ShapeMismatch, "ragged target rows")
		}
	}
	return nil
}
