// embed.go - Embed und ProjectToVocab: die beiden Stellen, an denen die
// geteilte Embedding/LM-Kopf-Tabelle dequantisiert gebraucht wird.
package qmodel

import (
	"github.com/hybridtrain/core/errs"
	"github.com/hybridtrain/core/nf4"
	"github.com/hybridtrain/core/tensor"
)

// Embed liefert fuer eine Folge von Token-IDs die Aktivierung [1, L,
// DModel]: Zeile tokenIDs[l] der dequantisierten Embedding-Tabelle,
// wobei Token-ID 0 (Padding) die Nullzeile ergibt.
func (m *QuantizedModel) Embed(tokenIDs []int) (*tensor.Tensor, error) {
	if len(tokenIDs) == 0 {
		return nil, errs.New(errs.EmptyBatch, "embed requires at least one token id")
	}
	table, err := nf4.DequantizeAs(m.Accountant, m.Embedding, tensor.Temporary)
	if err != nil {
		return nil, err
	}
	defer table.Release()

	rows := table.Floats()
	d := m.Config.DModel
	out := make([]float32, len(tokenIDs)*d)
	for l, id := range tokenIDs {
		if id == 0 {
			continue // zero row already the default
		}
		if id < 0 || id >= m.Config.VocabSize {
			return nil, errs.New(errs.ShapeMismatch, "token id out of vocabulary range")
		}
		copy(out[l*d:(l+1)*d], rows[id*d:(id+1)*d])
	}
	return tensor.FromFloats(m.Accountant, tensor.Activations, out, 1, len(tokenIDs), d)
}

// ProjectToVocab multiplies hidden [B, L, D] by the transpose of the
// dequantized (tied) embedding table, producing logits [B, L, V].
func (m *QuantizedModel) ProjectToVocab(hidden *tensor.Tensor) (*tensor.Tensor, error) {
	shape := hidden.Shape()
	if len(shape) != 3 || shape[2] != m.Config.DModel {
		return nil, errs.New(errs.ShapeMismatch, "project_to_vocab requires [B,L,D] input")
	}
	b, l, d := shape[0], shape[1], shape[2]

	table, err := nf4.DequantizeAs(m.Accountant, m.Embedding, tensor.Temporary)
	if err != nil {
		return nil, err
	}
	defer table.Release()
	tableT, err := tensor.Transpose(m.Accountant, table)
	if err != nil {
		return nil, err
	}
	defer tableT.Release()

	flat, err := hidden.Reshape(b*l, d)
	if err != nil {
		return nil, err
	}
	defer flat.Release()

	logitsFlat, err := tensor.MatMul(m.Accountant, flat, tableT)
	if err != nil {
		return nil, err
	}
	defer logitsFlat.Release()

	// logitsFlat.Reshape returns a view retaining logitsFlat's storage, so
	// it stays valid past the deferred logitsFlat.Release() above.
	return logitsFlat.Reshape(b, l, m.Config.VocabSize)
}
