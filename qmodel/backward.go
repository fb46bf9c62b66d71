// backward.go - Rueckwaertspfad durch die geteilte Embedding/LM-Kopf-Tabelle.
// Die Tabelle selbst ist eingefroren (nur LoRA-Adapter sind trainierbar,
// spec.md §1), daher liefert dieser Pfad nur den Gradienten bezueglich
// der versteckten Aktivierung, nicht bezueglich der Tabelle.
package qmodel

import (
	"github.com/hybridtrain/core/errs"
	"github.com/hybridtrain/core/nf4"
	"github.com/hybridtrain/core/tensor"
)

// BackwardProjectToVocab computes grad_hidden from grad_logits through
// the tied projection logits = hidden · Eᵀ: grad_hidden = grad_logits · E
// (spec.md §4.5 Open Question 1 resolution: untransposed convention).
func (m *QuantizedModel) BackwardProjectToVocab(hiddenShape []int, gradLogits *tensor.Tensor) (*tensor.Tensor, error) {
	if len(hiddenShape) != 3 || hiddenShape[2] != m.Config.DModel {
		return nil, errs.New(errs.ShapeMismatch, "backward_project_to_vocab requires a [B,L,D] hidden shape")
	}
	b, l, d := hiddenShape[0], hiddenShape[1], hiddenShape[2]

	table, err := nf4.DequantizeAs(m.Accountant, m.Embedding, tensor.Temporary)
	if err != nil {
		return nil, err
	}
	defer table.Release()

	gradFlat, err := gradLogits.Reshape(b*l, m.Config.VocabSize)
	if err != nil {
		return nil, err
	}
	defer gradFlat.Release()

	gradHiddenFlat, err := tensor.MatMul(m.Accountant, gradFlat, table)
	if err != nil {
		return nil, err
	}
	defer gradHiddenFlat.Release()

	// gradHiddenFlat.Reshape retains gradHiddenFlat's storage, so the view
	// stays valid past the deferred gradHiddenFlat.Release() above.
	return gradHiddenFlat.Reshape(b, l, d)
}
