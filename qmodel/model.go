// model.go - QuantizedModel: Container fuer das eingefrorene, quantisierte
// Modell. Haelt die (mit dem LM-Kopf geteilte) Embedding-Tabelle sowie je
// Schicht eine benannte Parameterkarte; dequantisiert nur bei Bedarf.
package qmodel

import (
	"fmt"
	"math"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/hybridtrain/core/config"
	"github.com/hybridtrain/core/errs"
	"github.com/hybridtrain/core/nf4"
	"github.com/hybridtrain/core/tensor"
)

// ParamMap ist eine nach Einfuegereihenfolge iterierende Karte von
// Parametername zu quantisiertem Gewicht - Reihenfolge ist reproduzierbar;
// Release gibt die Parameter in dieser Reihenfolge frei.
type ParamMap = orderedmap.OrderedMap[string, *nf4.QuantizedTensor]

// QuantizedModel haelt das eingefrorene Modell vollstaendig in NF4 vor.
// Kein Forward-Aufruf materialisiert je das gesamte Modell in f32.
type QuantizedModel struct {
	Accountant tensor.Accountant
	Config     config.ModelConfig
	BlockSize  int

	Embedding *nf4.QuantizedTensor // [VocabSize, DModel], geteilt mit dem LM-Kopf
	Layers    []LayerKind
	Params    []*ParamMap // Params[i] enthaelt die benannten Gewichte von Schicht i
}

// NewRandom baut ein quantisiertes Modell mit zufaellig initialisierten
// Gewichten (Standardnormal, skaliert nach Fan-in) - es gibt keinen
// Checkpoint-Lader in diesem Kern (spec.md §1 delegiert Checkpoint-I/O
// nach aussen); dies ist die Konstruktionsroutine, die `test-forward` und
// Benchmarks einen plausiblen Modellzustand gibt.
func NewRandom(a tensor.Accountant, cfg config.ModelConfig, blockSize int, doubleQuant bool) (*QuantizedModel, error) {
	if cfg.VocabSize <= 0 || cfg.DModel <= 0 || cfg.NumLayers <= 0 {
		return nil, errs.New(errs.ShapeMismatch, "model config requires positive vocab size, width and depth")
	}

	embF32, err := tensor.Randn(a, tensor.Temporary, 1.0/math.Sqrt(float64(cfg.DModel)), cfg.VocabSize, cfg.DModel)
	if err != nil {
		return nil, err
	}
	emb, err := nf4.Quantize(a, embF32, blockSize, doubleQuant)
	embF32.Release()
	if err != nil {
		return nil, err
	}

	layers := Schedule(cfg.NumLayers)
	params := make([]*ParamMap, cfg.NumLayers)
	for i, kind := range layers {
		pm := orderedmap.New[string, *nf4.QuantizedTensor]()
		var namedShapes map[string][]int
		if kind == StateSpace {
			namedShapes = stateSpaceParamShapes(cfg)
		} else {
			namedShapes = moeParamShapes(cfg)
		}
		for _, name := range orderedNames(kind, cfg) {
			shape := namedShapes[name]
			fanIn := shape[0]
			wf32, err := tensor.Randn(a, tensor.Temporary, 1.0/math.Sqrt(float64(fanIn)), shape...)
			if err != nil {
				return nil, err
			}
			q, err := nf4.Quantize(a, wf32, blockSize, doubleQuant)
			wf32.Release()
			if err != nil {
				return nil, err
			}
			pm.Set(name, q)
		}
		params[i] = pm
	}

	return &QuantizedModel{
		Accountant: a,
		Config:     cfg,
		BlockSize:  blockSize,
		Embedding:  emb,
		Layers:     layers,
		Params:     params,
	}, nil
}

// Release gibt alle quantisierten Gewichte frei (Embedding und alle
// Schichtparameter).
func (m *QuantizedModel) Release() {
	m.Embedding.Release()
	for _, pm := range m.Params {
		for pair := pm.Oldest(); pair != nil; pair = pair.Next() {
			pair.Value.Release()
		}
	}
}

// Param liefert das benannte quantisierte Gewicht von Schicht i, oder
// einen MissingActivation-Fehler, wenn der Name dort nicht existiert.
func (m *QuantizedModel) Param(layer int, name string) (*nf4.QuantizedTensor, error) {
	if layer < 0 || layer >= len(m.Params) {
		return nil, errs.New(errs.ShapeMismatch, fmt.Sprintf("layer index %d out of range", layer))
	}
	q, ok := m.Params[layer].Get(name)
	if !ok {
		return nil, errs.New(errs.MissingActivation, fmt.Sprintf("layer %d has no parameter %q", layer, name))
	}
	return q, nil
}

