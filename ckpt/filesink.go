// filesink.go - binaeres Checkpoint-Layout fuer LoRA-Adapter-Saetze
// (spec.md §6): Header (Magic/Version/Elementtyp/Adapterzahl), gefolgt von
// Name/Form je Adapter, gefolgt von den A/B-Rohbytes in aufsteigender
// Namensreihenfolge. Layout-Stil an fs/ggml/gguf_write.go angelehnt
// (Magic + LittleEndian-Header, dann sortierte Eintraege).
package ckpt

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hybridtrain/core/errs"
	"github.com/hybridtrain/core/lora"
	"github.com/hybridtrain/core/tensor"
)

var magic = [4]byte{'H', 'T', 'L', 'C'} // "HybridTrain LoRA Checkpoint"

const formatVersion uint32 = 1

// elemType kodiert den gespeicherten Elementtyp; diese Version schreibt
// A/B immer als f32 (0), da LoRA-Adapter nicht quantisiert werden
// (spec.md §3).
const elemTypeF32 uint32 = 0

// adapterHeader beschreibt einen Adapter im Checkpoint-Header.
type adapterHeader struct {
	name   string
	rank   uint32
	inDim  uint32
	outDim uint32
}

// CheckpointSink persistiert und laedt LoRA-Adaptersaetze.
type CheckpointSink interface {
	Save(w io.Writer, set *lora.Set) error
	Load(r io.Reader, a tensor.Accountant, configs map[string]lora.Config) (*lora.Set, error)
}

// FileSink implementiert CheckpointSink gegen einen beliebigen io.Writer/
// io.Reader (typischerweise ein *os.File).
type FileSink struct{}

// Save schreibt set im Checkpoint-Layout nach w. Adapter werden in
// aufsteigender Namensreihenfolge geschrieben (lora.Set.Names()).
func (FileSink) Save(w io.Writer, set *lora.Set) error {
	names := set.Names()
	headers := make([]adapterHeader, 0, len(names))
	adapters := make([]*lora.Adapter, 0, len(names))
	for _, name := range names {
		ad, _ := set.Get(name)
		aShape := ad.A.Shape()
		bShape := ad.B.Shape()
		headers = append(headers, adapterHeader{
			name:   name,
			rank:   uint32(aShape[1]),
			inDim:  uint32(aShape[0]),
			outDim: uint32(bShape[1]),
		})
		adapters = append(adapters, ad)
	}

	if err := binary.Write(w, binary.LittleEndian, magic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, formatVersion); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, elemTypeF32); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(headers))); err != nil {
		return err
	}

	for _, h := range headers {
		if err := writeString(w, h.name); err != nil {
			return err
		}
		for _, v := range []uint32{h.rank, h.inDim, h.outDim} {
			if err := binary.Write(w, binary.LittleEndian, v); err != nil {
				return err
			}
		}
	}

	for _, ad := range adapters {
		if err := writeFloats(w, ad.A.Floats()); err != nil {
			return err
		}
		if err := writeFloats(w, ad.B.Floats()); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a checkpoint written by Save. configs supplies the
// (Rank/Alpha/Dropout/Targets) LoRA configuration for each adapter name,
// since the checkpoint payload itself carries only weights and shapes;
// the caller recovers configs from the run's training configuration.
// Load rejects the checkpoint with errs.ShapeMismatch if a declared
// shape disagrees with the supplied config's rank.
func (FileSink) Load(r io.Reader, a tensor.Accountant, configs map[string]lora.Config) (*lora.Set, error) {
	var gotMagic [4]byte
	if err := binary.Read(r, binary.LittleEndian, &gotMagic); err != nil {
		return nil, err
	}
	if gotMagic != magic {
		return nil, errs.New(errs.ShapeMismatch, "checkpoint magic mismatch")
	}
	var version, elemType uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &elemType); err != nil {
		return nil, err
	}
	if elemType != elemTypeF32 {
		return nil, errs.New(errs.ShapeMismatch, fmt.Sprintf("unsupported checkpoint elem type %d", elemType))
	}
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}

	headers := make([]adapterHeader, count)
	for i := range headers {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		var rank, inDim, outDim uint32
		if err := binary.Read(r, binary.LittleEndian, &rank); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &inDim); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &outDim); err != nil {
			return nil, err
		}
		headers[i] = adapterHeader{name: name, rank: rank, inDim: inDim, outDim: outDim}
	}

	set := lora.NewSet()
	for _, h := range headers {
		cfg, ok := configs[h.name]
		if !ok {
			return nil, errs.New(errs.MissingActivation, "no lora config supplied for checkpointed adapter "+h.name)
		}
		if uint32(cfg.Rank) != h.rank {
			return nil, errs.New(errs.ShapeMismatch, "checkpoint rank disagrees with supplied config for "+h.name)
		}

		aFloats, err := readFloats(r, int(h.inDim)*int(h.rank))
		if err != nil {
			return nil, err
		}
		bFloats, err := readFloats(r, int(h.rank)*int(h.outDim))
		if err != nil {
			return nil, err
		}

		matA, err := tensor.FromFloats(a, tensor.ModelWeights, aFloats, int(h.inDim), int(h.rank))
		if err != nil {
			return nil, err
		}
		matB, err := tensor.FromFloats(a, tensor.ModelWeights, bFloats, int(h.rank), int(h.outDim))
		if err != nil {
			matA.Release()
			return nil, err
		}
		set.Add(&lora.Adapter{Name: h.name, Config: cfg, A: matA, B: matB})
	}
	return set, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeFloats(w io.Writer, vals []float32) error {
	return binary.Write(w, binary.LittleEndian, vals)
}

func readFloats(r io.Reader, n int) ([]float32, error) {
	vals := make([]float32, n)
	if err := binary.Read(r, binary.LittleEndian, vals); err != nil {
		return nil, err
	}
	return vals, nil
}
