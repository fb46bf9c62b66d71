package ckpt_test

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hybridtrain/core/ckpt"
	"github.com/hybridtrain/core/lora"
	"github.com/hybridtrain/core/tensor"
)

// adapterSnapshot is a plain, comparable view of an adapter's A/B matrices
// for structural diffing with cmp.Diff - lora.Adapter itself carries
// unexported accountant/tensor state that isn't meaningful to compare.
type adapterSnapshot struct {
	AShape, BShape []int
	AVals, BVals   []float32
}

func snapshot(ad *lora.Adapter) adapterSnapshot {
	return adapterSnapshot{
		AShape: ad.A.Shape(), BShape: ad.B.Shape(),
		AVals: ad.A.Floats(), BVals: ad.B.Floats(),
	}
}

func buildSet(t *testing.T) (*lora.Set, lora.Config) {
	t.Helper()
	cfg := lora.Config{Rank: 2, Alpha: 4, Dropout: 0, Targets: []lora.TargetModule{lora.TargetStateOutProj}}
	ad, err := lora.New(nil, "layer0.state-out-proj", 4, 3, cfg)
	require.NoError(t, err)
	// give B a nonzero value so the round trip is a meaningful comparison
	// (fresh adapters have B == 0, which would trivially round-trip).
	nonzero, err := tensor.FromFloats(nil, tensor.ModelWeights, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	require.NoError(t, err)
	ad.B.Release()
	ad.B = nonzero

	set := lora.NewSet()
	set.Add(ad)
	return set, cfg
}

// TestCheckpointRoundTrip covers testable property 12: saving and
// reloading a LoRA adapter set must reproduce identical A/B values.
func TestCheckpointRoundTrip(t *testing.T) {
	set, cfg := buildSet(t)
	defer set.Release()

	var buf bytes.Buffer
	sink := ckpt.FileSink{}
	require.NoError(t, sink.Save(&buf, set))

	loaded, err := sink.Load(&buf, nil, map[string]lora.Config{"layer0.state-out-proj": cfg})
	require.NoError(t, err)
	defer loaded.Release()

	original, ok := set.Get("layer0.state-out-proj")
	require.True(t, ok)
	restored, ok := loaded.Get("layer0.state-out-proj")
	require.True(t, ok)

	if diff := cmp.Diff(snapshot(original), snapshot(restored)); diff != "" {
		t.Errorf("checkpoint round trip changed adapter state (-want +got):\n%s", diff)
	}
}

func TestLoadRejectsRankMismatch(t *testing.T) {
	set, _ := buildSet(t)
	defer set.Release()

	var buf bytes.Buffer
	sink := ckpt.FileSink{}
	require.NoError(t, sink.Save(&buf, set))

	wrongCfg := lora.Config{Rank: 99, Alpha: 4, Targets: []lora.TargetModule{lora.TargetStateOutProj}}
	_, err := sink.Load(&buf, nil, map[string]lora.Config{"layer0.state-out-proj": wrongCfg})
	require.Error(t, err)
}
