package qmodel_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hybridtrain/core/config"
	"github.com/hybridtrain/core/memtrack"
	"github.com/hybridtrain/core/qmodel"
)

func smallConfig() config.ModelConfig {
	return config.ModelConfig{
		VocabSize: 16,
		DModel:    8,
		NumLayers: 4,
		SSM:       config.SSMConfig{ExpandFactor: 2, DState: 4, DConv: 4},
		MoE:       config.MoEConfig{NumExperts: 2, TopK: 1, DFF: 8, CapacityFactor: 1.25, AuxLossWeight: 0.01},
	}
}

func TestScheduleInterleavesMoEEveryFourthLayer(t *testing.T) {
	sched := qmodel.Schedule(8)
	want := []qmodel.LayerKind{
		qmodel.StateSpace, qmodel.StateSpace, qmodel.StateSpace, qmodel.MoE,
		qmodel.StateSpace, qmodel.StateSpace, qmodel.StateSpace, qmodel.MoE,
	}
	require.Equal(t, want, sched)
}

func TestEmbedPaddingRowIsZero(t *testing.T) {
	m := memtrack.New()
	model, err := qmodel.NewRandom(m, smallConfig(), 8, false)
	require.NoError(t, err)
	defer model.Release()

	out, err := model.Embed([]int{0, 1, 2})
	require.NoError(t, err)
	require.Equal(t, []int{1, 3, 8}, out.Shape())
	vals := out.Floats()
	for i := 0; i < 8; i++ {
		require.Equal(t, float32(0), vals[i])
	}
}

func TestProjectToVocabShape(t *testing.T) {
	m := memtrack.New()
	cfg := smallConfig()
	model, err := qmodel.NewRandom(m, cfg, 8, false)
	require.NoError(t, err)
	defer model.Release()

	hidden, err := model.Embed([]int{1, 2, 3})
	require.NoError(t, err)
	logits, err := model.ProjectToVocab(hidden)
	require.NoError(t, err)
	require.Equal(t, []int{1, 3, cfg.VocabSize}, logits.Shape())
}

func TestForwardLayerDispatchesStateSpaceAndMoE(t *testing.T) {
	m := memtrack.New()
	cfg := smallConfig()
	model, err := qmodel.NewRandom(m, cfg, 8, false)
	require.NoError(t, err)
	defer model.Release()

	hidden, err := model.Embed([]int{1, 2, 3})
	require.NoError(t, err)

	for i, kind := range model.Layers {
		result, err := model.ForwardLayer(i, hidden, nil, nil, nil, nil)
		require.NoError(t, err)
		require.Equal(t, hidden.Shape(), result.Output.Shape())
		require.Equal(t, kind == qmodel.MoE, result.HasAuxLoss)
		hidden = result.Output
	}
}
