package moelayer_test

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hybridtrain/core/moelayer"
	"github.com/hybridtrain/core/tensor"
)

func TestRouteTopKTieBreakOnConstantLogits(t *testing.T) {
	// Testable property 10 + E5 shape: with identical router logits
	// (x = 0) the output and pre-activation keep the input shape, and the
	// aux loss matches the closed-form value for both positions routing
	// to the same K experts.
	numExperts, topK := 4, 2
	router, err := tensor.Randn(nil, tensor.ModelWeights, 1.0, 1, numExperts)
	require.NoError(t, err)

	w1s := make([]*tensor.Tensor, numExperts)
	w2s := make([]*tensor.Tensor, numExperts)
	for j := 0; j < numExperts; j++ {
		w1, err := tensor.Zeros(nil, tensor.F32, tensor.ModelWeights, 1, 3)
		require.NoError(t, err)
		w2, err := tensor.Zeros(nil, tensor.F32, tensor.ModelWeights, 3, 1)
		require.NoError(t, err)
		w1s[j], w2s[j] = w1, w2
	}

	x, err := tensor.Zeros(nil, tensor.F32, tensor.Activations, 1, 2, 1)
	require.NoError(t, err)

	cfg := moelayer.Config{NumExperts: numExperts, TopK: topK, AuxLossWeight: 1.0}
	weights := moelayer.Weights{Router: router, ExpertW1: w1s, ExpertW2: w2s}
	layer := &moelayer.Layer{}

	out, aux, pre, err := layer.Forward(nil, cfg, weights, x)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 1}, out.Shape())
	require.Equal(t, []int{1, 2, 1}, pre.Shape())
	// E5: aux loss with uniform routing = lambda*(1/E)*0.25
	require.InDelta(t, 1.0*(1.0/4.0)*0.25, aux, 1e-6)
}

func TestExpertFFNWithoutKernelIsDeterministic(t *testing.T) {
	w1, err := tensor.FromFloats(nil, tensor.ModelWeights, []float32{1, -1}, 1, 2)
	require.NoError(t, err)
	w2, err := tensor.FromFloats(nil, tensor.ModelWeights, []float32{2, 3}, 2, 1)
	require.NoError(t, err)
	u, err := tensor.FromFloats(nil, tensor.Activations, []float32{1}, 1, 1)
	require.NoError(t, err)

	cfg := moelayer.Config{NumExperts: 1, TopK: 1, AuxLossWeight: 0}
	router, err := tensor.Zeros(nil, tensor.F32, tensor.ModelWeights, 1, 1)
	require.NoError(t, err)
	weights := moelayer.Weights{Router: router, ExpertW1: []*tensor.Tensor{w1}, ExpertW2: []*tensor.Tensor{w2}}
	layer := &moelayer.Layer{}

	x, err := tensor.FromFloats(nil, tensor.Activations, []float32{1}, 1, 1, 1)
	require.NoError(t, err)
	out, _, _, err := layer.Forward(nil, cfg, weights, x)
	require.NoError(t, err)
	// ReLU(u*W1) = [1, 0] (since -1 is clipped); * W2 = 1*2 + 0*3 = 2; plus residual x=1 -> 3.
	require.InDelta(t, 3.0, out.Floats()[0], 1e-4)
}

func TestForwardWarnsOnceWhenExpertKernelMissing(t *testing.T) {
	numExperts, topK := 4, 2
	router, err := tensor.Randn(nil, tensor.ModelWeights, 1.0, 1, numExperts)
	require.NoError(t, err)

	w1s := make([]*tensor.Tensor, numExperts)
	w2s := make([]*tensor.Tensor, numExperts)
	for j := 0; j < numExperts; j++ {
		w1, err := tensor.Zeros(nil, tensor.F32, tensor.ModelWeights, 1, 3)
		require.NoError(t, err)
		w2, err := tensor.Zeros(nil, tensor.F32, tensor.ModelWeights, 3, 1)
		require.NoError(t, err)
		w1s[j], w2s[j] = w1, w2
	}
	x, err := tensor.Zeros(nil, tensor.F32, tensor.Activations, 1, 2, 1)
	require.NoError(t, err)

	cfg := moelayer.Config{NumExperts: numExperts, TopK: topK, AuxLossWeight: 1.0}
	weights := moelayer.Weights{Router: router, ExpertW1: w1s, ExpertW2: w2s}

	var warned int32
	layer := &moelayer.Layer{OnMissingExpert: func() { atomic.AddInt32(&warned, 1) }}
	_, _, _, err = layer.Forward(nil, cfg, weights, x)
	require.NoError(t, err)
	// x = 0 gives identical logits, so both positions route to experts 0
	// and 1; those two take the dense fallback in this call, racing to fire
	// the warning from separate goroutines; warnOnce must still collapse
	// that to a single notification.
	require.EqualValues(t, 1, atomic.LoadInt32(&warned))

	_, _, _, err = layer.Forward(nil, cfg, weights, x)
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&warned))
}
