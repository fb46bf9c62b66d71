package lora_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hybridtrain/core/lora"
	"github.com/hybridtrain/core/tensor"
)

func testConfig() lora.Config {
	return lora.Config{Rank: 4, Alpha: 8, Targets: []lora.TargetModule{lora.TargetStateOutProj}}
}

func TestZeroInitMatchesFrozenBaseExactly(t *testing.T) {
	// Testable property 3.
	x, err := tensor.Randn(nil, tensor.Activations, 1.0, 3, 5)
	require.NoError(t, err)
	w, err := tensor.Randn(nil, tensor.ModelWeights, 1.0, 5, 6)
	require.NoError(t, err)
	base, err := tensor.MatMul(nil, x, w)
	require.NoError(t, err)

	ad, err := lora.New(nil, "layer0.out-proj", 5, 6, testConfig())
	require.NoError(t, err)

	y, err := ad.Apply(nil, x, base)
	require.NoError(t, err)

	require.Equal(t, base.Floats(), y.Floats())
}

func TestGradientCorrectnessViaFiniteDifferences(t *testing.T) {
	// Testable property 4: finite-difference Jacobian of (x.A).B wrt A,B
	// agrees with the analytic grad_A, grad_B.
	inDim, outDim, rows := 3, 2, 2
	cfg := testConfig()
	cfg.Rank = 2

	x, err := tensor.Randn(nil, tensor.Activations, 1.0, rows, inDim)
	require.NoError(t, err)
	ad, err := lora.New(nil, "t", inDim, outDim, cfg)
	require.NoError(t, err)
	// Non-zero B so the gradient is non-trivial.
	bVals := make([]float32, cfg.Rank*outDim)
	for i := range bVals {
		bVals[i] = float32(i+1) * 0.1
	}
	ad.B.FromFloats(bVals)

	g, err := tensor.Randn(nil, tensor.Gradients, 1.0, rows, outDim)
	require.NoError(t, err)

	gradA, gradB, err := ad.Backward(nil, x, g)
	require.NoError(t, err)

	sigma := cfg.Scaling()
	f := func() float32 {
		xa, _ := tensor.MatMul(nil, x, ad.A)
		delta, _ := tensor.MatMul(nil, xa, ad.B)
		vals := delta.Floats()
		gVals := g.Floats()
		var sum float32
		for i := range vals {
			sum += sigma * vals[i] * gVals[i]
		}
		return sum
	}

	const eps = 1e-3
	checkGrad := func(param *tensor.Tensor, grad *tensor.Tensor) {
		vals := param.Floats()
		gradVals := grad.Floats()
		for i := range vals {
			orig := vals[i]
			vals[i] = orig + eps
			param.FromFloats(vals)
			plus := f()
			vals[i] = orig - eps
			param.FromFloats(vals)
			minus := f()
			vals[i] = orig
			param.FromFloats(vals)
			numeric := (plus - minus) / (2 * eps)
			if absf(gradVals[i]) > 1e-6 {
				require.InDeltaf(t, numeric, gradVals[i], 1e-1, "index %d", i)
			}
		}
	}
	checkGrad(ad.A, gradA)
	checkGrad(ad.B, gradB)
}

func absf(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
