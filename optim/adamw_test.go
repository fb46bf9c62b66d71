package optim_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hybridtrain/core/config"
	"github.com/hybridtrain/core/errs"
	"github.com/hybridtrain/core/optim"
	"github.com/hybridtrain/core/tensor"
)

func baseConfig() config.OptimizerConfig {
	cfg := config.DefaultOptimizerConfig()
	cfg.MaxGradNorm = 0 // im Standardtest kein Clipping
	return cfg
}

// TestAdamWConvergesOnQuadratic prueft Testable Property 7: AdamW muss
// ||p - p*|| nach 500 Schritten bei lr=1e-2 auf einer Quadratik um
// mindestens 99% reduzieren. Der Start liegt 1 vom Ziel entfernt, denn
// ein Adam-Schritt bewegt p um hoechstens etwa lr (500*lr = 5 insgesamt).
func TestAdamWConvergesOnQuadratic(t *testing.T) {
	cfg := baseConfig()
	cfg.LearningRate = 1e-2
	cfg.WeightDecay = 0
	opt := optim.NewAdamW(cfg, nil)

	target := float32(3.0)
	p, err := tensor.FromFloats(nil, tensor.ModelWeights, []float32{4.0}, 1)
	require.NoError(t, err)
	initialDist := math.Abs(float64(p.Floats()[0] - target))

	for i := 0; i < 500; i++ {
		grad := 2 * (p.Floats()[0] - target)
		g, err := tensor.FromFloats(nil, tensor.Gradients, []float32{grad}, 1)
		require.NoError(t, err)
		err = opt.Step(map[string]*tensor.Tensor{"p": p}, map[string]*tensor.Tensor{"p": g})
		require.NoError(t, err)
	}

	finalDist := math.Abs(float64(p.Floats()[0] - target))
	require.Less(t, finalDist, 0.01*initialDist)
}

// TestBiasCorrectionAtFirstStep prueft Testable Property 8: bei t=1 ist
// m_hat=g, v_hat=g^2, also update-Betrag == lr (ohne Weight-Decay).
func TestBiasCorrectionAtFirstStep(t *testing.T) {
	cfg := baseConfig()
	cfg.LearningRate = 0.1
	cfg.WeightDecay = 0
	cfg.Epsilon = 0 // isoliert die reine bias-korrigierte Formel
	opt := optim.NewAdamW(cfg, nil)

	p, err := tensor.FromFloats(nil, tensor.ModelWeights, []float32{0.0}, 1)
	require.NoError(t, err)
	g, err := tensor.FromFloats(nil, tensor.Gradients, []float32{2.0}, 1)
	require.NoError(t, err)

	require.NoError(t, opt.Step(map[string]*tensor.Tensor{"p": p}, map[string]*tensor.Tensor{"p": g}))

	// m_hat = g = 2, v_hat = g^2 = 4, sqrt(v_hat) = 2, m_hat/sqrt(v_hat) = 1
	// update = lr * 1 = 0.1
	require.InDelta(t, -0.1, p.Floats()[0], 1e-4)
}

// TestGlobalNormClipScalesUniformly prueft Testable Property 9: bei
// globaler Norm = 10*max_norm wird jedes Gradientenelement auf 1/10
// seines Ursprungswerts skaliert.
func TestGlobalNormClipScalesUniformly(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxGradNorm = 1.0
	cfg.LearningRate = 1.0
	cfg.Beta1 = 0
	cfg.Beta2 = 0
	cfg.Epsilon = 1
	cfg.WeightDecay = 0
	opt := optim.NewAdamW(cfg, nil)

	// Zwei Parameter, kombinierte Norm = 10 (maxNorm=1 -> Skalierung 1/10).
	gradVal := float32(10.0 / math.Sqrt2)
	p1, _ := tensor.FromFloats(nil, tensor.ModelWeights, []float32{0}, 1)
	p2, _ := tensor.FromFloats(nil, tensor.ModelWeights, []float32{0}, 1)
	g1, _ := tensor.FromFloats(nil, tensor.Gradients, []float32{gradVal}, 1)
	g2, _ := tensor.FromFloats(nil, tensor.Gradients, []float32{gradVal}, 1)

	require.NoError(t, opt.Step(
		map[string]*tensor.Tensor{"p1": p1, "p2": p2},
		map[string]*tensor.Tensor{"p1": g1, "p2": g2},
	))

	// Mit beta1=beta2=0 und eps=1 ist das Update lr*g_c/(|g_c|+1), haengt
	// also vom Betrag des geclippten Gradienten ab: mit g_c = g/10 ergibt
	// sich -0.4142 je Parameter, ohne Clipping waere es -0.8761.
	want := -(0.1 * float64(gradVal)) / (0.1*float64(gradVal) + 1)
	require.InDelta(t, want, p1.Floats()[0], 1e-4)
	require.InDelta(t, want, p2.Floats()[0], 1e-4)
}

// TestNumericalRollbackHalvesLearningRate prueft spec.md §7: ein
// NaN-Gradient darf keinen Parameter veraendern und muss errs.Numerical
// melden, zudem die Lernrate fuer den naechsten Schritt halbieren.
func TestNumericalRollbackHalvesLearningRate(t *testing.T) {
	cfg := baseConfig()
	cfg.LearningRate = 1.0
	opt := optim.NewAdamW(cfg, nil)

	p, _ := tensor.FromFloats(nil, tensor.ModelWeights, []float32{1.0}, 1)
	nanGrad, _ := tensor.FromFloats(nil, tensor.Gradients, []float32{float32(math.NaN())}, 1)

	err := opt.Step(map[string]*tensor.Tensor{"p": p}, map[string]*tensor.Tensor{"p": nanGrad})
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errs.Numerical, kind)
	require.Equal(t, float32(1.0), p.Floats()[0])
	require.Equal(t, 1, opt.LRHalvings())
}
