package nf4_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hybridtrain/core/nf4"
	"github.com/hybridtrain/core/tensor"
)

func TestCodebookBoundsAndMonotonicity(t *testing.T) {
	cb := nf4.Codebook()
	require.Equal(t, float32(-1.0), cb[0])
	require.Equal(t, float32(1.0), cb[15])
	require.Equal(t, float32(0.0), cb[7])
	for i := 1; i < 16; i++ {
		require.Greater(t, cb[i], cb[i-1])
	}
}

func TestQuantizeE1Scenario(t *testing.T) {
	// E1 (spec §8): single block of 8 values, block scale = max(|x|) = 1.0,
	// and every element's NF4 index is whichever codebook entry it is
	// nearest to (argmin |x/s - table[j]|).
	vals := []float32{1.0, -1.0, 0.0, 0.5, -0.25, 0.1, -0.9, 0.3}
	ten, err := tensor.FromFloats(nil, tensor.ModelWeights, vals, 8)
	require.NoError(t, err)

	q, err := nf4.Quantize(nil, ten, 8, false)
	require.NoError(t, err)
	require.InDelta(t, 1.0, q.ScaleL1[0].Float32(), 1e-3)

	cb := nf4.Codebook()
	indices := nf4.UnpackIndices(q)
	for i, v := range vals {
		best, bestDist := 0, float32(1e9)
		for j, c := range cb {
			d := abs32f(v - c)
			if d < bestDist {
				bestDist, best = d, j
			}
		}
		require.Equalf(t, uint8(best), indices[i], "element %d (%v)", i, v)
	}

	out, err := nf4.Dequantize(nil, q)
	require.NoError(t, err)
	got := out.Floats()
	for i, idx := range indices {
		require.InDelta(t, cb[idx], got[i], 1e-3)
	}
}

func TestRoundTripErrorBound(t *testing.T) {
	for _, sigma := range []float64{0.01, 0.1, 1.0} {
		for _, dq := range []bool{false, true} {
			vals := make([]float32, 256)
			var maxAbs float32
			seed := int64(12345)
			for i := range vals {
				seed = seed*1103515245 + 12345
				u1 := float64(uint32(seed)) / float64(1<<32)
				seed = seed*1103515245 + 12345
				u2 := float64(uint32(seed)) / float64(1<<32)
				if u1 <= 0 {
					u1 = 1e-9
				}
				z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
				v := float32(z * sigma)
				vals[i] = v
				if abs := float32(math.Abs(float64(v))); abs > maxAbs {
					maxAbs = abs
				}
			}
			ten, err := tensor.FromFloats(nil, tensor.ModelWeights, vals, 256)
			require.NoError(t, err)
			q, err := nf4.Quantize(nil, ten, 64, dq)
			require.NoError(t, err)
			out, err := nf4.Dequantize(nil, q)
			require.NoError(t, err)

			got := out.Floats()
			var maxErr float32
			for i := range vals {
				e := abs32f(got[i] - vals[i])
				if e > maxErr {
					maxErr = e
				}
			}
			require.LessOrEqualf(t, maxErr, 0.25*maxAbs+1e-3, "sigma=%v doubleQuant=%v", sigma, dq)
		}
	}
}

func abs32f(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}

func TestQuantizeRejectsEmptyOrZeroBlock(t *testing.T) {
	ten, err := tensor.FromFloats(nil, tensor.ModelWeights, []float32{1, 2}, 2)
	require.NoError(t, err)
	_, err = nf4.Quantize(nil, ten, 0, false)
	require.Error(t, err)
}
