package tensor_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hybridtrain/core/tensor"
)

type fakeAccountant struct {
	byCategory map[tensor.Category]int64
}

func newFakeAccountant() *fakeAccountant {
	return &fakeAccountant{byCategory: make(map[tensor.Category]int64)}
}

func (f *fakeAccountant) Register(c tensor.Category, bytes int64)   { f.byCategory[c] += bytes }
func (f *fakeAccountant) Unregister(c tensor.Category, bytes int64) { f.byCategory[c] -= bytes }

func TestZerosRegistersBytes(t *testing.T) {
	acc := newFakeAccountant()
	ten, err := tensor.Zeros(acc, tensor.F32, tensor.Activations, 2, 3)
	require.NoError(t, err)
	require.Equal(t, int64(2*3*4), acc.byCategory[tensor.Activations])
	ten.Release()
	require.Equal(t, int64(0), acc.byCategory[tensor.Activations])
}

func TestReshapePreservesElementCount(t *testing.T) {
	acc := newFakeAccountant()
	ten, err := tensor.FromFloats(acc, tensor.Temporary, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	require.NoError(t, err)
	view, err := ten.Reshape(3, 2)
	require.NoError(t, err)
	require.Equal(t, ten.NumElements(), view.NumElements())
	require.True(t, view.IsView())

	_, err = ten.Reshape(4, 2)
	require.Error(t, err)
}

func TestViewDoesNotDoubleRegister(t *testing.T) {
	acc := newFakeAccountant()
	ten, err := tensor.Zeros(acc, tensor.F32, tensor.ModelWeights, 4)
	require.NoError(t, err)
	before := acc.byCategory[tensor.ModelWeights]
	view, err := ten.Reshape(2, 2)
	require.NoError(t, err)
	require.Equal(t, before, acc.byCategory[tensor.ModelWeights])
	view.Release()
	// the owner's bytes are only released once the owner itself releases
	require.Equal(t, before, acc.byCategory[tensor.ModelWeights])
	ten.Release()
	require.Equal(t, int64(0), acc.byCategory[tensor.ModelWeights])
}

func TestNF4ByteCountRounding(t *testing.T) {
	require.Equal(t, 2, tensor.ByteCount(tensor.NF4, 3))
	require.Equal(t, 2, tensor.ByteCount(tensor.NF4, 4))
	require.Equal(t, 32, tensor.ByteCount(tensor.NF4, 64))
}

func TestRMSNorm(t *testing.T) {
	acc := newFakeAccountant()
	ten, err := tensor.FromFloats(acc, tensor.Activations, []float32{3, 4}, 1, 2)
	require.NoError(t, err)
	out, err := tensor.RMSNorm(acc, ten, 1e-5)
	require.NoError(t, err)
	vals := out.Floats()
	require.InDelta(t, 3/3.5355339, vals[0], 1e-3)
	require.InDelta(t, 4/3.5355339, vals[1], 1e-3)
}

func TestSiLUZeroIsZero(t *testing.T) {
	acc := newFakeAccountant()
	ten, err := tensor.FromFloats(acc, tensor.Activations, []float32{0}, 1)
	require.NoError(t, err)
	out, err := tensor.SiLU(acc, ten)
	require.NoError(t, err)
	require.InDelta(t, 0, out.Floats()[0], 1e-9)
}

func TestMatMul(t *testing.T) {
	acc := newFakeAccountant()
	x, err := tensor.FromFloats(acc, tensor.Activations, []float32{1, 2, 3, 4}, 2, 2)
	require.NoError(t, err)
	w, err := tensor.FromFloats(acc, tensor.ModelWeights, []float32{1, 0, 0, 1}, 2, 2)
	require.NoError(t, err)
	out, err := tensor.MatMul(acc, x, w)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3, 4}, out.Floats())
}
