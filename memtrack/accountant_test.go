package memtrack_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hybridtrain/core/memtrack"
	"github.com/hybridtrain/core/tensor"
)

func TestRegisterUnregisterTracksPeak(t *testing.T) {
	m := memtrack.New()
	m.Register(tensor.Activations, 100)
	m.Register(tensor.Activations, 50)
	m.Unregister(tensor.Activations, 80)

	report := m.Report(0)
	require.Equal(t, int64(70), report.ByCategory[tensor.Activations].Current)
	require.Equal(t, int64(150), report.ByCategory[tensor.Activations].Peak)
}

func TestReleaseReturnsCountersToPreStepValues(t *testing.T) {
	// Accountant side of testable property 11: allocating an activation
	// and a gradient tensor and releasing both returns the activations
	// and gradients counters to their pre-step values.
	m := memtrack.New()
	pre := m.Report(0)

	ten, err := tensor.Zeros(m, tensor.F32, tensor.Activations, 4, 4)
	require.NoError(t, err)
	grad, err := tensor.Zeros(m, tensor.F32, tensor.Gradients, 4, 4)
	require.NoError(t, err)
	ten.Release()
	grad.Release()

	post := m.Report(0)
	require.Equal(t, pre.ByCategory[tensor.Activations].Current, post.ByCategory[tensor.Activations].Current)
	require.Equal(t, pre.ByCategory[tensor.Gradients].Current, post.ByCategory[tensor.Gradients].Current)
}

func TestSamplerInvokesCallback(t *testing.T) {
	m := memtrack.New()
	m.Register(tensor.Temporary, 10)

	samples := make(chan memtrack.Snapshot, 4)
	s := memtrack.NewSampler(m, 5*time.Millisecond, func(snap memtrack.Snapshot) {
		select {
		case samples <- snap:
		default:
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	select {
	case snap := <-samples:
		require.Equal(t, int64(10), snap.ByCategory[tensor.Temporary].Current)
	case <-time.After(time.Second):
		t.Fatal("sampler never produced a snapshot")
	}
}
