package webhooks

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealerhub/hookrelay/pkg/observability"
)

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, 30*time.Second)
	failing := func() error { return errors.New("boom") }

	for i := 0; i < 2; i++ {
		assert.Error(t, cb.Execute(failing))
		assert.Equal(t, BreakerClosed, cb.State())
	}

	assert.Error(t, cb.Execute(failing))
	assert.Equal(t, BreakerOpen, cb.State())
}

func TestCircuitBreakerRejectsWhileOpen(t *testing.T) {
	cb := NewCircuitBreaker(1, 30*time.Second)
	require.Error(t, cb.Execute(func() error { return errors.New("boom") }))
	require.Equal(t, BreakerOpen, cb.State())

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreakerHalfOpenProbeSuccess(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(1, 30*time.Second)
	cb.Now = func() time.Time { return now }

	require.Error(t, cb.Execute(func() error { return errors.New("boom") }))
	require.Equal(t, BreakerOpen, cb.State())

	now = now.Add(31 * time.Second)
	assert.Equal(t, BreakerHalfOpen, cb.State())

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestCircuitBreakerHalfOpenProbeFailure(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(1, 30*time.Second)
	cb.Now = func() time.Time { return now }

	require.Error(t, cb.Execute(func() error { return errors.New("boom") }))

	now = now.Add(31 * time.Second)
	require.Error(t, cb.Execute(func() error { return errors.New("still down") }))
	assert.Equal(t, BreakerOpen, cb.State())
}

func TestCircuitBreakerSingleProbeInHalfOpen(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(1, 30*time.Second)
	cb.Now = func() time.Time { return now }

	require.Error(t, cb.Execute(func() error { return errors.New("boom") }))
	now = now.Add(31 * time.Second)

	// first call claims the probe slot and blocks inside fn; a second
	// call during the probe is rejected
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	err := cb.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(3, 30*time.Second)

	require.Error(t, cb.Execute(func() error { return errors.New("boom") }))
	require.Error(t, cb.Execute(func() error { return errors.New("boom") }))
	require.NoError(t, cb.Execute(func() error { return nil }))

	// the counter restarted, so two more failures must not open it
	require.Error(t, cb.Execute(func() error { return errors.New("boom") }))
	require.Error(t, cb.Execute(func() error { return errors.New("boom") }))
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestBreakerRegistryReturnsSameBreaker(t *testing.T) {
	r := NewBreakerRegistry(5, 30*time.Second, observability.NewNopMetrics())

	a := r.Get("wh-1")
	b := r.Get("wh-1")
	c := r.Get("wh-2")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}

func TestBreakerStateString(t *testing.T) {
	assert.Equal(t, "closed", BreakerClosed.String())
	assert.Equal(t, "half_open", BreakerHalfOpen.String())
	assert.Equal(t, "open", BreakerOpen.String())
}
