package safety

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("state", CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Minute})
	cb.SetClock(clock.now)

	boom := errors.New("disk full")
	assert.ErrorIs(t, cb.Call(func() error { return boom }), boom)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.ErrorIs(t, cb.Call(func() error { return boom }), boom)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Call(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	stats := cb.GetStats()
	assert.Equal(t, "OPEN", stats.State)
	assert.Equal(t, "disk full", stats.LastError)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("journal", CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Minute})
	cb.SetClock(clock.now)

	require.Error(t, cb.Call(func() error { return errors.New("locked") }))
	require.Equal(t, StateOpen, cb.GetState())

	clock.t = clock.t.Add(2 * time.Minute)
	assert.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("journal", CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Minute})
	cb.SetClock(clock.now)

	require.Error(t, cb.Call(func() error { return errors.New("locked") }))
	clock.t = clock.t.Add(2 * time.Minute)
	require.Error(t, cb.Call(func() error { return errors.New("still locked") }))
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreakerManager(t *testing.T) {
	cbm := NewCircuitBreakerManager(CircuitBreakerConfig{FailureThreshold: 1})

	state := cbm.GetOrCreate("state")
	assert.Same(t, state, cbm.GetOrCreate("state"))
	cbm.GetOrCreate("journal")

	state.ForceOpen()
	assert.Equal(t, []string{"state"}, cbm.GetOpenCircuits())

	stats := cbm.GetStats()
	require.Len(t, stats, 2)
	assert.Equal(t, "journal", stats[0].Name)

	state.Reset()
	assert.Empty(t, cbm.GetOpenCircuits())
}

func TestCircuitBreakerManager_StateChangeCallback(t *testing.T) {
	cbm := NewCircuitBreakerManager(CircuitBreakerConfig{FailureThreshold: 1})
	existing := cbm.GetOrCreate("state")

	changes := make(chan string, 4)
	cbm.SetStateChangeCallback(func(name string, from, to CircuitBreakerState) {
		changes <- name + ":" + from.String() + "->" + to.String()
	})

	existing.ForceOpen()
	require.Error(t, cbm.GetOrCreate("journal").Call(func() error { return errors.New("offline") }))

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case c := <-changes:
			got = append(got, c)
		case <-time.After(time.Second):
			t.Fatal("state change callback not invoked")
		}
	}
	assert.ElementsMatch(t, []string{"state:CLOSED->OPEN", "journal:CLOSED->OPEN"}, got)
}
