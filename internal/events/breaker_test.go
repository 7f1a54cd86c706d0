package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/browgent/pkg/schema"
)

func TestBreaker_StartsClosed(t *testing.T) {
	r := NewBreakerRegistry(DefaultBreakerConfig())
	assert.NoError(t, r.Allow("relay"))
	assert.Equal(t, CircuitClosed, r.State("relay"))
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{FailureThreshold: 3, Cooldown: 10 * time.Second})

	r.RecordFailure("relay")
	r.RecordFailure("relay")
	assert.Equal(t, CircuitClosed, r.State("relay"))

	assert.Equal(t, CircuitOpen, r.RecordFailure("relay"))

	err := r.Allow("relay")
	require.Error(t, err)
	var bErr *schema.BrowgentError
	require.ErrorAs(t, err, &bErr)
	assert.Equal(t, schema.ErrCodeCircuitOpen, bErr.Code)
	assert.Equal(t, "relay", bErr.Details["sink"])
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{FailureThreshold: 3, Cooldown: 10 * time.Second})

	r.RecordFailure("relay")
	r.RecordFailure("relay")
	r.RecordSuccess("relay")
	r.RecordFailure("relay")
	r.RecordFailure("relay")
	assert.Equal(t, CircuitClosed, r.State("relay"))
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{FailureThreshold: 2, Cooldown: 30 * time.Millisecond, HalfOpenMax: 1})

	r.RecordFailure("relay")
	r.RecordFailure("relay")
	require.Error(t, r.Allow("relay"))

	time.Sleep(40 * time.Millisecond)
	require.NoError(t, r.Allow("relay"), "first probe allowed")
	require.Error(t, r.Allow("relay"), "second probe rejected")

	r.RecordSuccess("relay")
	assert.Equal(t, CircuitClosed, r.State("relay"))
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{FailureThreshold: 2, Cooldown: 30 * time.Millisecond})

	r.RecordFailure("relay")
	r.RecordFailure("relay")
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, CircuitHalfOpen, r.State("relay"))
	require.NoError(t, r.Allow("relay"))
	assert.Equal(t, CircuitOpen, r.RecordFailure("relay"))
}

func TestBreaker_PerSinkIsolation(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})
	r.RecordFailure("relay")
	assert.Equal(t, CircuitOpen, r.State("relay"))
	assert.Equal(t, CircuitClosed, r.State("store"))
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half_open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(99).String())
}

func TestBreakerSink_ShortCircuits(t *testing.T) {
	calls := 0
	inner := SinkFunc(func(context.Context, string, schema.Event) error {
		calls++
		return errors.New("relay down")
	})
	sink := &BreakerSink{
		Name:     "relay",
		Inner:    inner,
		Breakers: NewBreakerRegistry(BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute}),
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = sink.PostEvent(ctx, "run-1", schema.Event{Type: schema.EventSample})
	}
	assert.Equal(t, 2, calls, "posts after the circuit opens never reach the relay")

	err := sink.PostEvent(ctx, "run-1", schema.Event{Type: schema.EventDone})
	assert.Equal(t, schema.ErrCodeCircuitOpen, schema.ErrorCode(err))
}
