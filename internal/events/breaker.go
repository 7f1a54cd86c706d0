package events

import (
	"context"
	"sync"
	"time"

	"github.com/rendis/browgent/pkg/schema"
)

// CircuitState represents the state of a sink circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal delivery
	CircuitOpen                         // Sink failing, posts short-circuited
	CircuitHalfOpen                     // Probing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures sink circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failed posts before opening.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before probing again.
	Cooldown time.Duration
	// HalfOpenMax is the number of probe posts allowed while half-open.
	HalfOpenMax int
}

// DefaultBreakerConfig returns the defaults used for the relay sink.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

type breaker struct {
	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailure         time.Time
	halfOpenAttempts    int
}

// BreakerRegistry holds one breaker per named sink. A relay that is down
// would otherwise cost every run one timeout per event.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	config   BreakerConfig
}

// NewBreakerRegistry creates a registry with the given config.
func NewBreakerRegistry(config BreakerConfig) *BreakerRegistry {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = 1
	}
	return &BreakerRegistry{
		breakers: make(map[string]*breaker),
		config:   config,
	}
}

// Allow returns nil if a post to sink may proceed, or a CIRCUIT_OPEN error.
func (r *BreakerRegistry) Allow(sink string) error {
	b := r.get(sink)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if time.Since(b.lastFailure) >= r.config.Cooldown {
			b.state = CircuitHalfOpen
			b.halfOpenAttempts = 1
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeCircuitOpen,
			"sink %q circuit open after %d consecutive failures", sink, b.consecutiveFailures).
			WithDetails(map[string]any{
				"sink":                 sink,
				"consecutive_failures": b.consecutiveFailures,
				"cooldown_remaining":   (r.config.Cooldown - time.Since(b.lastFailure)).String(),
			})
	case CircuitHalfOpen:
		if b.halfOpenAttempts >= r.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"sink %q circuit half-open: probe in flight", sink)
		}
		b.halfOpenAttempts++
	}
	return nil
}

// RecordSuccess closes the circuit for sink.
func (r *BreakerRegistry) RecordSuccess(sink string) {
	b := r.get(sink)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.halfOpenAttempts = 0
	b.state = CircuitClosed
}

// RecordFailure counts a failed post and returns the resulting state.
func (r *BreakerRegistry) RecordFailure(sink string) CircuitState {
	b := r.get(sink)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.lastFailure = time.Now()

	if b.state == CircuitHalfOpen || b.consecutiveFailures >= r.config.FailureThreshold {
		b.state = CircuitOpen
	}
	return b.state
}

// State returns the current state for sink, applying the open to half-open
// transition once the cooldown has elapsed.
func (r *BreakerRegistry) State(sink string) CircuitState {
	b := r.get(sink)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && time.Since(b.lastFailure) >= r.config.Cooldown {
		b.state = CircuitHalfOpen
		b.halfOpenAttempts = 0
	}
	return b.state
}

func (r *BreakerRegistry) get(sink string) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[sink]
	if !ok {
		b = &breaker{state: CircuitClosed}
		r.breakers[sink] = b
	}
	return b
}

// BreakerSink guards Inner with the named breaker.
type BreakerSink struct {
	Name     string
	Inner    Sink
	Breakers *BreakerRegistry
}

func (b *BreakerSink) PostEvent(ctx context.Context, runID string, event schema.Event) error {
	if err := b.Breakers.Allow(b.Name); err != nil {
		return err
	}
	if err := b.Inner.PostEvent(ctx, runID, event); err != nil {
		b.Breakers.RecordFailure(b.Name)
		return err
	}
	b.Breakers.RecordSuccess(b.Name)
	return nil
}

var _ Sink = (*BreakerSink)(nil)
