package webhooks

import (
	"sync"
	"time"

	"github.com/dealerhub/hookrelay/pkg/observability"
)

// BreakerState is the circuit breaker state machine state
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen
	BreakerOpen
)

func (s BreakerState) String() string {
	return []string{"closed", "half_open", "open"}[s]
}

// CircuitBreaker isolates a failing destination. Transitions:
//
//	closed    -> open       after maxFailures consecutive failures
//	open      -> half_open  once resetTimeout has elapsed
//	half_open -> closed     on probe success
//	half_open -> open       on probe failure
//
// The breaker counts whole delivery outcomes, not individual HTTP
// attempts; the caller reports one success or failure per attempt
// sequence.
type CircuitBreaker struct {
	mu           sync.Mutex
	maxFailures  int
	resetTimeout time.Duration

	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool

	// Now is overridable for tests
	Now func() time.Time
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		Now:          time.Now,
	}
}

// Execute runs fn under the breaker. While open and before the reset
// timeout it returns ErrCircuitOpen without invoking fn. In half_open
// exactly one probe runs; concurrent calls are rejected until the probe
// settles.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}

	err := fn()
	cb.record(err == nil)
	return err
}

// State reports the current state, applying the open->half_open timeout
// transition if due
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	return cb.state
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeHalfOpen()

	switch cb.state {
	case BreakerClosed:
		return nil
	case BreakerHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
		return nil
	default:
		return ErrCircuitOpen
	}
}

func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerHalfOpen:
		cb.probing = false
		if success {
			cb.state = BreakerClosed
			cb.failures = 0
		} else {
			cb.state = BreakerOpen
			cb.openedAt = cb.Now()
		}

	case BreakerClosed:
		if success {
			cb.failures = 0
			return
		}
		cb.failures++
		if cb.failures >= cb.maxFailures {
			cb.state = BreakerOpen
			cb.openedAt = cb.Now()
		}
	}
}

// maybeHalfOpen transitions open->half_open when the reset timeout has
// elapsed. Caller must hold cb.mu.
func (cb *CircuitBreaker) maybeHalfOpen() {
	if cb.state == BreakerOpen && cb.Now().Sub(cb.openedAt) >= cb.resetTimeout {
		cb.state = BreakerHalfOpen
		cb.probing = false
	}
}

// BreakerRegistry holds one lazily created breaker per destination for
// the process lifetime
type BreakerRegistry struct {
	mu           sync.Mutex
	breakers     map[string]*CircuitBreaker
	maxFailures  int
	resetTimeout time.Duration
	metrics      *observability.Metrics
}

// NewBreakerRegistry creates a registry with shared breaker settings
func NewBreakerRegistry(maxFailures int, resetTimeout time.Duration, metrics *observability.Metrics) *BreakerRegistry {
	return &BreakerRegistry{
		breakers:     make(map[string]*CircuitBreaker),
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		metrics:      metrics,
	}
}

// Get returns the breaker for a destination, creating it on first use
func (r *BreakerRegistry) Get(webhookID string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.breakers[webhookID]
	if !ok {
		cb = NewCircuitBreaker(r.maxFailures, r.resetTimeout)
		r.breakers[webhookID] = cb
	}
	return cb
}

// Observe updates the per-destination state gauge
func (r *BreakerRegistry) Observe(webhookID string) {
	if r.metrics == nil {
		return
	}
	state := r.Get(webhookID).State()
	r.metrics.CircuitState.WithLabelValues(webhookID).Set(float64(state))
}
