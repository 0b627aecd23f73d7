// Package circuitbreaker guards optional infrastructure. The engine puts it
// in front of the Redis catalog tier so an outage there degrades to the
// source of truth instead of adding a network timeout to every call.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the current state of the circuit breaker.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cool-down has passed.
	StateOpen
	// StateHalfOpen lets a single probe through.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned without calling the guarded function while the
// circuit is open or a half-open probe is already in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Settings configures a CircuitBreaker. Zero values take the defaults noted
// on each field.
type Settings struct {
	// Name identifies the breaker in state-change callbacks.
	Name string

	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Default 5.
	FailureThreshold int

	// CoolDown is how long the circuit stays open before a probe. Default 30s.
	CoolDown time.Duration

	// OnStateChange is called with the breaker lock held; it must not call
	// back into the breaker.
	OnStateChange func(name string, from, to State)

	// IsFailure decides whether an error counts. Default: every non-nil
	// error except context cancellation by the caller.
	IsFailure func(error) bool

	// Now is the clock. Default time.Now.
	Now func() time.Time
}

// Counts holds running totals since the breaker was created.
type Counts struct {
	Requests            int
	Failures            int
	Rejected            int
	ConsecutiveFailures int
}

// CircuitBreaker is a three-state breaker: closed → open after
// FailureThreshold consecutive failures, open → half-open after CoolDown,
// half-open → closed on a successful probe or back to open on a failed one.
type CircuitBreaker struct {
	settings Settings

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	probing  bool
}

// New creates a breaker with s, filling in defaults.
func New(s Settings) *CircuitBreaker {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.CoolDown <= 0 {
		s.CoolDown = 30 * time.Second
	}
	if s.IsFailure == nil {
		s.IsFailure = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return &CircuitBreaker{settings: s}
}

// CacheBreaker returns a breaker for a best-effort cache. It opens after
// three failures and probes again after fifteen seconds.
func CacheBreaker(name string, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(Settings{
		Name:             name,
		FailureThreshold: 3,
		CoolDown:         15 * time.Second,
		OnStateChange:    onStateChange,
	})
}

// Execute runs fn if the circuit allows it and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.settings.Now().Sub(cb.openedAt) < cb.settings.CoolDown {
			cb.counts.Rejected++
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.probing = true
	case StateHalfOpen:
		if cb.probing {
			cb.counts.Rejected++
			return ErrCircuitOpen
		}
		cb.probing = true
	}

	cb.counts.Requests++
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false

	if err == nil || !cb.settings.IsFailure(err) {
		cb.counts.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen {
			cb.transition(StateClosed)
		}
		return
	}

	cb.counts.Failures++
	cb.counts.ConsecutiveFailures++

	if cb.state == StateHalfOpen || cb.counts.ConsecutiveFailures >= cb.settings.FailureThreshold {
		cb.openedAt = cb.settings.Now()
		cb.transition(StateOpen)
	}
}

// transition is called with the lock held.
func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	if to == StateClosed {
		cb.counts.ConsecutiveFailures = 0
	}
	if cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(cb.settings.Name, from, to)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts returns a copy of the running totals.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.settings.Name
}
