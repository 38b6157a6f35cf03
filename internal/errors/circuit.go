package errors

import (
	"context"
	"sync"
	"time"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreakerOptions configures a CircuitBreaker.
type CircuitBreakerOptions struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker open.
	FailureThreshold int
	// ResetTimeout is how long the breaker stays open before moving to
	// half-open, where calls are allowed through again until
	// HalfOpenSuccesses successes close it or a failure reopens it.
	ResetTimeout time.Duration
	// HalfOpenSuccesses is the number of consecutive half-open
	// successes required to close the breaker again.
	HalfOpenSuccesses int
}

// DefaultCircuitBreakerOptions returns sensible defaults for guarding
// provider and vector-store calls.
func DefaultCircuitBreakerOptions() CircuitBreakerOptions {
	return CircuitBreakerOptions{
		FailureThreshold:  5,
		ResetTimeout:      30 * time.Second,
		HalfOpenSuccesses: 2,
	}
}

// CircuitBreaker implements the classic closed/open/half-open state
// machine around calls that may fail transiently (embed, rerank, store).
// It underlies the retry-then-quarantine policy of spec §7.
type CircuitBreaker struct {
	opts CircuitBreakerOptions

	mu              sync.Mutex
	state           State
	consecutiveFail int
	halfOpenOK      int
	openedAt        time.Time
}

// NewCircuitBreaker creates a CircuitBreaker with the given options.
func NewCircuitBreaker(opts CircuitBreakerOptions) *CircuitBreaker {
	return &CircuitBreaker{opts: opts, state: StateClosed}
}

// State returns the current state.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentStateLocked()
}

func (b *CircuitBreaker) currentStateLocked() State {
	if b.state == StateOpen && time.Since(b.openedAt) >= b.opts.ResetTimeout {
		b.state = StateHalfOpen
		b.halfOpenOK = 0
	}
	return b.state
}

// Allow reports whether a call should be attempted right now.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentStateLocked() != StateOpen
}

func (b *CircuitBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.currentStateLocked() {
	case StateHalfOpen:
		b.halfOpenOK++
		if b.halfOpenOK >= b.opts.HalfOpenSuccesses {
			b.state = StateClosed
			b.consecutiveFail = 0
		}
	default:
		b.consecutiveFail = 0
	}
}

func (b *CircuitBreaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.currentStateLocked() {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = time.Now()
	default:
		b.consecutiveFail++
		if b.consecutiveFail >= b.opts.FailureThreshold {
			b.state = StateOpen
			b.openedAt = time.Now()
		}
	}
}

// Execute runs fn if the breaker allows it, recording the outcome.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !b.Allow() {
		return IndexBusy("circuit-open")
	}
	err := fn(ctx)
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// ExecuteWithResult runs fn if the breaker allows it, returning its
// result alongside the usual error handling.
func ExecuteWithResult[T any](ctx context.Context, b *CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if !b.Allow() {
		return zero, IndexBusy("circuit-open")
	}
	result, err := fn(ctx)
	if err != nil {
		b.recordFailure()
		return zero, err
	}
	b.recordSuccess()
	return result, nil
}
