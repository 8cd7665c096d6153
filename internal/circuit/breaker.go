// Package circuit implements a passive circuit breaker for calls to the back office.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"

	"pos-sync/internal/util"

	"go.uber.org/zap"
)

// ErrOpen is returned without invoking the wrapped call while the circuit is open
var ErrOpen = errors.New("circuit breaker is open")

// State of a breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker tracks consecutive failures of the calls routed through it.
// State is only re-evaluated when a call arrives; there is no background timer.
type Breaker struct {
	name             string
	failureThreshold int
	successThreshold int
	resetTimeout     time.Duration
	isFailure        func(error) bool
	now              func() time.Time
	onStateChange    func(name string, from, to State)
	logger           *zap.Logger

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
}

// Option configures a Breaker
type Option func(*Breaker)

// WithFailureThreshold sets how many consecutive failures open the circuit
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets how many half-open successes close the circuit
func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.successThreshold = n
		}
	}
}

// WithResetTimeout sets how long the circuit stays open after the last failure
func WithResetTimeout(d time.Duration) Option {
	return func(b *Breaker) { b.resetTimeout = d }
}

// WithFailurePredicate decides which errors count against the circuit.
// Errors it rejects are returned to the caller but leave the counters untouched.
func WithFailurePredicate(fn func(error) bool) Option {
	return func(b *Breaker) { b.isFailure = fn }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithStateListener registers a callback for state transitions.
// It runs with the breaker locked and must not call back into it.
func WithStateListener(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onStateChange = fn }
}

// New creates a new circuit breaker
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: 5,
		successThreshold: 3,
		resetTimeout:     60 * time.Second,
		isFailure:        func(err error) bool { return err != nil },
		now:              time.Now,
		logger:           util.ComponentLogger("circuit"),
		state:            StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	util.CircuitBreakerState.WithLabelValues(name).Set(float64(StateClosed))
	return b
}

// Name returns the breaker name
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state without re-evaluating the reset timeout
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset forces the breaker closed and clears all counters
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.successes = 0
	b.transition(StateClosed)
}

// Execute runs fn through the breaker
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call runs fn through b and returns its result
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.before(); err != nil {
		return zero, err
	}

	res, err := fn(ctx)
	b.after(err)
	return res, err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}
	if b.now().Sub(b.lastFailure) >= b.resetTimeout {
		b.successes = 0
		b.transition(StateHalfOpen)
		return nil
	}

	util.CircuitRejectionsTotal.WithLabelValues(b.name).Inc()
	return ErrOpen
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil && b.isFailure(err) {
		b.onFailure()
		return
	}
	if err == nil {
		b.onSuccess()
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			b.failures = 0
			b.successes = 0
			b.transition(StateClosed)
		}
	default:
		b.failures = 0
	}
}

func (b *Breaker) onFailure() {
	b.lastFailure = b.now()

	switch b.state {
	case StateHalfOpen:
		b.successes = 0
		b.transition(StateOpen)
	default:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.transition(StateOpen)
		}
	}
}

// transition must be called with mu held
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	util.CircuitBreakerState.WithLabelValues(b.name).Set(float64(to))

	b.logger.Info("Circuit breaker state changed",
		zap.String("breaker", b.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Int("failures", b.failures))

	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}
