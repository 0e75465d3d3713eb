package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

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
		return "half-open"
	}
	return "closed"
}

// ErrOpen is returned without calling the protected function while the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

type CircuitBreaker struct {
	maxFailures     int
	window          time.Duration
	timeout         time.Duration
	failures        []time.Time
	lastFailureTime time.Time
	state           State
	probing         bool
	isFailure       func(error) bool
	now             func() time.Time
	mu              sync.Mutex
}

type Option func(*CircuitBreaker)

// WithWindow sets how long a failure counts towards tripping.
func WithWindow(window time.Duration) Option {
	return func(cb *CircuitBreaker) { cb.window = window }
}

// WithFailurePredicate decides which errors count as failures. Others pass through untouched.
func WithFailurePredicate(fn func(error) bool) Option {
	return func(cb *CircuitBreaker) { cb.isFailure = fn }
}

func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// New trips after more than maxFailures failures inside the window and stays
// open for timeout before letting a single probe through. Other callers get
// ErrOpen until the probe has finished.
func New(maxFailures int, timeout time.Duration, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		maxFailures: maxFailures,
		window:      60 * time.Second,
		timeout:     timeout,
		state:       StateClosed,
		failures:    make([]time.Time, 0),
		isFailure:   func(err error) bool { return err != nil },
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, ok := cb.allow()
	if !ok {
		return ErrOpen
	}
	err := fn()
	cb.record(err, probe)
	return err
}

// allow reports whether a call may run and whether it is the half-open probe.
func (cb *CircuitBreaker) allow() (probe, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return false, true
	case StateHalfOpen:
		return false, false
	}
	if cb.now().Sub(cb.lastFailureTime) < cb.timeout {
		return false, false
	}
	cb.state = StateHalfOpen
	cb.probing = true
	cb.failures = cb.failures[:0]
	return true, true
}

func (cb *CircuitBreaker) record(err error, probe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	failed := err != nil && cb.isFailure(err)

	if probe {
		cb.probing = false
		if failed {
			cb.lastFailureTime = now
			cb.state = StateOpen
			return
		}
		cb.state = StateClosed
		cb.failures = cb.failures[:0]
		return
	}

	// calls admitted before the breaker tripped still count, but only the probe
	// decides how a half-open breaker ends
	if failed {
		cb.lastFailureTime = now
		cb.failures = append(cb.failures, now)
	}
	cb.cleanOldFailures(now)
	if cb.state == StateClosed && len(cb.failures) > cb.maxFailures {
		cb.state = StateOpen
	}
}

func (cb *CircuitBreaker) cleanOldFailures(now time.Time) {
	cutoff := now.Add(-cb.window)
	i := 0
	for i < len(cb.failures) && !cb.failures[i].After(cutoff) {
		i++
	}
	cb.failures = cb.failures[i:]
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
