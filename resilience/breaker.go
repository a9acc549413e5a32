package resilience

import (
	"sync"
	"time"
)

// BreakerState enumerates circuit breaker states.
type BreakerState int

const (
	// BreakerClosed allows calls through and counts consecutive failures.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the recovery timeout elapses.
	BreakerOpen
	// BreakerHalfOpen allows a single probe call after the recovery timeout.
	BreakerHalfOpen
)

// String returns the lowercase state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker is a consecutive-failure circuit breaker. After threshold failures
// in a row it opens for recoveryTimeout, rejecting every call with
// CircuitOpenError. Once the timeout elapses exactly one probe is allowed
// through: success closes the breaker and resets the count, failure reopens
// it and restarts the timeout.
//
// Breaker is safe for concurrent use; one instance guards one dependency and
// is shared across all conversations.
type Breaker struct {
	dependency      string
	threshold       int
	recoveryTimeout time.Duration
	clock           func() time.Time

	mu            sync.Mutex
	state         BreakerState
	failures      int
	openedAt      time.Time
	probeInFlight bool
}

// NewBreaker constructs a closed breaker for the named dependency.
func NewBreaker(dependency string, threshold int, recoveryTimeout time.Duration) *Breaker {
	return &Breaker{
		dependency:      dependency,
		threshold:       threshold,
		recoveryTimeout: recoveryTimeout,
		clock:           time.Now,
		state:           BreakerClosed,
	}
}

// Allow reports whether a call may proceed. While open it returns
// CircuitOpenError; after the recovery timeout it admits one half-open probe
// and rejects concurrent probes until that probe reports its outcome.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.clock().Sub(b.openedAt) < b.recoveryTimeout {
			return &CircuitOpenError{Dependency: b.dependency, Until: b.openedAt.Add(b.recoveryTimeout)}
		}
		b.state = BreakerHalfOpen
		b.probeInFlight = true
		return nil
	case BreakerHalfOpen:
		if b.probeInFlight {
			return &CircuitOpenError{Dependency: b.dependency, Until: b.openedAt.Add(b.recoveryTimeout)}
		}
		b.probeInFlight = true
		return nil
	default:
		return nil
	}
}

// Check reports whether a call would currently be admitted, without
// reserving the half-open probe slot. Wrapper uses it to reject before
// committing other resources to a call the breaker will refuse anyway.
func (b *Breaker) Check() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.clock().Sub(b.openedAt) < b.recoveryTimeout {
			return &CircuitOpenError{Dependency: b.dependency, Until: b.openedAt.Add(b.recoveryTimeout)}
		}
	case BreakerHalfOpen:
		if b.probeInFlight {
			return &CircuitOpenError{Dependency: b.dependency, Until: b.openedAt.Add(b.recoveryTimeout)}
		}
	}
	return nil
}

// OnSuccess records a successful call, closing the breaker and resetting the
// consecutive failure count.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.probeInFlight = false
}

// OnFailure records a failed call. In the closed state it increments the
// consecutive failure count and opens once the threshold is reached; a failed
// half-open probe reopens immediately and restarts the recovery timeout.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		b.open()
	case BreakerClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.open()
		}
	case BreakerOpen:
		// Already open; late failures from in-flight calls are ignored.
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// open transitions to the open state; caller must hold b.mu.
func (b *Breaker) open() {
	b.state = BreakerOpen
	b.openedAt = b.clock()
	b.probeInFlight = false
}
