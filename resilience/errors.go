// Package resilience wraps every external call the engine makes (model
// inference, tool handlers, cache and store backends) in a fixed composition
// of guards: token-bucket rate limiting, circuit breaking, bounded connection
// checkout and retry with exponential backoff. One Wrapper exists per
// dependency identifier and is shared by every conversation, so breaker and
// limiter state is process-wide and mutated only here.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RateLimitedError is returned when a call cannot obtain a rate token within
// the configured acquire timeout. Calls fail fast instead of queueing
// indefinitely.
type RateLimitedError struct {
	Dependency string
	Waited     time.Duration
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited on dependency %q after waiting %s", e.Dependency, e.Waited)
}

// CircuitOpenError is returned immediately while a dependency's breaker is
// open, without invoking the handler.
type CircuitOpenError struct {
	Dependency string
	Until      time.Time
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for dependency %q until %s", e.Dependency, e.Until.Format(time.RFC3339))
}

// PoolExhaustedError is returned when no connection slot becomes available
// within the checkout timeout.
type PoolExhaustedError struct {
	Dependency string
	Size       int
}

// Error implements the error interface.
func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("connection pool exhausted for dependency %q (size %d)", e.Dependency, e.Size)
}

// transientError marks a wrapped error as retry-safe.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so IsTransient reports it as retryable. Handlers use
// this to classify network, timeout and 5xx-equivalent failures; validation
// and auth errors are left unwrapped and propagate on first occurrence.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was classified as transient-retryable.
// Deadline expiry and guard rejections (rate limit, pool exhaustion) count as
// transient; an open circuit does not, since retrying immediately cannot
// succeed before the recovery timeout.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return true
	}
	var pe *PoolExhaustedError
	if errors.As(err, &pe) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
