package resilience

import (
	"context"
	"time"

	"github.com/convoloop/convoloop/logging"
	"golang.org/x/time/rate"
)

// Config tunes one dependency's Wrapper. Zero values fall back to the
// defaults from DefaultConfig via normalize.
type Config struct {
	// RatePerSecond is the token-bucket refill rate. <= 0 disables limiting.
	RatePerSecond float64
	// Burst is the bucket capacity.
	Burst int
	// AcquireTimeout bounds the wait for a rate token before failing fast.
	AcquireTimeout time.Duration

	// FailureThreshold is the consecutive-failure count that opens the breaker.
	FailureThreshold int
	// RecoveryTimeout is how long the breaker stays open before a probe.
	RecoveryTimeout time.Duration

	// PoolSize bounds concurrent in-flight calls. <= 0 disables the pool.
	PoolSize int
	// CheckoutTimeout bounds the wait for a pool slot.
	CheckoutTimeout time.Duration

	// Retry bounds retries of transient failures.
	Retry RetryPolicy
	// Retryable classifies errors as transient; defaults to IsTransient.
	Retryable func(error) bool
	// AttemptTimeout bounds each individual handler attempt. 0 means the
	// caller's context deadline is the only bound.
	AttemptTimeout time.Duration
}

// DefaultConfig returns conservative defaults suitable for most backends.
func DefaultConfig() Config {
	return Config{
		RatePerSecond:    10,
		Burst:            20,
		AcquireTimeout:   500 * time.Millisecond,
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		PoolSize:         8,
		CheckoutTimeout:  2 * time.Second,
		Retry:            DefaultRetryPolicy(),
	}
}

func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = d.AcquireTimeout
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = d.RecoveryTimeout
	}
	if c.CheckoutTimeout <= 0 {
		c.CheckoutTimeout = d.CheckoutTimeout
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = d.Retry
	}
	if c.Retryable == nil {
		c.Retryable = IsTransient
	}
	return c
}

// Call is an external operation guarded by a Wrapper.
type Call func(ctx context.Context) (any, error)

// Wrapper composes the guards around one dependency's calls in fixed order:
// rate limiter, circuit breaker, pool checkout, retry, handler.
//
// Retry sits innermost so each attempt consumes one breaker observation:
// every failed attempt increments the consecutive-failure count, and an
// opened breaker aborts remaining attempts immediately.
type Wrapper struct {
	dependency string
	cfg        Config
	limiter    *rate.Limiter
	breaker    *Breaker
	pool       *Pool
	logger     logging.Logger
}

// NewWrapper builds a Wrapper for one dependency identifier.
func NewWrapper(dependency string, cfg Config, logger logging.Logger) *Wrapper {
	cfg = cfg.normalize()
	w := &Wrapper{
		dependency: dependency,
		cfg:        cfg,
		breaker:    NewBreaker(dependency, cfg.FailureThreshold, cfg.RecoveryTimeout),
		logger:     logging.OrNoOp(logger),
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		w.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	if cfg.PoolSize > 0 {
		w.pool = NewPool(dependency, cfg.PoolSize, cfg.CheckoutTimeout)
	}
	return w
}

// Dependency returns the dependency identifier this wrapper guards.
func (w *Wrapper) Dependency() string { return w.dependency }

// Breaker exposes the underlying circuit breaker, mainly for tests and
// health reporting.
func (w *Wrapper) Breaker() *Breaker { return w.breaker }

// Execute runs the call through all guards. retryable=false restricts the
// call to a single attempt regardless of error classification, which is how
// non-idempotent side-effecting tools are invoked.
func (w *Wrapper) Execute(ctx context.Context, retryable bool, call Call) (any, error) {
	if err := w.acquireToken(ctx); err != nil {
		return nil, err
	}

	// An open breaker rejects here, before a pool slot is committed to a
	// call that would be refused anyway.
	if err := w.breaker.Check(); err != nil {
		w.logger.Warn("resilience.call.rejected", "dependency", w.dependency, "state", w.breaker.State().String())
		return nil, err
	}

	if w.pool != nil {
		if err := w.pool.Checkout(ctx); err != nil {
			return nil, err
		}
		defer w.pool.Return()
	}

	maxAttempts := w.cfg.Retry.MaxAttempts
	if !retryable {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := w.breaker.Allow(); err != nil {
			w.logger.Warn("resilience.call.rejected", "dependency", w.dependency, "state", w.breaker.State().String())
			return nil, err
		}

		result, err := w.attempt(ctx, call)
		if err == nil {
			w.breaker.OnSuccess()
			return result, nil
		}

		w.breaker.OnFailure()
		lastErr = err
		w.logger.Warn("resilience.call.failed",
			"dependency", w.dependency,
			"attempt", attempt,
			"error", err.Error(),
		)

		if !w.cfg.Retryable(err) || attempt == maxAttempts {
			break
		}
		if err := sleep(ctx, w.cfg.Retry.backoff(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// acquireToken waits up to AcquireTimeout for a rate token, failing fast
// with RateLimitedError when the bucket stays empty.
func (w *Wrapper) acquireToken(ctx context.Context) error {
	if w.limiter == nil {
		return nil
	}
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, w.cfg.AcquireTimeout)
	defer cancel()
	if err := w.limiter.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &RateLimitedError{Dependency: w.dependency, Waited: time.Since(start)}
	}
	return nil
}

// attempt runs a single handler call, optionally bounded by AttemptTimeout.
func (w *Wrapper) attempt(ctx context.Context, call Call) (any, error) {
	if w.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.AttemptTimeout)
		defer cancel()
	}
	return call(ctx)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
