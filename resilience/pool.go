package resilience

import (
	"context"
	"time"
)

// Pool bounds the number of concurrent calls against one dependency using a
// fixed set of reusable slots. Checkout blocks until a slot frees up, the
// checkout timeout elapses (PoolExhaustedError), or the context is done.
//
// The pool intentionally hands out opaque permits rather than live network
// connections: client libraries (database/sql, go-redis, the vendor SDKs)
// manage their own sockets, so the scarce resource modeled here is the
// per-dependency concurrency budget.
type Pool struct {
	dependency      string
	checkoutTimeout time.Duration
	slots           chan struct{}
}

// NewPool creates a pool with size slots for the named dependency.
func NewPool(dependency string, size int, checkoutTimeout time.Duration) *Pool {
	slots := make(chan struct{}, size)
	for i := 0; i < size; i++ {
		slots <- struct{}{}
	}
	return &Pool{dependency: dependency, checkoutTimeout: checkoutTimeout, slots: slots}
}

// Checkout acquires a slot. The caller must Return it exactly once.
func (p *Pool) Checkout(ctx context.Context) error {
	select {
	case <-p.slots:
		return nil
	default:
	}

	timer := time.NewTimer(p.checkoutTimeout)
	defer timer.Stop()

	select {
	case <-p.slots:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return &PoolExhaustedError{Dependency: p.dependency, Size: cap(p.slots)}
	}
}

// Return releases a previously checked-out slot.
func (p *Pool) Return() {
	select {
	case p.slots <- struct{}{}:
	default:
		// Returning more slots than were checked out indicates a caller bug;
		// dropping the extra keeps the pool bounded.
	}
}

// Available returns the number of free slots.
func (p *Pool) Available() int { return len(p.slots) }
