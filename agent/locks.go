package agent

import (
	"context"
	"sync"
)

// keyedLocks serializes runs per conversation key: at most one executor loop
// is active for a key at any time. Entries are reference-counted so the map
// does not grow with every key ever seen.
type keyedLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	sem  chan struct{} // capacity 1
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{entries: map[string]*lockEntry{}}
}

// acquire takes the key's lock. With wait=false it fails immediately with
// BusyError when the lock is held; otherwise it blocks until the lock frees
// or ctx is done. The returned release function must be called exactly once.
func (k *keyedLocks) acquire(ctx context.Context, key string, wait bool) (func(), error) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	if !wait {
		select {
		case e.sem <- struct{}{}:
		default:
			k.unref(key, e)
			return nil, &BusyError{Key: key}
		}
	} else {
		select {
		case e.sem <- struct{}{}:
		case <-ctx.Done():
			k.unref(key, e)
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-e.sem
			k.unref(key, e)
		})
	}
	return release, nil
}

func (k *keyedLocks) unref(key string, e *lockEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}
