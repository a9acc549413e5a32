package memory

import (
	"context"
	"sync"

	"github.com/convoloop/convoloop/core"
)

// InMemoryStore is a volatile Store keeping conversation logs in a process
// local map. It is safe for concurrent access and best suited for tests or
// ephemeral demo servers. Returned slices are copies so callers cannot
// mutate stored history.
type InMemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]core.Turn
	seen  map[string]map[string]struct{} // key -> turn ID set, for idempotent appends
}

// NewInMemoryStore constructs an empty in-memory conversation store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		turns: make(map[string][]core.Turn),
		seen:  make(map[string]map[string]struct{}),
	}
}

// Append adds a turn to the key's log, ignoring redelivery of a turn ID that
// was already stored.
func (s *InMemoryStore) Append(_ context.Context, key string, turn core.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, ok := s.seen[key]
	if !ok {
		ids = make(map[string]struct{})
		s.seen[key] = ids
	}
	if _, dup := ids[turn.ID]; dup {
		return nil
	}
	ids[turn.ID] = struct{}{}
	s.turns[key] = append(s.turns[key], turn)
	return nil
}

// Read returns the most recent limit turns in chronological order. Unknown
// keys yield an empty slice, not an error.
func (s *InMemoryStore) Read(_ context.Context, key string, limit int) ([]core.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.turns[key]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	out := make([]core.Turn, len(log))
	copy(out, log)
	return out, nil
}

// Clear removes all turns for the key. The key remains valid for appends.
func (s *InMemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.turns, key)
	delete(s.seen, key)
	return nil
}
