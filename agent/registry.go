package agent

import (
	"sort"
	"sync"

	"github.com/convoloop/convoloop/logging"
)

// Constructor builds the Session for one agent type. It runs at most once
// successfully; construction failures propagate to the caller and are not
// cached, so the next GetOrCreate retries.
type Constructor func() (*Session, error)

// Registry maps agent-type identifiers to lazily constructed, process-wide
// Session singletons. It is an explicit object created at startup and passed
// by reference to collaborators; there is no package-level instance or
// ambient global cache.
type Registry struct {
	logger logging.Logger

	mu           sync.Mutex
	constructors map[string]Constructor
	sessions     map[string]*Session
}

// NewRegistry creates an empty agent registry.
func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{
		logger:       logging.OrNoOp(logger),
		constructors: map[string]Constructor{},
		sessions:     map[string]*Session{},
	}
}

// Register binds a constructor to a type id, rejecting duplicates.
func (r *Registry) Register(typeID string, ctor Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.constructors[typeID]; exists {
		return &DuplicateTypeError{TypeID: typeID}
	}
	r.constructors[typeID] = ctor
	return nil
}

// GetOrCreate returns the cached Session for the type id, constructing and
// caching it on first call.
func (r *Registry) GetOrCreate(typeID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[typeID]; ok {
		return s, nil
	}
	ctor, ok := r.constructors[typeID]
	if !ok {
		return nil, &UnknownTypeError{TypeID: typeID}
	}
	s, err := ctor()
	if err != nil {
		return nil, err
	}
	r.sessions[typeID] = s
	r.logger.Info("agent.registry.created", "type", typeID)
	return s, nil
}

// Types lists the registered type ids in sorted order.
func (r *Registry) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.constructors))
	for id := range r.constructors {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Close tears down the registry, dropping cached sessions. Constructed
// sessions own no background goroutines, so teardown is a cache reset that
// makes the lifecycle explicit for shutdown paths.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = map[string]*Session{}
	r.constructors = map[string]Constructor{}
}
