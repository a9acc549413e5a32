package resilience

import (
	"sync"

	"github.com/convoloop/convoloop/logging"
)

// Manager hands out one shared Wrapper per dependency identifier. Tools that
// share a backend (for example every SQL tool hitting the same database)
// declare the same dependency id and therefore share one breaker, limiter and
// pool. The manager is created at process start and passed by reference to
// collaborators; there is no package-level instance.
type Manager struct {
	defaults Config
	logger   logging.Logger

	mu       sync.Mutex
	wrappers map[string]*Wrapper
	configs  map[string]Config
}

// NewManager creates a Manager whose wrappers default to defaults.
func NewManager(defaults Config, logger logging.Logger) *Manager {
	return &Manager{
		defaults: defaults.normalize(),
		logger:   logging.OrNoOp(logger),
		wrappers: map[string]*Wrapper{},
		configs:  map[string]Config{},
	}
}

// Configure sets a dependency-specific config. It must be called before the
// first Get for that dependency; later calls are ignored because the wrapper
// (and its breaker state) is already live and shared.
func (m *Manager) Configure(dependency string, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.wrappers[dependency]; exists {
		m.logger.Warn("resilience.configure.late", "dependency", dependency)
		return
	}
	m.configs[dependency] = cfg
}

// Get returns the shared wrapper for a dependency, creating it on first use.
func (m *Manager) Get(dependency string) *Wrapper {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.wrappers[dependency]; ok {
		return w
	}
	cfg, ok := m.configs[dependency]
	if !ok {
		cfg = m.defaults
	}
	w := NewWrapper(dependency, cfg, m.logger)
	m.wrappers[dependency] = w
	return w
}

// Dependencies lists the dependency ids with live wrappers.
func (m *Manager) Dependencies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.wrappers))
	for dep := range m.wrappers {
		out = append(out, dep)
	}
	return out
}
