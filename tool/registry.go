package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/convoloop/convoloop/internal/schema"
	"github.com/convoloop/convoloop/logging"
	"github.com/convoloop/convoloop/resilience"
)

// InvocationStatus is the terminal (or initial) state of one invocation.
type InvocationStatus string

const (
	// StatusPending is the initial state before execution completes.
	StatusPending InvocationStatus = "pending"
	// StatusSucceeded means the handler returned a result.
	StatusSucceeded InvocationStatus = "succeeded"
	// StatusFailed means the handler (or validation/lookup) failed.
	StatusFailed InvocationStatus = "failed"
	// StatusTimedOut means the handler ran out of time.
	StatusTimedOut InvocationStatus = "timed_out"
)

// Invocation records one tool call through the pipeline. It lives only for
// the executor-loop iteration that produced it; the executor folds it into a
// tool turn before discarding it.
type Invocation struct {
	Tool      string
	Arguments map[string]any
	Attempts  int
	Status    InvocationStatus
	Result    any
	Err       error
}

// ResultText renders the invocation outcome as the text shown to the model:
// the JSON result on success, or a structured error description on failure.
// Failures are presented, not hidden; the model decides whether to retry
// conceptually or answer anyway.
func (inv Invocation) ResultText() string {
	if inv.Status == StatusSucceeded {
		if s, ok := inv.Result.(string); ok {
			return s
		}
		raw, err := json.Marshal(inv.Result)
		if err != nil {
			return fmt.Sprintf("%v", inv.Result)
		}
		return string(raw)
	}
	return fmt.Sprintf("tool %s %s: %v", inv.Tool, inv.Status, inv.Err)
}

// Registry is the catalog of invocable tools. Registration validates schema
// well-formedness and name uniqueness; definitions are immutable afterwards.
// The registry is read-mostly and safe for concurrent use.
type Registry struct {
	resilienceMgr *resilience.Manager
	logger        logging.Logger

	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates an empty registry whose invocations run through the
// given resilience manager.
func NewRegistry(resilienceMgr *resilience.Manager, logger logging.Logger) *Registry {
	return &Registry{
		resilienceMgr: resilienceMgr,
		logger:        logging.OrNoOp(logger),
		defs:          map[string]Definition{},
	}
}

// Register adds a definition, rejecting empty names, nil handlers, malformed
// schemas and duplicate names.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %q has no handler", def.Name)
	}
	if def.InputSchema == nil {
		def.InputSchema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	if err := schema.WellFormed(def.InputSchema); err != nil {
		return fmt.Errorf("tool %q schema: %w", def.Name, err)
	}
	if def.DependencyID == "" {
		def.DependencyID = def.Name
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		return &DuplicateToolError{Name: def.Name}
	}
	r.defs[def.Name] = def
	return nil
}

// Get returns the definition for name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Definitions returns all registered definitions sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke runs the pipeline for one tool call: lookup, argument validation,
// resilience-wrapped handler execution, status recording. Failures of any
// stage are contained in the returned Invocation; Invoke itself never
// returns an error to keep tool faults at the invocation boundary.
func (r *Registry) Invoke(ctx context.Context, name string, rawArgs json.RawMessage) Invocation {
	inv := Invocation{Tool: name, Status: StatusPending}

	def, ok := r.Get(name)
	if !ok {
		inv.Status = StatusFailed
		inv.Err = &UnknownToolError{Name: name}
		return inv
	}

	args := map[string]any{}
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			inv.Status = StatusFailed
			inv.Err = &InvalidArgumentsError{Tool: name, Cause: err}
			return inv
		}
	}
	inv.Arguments = args

	if err := schema.Validate(args, def.InputSchema); err != nil {
		inv.Status = StatusFailed
		inv.Err = &InvalidArgumentsError{Tool: name, Cause: err}
		return inv
	}

	wrapper := r.resilienceMgr.Get(def.DependencyID)
	start := time.Now()
	result, err := wrapper.Execute(ctx, def.Idempotent, func(ctx context.Context) (any, error) {
		inv.Attempts++
		return def.Handler(ctx, args)
	})
	duration := time.Since(start)

	switch {
	case err == nil:
		inv.Status = StatusSucceeded
		inv.Result = result
	case errors.Is(err, context.DeadlineExceeded):
		inv.Status = StatusTimedOut
		inv.Err = err
	default:
		inv.Status = StatusFailed
		inv.Err = err
	}

	r.logger.Info("tool.invoke",
		"tool", name,
		"dependency", def.DependencyID,
		"status", string(inv.Status),
		"attempts", inv.Attempts,
		"duration_ms", duration.Milliseconds(),
	)
	return inv
}
