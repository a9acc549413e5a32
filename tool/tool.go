// Package tool implements the tool catalog and invocation pipeline: schema
// validated arguments, resilience-wrapped execution keyed by backend
// dependency, and uniform error folding so the model always sees a tool
// outcome as data rather than the conversation failing.
package tool

import (
	"context"
	"fmt"
)

// Handler executes a tool with already-validated arguments. The returned
// value must be JSON-serializable; it is rendered into a tool turn for the
// model.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Definition declares one invocable capability. Definitions are immutable
// after registration.
//
// DependencyID names the external backend the handler talks to; tools
// sharing a backend (for example every SQL tool hitting one database) share
// one breaker, limiter and pool through it. Idempotent marks the handler
// retry-safe: read-only tools set it, side-effecting tools (sending a
// message) leave it false and get a single attempt with failure surfaced.
type Definition struct {
	Name         string
	Description  string
	InputSchema  map[string]any
	DependencyID string
	Idempotent   bool
	Handler      Handler
}

// UnknownToolError reports an invocation of a name absent from the registry.
type UnknownToolError struct {
	Name string
}

// Error implements the error interface.
func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// DuplicateToolError reports registration under an already-taken name.
type DuplicateToolError struct {
	Name string
}

// Error implements the error interface.
func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.Name)
}

// InvalidArgumentsError reports arguments that failed schema validation.
// It is permanent: the invocation is never retried.
type InvalidArgumentsError struct {
	Tool  string
	Cause error
}

// Error implements the error interface.
func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %q: %v", e.Tool, e.Cause)
}

// Unwrap exposes the underlying validation error.
func (e *InvalidArgumentsError) Unwrap() error { return e.Cause }
