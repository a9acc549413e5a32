// Package core defines the shared conversation data model: turns, roles,
// tool calls and the reply envelope returned to callers. All other packages
// depend on core; core depends on nothing but the standard library and uuid.
package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a Turn.
type Role string

const (
	// RoleUser marks a turn authored by the end user.
	RoleUser Role = "user"
	// RoleAssistant marks a turn authored by the model.
	RoleAssistant Role = "assistant"
	// RoleTool marks a turn carrying a tool invocation result.
	RoleTool Role = "tool"
)

// ToolCall is a function invocation requested by the model. Assistant turns
// that requested tools carry their calls so replayed history keeps every
// tool-result turn paired with the call that produced it; providers reject
// tool results whose originating call is missing from the transcript.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Turn is one persisted unit of conversation. A Turn is immutable after
// creation; stores never edit a persisted turn in place. ToolCallID is only
// populated for tool-role turns and correlates the result with the model's
// originating tool call; ToolCalls only for assistant turns that requested
// tools.
type Turn struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	CreatedAt  time.Time  `json:"created_at"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// NewTurn creates a turn with a fresh ID and UTC timestamp.
func NewTurn(role Role, content string) Turn {
	return Turn{
		ID:        NewID(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// NewUserTurn creates a user-authored turn.
func NewUserTurn(content string) Turn { return NewTurn(RoleUser, content) }

// NewAssistantTurn creates an assistant-authored turn.
func NewAssistantTurn(content string) Turn { return NewTurn(RoleAssistant, content) }

// NewAssistantToolCallTurn creates an assistant turn that requested tool
// calls, preserving any text emitted alongside them.
func NewAssistantToolCallTurn(content string, calls []ToolCall) Turn {
	t := NewTurn(RoleAssistant, content)
	t.ToolCalls = calls
	return t
}

// NewToolTurn creates a tool-result turn correlated to a model tool call.
func NewToolTurn(toolCallID, content string) Turn {
	t := NewTurn(RoleTool, content)
	t.ToolCallID = toolCallID
	return t
}

// NewID generates a unique identifier for turns and invocations.
func NewID() string { return uuid.NewString() }
