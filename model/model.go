// Package model defines the normalized contract between the agent executor
// and language-model providers. Adapters translate Request/Response to the
// vendor wire format so downstream logic never branches per provider.
// Generation is synchronous request/response: the executor loop has no use
// for token streaming.
package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/convoloop/convoloop/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
// Parameters is a JSON Schema object (minimal subset, see internal/schema).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a function invocation requested by the model. It aliases
// core.ToolCall so requested calls flow between prompt messages and persisted
// assistant turns without conversion.
type ToolCall = core.ToolCall

// Message is one prompt message in provider-neutral form. Assistant messages
// may carry ToolCalls; tool messages carry the ToolCallID they answer.
type Message struct {
	Role       core.Role  `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// Request is the normalized model input assembled by the executor:
// system instructions, bounded history plus the scratchpad as Messages, and
// the tool catalog.
type Request struct {
	Instructions string           `json:"instructions"`
	Messages     []Message        `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
}

// Usage captures token accounting for one response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is one complete model reply: either final text or a batch of
// requested tool calls (FinishReason "tool_calls").
type Response struct {
	Text         string     `json:"text"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"`
	Usage        Usage      `json:"usage"`
}

// Info describes a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface the executor needs to drive generation.
type Model interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Info() Info
}

// ParseError signals a malformed or unparseable model response (empty
// choices, tool call with invalid JSON arguments, unknown finish reason).
// The executor recovers from it once by re-prompting with a correction
// instruction before aborting.
type ParseError struct {
	Reason string
	Raw    string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Raw != "" {
		return fmt.Sprintf("malformed model response: %s (raw: %.120s)", e.Reason, e.Raw)
	}
	return fmt.Sprintf("malformed model response: %s", e.Reason)
}

// RecordedCall captures one Generate invocation on the MockModel, including
// its wall-clock window so tests can assert calls never overlap.
type RecordedCall struct {
	Request Request
	Start   time.Time
	End     time.Time
}

// MockModel is a scripted in-memory Model for tests. Each Generate pops the
// next step; when the script is exhausted the Respond function (if set) or a
// canned echo answer is used.
type MockModel struct {
	mu      sync.Mutex
	script  []func(req Request) (Response, error)
	calls   []RecordedCall
	Respond func(req Request) (Response, error)
	// Latency is applied inside each Generate, widening the recorded window.
	Latency time.Duration
}

// NewMockModel constructs an empty mock with tool support advertised.
func NewMockModel() *MockModel { return &MockModel{} }

// Enqueue appends a scripted response.
func (m *MockModel) Enqueue(resp Response) *MockModel {
	return m.EnqueueFunc(func(Request) (Response, error) { return resp, nil })
}

// EnqueueError appends a scripted failure.
func (m *MockModel) EnqueueError(err error) *MockModel {
	return m.EnqueueFunc(func(Request) (Response, error) { return Response{}, err })
}

// EnqueueFunc appends a scripted step computed from the request.
func (m *MockModel) EnqueueFunc(fn func(req Request) (Response, error)) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, fn)
	return m
}

// Generate implements Model.
func (m *MockModel) Generate(_ context.Context, req Request) (Response, error) {
	m.mu.Lock()
	var fn func(Request) (Response, error)
	if len(m.script) > 0 {
		fn = m.script[0]
		m.script = m.script[1:]
	} else if m.Respond != nil {
		fn = m.Respond
	}
	start := time.Now()
	m.mu.Unlock()

	if m.Latency > 0 {
		time.Sleep(m.Latency)
	}

	var resp Response
	var err error
	if fn != nil {
		resp, err = fn(req)
	} else {
		text := "Mock response"
		if n := len(req.Messages); n > 0 {
			text = "Mock response to: " + req.Messages[n-1].Content
		}
		resp = Response{Text: text, FinishReason: "stop"}
	}

	m.mu.Lock()
	m.calls = append(m.calls, RecordedCall{Request: req, Start: start, End: time.Now()})
	m.mu.Unlock()
	return resp, err
}

// Calls returns a copy of the recorded Generate invocations.
func (m *MockModel) Calls() []RecordedCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Info implements Model.
func (m *MockModel) Info() Info {
	return Info{Name: "mock", Provider: "mock", SupportsTools: true}
}
