package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/convoloop/convoloop/core"
	"github.com/convoloop/convoloop/memory"
	"github.com/convoloop/convoloop/model"
	"github.com/convoloop/convoloop/resilience"
	"github.com/convoloop/convoloop/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRig struct {
	session *Session
	mock    *model.MockModel
	store   *memory.InMemoryStore
	tools   *tool.Registry
	mgr     *resilience.Manager
}

func newTestRig(t *testing.T, optFns ...func(o *Options)) *testRig {
	t.Helper()

	cfg := resilience.DefaultConfig()
	cfg.RatePerSecond = 1000
	cfg.Burst = 1000
	cfg.FailureThreshold = 3
	cfg.Retry = resilience.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	mgr := resilience.NewManager(cfg, nil)

	tools := tool.NewRegistry(mgr, nil)
	mock := model.NewMockModel()
	store := memory.NewInMemoryStore()

	session := NewSession("product", mock, tools, store, mgr, optFns...)
	return &testRig{session: session, mock: mock, store: store, tools: tools, mgr: mgr}
}

func registerSearchTool(t *testing.T, rig *testRig, result any, handlerErr error) {
	t.Helper()
	require.NoError(t, rig.tools.Register(tool.Definition{
		Name:         "search_products",
		Description:  "Searches the catalog.",
		DependencyID: "vector_store",
		Idempotent:   true,
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
			"required":   []string{"query"},
		},
		Handler: func(context.Context, map[string]any) (any, error) {
			if handlerErr != nil {
				return nil, handlerErr
			}
			return result, nil
		},
	}))
}

func searchCall(id, query string) model.ToolCall {
	return model.ToolCall{
		ID:        id,
		Name:      "search_products",
		Arguments: json.RawMessage(`{"query":"` + query + `"}`),
	}
}

func TestRunFinalAnswerPersistsTurns(t *testing.T) {
	rig := newTestRig(t)
	rig.mock.Enqueue(model.Response{Text: "Hello! How can I help?", FinishReason: "stop"})

	reply, err := rig.session.Run(context.Background(), "79001112233", "hi")
	require.NoError(t, err)
	assert.Equal(t, core.StatusOK, reply.Status)
	assert.Equal(t, "Hello! How can I help?", reply.Text)

	turns, err := rig.store.Read(context.Background(), "79001112233", 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, core.RoleUser, turns[0].Role)
	assert.Equal(t, "hi", turns[0].Content)
	assert.Equal(t, core.RoleAssistant, turns[1].Role)
	assert.Equal(t, "Hello! How can I help?", turns[1].Content)
}

func TestRunToolRoundTrip(t *testing.T) {
	rig := newTestRig(t)
	registerSearchTool(t, rig, "Chicken fillet 1kg, in stock, 12.90", nil)

	rig.mock.
		Enqueue(model.Response{ToolCalls: []model.ToolCall{searchCall("call_1", "chicken fillet")}, FinishReason: "tool_calls"}).
		Enqueue(model.Response{Text: "Yes, we have chicken fillet for 12.90.", FinishReason: "stop"})

	reply, err := rig.session.Run(context.Background(), "key", "do you have chicken fillet?")
	require.NoError(t, err)
	assert.Equal(t, core.StatusOK, reply.Status)
	assert.Equal(t, "Yes, we have chicken fillet for 12.90.", reply.Text)

	calls := rig.mock.Calls()
	require.Len(t, calls, 2)

	// The second prompt must carry the assistant tool-call message and the
	// folded tool result.
	second := calls[1].Request.Messages
	var sawToolCall, sawToolResult bool
	for _, msg := range second {
		if msg.Role == core.RoleAssistant && len(msg.ToolCalls) == 1 {
			sawToolCall = true
		}
		if msg.Role == core.RoleTool && msg.ToolCallID == "call_1" {
			sawToolResult = true
			assert.Contains(t, msg.Content, "Chicken fillet 1kg")
		}
	}
	assert.True(t, sawToolCall)
	assert.True(t, sawToolResult)

	// Persisted: user, the assistant turn declaring the call, its result,
	// final assistant in loop order.
	turns, err := rig.store.Read(context.Background(), "key", 0)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, core.RoleUser, turns[0].Role)
	assert.Equal(t, core.RoleAssistant, turns[1].Role)
	require.Len(t, turns[1].ToolCalls, 1)
	assert.Equal(t, "call_1", turns[1].ToolCalls[0].ID)
	assert.Equal(t, core.RoleTool, turns[2].Role)
	assert.Equal(t, "call_1", turns[2].ToolCallID)
	assert.Equal(t, core.RoleAssistant, turns[3].Role)
}

func TestRunHistoryReplayKeepsToolCallsPaired(t *testing.T) {
	rig := newTestRig(t)
	registerSearchTool(t, rig, "Chicken fillet 1kg, in stock, 12.90", nil)

	rig.mock.
		Enqueue(model.Response{ToolCalls: []model.ToolCall{searchCall("call_1", "chicken fillet")}, FinishReason: "tool_calls"}).
		Enqueue(model.Response{Text: "Yes, we have chicken fillet for 12.90.", FinishReason: "stop"}).
		Enqueue(model.Response{Text: "It is 12.90 per kilo.", FinishReason: "stop"})

	ctx := context.Background()
	_, err := rig.session.Run(ctx, "key", "do you have chicken fillet?")
	require.NoError(t, err)
	_, err = rig.session.Run(ctx, "key", "how much is it?")
	require.NoError(t, err)

	// The second run's prompt replays the first exchange. Every tool-result
	// message must be preceded by an assistant message declaring its call;
	// providers reject results whose originating call is absent.
	calls := rig.mock.Calls()
	require.Len(t, calls, 3)
	declared := map[string]bool{}
	for _, msg := range calls[2].Request.Messages {
		for _, tc := range msg.ToolCalls {
			declared[tc.ID] = true
		}
		if msg.Role == core.RoleTool {
			assert.True(t, declared[msg.ToolCallID],
				"tool result %q replayed without its declaring assistant turn", msg.ToolCallID)
		}
	}
	assert.True(t, declared["call_1"])
}

func TestRunConcurrentSiblingToolCalls(t *testing.T) {
	rig := newTestRig(t)
	registerSearchTool(t, rig, "some products", nil)

	rig.mock.
		Enqueue(model.Response{ToolCalls: []model.ToolCall{
			searchCall("call_1", "bread"),
			searchCall("call_2", "milk"),
		}, FinishReason: "tool_calls"}).
		Enqueue(model.Response{Text: "Found both.", FinishReason: "stop"})

	reply, err := rig.session.Run(context.Background(), "key", "bread and milk?")
	require.NoError(t, err)
	assert.Equal(t, core.StatusOK, reply.Status)

	// Both results are folded before the next model call.
	second := rig.mock.Calls()[1].Request.Messages
	toolMsgs := 0
	for _, msg := range second {
		if msg.Role == core.RoleTool {
			toolMsgs++
		}
	}
	assert.Equal(t, 2, toolMsgs)
}

func TestRunToolFailureDegradesReply(t *testing.T) {
	rig := newTestRig(t)
	registerSearchTool(t, rig, nil, errors.New("index offline"))

	rig.mock.
		Enqueue(model.Response{ToolCalls: []model.ToolCall{searchCall("call_1", "bread")}, FinishReason: "tool_calls"}).
		Enqueue(model.Response{Text: "I could not check the catalog right now.", FinishReason: "stop"})

	reply, err := rig.session.Run(context.Background(), "key", "bread?")
	require.NoError(t, err)
	assert.Equal(t, core.StatusDegraded, reply.Status)
	assert.Equal(t, "I could not check the catalog right now.", reply.Text)

	// The failure is presented to the model as data, not hidden.
	second := rig.mock.Calls()[1].Request.Messages
	var failedText string
	for _, msg := range second {
		if msg.Role == core.RoleTool {
			failedText = msg.Content
		}
	}
	assert.Contains(t, failedText, "failed")
	assert.Contains(t, failedText, "index offline")
}

func TestRunUnreachableSearchOpensBreakerAndDegrades(t *testing.T) {
	rig := newTestRig(t)
	registerSearchTool(t, rig, nil, resilience.Transient(errors.New("vector store unreachable")))

	rig.mock.
		Enqueue(model.Response{ToolCalls: []model.ToolCall{searchCall("call_1", "bread")}, FinishReason: "tool_calls"}).
		Enqueue(model.Response{Text: "The catalog is unavailable at the moment.", FinishReason: "stop"})

	reply, err := rig.session.Run(context.Background(), "key", "bread?")
	require.NoError(t, err)
	assert.Equal(t, core.StatusDegraded, reply.Status)
	assert.NotEmpty(t, reply.Text)

	// Three retried transient failures hit the threshold; the shared
	// vector-store breaker is now open for every tool on that dependency.
	assert.Equal(t, resilience.BreakerOpen, rig.mgr.Get("vector_store").Breaker().State())
}

func TestRunParseErrorRepromptsOnce(t *testing.T) {
	rig := newTestRig(t)
	rig.mock.
		EnqueueError(&model.ParseError{Reason: "no choices returned"}).
		Enqueue(model.Response{Text: "Recovered.", FinishReason: "stop"})

	reply, err := rig.session.Run(context.Background(), "key", "hello")
	require.NoError(t, err)
	assert.Equal(t, core.StatusOK, reply.Status)
	assert.Equal(t, "Recovered.", reply.Text)

	calls := rig.mock.Calls()
	require.Len(t, calls, 2)
	last := calls[1].Request.Messages[len(calls[1].Request.Messages)-1]
	assert.Equal(t, core.RoleUser, last.Role)
	assert.Contains(t, last.Content, "malformed")
}

func TestRunSecondParseErrorFails(t *testing.T) {
	rig := newTestRig(t, func(o *Options) { o.FallbackReply = "fallback" })
	rig.mock.
		EnqueueError(&model.ParseError{Reason: "garbage"}).
		EnqueueError(&model.ParseError{Reason: "garbage again"})

	reply, err := rig.session.Run(context.Background(), "key", "hello")
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, reply.Status)
	assert.Equal(t, "fallback", reply.Text)
}

func TestRunModelUnreachableOpensBreaker(t *testing.T) {
	rig := newTestRig(t, func(o *Options) { o.FallbackReply = "fallback" })
	for i := 0; i < 3; i++ {
		rig.mock.EnqueueError(resilience.Transient(errors.New("connection refused")))
	}

	reply, err := rig.session.Run(context.Background(), "key", "hello")
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, reply.Status)
	assert.Equal(t, "fallback", reply.Text)

	// Three retried failures exhaust the threshold; the breaker now rejects
	// without touching the provider.
	assert.Equal(t, resilience.BreakerOpen, rig.mgr.Get(DependencyModel).Breaker().State())
	assert.Len(t, rig.mock.Calls(), 3)
}

func TestRunIterationCapAbortsWithFallback(t *testing.T) {
	rig := newTestRig(t, func(o *Options) {
		o.MaxIterations = 2
		o.FallbackReply = "fallback"
	})
	registerSearchTool(t, rig, "more products", nil)

	// The model never stops asking for tools.
	rig.mock.Respond = func(model.Request) (model.Response, error) {
		return model.Response{
			ToolCalls:    []model.ToolCall{searchCall(core.NewID(), "anything")},
			FinishReason: "tool_calls",
		}, nil
	}

	reply, err := rig.session.Run(context.Background(), "key", "hi")
	require.NoError(t, err)
	assert.Equal(t, core.StatusDegraded, reply.Status)
	assert.Equal(t, "fallback", reply.Text)
	assert.Len(t, rig.mock.Calls(), 2)

	// What the conversation actually saw is persisted: user, two tool
	// exchanges (declaring assistant turn + result each), fallback assistant.
	turns, readErr := rig.store.Read(context.Background(), "key", 0)
	require.NoError(t, readErr)
	require.Len(t, turns, 6)
	assert.Equal(t, core.RoleUser, turns[0].Role)
	assert.Equal(t, core.RoleAssistant, turns[1].Role)
	assert.NotEmpty(t, turns[1].ToolCalls)
	assert.Equal(t, core.RoleTool, turns[2].Role)
	assert.Equal(t, core.RoleAssistant, turns[3].Role)
	assert.Equal(t, core.RoleTool, turns[4].Role)
	assert.Equal(t, "fallback", turns[5].Content)
}

func TestRunHistoryLimitBoundsPrompt(t *testing.T) {
	rig := newTestRig(t, func(o *Options) { o.HistoryLimit = 2 })

	ctx := context.Background()
	for _, text := range []string{"one", "two", "three", "four"} {
		require.NoError(t, rig.store.Append(ctx, "key", core.NewUserTurn(text)))
	}
	rig.mock.Enqueue(model.Response{Text: "ok", FinishReason: "stop"})

	_, err := rig.session.Run(ctx, "key", "five")
	require.NoError(t, err)

	msgs := rig.mock.Calls()[0].Request.Messages
	require.Len(t, msgs, 3, "2 history turns + current user text")
	assert.Equal(t, "three", msgs[0].Content)
	assert.Equal(t, "four", msgs[1].Content)
	assert.Equal(t, "five", msgs[2].Content)
}

func TestRunHistoryOutageDegradesToEmpty(t *testing.T) {
	rig := newTestRig(t)

	// Poison the shared memory wrapper's breaker so history reads fail fast.
	memBreaker := rig.mgr.Get(DependencyMemory).Breaker()
	for i := 0; i < 3; i++ {
		memBreaker.OnFailure()
	}
	require.Equal(t, resilience.BreakerOpen, memBreaker.State())

	rig.mock.Enqueue(model.Response{Text: "answered anyway", FinishReason: "stop"})

	reply, err := rig.session.Run(context.Background(), "key", "hello")
	require.NoError(t, err)
	assert.Equal(t, core.StatusDegraded, reply.Status)
	assert.Equal(t, "answered anyway", reply.Text)
}

func TestRunSameKeySerialized(t *testing.T) {
	rig := newTestRig(t)
	rig.mock.Latency = 20 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := rig.session.Run(context.Background(), "same-key", "hi")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	calls := rig.mock.Calls()
	require.Len(t, calls, 2)
	a, b := calls[0], calls[1]
	overlap := a.Start.Before(b.End) && b.Start.Before(a.End)
	assert.False(t, overlap, "runs for one conversation key must not interleave")
}

func TestRunBusyRejectMode(t *testing.T) {
	rig := newTestRig(t, func(o *Options) {
		o.BusyMode = BusyReject
		o.FallbackReply = "fallback"
	})

	started := make(chan struct{})
	proceed := make(chan struct{})
	rig.mock.Respond = func(model.Request) (model.Response, error) {
		close(started)
		<-proceed
		return model.Response{Text: "done", FinishReason: "stop"}, nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = rig.session.Run(context.Background(), "key", "first")
	}()
	<-started

	reply, err := rig.session.Run(context.Background(), "key", "second")
	var busyErr *BusyError
	require.ErrorAs(t, err, &busyErr)
	assert.Equal(t, "key", busyErr.Key)
	assert.Equal(t, core.StatusFailed, reply.Status)

	close(proceed)
	<-done
}

func TestRunHooksFire(t *testing.T) {
	var mu sync.Mutex
	var modelCalls, toolCalls int

	rig := newTestRig(t, func(o *Options) {
		o.Hooks = Hooks{
			OnModelCall: func(key string, _ model.Request, _ model.Response, _ error, _ time.Duration) {
				mu.Lock()
				modelCalls++
				mu.Unlock()
			},
			OnToolCall: func(key string, inv tool.Invocation) {
				mu.Lock()
				toolCalls++
				mu.Unlock()
			},
		}
	})
	registerSearchTool(t, rig, "hit", nil)

	rig.mock.
		Enqueue(model.Response{ToolCalls: []model.ToolCall{searchCall("call_1", "x")}, FinishReason: "tool_calls"}).
		Enqueue(model.Response{Text: "done", FinishReason: "stop"})

	_, err := rig.session.Run(context.Background(), "key", "hi")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, modelCalls)
	assert.Equal(t, 1, toolCalls)
}

func TestClearWipesHistory(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	require.NoError(t, rig.store.Append(ctx, "key", core.NewUserTurn("old")))
	require.NoError(t, rig.session.Clear(ctx, "key"))

	turns, err := rig.store.Read(ctx, "key", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestRunUnknownToolFoldedAsFailure(t *testing.T) {
	rig := newTestRig(t)

	rig.mock.
		Enqueue(model.Response{ToolCalls: []model.ToolCall{{
			ID:        "call_1",
			Name:      "no_such_tool",
			Arguments: json.RawMessage(`{}`),
		}}, FinishReason: "tool_calls"}).
		Enqueue(model.Response{Text: "sorry, cannot do that", FinishReason: "stop"})

	reply, err := rig.session.Run(context.Background(), "key", "hi")
	require.NoError(t, err)
	assert.Equal(t, core.StatusDegraded, reply.Status)

	second := rig.mock.Calls()[1].Request.Messages
	found := false
	for _, msg := range second {
		if msg.Role == core.RoleTool && strings.Contains(msg.Content, "no_such_tool") {
			found = true
		}
	}
	assert.True(t, found, "unknown-tool failure must reach the model as a tool message")
}
