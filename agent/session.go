// Package agent implements the reasoning/acting loop that routes a user
// message through model calls and tool invocations until a final answer, the
// iteration cap or the request deadline. One Session exists per agent type
// for the process lifetime; it is read-only after construction and shared
// across concurrent conversations, while per-conversation state lives only
// in the memory store.
package agent

import (
	"context"
	"time"

	"github.com/convoloop/convoloop/core"
	"github.com/convoloop/convoloop/logging"
	"github.com/convoloop/convoloop/memory"
	"github.com/convoloop/convoloop/model"
	"github.com/convoloop/convoloop/resilience"
	"github.com/convoloop/convoloop/tool"
)

// DependencyModel is the resilience dependency id guarding model inference.
const DependencyModel = "model"

// DependencyMemory is the resilience dependency id guarding the memory store.
const DependencyMemory = "memory_store"

// BusyMode selects how a second concurrent run for the same conversation key
// is handled while one is in flight.
type BusyMode int

const (
	// BusyWait queues the second run behind the first (default).
	BusyWait BusyMode = iota
	// BusyReject fails the second run immediately with BusyError.
	BusyReject
)

// Hooks are cross-cutting observation callbacks (tracing, metrics). They
// must be supplied at Session construction time so every model and tool call
// of every run is covered; there is no way to attach them afterwards.
type Hooks struct {
	// OnModelCall fires after each model call, successful or not.
	OnModelCall func(key string, req model.Request, resp model.Response, err error, dur time.Duration)
	// OnToolCall fires after each tool invocation reaches a terminal status.
	OnToolCall func(key string, inv tool.Invocation)
}

// Options configure a Session.
type Options struct {
	// Instructions is the system prompt prefixed to every model call.
	Instructions string
	// MaxIterations caps loop iterations before aborting to the fallback.
	MaxIterations int
	// HistoryLimit bounds how many recent turns are loaded per run.
	HistoryLimit int
	// FallbackReply is the deterministic answer used when the loop aborts.
	FallbackReply string
	// BusyMode selects wait-or-reject for concurrent same-key runs.
	BusyMode BusyMode
	// RunTimeout is the default overall deadline applied when the caller's
	// context carries none.
	RunTimeout time.Duration
	// Hooks, see type docs. Supplied here or never.
	Hooks Hooks
	// Logger defaults to a no-op.
	Logger logging.Logger
}

// Session is a configured, reusable agent bound to a model client, a tool
// registry and a memory store.
type Session struct {
	typeID     string
	model      model.Model
	tools      *tool.Registry
	store      memory.Store
	modelWrap  *resilience.Wrapper
	memoryWrap *resilience.Wrapper
	opts       Options
	logger     logging.Logger
	locks      *keyedLocks
}

// NewSession constructs a Session. It is typically called once per agent
// type through the Registry rather than directly.
func NewSession(
	typeID string,
	m model.Model,
	tools *tool.Registry,
	store memory.Store,
	resilienceMgr *resilience.Manager,
	optFns ...func(o *Options),
) *Session {
	opts := Options{
		MaxIterations: 8,
		HistoryLimit:  20,
		FallbackReply: "Sorry, I could not finish processing that. Please try again in a moment.",
		RunTimeout:    60 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Session{
		typeID:     typeID,
		model:      m,
		tools:      tools,
		store:      store,
		modelWrap:  resilienceMgr.Get(DependencyModel),
		memoryWrap: resilienceMgr.Get(DependencyMemory),
		opts:       opts,
		logger:     logging.OrNoOp(opts.Logger),
		locks:      newKeyedLocks(),
	}
}

// TypeID returns the agent type identifier this session was built for.
func (s *Session) TypeID() string { return s.typeID }

// Tools returns the bound tool registry.
func (s *Session) Tools() *tool.Registry { return s.tools }

// Store returns the bound conversation store.
func (s *Session) Store() memory.Store { return s.store }

// Run executes one full reasoning loop for the conversation key and user
// text. It always returns a completed Reply with a status; the error is
// non-nil only for run-level faults (busy rejection, lock wait cancelled),
// in which case Reply.Status is failed.
//
// Runs for the same key are serialized; runs for different keys proceed
// concurrently.
func (s *Session) Run(ctx context.Context, key, userText string) (core.Reply, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && s.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RunTimeout)
		defer cancel()
	}

	release, err := s.locks.acquire(ctx, key, s.opts.BusyMode == BusyWait)
	if err != nil {
		return core.Reply{Text: s.opts.FallbackReply, Status: core.StatusFailed}, err
	}
	defer release()

	run := &execution{session: s, key: key, userText: userText}
	return run.execute(ctx), nil
}

// Clear wipes the conversation history for key, keeping the key valid.
func (s *Session) Clear(ctx context.Context, key string) error {
	_, err := s.memoryWrap.Execute(ctx, true, func(ctx context.Context) (any, error) {
		return nil, s.store.Clear(ctx, key)
	})
	return err
}
