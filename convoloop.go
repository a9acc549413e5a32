// Package convoloop provides a high-level façade over the agent registry and
// its supporting services (model client, tool registry, memory store,
// resilience manager) enabling rapid construction of conversational agents.
// Most applications interact with this package by:
//  1. Creating a ConvoLoop via New() (optionally overriding default in-memory services)
//  2. Registering tools and one or more agent types
//  3. Running conversations with Run(ctx, agentType, conversationKey, text)
//
// All defaults are safe for local development and testing; production
// deployments typically supply a durable store, a redis-backed retrieval
// cache and a structured logger (see cmd/convoloop).
package convoloop

import (
	"context"

	"github.com/convoloop/convoloop/agent"
	"github.com/convoloop/convoloop/core"
	"github.com/convoloop/convoloop/logging"
	"github.com/convoloop/convoloop/memory"
	"github.com/convoloop/convoloop/model"
	"github.com/convoloop/convoloop/resilience"
	"github.com/convoloop/convoloop/tool"
)

// Options configures the ConvoLoop instance.
type Options struct {
	// Store holds conversation history (defaults to in-memory).
	Store memory.Store
	// Resilience sets the default guard configuration shared by every
	// dependency that is not configured individually on the Manager.
	Resilience resilience.Config
	// Logger defaults to a no-op logger.
	Logger logging.Logger
}

// ConvoLoop is the high-level façade aggregating the agent registry and its
// shared services.
type ConvoLoop struct {
	opts       Options
	registry   *agent.Registry
	tools      *tool.Registry
	resilience *resilience.Manager
}

// New creates a ConvoLoop with optional overrides. Any unset service is
// initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *ConvoLoop {
	opts := Options{
		Store:      memory.NewInMemoryStore(),
		Resilience: resilience.DefaultConfig(),
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	mgr := resilience.NewManager(opts.Resilience, opts.Logger)
	return &ConvoLoop{
		opts:       opts,
		registry:   agent.NewRegistry(opts.Logger),
		tools:      tool.NewRegistry(mgr, opts.Logger),
		resilience: mgr,
	}
}

// RegisterTool adds a tool shared by every agent type.
func (c *ConvoLoop) RegisterTool(def tool.Definition) error {
	return c.tools.Register(def)
}

// RegisterAgent binds an agent type to a model client and session options.
func (c *ConvoLoop) RegisterAgent(typeID string, m model.Model, optFns ...func(o *agent.Options)) error {
	return c.registry.Register(typeID, func() (*agent.Session, error) {
		return agent.NewSession(typeID, m, c.tools, c.opts.Store, c.resilience, optFns...), nil
	})
}

// Run executes one conversation turn on the named agent type.
func (c *ConvoLoop) Run(ctx context.Context, typeID, key, text string) (core.Reply, error) {
	session, err := c.registry.GetOrCreate(typeID)
	if err != nil {
		return core.Reply{Status: core.StatusFailed}, err
	}
	return session.Run(ctx, key, text)
}

// Clear wipes the conversation history for key on the named agent type.
func (c *ConvoLoop) Clear(ctx context.Context, typeID, key string) error {
	session, err := c.registry.GetOrCreate(typeID)
	if err != nil {
		return err
	}
	return session.Clear(ctx, key)
}

// Registry exposes the underlying agent registry, mainly for serving HTTP
// through the api package.
func (c *ConvoLoop) Registry() *agent.Registry { return c.registry }

// Resilience exposes the shared resilience manager so callers can configure
// per-dependency guards before first use.
func (c *ConvoLoop) Resilience() *resilience.Manager { return c.resilience }

// Close tears down the registry and its cached sessions.
func (c *ConvoLoop) Close() { c.registry.Close() }
