// Package api exposes the public HTTP surface over the orchestration engine:
// initConversation, processConversation, getProfile and resetConversation.
// Handlers are thin: they validate the conversation key, dispatch executor
// runs in the background and answer immediately with a success envelope, the
// way the upstream messaging webhook expects.
package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/convoloop/convoloop/agent"
	"github.com/convoloop/convoloop/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Sender delivers an outbound message to the client on its messaging
// channel. Delivery failures are logged, never surfaced to the HTTP caller.
type Sender func(ctx context.Context, recipient, message string) error

// ServerOptions configure the HTTP server.
type ServerOptions struct {
	// AgentType is the registry type id used for conversation runs.
	AgentType string
	// ProfileTool is the tool invoked by getProfile, bypassing the loop.
	ProfileTool string
	// Sender delivers replies produced by background runs. Nil disables
	// outbound delivery (useful in tests).
	Sender Sender
	Logger logging.Logger
}

// Server routes HTTP requests into the agent registry.
type Server struct {
	registry *agent.Registry
	opts     ServerOptions
	logger   logging.Logger
	router   chi.Router

	background sync.WaitGroup
}

// NewServer builds the router around an agent registry.
func NewServer(registry *agent.Registry, optFns ...func(o *ServerOptions)) *Server {
	opts := ServerOptions{
		AgentType:   "product",
		ProfileTool: "get_client_profile",
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{
		registry: registry,
		opts:     opts,
		logger:   logging.OrNoOp(opts.Logger),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/ai", func(r chi.Router) {
		r.Post("/initConversation", s.handleInitConversation)
		r.Post("/processConversation", s.handleProcessConversation)
		r.Get("/getProfile", s.handleGetProfile)
		r.Delete("/resetConversation", s.handleResetConversation)
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Wait blocks until all background conversation runs have finished. Called
// on shutdown so in-flight replies still get delivered.
func (s *Server) Wait() { s.background.Wait() }

// dispatch runs fn on a tracked background goroutine with a fresh context,
// mirroring the historically asynchronous processing of inbound messages.
func (s *Server) dispatch(name, key string, fn func(ctx context.Context)) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("api.background.panic", "handler", name, "key", key, "recover", r)
			}
		}()
		fn(context.Background())
	}()
}

// send delivers text to the recipient when a Sender is configured.
func (s *Server) send(ctx context.Context, recipient, text string) {
	if s.opts.Sender == nil || text == "" {
		return
	}
	if err := s.opts.Sender(ctx, recipient, stripMarkdown(text)); err != nil {
		s.logger.Warn("api.send.failed", "recipient", recipient, "error", err.Error())
	}
}
