// convoloop - conversational agent orchestration server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/convoloop/convoloop/agent"
	"github.com/convoloop/convoloop/api"
	"github.com/convoloop/convoloop/config"
	"github.com/convoloop/convoloop/directory"
	"github.com/convoloop/convoloop/logging"
	"github.com/convoloop/convoloop/memory"
	"github.com/convoloop/convoloop/model"
	"github.com/convoloop/convoloop/model/anthropic"
	"github.com/convoloop/convoloop/model/openai"
	"github.com/convoloop/convoloop/resilience"
	"github.com/convoloop/convoloop/retrieval"
	"github.com/convoloop/convoloop/tool"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, logLevel(cfg.LogLevel), "json")
	logger.Info("starting", "port", cfg.Port, "provider", cfg.ModelProvider)

	store, err := memory.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		logger.Error("conversation store init failed", "error", err.Error())
		os.Exit(1)
	}
	defer store.Close()

	profiles, err := directory.NewSQLiteDirectory(cfg.DBPath)
	if err != nil {
		logger.Error("client directory init failed", "error", err.Error())
		os.Exit(1)
	}
	defer profiles.Close()

	index, err := retrieval.NewSQLiteIndex(cfg.DBPath)
	if err != nil {
		logger.Error("vector index init failed", "error", err.Error())
		os.Exit(1)
	}
	defer index.Close()

	mgr := buildResilience(cfg, logger)

	retriever := buildRetriever(cfg, index, mgr, logger)

	tools := tool.NewRegistry(mgr, logger)
	if err := registerTools(tools, retriever, profiles); err != nil {
		logger.Error("tool registration failed", "error", err.Error())
		os.Exit(1)
	}

	m, err := buildModel(cfg)
	if err != nil {
		logger.Error("model init failed", "error", err.Error())
		os.Exit(1)
	}

	registry := agent.NewRegistry(logger)
	defer registry.Close()
	err = registry.Register("product", func() (*agent.Session, error) {
		return agent.NewSession("product", m, tools, store, mgr, func(o *agent.Options) {
			o.Instructions = cfg.Agent.Instructions
			o.MaxIterations = cfg.Agent.MaxIterations
			o.HistoryLimit = cfg.Agent.HistoryLimit
			o.FallbackReply = cfg.Agent.FallbackReply
			o.RunTimeout = cfg.Agent.RunTimeout
			o.Logger = logger
		}), nil
	})
	if err != nil {
		logger.Error("agent registration failed", "error", err.Error())
		os.Exit(1)
	}

	server := api.NewServer(registry, func(o *api.ServerOptions) {
		o.Logger = logger
		// Outbound delivery is wired to the messaging channel in deployment;
		// the default logs what would have been sent.
		o.Sender = func(_ context.Context, recipient, message string) error {
			logger.Info("outbound", "recipient", recipient, "length", len(message))
			return nil
		}
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err.Error())
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", "error", err.Error())
	}
	// Drain background conversation runs so in-flight replies still land.
	server.Wait()
	logger.Info("stopped")
}

// buildResilience configures per-dependency wrappers before first use.
func buildResilience(cfg *config.Config, logger logging.Logger) *resilience.Manager {
	mgr := resilience.NewManager(resilience.DefaultConfig(), logger)

	mgr.Configure(agent.DependencyModel, resilience.Config{
		RatePerSecond:    cfg.Model.RatePerSecond,
		Burst:            cfg.Model.Burst,
		FailureThreshold: cfg.Model.FailureThreshold,
		RecoveryTimeout:  cfg.Model.RecoveryTimeout,
		PoolSize:         cfg.Model.PoolSize,
		Retry: resilience.RetryPolicy{
			MaxAttempts: cfg.Model.MaxAttempts,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    5 * time.Second,
		},
		// Malformed model output is the loop's problem (re-prompt), not a
		// transport fault; everything else from the provider is worth a retry.
		Retryable: func(err error) bool {
			var parseErr *model.ParseError
			var open *resilience.CircuitOpenError
			return !errors.As(err, &parseErr) && !errors.As(err, &open)
		},
	})
	mgr.Configure(agent.DependencyMemory, resilience.Config{
		RatePerSecond:    cfg.Memory.RatePerSecond,
		Burst:            cfg.Memory.Burst,
		FailureThreshold: cfg.Memory.FailureThreshold,
		RecoveryTimeout:  cfg.Memory.RecoveryTimeout,
		PoolSize:         cfg.Memory.PoolSize,
		Retry: resilience.RetryPolicy{
			MaxAttempts: cfg.Memory.MaxAttempts,
			BaseDelay:   50 * time.Millisecond,
			MaxDelay:    time.Second,
		},
	})
	return mgr
}

// buildRetriever wires the two-layer cache, preferring redis when configured.
func buildRetriever(cfg *config.Config, index *retrieval.SQLiteIndex, mgr *resilience.Manager, logger logging.Logger) *retrieval.CachedRetriever {
	embedder := retrieval.NewOpenAIEmbedder()

	var embedCache, resultCache retrieval.Cache
	if cfg.RedisAddr != "" {
		client, err := retrieval.NewRedisClient(context.Background(), cfg.RedisAddr, cfg.RedisPassword, 0)
		if err != nil {
			logger.Warn("redis unavailable, using in-process cache", "error", err.Error())
		} else {
			embedCache = retrieval.NewRedisCache(client, "embed")
			resultCache = retrieval.NewRedisCache(client, "search")
		}
	}

	return retrieval.NewCachedRetriever(embedder, index, mgr, func(o *retrieval.RetrieverOptions) {
		o.EmbedTTL = cfg.Retrieval.EmbedTTL
		o.ResultTTL = cfg.Retrieval.ResultTTL
		o.EmbedCache = embedCache
		o.ResultCache = resultCache
		o.Logger = logger
	})
}

// registerTools installs the product-sales tool set.
func registerTools(tools *tool.Registry, retriever *retrieval.CachedRetriever, profiles *directory.SQLiteDirectory) error {
	err := tools.Register(tool.Definition{
		Name:        "search_products",
		Description: "Search the product catalog for items matching the query. Returns ranked matches with title, description and metadata.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "Free-text product search query."},
				"limit": map[string]any{"type": "number", "description": "Maximum results to return (default 5)."},
			},
			"required": []string{"query"},
		},
		DependencyID: retrieval.DependencyVectorStore,
		Idempotent:   true,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			limit := 5
			if n, ok := args["limit"].(float64); ok && n > 0 {
				limit = int(n)
			}
			docs, err := retriever.Search(ctx, query, limit, nil)
			if err != nil {
				return nil, err
			}
			if len(docs) == 0 {
				return "No matching products found.", nil
			}
			raw, err := json.Marshal(docs)
			if err != nil {
				return nil, err
			}
			return string(raw), nil
		},
	})
	if err != nil {
		return err
	}

	return tools.Register(tool.Definition{
		Name:        "get_client_profile",
		Description: "Look up what is known about a client by their phone number.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"phone": map[string]any{"type": "string", "description": "Client phone number, digits only."},
			},
			"required": []string{"phone"},
		},
		DependencyID: "client_directory",
		Idempotent:   true,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			phone, _ := args["phone"].(string)
			p, err := profiles.Get(ctx, phone)
			if errors.Is(err, directory.ErrNotFound) {
				return "Client profile not found.", nil
			}
			if err != nil {
				return nil, err
			}
			return p.Summary(), nil
		},
	})
}

// buildModel selects the inference backend.
func buildModel(cfg *config.Config) (model.Model, error) {
	switch cfg.ModelProvider {
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if cfg.ModelName != "" {
				o.Model = cfg.ModelName
			}
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.APIKey = cfg.AnthropicAPIKey
			if cfg.ModelName != "" {
				o.Model = anthropicsdk.Model(cfg.ModelName)
			}
		}), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.ModelProvider)
	}
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
