package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/folio-chat/folio/internal/api"
	"github.com/folio-chat/folio/internal/auth"
	"github.com/folio-chat/folio/internal/chat"
	"github.com/folio-chat/folio/internal/config"
	"github.com/folio-chat/folio/internal/conversation"
	"github.com/folio-chat/folio/internal/database"
	"github.com/folio-chat/folio/internal/ingest"
	"github.com/folio-chat/folio/internal/knowledge"
	"github.com/folio-chat/folio/internal/llm"
	"github.com/folio-chat/folio/internal/log"
	"github.com/folio-chat/folio/internal/observability"
	"github.com/folio-chat/folio/internal/project"
	"github.com/folio-chat/folio/internal/tools"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute // SSE streaming needs longer timeout
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

// runServe initializes and starts the HTTP API server.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	addr, err := parseServeAddr(cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("parsing address: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting folio", "version", Version)

	if cfg.Telemetry.Enabled {
		shutdownTracing, err := observability.Setup(ctx, observability.Config{
			Endpoint:    cfg.Telemetry.Endpoint,
			ServiceName: cfg.Telemetry.ServiceName,
			Environment: cfg.Telemetry.Environment,
		}, logger)
		if err != nil {
			return fmt.Errorf("setting up tracing: %w", err)
		}
		defer func() {
			flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer flushCancel()
			if err := shutdownTracing(flushCtx); err != nil {
				logger.Warn("tracing shutdown", "error", err)
			}
		}()
	}

	if err := database.Migrate(cfg.Database.URL, logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	pool, err := database.New(ctx, cfg.Database.URL, logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	registry := llm.NewRegistry(buildProviders(cfg, logger)...)

	users := auth.NewStore(pool, logger)
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	authSvc := auth.NewService(users, tokens, cfg.Auth.BcryptCost, logger)

	projects := project.NewStore(pool, logger)
	conversations := conversation.NewStore(pool, logger)

	// Knowledge needs an embedding backend; without Ollama the file API
	// and the document tool stay off and chat runs plain.
	var searcher tools.Searcher
	var files api.FileStore
	var ingestor api.Ingestor
	if cfg.Providers.Ollama.Enabled {
		embedder := knowledge.NewOllamaEmbedder(
			cfg.Providers.Ollama.Host, cfg.Ingest.EmbedModel, cfg.Ingest.EmbedDim, logger)
		store := knowledge.NewStore(pool, embedder, logger)
		chunker := knowledge.NewChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
		searcher = store
		files = store
		ingestor = ingest.New(store, chunker, cfg.Ingest.MaxFileBytes, logger)
	} else {
		logger.Warn("ollama disabled, file ingestion and document search are off")
	}

	orch := chat.New(registry, conversations, projects, searcher, chat.Config{
		DefaultProvider: cfg.Chat.DefaultProvider,
		DefaultModel:    cfg.Chat.DefaultModel,
		HistoryLimit:    cfg.Chat.HistoryLimit,
		IdleTimeout:     cfg.Chat.IdleTimeout,
		MaxToolRounds:   cfg.Chat.MaxToolRounds,
		ToolTimeout:     cfg.Chat.ToolTimeout,
		SearchLimit:     cfg.Chat.SearchLimit,
	}, logger)

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:          logger,
		Auth:            authSvc,
		Orchestrator:    orch,
		Registry:        registry,
		Projects:        projects,
		Conversations:   conversations,
		Files:           files,
		Ingestor:        ingestor,
		Pool:            pool,
		DefaultProvider: cfg.Chat.DefaultProvider,
		DefaultModel:    cfg.Chat.DefaultModel,
		CORSOrigins:     cfg.Server.CORSOrigins,
		TrustProxy:      cfg.Server.TrustProxy,
		RateRPS:         cfg.Server.RateRPS,
		RateBurst:       cfg.Server.RateBurst,
		IsDev:           cfg.IsDev(),
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready",
		"addr", addr,
		"api", "/api/v1/*",
		"health", "/health, /ready",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}

// buildProviders constructs the enabled model backends in a fixed order
// so the providers endpoint lists them deterministically.
func buildProviders(cfg *config.Config, logger log.Logger) []llm.Provider {
	var providers []llm.Provider
	if cfg.Providers.Ollama.Enabled {
		providers = append(providers,
			llm.NewOllamaProvider(cfg.Providers.Ollama.Host, cfg.Providers.Ollama.Models, logger))
	}
	if cfg.Providers.Serpro.Enabled {
		providers = append(providers, llm.NewSerproProvider(llm.SerproConfig{
			TokenURL:       cfg.Providers.Serpro.TokenURL,
			BaseURL:        cfg.Providers.Serpro.BaseURL,
			ConsumerKey:    cfg.Providers.Serpro.ConsumerKey,
			ConsumerSecret: cfg.Providers.Serpro.ConsumerSecret,
			Models:         cfg.Providers.Serpro.Models,
		}, logger))
	}
	if cfg.Providers.OpenAI.Enabled {
		providers = append(providers, llm.NewOpenAIProvider(
			cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.BaseURL, cfg.Providers.OpenAI.Models, logger))
	}
	return providers
}

// newLogger builds the process logger from configuration.
func newLogger(cfg *config.Config) (log.Logger, error) {
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	return log.New(log.Config{Level: level, JSON: cfg.Log.JSON}), nil
}
