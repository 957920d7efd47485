// Command saibond runs the composed saiban process: one HTTP server serving
// Ingest, Decision, Explain, Execute, and Learner.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opsloop/saiban/internal/config"
	"github.com/opsloop/saiban/internal/decision"
	"github.com/opsloop/saiban/internal/execute"
	"github.com/opsloop/saiban/internal/explain"
	"github.com/opsloop/saiban/internal/ingest"
	"github.com/opsloop/saiban/internal/learner"
	"github.com/opsloop/saiban/internal/llm"
	"github.com/opsloop/saiban/internal/model"
	"github.com/opsloop/saiban/internal/nnindex"
	"github.com/opsloop/saiban/internal/server"
	"github.com/opsloop/saiban/internal/storage"
	"github.com/opsloop/saiban/internal/telemetry"
	"github.com/opsloop/saiban/internal/tracker"
	"github.com/opsloop/saiban/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := parseLogLevel(os.Getenv("SAIBAN_LOG_LEVEL"))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("saiban starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTLPEndpoint, "saiban", cfg.ServiceVersion, cfg.OTLPInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close(ctx)

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	chatProvider, completionProvider, embedder := newLLMProviders(cfg, logger)
	projector := llm.NewProjector(cfg.EmbeddingDim)

	workItemIndex, err := newNNIndex(ctx, cfg, cfg.QdrantWorkItemCollection, logger)
	if err != nil {
		return fmt.Errorf("nnindex (work items): %w", err)
	}
	if workItemIndex != nil {
		defer func() { _ = workItemIndex.Close() }()
	}

	humanIndex, err := newNNIndex(ctx, cfg, cfg.QdrantHumanCollection, logger)
	if err != nil {
		return fmt.Errorf("nnindex (humans): %w", err)
	}
	if humanIndex != nil {
		defer func() { _ = humanIndex.Close() }()
	}

	trackerProvider := newTrackerProvider(cfg, logger)

	learnerSvc := learner.New(db, embedder, projector, humanIndex, logger)
	executeSvc := execute.New(db, trackerProvider, cfg, logger)
	explainSvc := explain.New(chatProvider, logger)

	decisionSvc := decision.New(db, embedder, workItemIndex, learnerSvc, explainSvc, executeSvc, decision.Config{
		SimilarIncidentLimit: cfg.SimilarIncidentLimit,
		Fanout:               cfg.DecisionFanout,
		TxMaxRetries:         cfg.DecisionTxMaxRetries,
		TxBaseDelay:          cfg.DecisionTxBaseDelay,
	}, logger)

	ingestSvc := ingest.New(db, embedder, completionProvider, projector, workItemIndex, decisionSvc, learnerSvc, ingest.Config{
		WebhookSecret:         cfg.WebhookSecret,
		WebhookUrgencyHighSev: model.Severity(cfg.WebhookUrgencyHighSev),
		WebhookUrgencyLowSev:  model.Severity(cfg.WebhookUrgencyLowSev),
		DecisionFanout:        cfg.DecisionFanout,
	}, logger)

	refreshWorker := learner.NewRefreshWorker(learnerSvc, logger, cfg.EmbeddingRefreshInterval, cfg.EmbeddingRefreshWorkers)
	refreshWorker.Start(ctx)

	srv := server.New(server.ServerConfig{
		DB: db,
		Handlers: server.HandlersDeps{
			Ingest:   ingestSvc,
			Decision: decisionSvc,
			Explain:  explainSvc,
			Execute:  executeSvc,
			Learner:  learnerSvc,
			Cfg:      cfg,
			Logger:   logger,
		},
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		CORSOrigins:  cfg.CORSAllowedOrigins,
		Logger:       logger,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	slog.Info("saiban shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	refreshWorker.Drain(shutdownCtx)

	slog.Info("saiban stopped")
	return nil
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
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

// newLLMProviders constructs the chat, cleanup, and embedding providers for
// the configured backend. Ollama has no embedding API wired in this pack, so
// LLM_PROVIDER=ollama uses the noop embedding provider — chat and cleanup
// alone run against Ollama.
func newLLMProviders(cfg config.Config, logger *slog.Logger) (llm.ChatProvider, llm.CompletionProvider, llm.EmbeddingProvider) {
	switch cfg.LLMProvider {
	case "openai":
		chat, err := llm.NewOpenAIChatProvider(cfg.LLMAPIKey, cfg.LLMChatModel)
		if err != nil {
			logger.Error("openai chat provider init failed, falling back to noop", "error", err)
			chat = nil
		}
		completion, err := llm.NewOpenAICompletionProvider(cfg.LLMAPIKey, cfg.LLMChatModel)
		if err != nil {
			logger.Error("openai completion provider init failed, falling back to noop", "error", err)
			completion = nil
		}
		embedder, err := llm.NewOpenAIEmbeddingProvider(cfg.LLMAPIKey, cfg.LLMEmbeddingModel, cfg.EmbeddingDim)
		if err != nil {
			logger.Error("openai embedding provider init failed, falling back to noop", "error", err)
			return chatOrNoop(chat), completionOrNoop(completion), llm.NewNoopEmbeddingProvider(cfg.EmbeddingDim)
		}
		logger.Info("llm provider: openai", "chat_model", cfg.LLMChatModel, "embedding_model", cfg.LLMEmbeddingModel)
		return chatOrNoop(chat), completionOrNoop(completion), embedder

	case "ollama":
		logger.Info("llm provider: ollama (chat/cleanup only, embeddings via noop)", "base_url", cfg.LLMBaseURL, "model", cfg.LLMChatModel)
		chat := llm.NewOllamaChatProvider(cfg.LLMBaseURL, cfg.LLMChatModel)
		completion := llm.NewOllamaCompletionProvider(cfg.LLMBaseURL, cfg.LLMChatModel)
		if err := chat.Warmup(context.Background()); err != nil {
			logger.Warn("ollama chat warmup failed", "error", err)
		}
		if err := completion.Warmup(context.Background()); err != nil {
			logger.Warn("ollama completion warmup failed", "error", err)
		}
		return chat, completion, llm.NewNoopEmbeddingProvider(cfg.EmbeddingDim)

	default:
		logger.Info("llm provider: noop")
		return llm.NoopChatProvider{}, llm.NoopCompletionProvider{}, llm.NewNoopEmbeddingProvider(cfg.EmbeddingDim)
	}
}

func chatOrNoop(p *llm.OpenAIChatProvider) llm.ChatProvider {
	if p == nil {
		return llm.NoopChatProvider{}
	}
	return p
}

func completionOrNoop(p *llm.OpenAICompletionProvider) llm.CompletionProvider {
	if p == nil {
		return llm.NoopCompletionProvider{}
	}
	return p
}

// newNNIndex constructs a Qdrant-backed index for one collection, returning
// nil (not an error) when QDRANT_ADDR is unset — every caller degrades
// gracefully to a nil index.
func newNNIndex(parent context.Context, cfg config.Config, collection string, logger *slog.Logger) (*nnindex.Index, error) {
	if cfg.QdrantAddr == "" {
		logger.Info("nnindex: disabled (no QDRANT_ADDR)", "collection", collection)
		return nil, nil
	}

	idx, err := nnindex.New(nnindex.Config{
		URL:        cfg.QdrantAddr,
		APIKey:     cfg.QdrantAPIKey,
		Collection: collection,
		Dims:       uint64(cfg.EmbeddingDim), //nolint:gosec // validated positive in config.Validate
	}, logger)
	if err != nil {
		return nil, err
	}

	setupCtx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()
	if err := idx.EnsureCollection(setupCtx, "service"); err != nil {
		return nil, fmt.Errorf("ensure collection %s: %w", collection, err)
	}

	logger.Info("nnindex: enabled", "collection", collection)
	return idx, nil
}

func newTrackerProvider(cfg config.Config, logger *slog.Logger) tracker.Provider {
	if cfg.TrackerMode == "live" {
		logger.Info("tracker: live", "base_url", cfg.TrackerBaseURL)
		return tracker.NewHTTP(cfg.TrackerBaseURL, cfg.TrackerAPIToken)
	}
	logger.Info("tracker: mock")
	return tracker.NewMock()
}
