package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/meridian-ai/meridian/internal/api"
	"github.com/meridian-ai/meridian/internal/audit"
	"github.com/meridian-ai/meridian/internal/config"
	"github.com/meridian-ai/meridian/internal/governance"
	"github.com/meridian-ai/meridian/internal/hitl"
	"github.com/meridian-ai/meridian/internal/intent"
	"github.com/meridian-ai/meridian/internal/metrics"
	"github.com/meridian-ai/meridian/internal/orchestrator"
	"github.com/meridian-ai/meridian/internal/provider"
	"github.com/meridian-ai/meridian/internal/retrieval"
	"github.com/meridian-ai/meridian/internal/risk"
	"github.com/meridian-ai/meridian/internal/router"
	"github.com/meridian-ai/meridian/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("MERIDIAN_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env; model backends and profiles come from the YAML file.
	httpPort := envOrDefault("MERIDIAN_HTTP_PORT", "8080")
	configPath := envOrDefault("MERIDIAN_CONFIG", "meridian.yaml")
	cacheTTL := envOrDefaultInt("MERIDIAN_AUTH_CACHE_TTL_S", 30)
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	postgresDSN := os.Getenv("POSTGRES_DSN")

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", configPath), zap.Error(err))
	}

	logger.Info("starting meridian server",
		zap.String("http_port", httpPort),
		zap.String("config", configPath),
		zap.Int("backends", len(cfg.Backends)),
		zap.Int("profiles", len(cfg.Profiles)),
	)

	// Provider clients, in fallback priority order. The first ollama backend
	// doubles as the embedder for intent classification.
	var (
		clients  []provider.Client
		embedder intent.Embedder
	)
	for _, b := range cfg.Backends {
		switch b.Type {
		case "openai":
			clients = append(clients, provider.NewOpenAIClient(provider.OpenAIConfig{
				ID:           b.ID,
				Endpoint:     b.BaseURL,
				APIKey:       os.Getenv(b.APIKeyEnv),
				Models:       b.Models,
				DefaultModel: b.DefaultModel,
			}))
		case "anthropic":
			clients = append(clients, provider.NewAnthropicClient(provider.AnthropicConfig{
				ID:           b.ID,
				Endpoint:     b.BaseURL,
				APIKey:       os.Getenv(b.APIKeyEnv),
				Models:       b.Models,
				DefaultModel: b.DefaultModel,
			}))
		case "ollama":
			oc := provider.NewOllamaClient(provider.OllamaConfig{
				ID:             b.ID,
				BaseURL:        b.BaseURL,
				Models:         b.Models,
				DefaultModel:   b.DefaultModel,
				EmbeddingModel: b.EmbeddingModel,
			})
			clients = append(clients, oc)
			if embedder == nil {
				embedder = oc
			}
		}
	}

	// Postgres pool (required: rules, approvals, sessions, api clients)
	if postgresDSN == "" {
		logger.Fatal("POSTGRES_DSN is required")
	}
	db, err := sql.Open("pgx", postgresDSN)
	if err != nil {
		logger.Fatal("failed to open postgres", zap.Error(err))
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(context.Background()); err != nil {
		logger.Fatal("failed to ping postgres", zap.Error(err))
	}
	pgStore := store.NewStore(db)
	logger.Info("postgres connected")

	// Governance engine + approval queue share the Postgres store.
	engine := governance.NewEngine(pgStore, logger)
	queue := hitl.NewQueue(pgStore, logger)

	// Model router with usage accounting.
	rt, err := router.New(clients, cfg.ProfileModels(), cfg.DefaultModel, logger)
	if err != nil {
		logger.Fatal("failed to build model router", zap.Error(err))
	}
	collector := metrics.NewCollector()
	rt.OnCompletion(collector.Record)

	// Audit events — ClickHouse or LogWriter fallback
	var writer audit.EventWriter
	if clickhouseDSN != "" {
		chWriter, err := audit.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = audit.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = audit.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	// ClickHouse reader (for events/analytics HTTP endpoints)
	var chReader *audit.Reader
	if clickhouseDSN != "" {
		chReader, err = audit.NewReader(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
			chReader = nil
		} else {
			defer func() { _ = chReader.Close() }()
			logger.Info("clickhouse reader connected")
		}
	}

	// Intent classification: embedding-based when a local backend can embed,
	// keyword scoring otherwise.
	registry := intent.NewRegistry(intent.DefaultDomains())
	var classifier orchestrator.Classifier
	if embedder != nil {
		classifier = intent.NewEmbeddingClassifier(context.Background(), registry, embedder, logger)
		logger.Info("embedding classifier enabled")
	} else {
		classifier = keywordClassifier{c: intent.NewClassifier(registry)}
	}

	detector := risk.NewDetector(risk.NewRegistry(risk.BaseSignals()))

	orchCfg := orchestrator.Config{
		Classifier: classifier,
		Detector:   detector,
		Policy:     engine,
		Router:     rt,
		Sessions:   pgStore,
		Approvals:  queue,
		Events:     writer,
		Identity:   cfg.Identity,
		Profiles:   orchestratorProfiles(cfg),
	}
	if cfg.Retrieval.BaseURL != "" {
		orchCfg.Retriever = retrieval.NewClient(cfg.Retrieval.BaseURL, logger)
		logger.Info("retrieval enabled", zap.String("base_url", cfg.Retrieval.BaseURL))
	}
	orch := orchestrator.New(orchCfg, logger)

	deps := &api.Dependencies{
		Store:        pgStore,
		Orchestrator: orch,
		Engine:       engine,
		Queue:        queue,
		Router:       rt,
		Metrics:      collector,
		Reader:       chReader,
		Logger:       logger,
		CacheTTL:     time.Duration(cacheTTL) * time.Second,
	}
	httpServer := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // streaming responses outlive any fixed write budget
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("meridian server stopped")
}

// keywordClassifier adapts the context-free keyword classifier to the
// orchestrator's interface.
type keywordClassifier struct {
	c *intent.Classifier
}

func (k keywordClassifier) Classify(_ context.Context, text string) *intent.Intent {
	return k.c.Classify(text)
}

func orchestratorProfiles(cfg *config.Config) map[string]orchestrator.Profile {
	out := make(map[string]orchestrator.Profile, len(cfg.Profiles))
	for name, p := range cfg.Profiles {
		out[name] = orchestrator.Profile{
			Model:         p.Model,
			Temperature:   p.Temperature,
			MaxTokens:     p.MaxTokens,
			ContextTokens: p.ContextTokens,
			SystemPrompt:  p.SystemPrompt,
		}
	}
	return out
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
