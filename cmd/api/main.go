package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/recallhq/recall/internal/api"
	"github.com/recallhq/recall/internal/auth"
	"github.com/recallhq/recall/internal/config"
	"github.com/recallhq/recall/internal/database"
	"github.com/recallhq/recall/internal/embedding"
	"github.com/recallhq/recall/internal/events"
	"github.com/recallhq/recall/internal/memory"
	"github.com/recallhq/recall/internal/ratelimit"
	iredis "github.com/recallhq/recall/internal/redis"
	"github.com/recallhq/recall/internal/server"
	"github.com/recallhq/recall/internal/voting"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if path := os.Getenv("MIGRATIONS_PATH"); path != "" {
		if err := database.RunMigrations(cfg.DB.DSN(), path); err != nil {
			slog.Error("running migrations", "error", err)
			os.Exit(1)
		}
	}

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// NATS is optional: without it events are written straight to Postgres.
	eventRepo := events.NewRepository(pool)
	var recorder events.Recorder
	var natsClient *events.Client
	if cfg.NATS.URL != "" {
		natsClient, err = events.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Error("connecting to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		recorder = events.NewNATSRecorder(natsClient.JetStream())
	} else {
		slog.Info("NATS not configured, recording events directly")
		recorder = events.NewDirectRecorder(eventRepo)
	}

	// Embeddings
	provider := embedding.NewOpenAIProvider(cfg.Embedding)
	cacheStore := embedding.NewPostgresCacheStore(pool, cfg.Embedding.Model)
	cache, err := embedding.NewCache(cfg.Embedding.CacheMaxEntries, cacheStore)
	if err != nil {
		slog.Error("creating embedding cache", "error", err)
		os.Exit(1)
	}
	embedSvc := embedding.NewService(provider, cache, cfg.Embedding.MaxBatchSize,
		embedding.NewRetryPolicy(cfg.Embedding.MaxAttempts, cfg.Embedding.RetryBase))

	// Memory
	memRepo := memory.NewPostgresRepository(pool)
	memSvc := memory.NewService(memRepo, embedSvc, recorder)
	memHandler := memory.NewHandler(memSvc)
	sweeper := memory.NewSweeper(memRepo, cfg.Sweeper.Interval, cfg.Sweeper.BatchSize)

	// Voting
	voteRepo := voting.NewRepository(pool)
	voteSvc := voting.NewService(voteRepo, recorder, cfg.Curation)
	voteHandler := voting.NewHandler(voteSvc)

	// Events timeline
	eventHandler := events.NewHandler(eventRepo)

	// Auth
	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, 24*time.Hour)
	keyVerifier, err := auth.NewAPIKeyVerifier(cfg.Auth.APIKeys)
	if err != nil {
		slog.Error("parsing api keys", "error", err)
		os.Exit(1)
	}

	// Admission control
	var limiter ratelimit.Limiter
	limits := ratelimit.Limits{PerMinute: cfg.RateLimit.PerMinute, PerHour: cfg.RateLimit.PerHour}
	if cfg.RateLimit.Backend == "local" {
		limiter = ratelimit.NewLocalLimiter(limits)
	} else {
		limiter = ratelimit.NewRedisLimiter(redisClient, limits)
	}
	admission := ratelimit.Middleware(limiter, func(r *http.Request) string {
		return auth.GetIdentity(r.Context()).ProjectID
	})

	var natsHealthy func() bool
	if natsClient != nil {
		natsHealthy = natsClient.Healthy
	}

	router := api.NewRouter(pool, redisClient, api.RouterConfig{
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
	}, api.HandlerSet{
		AddMemory:        memHandler.Add,
		AddMemoryBatch:   memHandler.AddBatch,
		SearchMemories:   memHandler.Search,
		SearchAgents:     memHandler.SearchAgents,
		ListMemories:     memHandler.List,
		GetMemory:        memHandler.Get,
		DeleteMemory:     memHandler.Delete,
		DeprecateMemory:  memHandler.Deprecate,
		ApplyMemoryDelta: memHandler.ApplyDelta,
		ExportMemories:   memHandler.Export,

		Vote:           voteHandler.Vote,
		CurationReport: voteHandler.CurationReport,

		ListEvents: eventHandler.List,

		AuthMiddleware: auth.Middleware(jwtManager, keyVerifier),
		Admission:      admission,

		NATSHealthy: natsHealthy,
	})

	srv := server.New(cfg.Server, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(ctx) })
	g.Go(func() error { return sweeper.Start(ctx) })
	if natsClient != nil {
		consumer := events.NewConsumer(eventRepo, natsClient.JetStream())
		g.Go(func() error { return consumer.Start(ctx) })
	}

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
