package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/recallhq/recall/internal/database"
	mw "github.com/recallhq/recall/internal/middleware"
)

// HandlerSet holds handler functions injected from main.go to avoid import
// cycles.
type HandlerSet struct {
	// Memory handlers
	AddMemory        http.HandlerFunc
	AddMemoryBatch   http.HandlerFunc
	SearchMemories   http.HandlerFunc
	SearchAgents     http.HandlerFunc
	ListMemories     http.HandlerFunc
	GetMemory        http.HandlerFunc
	DeleteMemory     http.HandlerFunc
	DeprecateMemory  http.HandlerFunc
	ApplyMemoryDelta http.HandlerFunc
	ExportMemories   http.HandlerFunc

	// Voting handlers
	Vote           http.HandlerFunc
	CurationReport http.HandlerFunc

	// Event timeline
	ListEvents http.HandlerFunc

	// Middleware
	AuthMiddleware func(http.Handler) http.Handler
	Admission      func(http.Handler) http.Handler

	// NATSHealthy reports event-pipeline connectivity; nil when NATS is not
	// configured.
	NATSHealthy func() bool
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
}

func NewRouter(pool *pgxpool.Pool, rdb *redis.Client, cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe, always 200, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	// Readiness probe checks DB, Redis, NATS
	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status":   "healthy",
			"database": "healthy",
			"redis":    "healthy",
			"nats":     "healthy",
		}

		status := http.StatusOK

		if err := database.HealthCheck(r.Context(), pool); err != nil {
			health["database"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		if rdb != nil {
			if err := rdb.Ping(r.Context()).Err(); err != nil {
				// Admission fails open without Redis, so a Redis outage
				// degrades but does not fail readiness.
				health["redis"] = "unhealthy"
				health["status"] = "degraded"
			}
		} else {
			health["redis"] = "not configured"
		}

		if h.NATSHealthy != nil {
			if !h.NATSHealthy() {
				health["nats"] = "unhealthy"
				health["status"] = "degraded"
			}
		} else {
			health["nats"] = "not configured"
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API v1: everything is authenticated and admission-controlled
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.AuthMiddleware)
		if h.Admission != nil {
			r.Use(h.Admission)
		}

		r.Route("/memories", func(r chi.Router) {
			r.Post("/", h.AddMemory)
			r.Get("/", h.ListMemories)
			r.Post("/batch", h.AddMemoryBatch)
			r.Post("/search", h.SearchMemories)
			r.Post("/search/agents", h.SearchAgents)
			r.Post("/delta", h.ApplyMemoryDelta)
			r.Get("/export", h.ExportMemories)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetMemory)
				r.Delete("/", h.DeleteMemory)
				r.Post("/vote", h.Vote)
				r.Post("/deprecate", h.DeprecateMemory)
			})
		})

		r.Get("/events", h.ListEvents)
		r.Get("/curation/report", h.CurationReport)
	})

	return r
}
