// Package router wires the HTTP surface: health, query, upload, job status.
package router

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/connexus-ai/ragbox-backend/internal/handler"
	"github.com/connexus-ai/ragbox-backend/internal/middleware"
)

// Dependencies holds all injected services needed by the router.
type Dependencies struct {
	DB          handler.DBPinger
	FrontendURL string
	Version     string
	Metrics     *middleware.Metrics
	MetricsReg  *prometheus.Registry

	Query  handler.QueryDeps
	Upload handler.UploadDeps
	Jobs   handler.JobStatusGetter

	QueryTimeout time.Duration

	// Rate limiters (nil = no rate limiting)
	QueryRateLimiter  *middleware.RateLimiter
	UploadRateLimiter *middleware.RateLimiter

	// UploadAuth guards /upload, the one route that mutates the corpus. nil
	// leaves the route open (used in tests and local dev without Firebase
	// credentials configured).
	UploadAuth func(http.Handler) http.Handler
}

// New creates and configures the Chi router with all routes.
func New(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(deps.FrontendURL))
	if deps.Metrics != nil {
		r.Use(middleware.Monitoring(deps.Metrics))
	}

	r.Get("/api/health", handler.Health(deps.DB, deps.Version))
	if deps.MetricsReg != nil {
		r.Handle("/metrics", middleware.MetricsHandler(deps.MetricsReg))
	}

	queryTimeout := deps.QueryTimeout
	if queryTimeout <= 0 {
		queryTimeout = 60 * time.Second
	}

	queryMiddleware := []func(http.Handler) http.Handler{middleware.Timeout(queryTimeout)}
	if deps.QueryRateLimiter != nil {
		queryMiddleware = append(queryMiddleware, middleware.RateLimit(deps.QueryRateLimiter))
	}
	r.With(queryMiddleware...).Post("/query", handler.Query(deps.Query))

	uploadMiddleware := []func(http.Handler) http.Handler{middleware.Timeout(120 * time.Second)}
	if deps.UploadAuth != nil {
		uploadMiddleware = append(uploadMiddleware, deps.UploadAuth)
	}
	if deps.UploadRateLimiter != nil {
		uploadMiddleware = append(uploadMiddleware, middleware.RateLimit(deps.UploadRateLimiter))
	}
	r.With(uploadMiddleware...).Post("/upload", handler.Upload(deps.Upload))

	r.With(middleware.Timeout(10 * time.Second)).Get("/job/{id}", handler.JobStatus(deps.Jobs))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"error":   "route not found",
		})
	})

	return r
}
