package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mail-insights/internal/cronexpr"
	"mail-insights/internal/database"
	"mail-insights/internal/llm"
	"mail-insights/internal/progress"
	"mail-insights/internal/workers"
)

// Deps carries everything the API handlers need.
type Deps struct {
	DB           *database.DB
	LLM          llm.Client
	Cron         *cronexpr.Evaluator
	Orchestrator *workers.Orchestrator
	Hub          *progress.Hub
	Logger       *slog.Logger
}

// NewRouter builds the API router with all routes registered.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(deps.DB, deps.LLM)
	accounts := NewAccountHandler(deps.DB, deps.Logger)
	schedules := NewScheduleHandler(deps.DB, deps.Cron, deps.Orchestrator, deps.Logger)
	emails := NewEmailHandler(deps.DB, deps.Logger)
	stream := NewStreamHandler(deps.Hub, deps.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", health.HealthCheck)

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", accounts.List)
			r.Post("/", accounts.Create)
			r.Get("/{id}", accounts.Get)
			r.Put("/{id}/active", accounts.SetActive)
		})

		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", schedules.List)
			r.Post("/", schedules.Create)
			r.Get("/{id}", schedules.Get)
			r.Put("/{id}", schedules.Update)
			r.Delete("/{id}", schedules.Delete)
			r.Post("/{id}/run", schedules.Run)
			r.Get("/{id}/executions", schedules.Executions)
			r.Get("/{id}/preview", schedules.Preview)
		})

		r.Route("/emails", func(r chi.Router) {
			r.Get("/", emails.List)
			r.Get("/{id}", emails.Get)
		})

		r.Get("/progress/stream", stream.Stream)
	})

	return r
}

// requestLogger logs one line per request with status and latency.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("Request handled",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds())
		})
	}
}
