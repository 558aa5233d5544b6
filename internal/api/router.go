package api

import (
	"context"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/video-stream/transcriber/internal/api/handlers"
	"github.com/video-stream/transcriber/internal/api/middleware"
	"github.com/video-stream/transcriber/internal/auth"
	"github.com/video-stream/transcriber/internal/config"
)

// Deps are the services the router dispatches to. JWT and Runs are
// optional: a nil JWT disables auth and a nil Runs leaves the ledger
// routes unmounted.
type Deps struct {
	Runner handlers.Runner
	Runs   handlers.RunStore
	JWT    *auth.JWTService
	Logger *zap.Logger
}

// NewRouter builds the HTTP API. ctx bounds background work such as the
// rate limiter's sweeper.
func NewRouter(ctx context.Context, cfg *config.Config, deps Deps) *chi.Mux {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	transcribeHandler := handlers.NewTranscribeHandler(deps.Runner, logger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.Health)

		r.Group(func(r chi.Router) {
			if deps.JWT != nil {
				r.Use(middleware.AuthMiddleware(deps.JWT))
			}

			r.Group(func(r chi.Router) {
				if cfg.RateLimit > 0 {
					r.Use(middleware.NewRateLimiter(ctx, cfg.RateLimit, cfg.RateWindow).Handler)
				}
				r.Use(middleware.MaxBodySize(cfg.MaxUploadBytes))
				r.Post("/transcribe", transcribeHandler.Transcribe)
			})

			if deps.Runs != nil {
				runsHandler := handlers.NewRunsHandler(deps.Runs)
				r.Get("/runs", runsHandler.ListRuns)
				r.Get("/runs/{id}", runsHandler.GetRun)
			}
		})
	})

	return r
}
