package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"presto-notebook/internal/middleware"
)

// RouterConfig holds what NewRouter wires around the handler.
type RouterConfig struct {
	Validator      middleware.TokenValidator
	RateLimit      middleware.RateLimitConfig
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter builds the host router. /health is public; everything under /v1
// requires a bearer token and is rate limited per caller. ctx bounds the
// rate limiter's background cleanup.
func NewRouter(ctx context.Context, h *Handler, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", Health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Validator, logger))
		r.Use(middleware.RateLimiter(ctx, cfg.RateLimit))
		h.Routes(r)
	})
	return r
}
