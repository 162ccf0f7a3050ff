package api

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/donmunna435-dev/Deep-yt/internal/api/handler"
	mw "github.com/donmunna435-dev/Deep-yt/internal/api/middleware"
)

// NewRouter creates the HTTP router with all routes configured. The stats
// API is only mounted when apiKey is set.
func NewRouter(
	healthHandler *handler.HealthHandler,
	oauthHandler *handler.OAuthHandler,
	apiKey string,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.CleanPath)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Minute))

	r.Get("/health", healthHandler.Live)
	r.Get("/ready", healthHandler.Ready)

	// Browser redirect from Google, so no API key.
	r.Get("/oauth/callback", oauthHandler.Callback)

	if apiKey != "" {
		r.Route("/api/v1", func(r chi.Router) {
			r.Use(mw.APIKeyAuth(apiKey))
			r.Get("/stats", healthHandler.Stats)
		})
	}

	return r
}
