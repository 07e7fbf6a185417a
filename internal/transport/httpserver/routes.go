package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"flowsync/internal/config"
	"flowsync/internal/transport/httpserver/handler"
	"flowsync/internal/transport/httpserver/middleware"
	"flowsync/pkg/logger"
)

func NewRouter(cfg config.Config, handlers *handler.Handlers, log logger.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if cfg.HTTP.RequestTimeout > 0 {
		r.Use(chimw.Timeout(cfg.HTTP.RequestTimeout))
	}
	r.Use(middleware.NewCORS(cfg.HTTP.AllowedOrigins))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.Health)

		auth := middleware.NewTokenAuth(cfg.HTTP.APIToken, log)
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)

			r.Post("/sync", handlers.SyncSnapshot)
		})
	})

	return r
}
