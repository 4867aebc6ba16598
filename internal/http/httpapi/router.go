package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"server/internal/http/handlers"
	"server/internal/infra"
	"server/internal/middleware"
)

// NewRouter assembles the public API surface.
func NewRouter(app *handlers.App, cfg *infra.Config, logger infra.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.Logger(logger),
		middleware.CORS(cfg.AllowedOrigins),
	)

	r.Get("/healthz", app.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/videos", func(r chi.Router) {
			r.With(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute)).
				Post("/", app.VideoCreate)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", app.VideoDetail)
				r.Get("/events", app.VideoEvents)
				r.Get("/stream", app.VideoStream)
				r.Post("/cancel", app.VideoCancel)
				r.Delete("/", app.VideoDelete)
				r.Get("/download", app.VideoDownload)
			})
		})
		r.With(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute)).
			Post("/reference-images", app.ReferenceImageUpload)
	})

	return r
}
