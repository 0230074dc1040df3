// Package router arma el chi.Router con todas las rutas del servicio.
package router

import (
	"net/http"

	"github.com/dropDatabas3/agentlink/internal/http/controllers"
	httperrors "github.com/dropDatabas3/agentlink/internal/http/errors"
	mw "github.com/dropDatabas3/agentlink/internal/http/middlewares"
	"github.com/dropDatabas3/agentlink/internal/rate"
	"github.com/go-chi/chi/v5"
)

// Deps contiene las dependencias del router.
type Deps struct {
	Connections *controllers.ConnectionController
	Webhooks    *controllers.WebhookController
	Health      *controllers.HealthController

	// Auth valida el bearer JWT. Sin él, las rutas de conexiones no se montan.
	Auth mw.TokenVerifier

	// RateLimiter es opcional; se aplica a OAuth y webhooks.
	RateLimiter rate.Limiter

	// Metrics sirve /metrics (promhttp). Opcional.
	Metrics http.Handler
}

// New devuelve el handler raíz.
func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(mw.WithRecover(), mw.WithRequestID(), mw.WithLogging())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
	})

	if d.Health != nil {
		r.Get("/healthz", d.Health.Healthz)
		r.Get("/readyz", d.Health.Readyz)
	}
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	if d.Connections != nil {
		r.Route("/oauth/{provider}", func(r chi.Router) {
			r.Use(mw.WithNoStore(), mw.WithRateLimit(d.RateLimiter))
			if d.Auth != nil {
				r.With(mw.OptionalAuth(d.Auth)).Get("/authorize", d.Connections.Authorize)
			} else {
				r.Get("/authorize", d.Connections.Authorize)
			}
			r.Get("/callback", d.Connections.Callback)
		})

		if d.Auth != nil {
			r.Route("/connections/{id}", func(r chi.Router) {
				r.Use(mw.WithNoStore(), mw.RequireAuth(d.Auth))
				r.Get("/", d.Connections.Get)
				r.Delete("/", d.Connections.Disconnect)
				r.Post("/link", d.Connections.Link)
				r.Post("/refresh", d.Connections.Refresh)
			})
		}
	}

	if d.Webhooks != nil {
		r.With(mw.WithRateLimit(d.RateLimiter)).Post("/webhooks/{provider}", d.Webhooks.Receive)
	}

	return r
}
