package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Domain metrics live in their own package so connection, webhook and http
// can record without importing each other.

var (
	OAuthFlows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentlink_oauth_flows_total",
		Help: "Flujos OAuth completados por proveedor y resultado",
	}, []string{"provider", "result"}) // result: begun|connected|invalid_state|exchange_failed|already_linked|error

	TokenRefresh = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentlink_token_refresh_total",
		Help: "Refrescos de token por proveedor y resultado",
	}, []string{"provider", "result"}) // result: ok|failed|minted

	WebhookEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentlink_webhook_events_total",
		Help: "Webhooks recibidos por proveedor y resultado",
	}, []string{"provider", "outcome"}) // outcome: stored|duplicate|handshake|rejected|error

	WebhookDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentlink_webhook_duration_seconds",
		Help:    "Latencia del procesamiento síncrono de webhooks",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"provider"})

	ReactionsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentlink_reactions_total",
		Help: "Reacciones despachadas al agente por resultado",
	}, []string{"provider", "result"}) // result: ok|failed|dropped

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Número total de requests procesadas",
	}, []string{"method", "route", "status"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Latencia de los requests HTTP",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Register registers the domain metrics on reg (or the default registerer).
// Already registered collectors are not an error.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{OAuthFlows, TokenRefresh, WebhookEvents, WebhookDuration, ReactionsDispatched, HTTPRequests, HTTPDuration} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}
