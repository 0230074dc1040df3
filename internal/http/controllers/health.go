package controllers

import (
	"context"
	"net/http"
	"time"
)

// Pinger es un componente con chequeo de salud (store, cache).
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthController struct {
	components map[string]Pinger
	version    string
}

func NewHealthController(version string, components map[string]Pinger) *HealthController {
	return &HealthController{components: components, version: version}
}

type healthResponse struct {
	Status     string            `json:"status"` // ready | unavailable
	Version    string            `json:"version,omitempty"`
	Components map[string]string `json:"components,omitempty"`
}

// Healthz: liveness, no toca dependencias.
func (c *HealthController) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: c.version})
}

// Readyz pinguea cada componente con un timeout corto.
func (c *HealthController) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ready", Version: c.version, Components: map[string]string{}}
	status := http.StatusOK
	for name, p := range c.components {
		if err := p.Ping(ctx); err != nil {
			resp.Components[name] = "down: " + err.Error()
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Components[name] = "up"
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, resp)
}
