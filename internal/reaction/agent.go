package reaction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/agentlink/internal/observability/logger"
)

// LogAgent sólo registra el evento. Es el agente por defecto cuando no hay
// uno externo configurado.
type LogAgent struct{}

func (LogAgent) React(ctx context.Context, req Request) (string, error) {
	logger.From(ctx).Info("reaction requested (no agent configured)",
		logger.String("reason", req.Event.ReactionReason),
		logger.Bool("has_token", req.AccessToken != ""),
	)
	return "logged", nil
}

// HTTPAgent entrega cada evento a un agente externo por POST JSON. El cuerpo
// de la respuesta (hasta 64KB) es el resultado de la reacción.
type HTTPAgent struct {
	URL    string
	Client *http.Client
}

// NewHTTPAgent builds an HTTPAgent with a default client.
func NewHTTPAgent(url string, timeout time.Duration) *HTTPAgent {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAgent{URL: url, Client: &http.Client{Timeout: timeout}}
}

type agentPayload struct {
	EventID        string          `json:"event_id"`
	Provider       string          `json:"provider"`
	EventType      string          `json:"event_type"`
	OrganizationID string          `json:"organization_id,omitempty"`
	ConnectionID   string          `json:"connection_id,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	AccessToken    string          `json:"access_token,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (a *HTTPAgent) React(ctx context.Context, req Request) (string, error) {
	e := req.Event
	body, err := json.Marshal(agentPayload{
		EventID:        e.ProviderEventID,
		Provider:       e.Provider,
		EventType:      e.EventType,
		OrganizationID: e.OrganizationID,
		ConnectionID:   deref(e.ConnectionID),
		UserID:         deref(e.ResolvedUserID),
		Reason:         e.ReactionReason,
		AccessToken:    req.AccessToken,
		Payload:        e.RawPayload,
	})
	if err != nil {
		return "", fmt.Errorf("reaction: encode: %w", err)
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("reaction: build request: %w", err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Idempotency-Key", e.ProviderEventID)

	resp, err := a.Client.Do(hreq)
	if err != nil {
		return "", fmt.Errorf("reaction: agent unreachable: %w", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("reaction: agent status %d: %s", resp.StatusCode, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}
