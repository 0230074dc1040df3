package controllers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	httperrors "github.com/dropDatabas3/agentlink/internal/http/errors"
	"github.com/dropDatabas3/agentlink/internal/observability/logger"
	"github.com/dropDatabas3/agentlink/internal/webhook"
	"github.com/go-chi/chi/v5"
)

// MaxWebhookBody limita el cuerpo de un webhook.
const MaxWebhookBody = 1 << 20

// WebhookIngress es el pipeline de ingesta.
type WebhookIngress interface {
	Handle(ctx context.Context, provider string, body []byte, h http.Header) (*webhook.Result, error)
}

type WebhookController struct {
	ingress WebhookIngress
}

func NewWebhookController(ingress WebhookIngress) *WebhookController {
	return &WebhookController{ingress: ingress}
}

type webhookResponse struct {
	OK        bool   `json:"ok"`
	Duplicate bool   `json:"duplicate,omitempty"`
	EventID   string `json:"event_id,omitempty"`
}

type challengeResponse struct {
	Challenge string `json:"challenge"`
}

// Receive maneja POST /webhooks/{provider}. Duplicados responden 200 igual
// que la primera entrega, así el proveedor deja de reintentar.
func (c *WebhookController) Receive(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(chi.URLParam(r, "provider"))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httperrors.WriteError(w, httperrors.ErrBodyTooLarge)
			return
		}
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithCause(err))
		return
	}

	res, err := c.ingress.Handle(r.Context(), provider, body, r.Header)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) || errors.Is(err, webhook.ErrSecretNotConfigured) {
			logger.From(r.Context()).Warn("webhook rejected", logger.Provider(provider), logger.Err(err))
		}
		httperrors.WriteError(w, err)
		return
	}

	switch res.Outcome {
	case webhook.OutcomeHandshake:
		if res.Challenge != "" {
			writeJSON(w, http.StatusOK, challengeResponse{Challenge: res.Challenge})
			return
		}
		writeJSON(w, http.StatusOK, webhookResponse{OK: true})
	case webhook.OutcomeDuplicate:
		writeJSON(w, http.StatusOK, webhookResponse{OK: true, Duplicate: true, EventID: res.EventID})
	default:
		writeJSON(w, http.StatusOK, webhookResponse{OK: true, EventID: res.EventID})
	}
}
