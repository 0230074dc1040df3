// Package controllers contiene los handlers HTTP. Son delgados: parsean el
// request, llaman al dominio y mapean errores con httperrors.
package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/agentlink/internal/connection"
	"github.com/dropDatabas3/agentlink/internal/domain/repository"
	httperrors "github.com/dropDatabas3/agentlink/internal/http/errors"
	"github.com/dropDatabas3/agentlink/internal/jwtauth"
	"github.com/dropDatabas3/agentlink/internal/observability/logger"
	"github.com/go-chi/chi/v5"
)

// ConnectionService es lo que el controller usa del connection manager.
type ConnectionService interface {
	BeginAuthorization(ctx context.Context, provider string, opts connection.BeginOptions) (*connection.Authorization, error)
	CompleteAuthorization(ctx context.Context, provider, code, state string) (*repository.Connection, error)
	AbortAuthorization(ctx context.Context, provider, state, providerError string) error
	Get(ctx context.Context, id string) (*repository.Connection, error)
	LinkConnection(ctx context.Context, id, userID string) (*repository.Connection, error)
	Refresh(ctx context.Context, id string) (*repository.Connection, error)
	Disconnect(ctx context.Context, id string) error
}

// ConnectionController maneja el flujo OAuth y la gestión de conexiones.
type ConnectionController struct {
	svc ConnectionService
}

func NewConnectionController(svc ConnectionService) *ConnectionController {
	return &ConnectionController{svc: svc}
}

// ConnectionView es la metadata no secreta de una conexión. Nunca incluye tokens.
type ConnectionView struct {
	ID                string     `json:"id"`
	Provider          string     `json:"provider"`
	Status            string     `json:"status"` // pending | linked | inactive
	RemoteAccountID   string     `json:"remote_account_id"`
	RemoteAccountName string     `json:"remote_account_name,omitempty"`
	OrganizationID    string     `json:"organization_id,omitempty"`
	Scopes            []string   `json:"scopes,omitempty"`
	IsActive          bool       `json:"is_active"`
	HasRefreshToken   bool       `json:"has_refresh_token"`
	TokenExpiresAt    *time.Time `json:"token_expires_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func viewOf(c *repository.Connection) ConnectionView {
	status := "linked"
	switch {
	case !c.IsActive:
		status = "inactive"
	case c.IsPending():
		status = "pending"
	}
	return ConnectionView{
		ID:                c.ID,
		Provider:          c.Provider,
		Status:            status,
		RemoteAccountID:   c.RemoteAccountID,
		RemoteAccountName: c.RemoteAccountName,
		OrganizationID:    c.OrgID(),
		Scopes:            c.Scopes,
		IsActive:          c.IsActive,
		HasRefreshToken:   c.EncryptedRefreshToken != nil,
		TokenExpiresAt:    c.TokenExpiresAt,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

type authorizeResponse struct {
	AuthorizeURL string `json:"authorize_url"`
	State        string `json:"state"`
}

// Authorize maneja GET /oauth/{provider}/authorize.
// Con ?mode=redirect responde 302 al proveedor; si no, devuelve JSON.
// Si el request viene autenticado la conexión nace vinculada a ese usuario.
func (c *ConnectionController) Authorize(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(chi.URLParam(r, "provider"))
	opts := connection.BeginOptions{RedirectURI: r.URL.Query().Get("redirect_uri")}
	if id, ok := jwtauth.FromContext(r.Context()); ok {
		opts.BoundUserID = id.UserID
	}

	auth, err := c.svc.BeginAuthorization(r.Context(), provider, opts)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if r.URL.Query().Get("mode") == "redirect" {
		http.Redirect(w, r, auth.URL, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, authorizeResponse{AuthorizeURL: auth.URL, State: auth.State})
}

// Callback maneja GET /oauth/{provider}/callback. El state se consume siempre,
// también cuando el proveedor devuelve ?error=.
func (c *ConnectionController) Callback(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(chi.URLParam(r, "provider"))
	q := r.URL.Query()
	state := q.Get("state")
	if state == "" {
		httperrors.WriteError(w, httperrors.ErrInvalidState.WithDetail("missing state"))
		return
	}

	if perr := q.Get("error"); perr != "" {
		err := c.svc.AbortAuthorization(r.Context(), provider, state, perr)
		logger.From(r.Context()).Info("authorization aborted by provider", logger.Provider(provider), logger.String("provider_error", perr))
		httperrors.WriteError(w, err)
		return
	}

	code := q.Get("code")
	if code == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("code"))
		return
	}
	conn, err := c.svc.CompleteAuthorization(r.Context(), provider, code, state)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(conn))
}

// Get maneja GET /connections/{id}. El dueño la ve; una pendiente la puede
// ver quien tenga el id (es lo que necesita la UI para ofrecer el link).
func (c *ConnectionController) Get(w http.ResponseWriter, r *http.Request) {
	conn, ok := c.load(w, r, true)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(conn))
}

// Link maneja POST /connections/{id}/link.
func (c *ConnectionController) Link(w http.ResponseWriter, r *http.Request) {
	id, ok := jwtauth.FromContext(r.Context())
	if !ok {
		httperrors.WriteError(w, httperrors.ErrTokenMissing)
		return
	}
	conn, err := c.svc.LinkConnection(r.Context(), chi.URLParam(r, "id"), id.UserID)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(conn))
}

// Refresh maneja POST /connections/{id}/refresh.
func (c *ConnectionController) Refresh(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.load(w, r, false); !ok {
		return
	}
	conn, err := c.svc.Refresh(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(conn))
}

// Disconnect maneja DELETE /connections/{id}.
func (c *ConnectionController) Disconnect(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.load(w, r, false); !ok {
		return
	}
	if err := c.svc.Disconnect(r.Context(), chi.URLParam(r, "id")); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// load trae la conexión y chequea que el usuario autenticado sea el dueño.
// Para no filtrar existencia, una conexión ajena responde 404.
func (c *ConnectionController) load(w http.ResponseWriter, r *http.Request, allowPending bool) (*repository.Connection, bool) {
	id, ok := jwtauth.FromContext(r.Context())
	if !ok {
		httperrors.WriteError(w, httperrors.ErrTokenMissing)
		return nil, false
	}
	conn, err := c.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httperrors.WriteError(w, err)
		return nil, false
	}
	if conn.OwnerUserID != id.UserID && !(allowPending && conn.IsPending()) {
		httperrors.WriteError(w, httperrors.ErrNotFound)
		return nil, false
	}
	return conn, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
