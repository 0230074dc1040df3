package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dropDatabas3/agentlink/internal/connection"
	"github.com/dropDatabas3/agentlink/internal/domain/repository"
	"github.com/dropDatabas3/agentlink/internal/http/controllers"
	"github.com/dropDatabas3/agentlink/internal/jwtauth"
	"github.com/dropDatabas3/agentlink/internal/rate"
	"github.com/dropDatabas3/agentlink/internal/webhook"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConnections struct {
	conns     map[string]*repository.Connection
	lastBegin connection.BeginOptions
	aborted   []string
	linkErr   error
	refreshed int
}

func (f *fakeConnections) BeginAuthorization(ctx context.Context, provider string, opts connection.BeginOptions) (*connection.Authorization, error) {
	if provider != "demo" {
		return nil, connection.ErrUnknownProvider
	}
	if opts.RedirectURI == "https://evil.example" {
		return nil, connection.ErrInvalidRedirect
	}
	f.lastBegin = opts
	return &connection.Authorization{URL: "https://idp.example/authorize?state=abc123", State: "abc123"}, nil
}

func (f *fakeConnections) CompleteAuthorization(ctx context.Context, provider, code, state string) (*repository.Connection, error) {
	if state != "abc123" {
		return nil, connection.ErrInvalidOrExpiredState
	}
	if code != "validcode" {
		return nil, fmt.Errorf("%w: invalid_grant", connection.ErrTokenExchangeFailed)
	}
	return f.conns["c1"], nil
}

func (f *fakeConnections) AbortAuthorization(ctx context.Context, provider, state, providerError string) error {
	f.aborted = append(f.aborted, state)
	return fmt.Errorf("%w: provider returned %q", connection.ErrTokenExchangeFailed, providerError)
}

func (f *fakeConnections) Get(ctx context.Context, id string) (*repository.Connection, error) {
	c, ok := f.conns[id]
	if !ok {
		return nil, connection.ErrNotFound
	}
	return c, nil
}

func (f *fakeConnections) LinkConnection(ctx context.Context, id, userID string) (*repository.Connection, error) {
	if f.linkErr != nil {
		return nil, f.linkErr
	}
	c := f.conns[id].Clone()
	c.OwnerUserID = userID
	return c, nil
}

func (f *fakeConnections) Refresh(ctx context.Context, id string) (*repository.Connection, error) {
	f.refreshed++
	return f.conns[id], nil
}

func (f *fakeConnections) Disconnect(ctx context.Context, id string) error { return nil }

type fakeVerifier struct{ unavailable bool }

func (f fakeVerifier) Verify(ctx context.Context, bearer string) (*jwtauth.Identity, error) {
	if f.unavailable {
		return nil, fmt.Errorf("%w: status 503", jwtauth.ErrKeySetUnavailable)
	}
	tok := strings.TrimSpace(strings.TrimPrefix(bearer, "Bearer "))
	if !strings.HasPrefix(tok, "user:") {
		return nil, jwtauth.ErrTokenInvalid
	}
	return &jwtauth.Identity{UserID: strings.TrimPrefix(tok, "user:")}, nil
}

type fakeIngress struct{ results map[string]*webhook.Result }

func (f fakeIngress) Handle(ctx context.Context, provider string, body []byte, h http.Header) (*webhook.Result, error) {
	if provider == "nope" {
		return nil, webhook.ErrUnknownProvider
	}
	if h.Get("X-Test-Signature") != "ok" {
		return nil, webhook.ErrInvalidSignature
	}
	return f.results[string(body)], nil
}

func newTestRouter(t *testing.T, verifier fakeVerifier, limiter rate.Limiter) (http.Handler, *fakeConnections) {
	t.Helper()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	conns := &fakeConnections{conns: map[string]*repository.Connection{
		"c1": {ID: "c1", Provider: "demo", OwnerUserID: repository.PendingOwner, EncryptedAccessToken: "v1.secret", IsActive: true, CreatedAt: now, UpdatedAt: now},
		"c2": {ID: "c2", Provider: "demo", OwnerUserID: "u1", EncryptedAccessToken: "v1.secret", IsActive: true, CreatedAt: now, UpdatedAt: now},
	}}
	ing := fakeIngress{results: map[string]*webhook.Result{
		"challenge": {Outcome: webhook.OutcomeHandshake, Challenge: "xyz"},
		"ev1":       {Outcome: webhook.OutcomeStored, EventID: "Ev001"},
		"ev1-again": {Outcome: webhook.OutcomeDuplicate, EventID: "Ev001"},
	}}
	h := New(Deps{
		Connections: controllers.NewConnectionController(conns),
		Webhooks:    controllers.NewWebhookController(ing),
		Health:      controllers.NewHealthController("test", nil),
		Auth:        verifier,
		RateLimiter: limiter,
		Metrics:     promhttp.Handler(),
	})
	return h, conns
}

func do(h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func TestAuthorize(t *testing.T) {
	h, conns := newTestRouter(t, fakeVerifier{}, nil)

	rec := do(h, http.MethodGet, "/oauth/demo/authorize", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "abc123", decode(t, rec)["state"])
	assert.Empty(t, conns.lastBegin.BoundUserID)

	rec = do(h, http.MethodGet, "/oauth/demo/authorize?mode=redirect", "", map[string]string{"Authorization": "Bearer user:u9"})
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "https://idp.example/authorize")
	assert.Equal(t, "u9", conns.lastBegin.BoundUserID)

	rec = do(h, http.MethodGet, "/oauth/demo/authorize?redirect_uri=https://evil.example", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REDIRECT", decode(t, rec)["code"])

	rec = do(h, http.MethodGet, "/oauth/other/authorize", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCallback(t *testing.T) {
	h, conns := newTestRouter(t, fakeVerifier{}, nil)

	rec := do(h, http.MethodGet, "/oauth/demo/callback?code=validcode&state=abc123", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "c1", body["id"])
	assert.Equal(t, "pending", body["status"])
	assert.NotContains(t, rec.Body.String(), "v1.secret")

	rec = do(h, http.MethodGet, "/oauth/demo/callback?code=validcode&state=replayed", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_OR_EXPIRED_STATE", decode(t, rec)["code"])

	rec = do(h, http.MethodGet, "/oauth/demo/callback?code=bad&state=abc123", "", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = do(h, http.MethodGet, "/oauth/demo/callback?error=access_denied&state=s1", "", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, []string{"s1"}, conns.aborted)

	rec = do(h, http.MethodGet, "/oauth/demo/callback?code=validcode", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConnections_AuthAndOwnership(t *testing.T) {
	h, conns := newTestRouter(t, fakeVerifier{}, nil)

	rec := do(h, http.MethodGet, "/connections/c2", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_MISSING", decode(t, rec)["code"])

	rec = do(h, http.MethodGet, "/connections/c2", "", map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_INVALID", decode(t, rec)["code"])

	owner := map[string]string{"Authorization": "Bearer user:u1"}
	stranger := map[string]string{"Authorization": "Bearer user:u2"}

	rec = do(h, http.MethodGet, "/connections/c2", "", owner)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "linked", decode(t, rec)["status"])

	rec = do(h, http.MethodGet, "/connections/c2", "", stranger)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Pendiente: visible para quien la va a vincular.
	rec = do(h, http.MethodGet, "/connections/c1", "", stranger)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, http.MethodPost, "/connections/c2/refresh", "", stranger)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, conns.refreshed)

	rec = do(h, http.MethodPost, "/connections/c2/refresh", "", owner)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, conns.refreshed)

	rec = do(h, http.MethodDelete, "/connections/c2", "", owner)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestLink(t *testing.T) {
	h, conns := newTestRouter(t, fakeVerifier{}, nil)
	auth := map[string]string{"Authorization": "Bearer user:u7"}

	rec := do(h, http.MethodPost, "/connections/c1/link", "", auth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "linked", decode(t, rec)["status"])

	conns.linkErr = connection.ErrAlreadyLinked
	rec = do(h, http.MethodPost, "/connections/c1/link", "", auth)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_LINKED", decode(t, rec)["code"])
}

func TestKeySetUnavailableIsServiceUnavailable(t *testing.T) {
	h, _ := newTestRouter(t, fakeVerifier{unavailable: true}, nil)
	rec := do(h, http.MethodPost, "/connections/c1/link", "", map[string]string{"Authorization": "Bearer user:u7"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestWebhooks(t *testing.T) {
	h, _ := newTestRouter(t, fakeVerifier{}, nil)
	signed := map[string]string{"X-Test-Signature": "ok"}

	rec := do(h, http.MethodPost, "/webhooks/slack", "challenge", signed)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"challenge": "xyz"}, decode(t, rec))

	rec = do(h, http.MethodPost, "/webhooks/slack", "ev1", signed)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ev001", decode(t, rec)["event_id"])

	rec = do(h, http.MethodPost, "/webhooks/slack", "ev1-again", signed)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["duplicate"])

	rec = do(h, http.MethodPost, "/webhooks/slack", "ev1", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_SIGNATURE", decode(t, rec)["code"])

	rec = do(h, http.MethodPost, "/webhooks/nope", "ev1", signed)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(h, http.MethodPost, "/webhooks/slack", strings.Repeat("x", controllers.MaxWebhookBody+1), signed)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRateLimit(t *testing.T) {
	h, _ := newTestRouter(t, fakeVerifier{}, rate.NewMemoryLimiter(1, time.Minute))
	signed := map[string]string{"X-Test-Signature": "ok"}

	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/webhooks/slack", "ev1", signed).Code)
	rec := do(h, http.MethodPost, "/webhooks/slack", "ev1", signed)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestHealthMetricsAndFallbacks(t *testing.T) {
	h, _ := newTestRouter(t, fakeVerifier{}, nil)

	rec := do(h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(h, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, http.MethodGet, "/nowhere", "", map[string]string{"X-Request-ID": "rid-1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "rid-1", rec.Header().Get("X-Request-ID"))

	rec = do(h, http.MethodGet, "/webhooks/slack", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
