package slack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dropDatabas3/agentlink/internal/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchangeAndIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "code-1", r.PostForm.Get("code"))
		assert.Equal(t, "cid", r.PostForm.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"ok": true,
			"access_token": "xoxb-1",
			"token_type": "bot",
			"scope": "chat:write,channels:read",
			"bot_user_id": "U0BOT",
			"team": {"id": "T123", "name": "Acme"},
			"authed_user": {"id": "U999"}
		}`))
	}))
	defer srv.Close()

	p := New(providers.Config{ClientID: "cid", ClientSecret: "s", TokenURL: srv.URL})
	ts, err := p.Exchange(context.Background(), "code-1", "verifier", "")
	require.NoError(t, err)
	assert.Equal(t, "xoxb-1", ts.AccessToken)
	assert.Equal(t, []string{"chat:write", "channels:read"}, ts.Scopes)
	assert.False(t, ts.HasExpiry())
	assert.Equal(t, "U0BOT", BotUserID(ts))

	acc, err := p.Identity(context.Background(), ts)
	require.NoError(t, err)
	assert.Equal(t, "T123", acc.OrganizationID)
	assert.Equal(t, "Acme", acc.RemoteAccountName)
	assert.Equal(t, "U999", acc.RemoteAccountID)
}

func TestExchange_NotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": false, "error": "invalid_code"}`))
	}))
	defer srv.Close()

	p := New(providers.Config{ClientID: "cid", TokenURL: srv.URL})
	_, err := p.Exchange(context.Background(), "bad", "v", "")
	assert.Error(t, err)
}

func TestIdentity_NoTeam(t *testing.T) {
	p := New(providers.Config{ClientID: "cid"})
	_, err := p.Identity(context.Background(), &providers.TokenSet{AccessToken: "x"})
	assert.Error(t, err)
}
