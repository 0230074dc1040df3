package github

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dropDatabas3/agentlink/internal/providers"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user", r.URL.Path)
		assert.Equal(t, "Bearer gho_x", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id":42,"login":"octocat"}`))
	}))
	defer srv.Close()

	p, err := New(providers.Config{ClientID: "c", APIBaseURL: srv.URL})
	require.NoError(t, err)

	acc, err := p.Identity(context.Background(), &providers.TokenSet{AccessToken: "gho_x"})
	require.NoError(t, err)
	assert.Equal(t, "42", acc.RemoteAccountID)
	assert.Equal(t, "octocat", acc.RemoteAccountName)
	assert.Empty(t, acc.OrganizationID)
}

func TestIdentity_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, err := New(providers.Config{ClientID: "c", APIBaseURL: srv.URL})
	require.NoError(t, err)
	_, err = p.Identity(context.Background(), &providers.TokenSet{AccessToken: "bad"})
	var apiErr *providers.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestMintInstallationToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/app/installations/777/access_tokens", r.URL.Path)

		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		tok, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
			return &key.PublicKey, nil
		}, jwt.WithValidMethods([]string{"RS256"}))
		require.NoError(t, err)
		iss, _ := tok.Claims.GetIssuer()
		assert.Equal(t, "123", iss)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"token": "ghs_abc", "expires_at": expires})
	}))
	defer srv.Close()

	p, err := New(providers.Config{
		APIBaseURL: srv.URL,
		Extra:      map[string]string{"app_id": "123", "private_key": string(pemKey)},
	})
	require.NoError(t, err)
	require.True(t, p.CanMint())

	ts, err := p.MintInstallationToken(context.Background(), "777")
	require.NoError(t, err)
	assert.Equal(t, "ghs_abc", ts.AccessToken)
	assert.True(t, ts.Expiry.Equal(expires))
}

func TestMintWithoutAppCredentials(t *testing.T) {
	p, err := New(providers.Config{ClientID: "c"})
	require.NoError(t, err)
	assert.False(t, p.CanMint())
	_, err = p.MintInstallationToken(context.Background(), "1")
	assert.Error(t, err)
}
