package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func tokenServer(t *testing.T, check func(url.Values), resp map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if check != nil {
			check(r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestOAuth2_AuthorizeURLCarriesChallenge(t *testing.T) {
	o := NewOAuth2(Config{ClientID: "cid", RedirectURI: "https://app/cb", Scopes: []string{"read"}},
		oauth2.Endpoint{AuthURL: "https://idp/authorize", TokenURL: "https://idp/token"})

	raw := o.AuthorizeURL("st4te", "ch4llenge", "")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "st4te", q.Get("state"))
	assert.Equal(t, "ch4llenge", q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "cid", q.Get("client_id"))
	assert.Equal(t, "https://app/cb", q.Get("redirect_uri"))
	assert.Empty(t, q.Get("code_verifier"))
}

func TestOAuth2_ExchangeSendsVerifier(t *testing.T) {
	srv := tokenServer(t, func(f url.Values) {
		assert.Equal(t, "authorization_code", f.Get("grant_type"))
		assert.Equal(t, "the-code", f.Get("code"))
		assert.Equal(t, "the-verifier", f.Get("code_verifier"))
	}, map[string]any{"access_token": "AT1", "token_type": "bearer", "expires_in": 3600, "refresh_token": "RT1", "scope": "a,b"})
	defer srv.Close()

	o := NewOAuth2(Config{ClientID: "cid", ClientSecret: "sec"}, oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams})
	ts, err := o.Exchange(context.Background(), "the-code", "the-verifier", "")
	require.NoError(t, err)
	assert.Equal(t, "AT1", ts.AccessToken)
	assert.Equal(t, "RT1", ts.RefreshToken)
	assert.True(t, ts.HasExpiry())
	assert.WithinDuration(t, time.Now().Add(time.Hour), ts.Expiry, time.Minute)
	assert.Equal(t, []string{"a", "b"}, ts.Scopes)
}

func TestOAuth2_ExchangeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	o := NewOAuth2(Config{ClientID: "cid"}, oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams})
	_, err := o.Exchange(context.Background(), "bad", "v", "")
	require.Error(t, err)
	var re *oauth2.RetrieveError
	assert.ErrorAs(t, err, &re)
}

func TestOAuth2_Refresh(t *testing.T) {
	srv := tokenServer(t, func(f url.Values) {
		assert.Equal(t, "refresh_token", f.Get("grant_type"))
		assert.Equal(t, "RT-old", f.Get("refresh_token"))
	}, map[string]any{"access_token": "AT2", "token_type": "bearer", "expires_in": 60})
	defer srv.Close()

	o := NewOAuth2(Config{ClientID: "cid"}, oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams})
	ts, err := o.Refresh(context.Background(), "RT-old")
	require.NoError(t, err)
	assert.Equal(t, "AT2", ts.AccessToken)
	// oauth2 keeps the previous refresh token when none is rotated in.
	assert.Equal(t, "RT-old", ts.RefreshToken)
}

func TestOAuth2_TimeoutIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	o := NewOAuth2(Config{ClientID: "cid", HTTPTimeout: 50 * time.Millisecond}, oauth2.Endpoint{TokenURL: srv.URL})
	_, err := o.Exchange(context.Background(), "c", "v", "")
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("x")
	assert.False(t, ok)
	assert.Empty(t, r.Names())
}

func TestParseScopes(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, ParseScopes("a,b c"))
	assert.Nil(t, ParseScopes(""))
}
