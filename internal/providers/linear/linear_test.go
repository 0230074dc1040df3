package linear

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dropDatabas3/agentlink/internal/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/graphql", r.URL.Path)
		assert.Equal(t, "Bearer lin_x", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body["query"], "viewer")
		_, _ = w.Write([]byte(`{"data":{"viewer":{"id":"usr_1","name":"Ada","organization":{"id":"org_9","name":"Acme"}}}}`))
	}))
	defer srv.Close()

	p := New(providers.Config{ClientID: "c", APIBaseURL: srv.URL})
	acc, err := p.Identity(context.Background(), &providers.TokenSet{AccessToken: "lin_x"})
	require.NoError(t, err)
	assert.Equal(t, "usr_1", acc.RemoteAccountID)
	assert.Equal(t, "org_9", acc.OrganizationID)
	assert.Equal(t, "Acme", acc.OrganizationName)
}

func TestIdentity_GraphQLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"authentication required"}]}`))
	}))
	defer srv.Close()

	p := New(providers.Config{ClientID: "c", APIBaseURL: srv.URL})
	_, err := p.Identity(context.Background(), &providers.TokenSet{AccessToken: "x"})
	assert.ErrorContains(t, err, "authentication required")
}
