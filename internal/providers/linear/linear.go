// Package linear implements the Linear OAuth provider. Connections are
// scoped to a Linear workspace (organization).
package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/dropDatabas3/agentlink/internal/providers"
	"golang.org/x/oauth2"
)

const ProviderName = "linear"

const defaultAPIBase = "https://api.linear.app"

var endpoint = oauth2.Endpoint{
	AuthURL:   "https://linear.app/oauth/authorize",
	TokenURL:  "https://api.linear.app/oauth/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

const viewerQuery = `query { viewer { id name email organization { id name urlKey } } }`

type Provider struct {
	*providers.OAuth2
	apiBase string
}

func New(cfg providers.Config) *Provider {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"read", "write", "issues:create", "comments:create"}
	}
	base := strings.TrimRight(cfg.APIBaseURL, "/")
	if base == "" {
		base = defaultAPIBase
	}
	return &Provider{OAuth2: providers.NewOAuth2(cfg, endpoint), apiBase: base}
}

func (p *Provider) Name() string    { return ProviderName }
func (p *Provider) OrgScoped() bool { return true }

type viewerResponse struct {
	Data struct {
		Viewer struct {
			ID           string `json:"id"`
			Name         string `json:"name"`
			Email        string `json:"email"`
			Organization struct {
				ID     string `json:"id"`
				Name   string `json:"name"`
				URLKey string `json:"urlKey"`
			} `json:"organization"`
		} `json:"viewer"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Identity runs the GraphQL viewer query.
func (p *Provider) Identity(ctx context.Context, ts *providers.TokenSet) (*providers.Account, error) {
	body, _ := json.Marshal(map[string]string{"query": viewerQuery})

	ctx, cancel := p.WithTimeout(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/graphql", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+ts.AccessToken)

	var vr viewerResponse
	if err := p.DoJSON(req, &vr); err != nil {
		return nil, fmt.Errorf("linear: viewer query: %w", err)
	}
	if len(vr.Errors) > 0 {
		return nil, fmt.Errorf("linear: viewer query: %s", vr.Errors[0].Message)
	}
	v := vr.Data.Viewer
	if v.ID == "" {
		return nil, fmt.Errorf("linear: viewer query returned no viewer")
	}
	return &providers.Account{
		RemoteAccountID:   v.ID,
		RemoteAccountName: v.Name,
		OrganizationID:    v.Organization.ID,
		OrganizationName:  v.Organization.Name,
	}, nil
}
