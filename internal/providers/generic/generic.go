// Package generic implements a provider fully described by configuration:
// authorize/token endpoints and an optional JSON userinfo endpoint.
package generic

import (
	"context"
	"fmt"

	"github.com/dropDatabas3/agentlink/internal/providers"
	"golang.org/x/oauth2"
)

type Provider struct {
	*providers.OAuth2

	name        string
	orgScoped   bool
	userInfoURL string
}

// New requires cfg.AuthURL and cfg.TokenURL. Extra["org_scoped"]="true"
// marks the provider as organization scoped.
func New(name string, cfg providers.Config) (*Provider, error) {
	if cfg.AuthURL == "" || cfg.TokenURL == "" {
		return nil, fmt.Errorf("generic: provider %q needs auth_url and token_url", name)
	}
	return &Provider{
		OAuth2:      providers.NewOAuth2(cfg, oauth2.Endpoint{}),
		name:        name,
		orgScoped:   cfg.Extra["org_scoped"] == "true",
		userInfoURL: cfg.UserInfoURL,
	}, nil
}

func (p *Provider) Name() string    { return p.name }
func (p *Provider) OrgScoped() bool { return p.orgScoped }

type userInfo struct {
	ID    any    `json:"id"`
	Sub   string `json:"sub"`
	Name  string `json:"name"`
	Login string `json:"login"`
	Org   string `json:"organization_id"`
}

// Identity calls the userinfo endpoint when configured. Without it the
// account is anonymous.
func (p *Provider) Identity(ctx context.Context, ts *providers.TokenSet) (*providers.Account, error) {
	if p.userInfoURL == "" {
		return &providers.Account{}, nil
	}
	var ui userInfo
	if err := p.GetJSON(ctx, p.userInfoURL, ts.AccessToken, &ui); err != nil {
		return nil, fmt.Errorf("%s: userinfo: %w", p.name, err)
	}
	id := ui.Sub
	if id == "" && ui.ID != nil {
		id = fmt.Sprint(ui.ID)
	}
	name := ui.Name
	if name == "" {
		name = ui.Login
	}
	return &providers.Account{RemoteAccountID: id, RemoteAccountName: name, OrganizationID: ui.Org}, nil
}
