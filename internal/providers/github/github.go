// Package github implements the GitHub provider: OAuth App user connections
// and, when an App id and private key are configured, installation tokens
// for GitHub App installations.
package github

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dropDatabas3/agentlink/internal/providers"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const ProviderName = "github"

const defaultAPIBase = "https://api.github.com"

// Provider implements providers.Provider and providers.InstallationMinter.
type Provider struct {
	*providers.OAuth2

	apiBase string
	appID   string
	appKey  *rsa.PrivateKey
	now     func() time.Time
}

// New creates a GitHub provider. Extra keys: "app_id" plus one of
// "private_key" (PEM) or "private_key_path".
func New(cfg providers.Config) (*Provider, error) {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"read:user", "repo"}
	}
	ep := endpoints.GitHub
	ep.AuthStyle = oauth2.AuthStyleInParams

	p := &Provider{
		OAuth2:  providers.NewOAuth2(cfg, ep),
		apiBase: strings.TrimRight(cfg.APIBaseURL, "/"),
		appID:   cfg.Extra["app_id"],
		now:     time.Now,
	}
	if p.apiBase == "" {
		p.apiBase = defaultAPIBase
	}

	pemData := []byte(cfg.Extra["private_key"])
	if path := cfg.Extra["private_key_path"]; len(pemData) == 0 && path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("github: read app private key: %w", err)
		}
		pemData = b
	}
	if p.appID != "" && len(pemData) > 0 {
		key, err := jwt.ParseRSAPrivateKeyFromPEM(pemData)
		if err != nil {
			return nil, fmt.Errorf("github: parse app private key: %w", err)
		}
		p.appKey = key
	}
	return p, nil
}

func (p *Provider) Name() string { return ProviderName }

// OrgScoped is true: installation connections are keyed by installation id.
func (p *Provider) OrgScoped() bool { return true }

type user struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
}

// Identity fetches /user. OAuth App connections carry no organization.
func (p *Provider) Identity(ctx context.Context, ts *providers.TokenSet) (*providers.Account, error) {
	var u user
	if err := p.GetJSON(ctx, p.apiBase+"/user", ts.AccessToken, &u); err != nil {
		return nil, fmt.Errorf("github: fetch user: %w", err)
	}
	name := u.Login
	if name == "" {
		name = u.Name
	}
	return &providers.Account{
		RemoteAccountID:   strconv.FormatInt(u.ID, 10),
		RemoteAccountName: name,
	}, nil
}

// CanMint reports whether App credentials are configured.
func (p *Provider) CanMint() bool { return p.appKey != nil }

func (p *Provider) appJWT() (string, error) {
	now := p.now()
	claims := jwt.RegisteredClaims{
		Issuer:    p.appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(p.appKey)
}

type installationToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MintInstallationToken exchanges an App JWT for an installation token.
func (p *Provider) MintInstallationToken(ctx context.Context, installationID string) (*providers.TokenSet, error) {
	if !p.CanMint() {
		return nil, fmt.Errorf("github: app credentials not configured")
	}
	signed, err := p.appJWT()
	if err != nil {
		return nil, fmt.Errorf("github: sign app jwt: %w", err)
	}

	ctx, cancel := p.WithTimeout(ctx)
	defer cancel()

	url := fmt.Sprintf("%s/app/installations/%s/access_tokens", p.apiBase, installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+signed)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	var it installationToken
	if err := p.DoJSON(req, &it); err != nil {
		return nil, fmt.Errorf("github: mint installation token: %w", err)
	}
	if it.Token == "" {
		return nil, fmt.Errorf("github: empty installation token")
	}
	return &providers.TokenSet{AccessToken: it.Token, TokenType: "token", Expiry: it.ExpiresAt}, nil
}
