// Package providers defines the third-party OAuth providers a connection can
// be made against.
//
// Architecture:
//   - Provider interface: authorize URL, code exchange, refresh and identity
//   - OAuth2: golang.org/x/oauth2 backed base shared by the adapters
//   - Registry: name -> Provider, built once at startup and injected
//   - one sub-package per provider (github, linear, slack, generic)
package providers

import (
	"context"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultHTTPTimeout bounds every outbound provider call.
const DefaultHTTPTimeout = 10 * time.Second

// Provider is a third-party OAuth provider.
type Provider interface {
	Name() string

	// OrgScoped reports whether connections are unique per remote
	// organization (Slack team, Linear workspace, GitHub installation).
	OrgScoped() bool

	// AuthorizeURL builds the consent URL carrying state and the S256 challenge.
	AuthorizeURL(state, challenge, redirectURI string) string

	// Exchange trades an authorization code and its PKCE verifier for tokens.
	Exchange(ctx context.Context, code, verifier, redirectURI string) (*TokenSet, error)

	// Refresh obtains a new token set from a refresh token.
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)

	// Identity fetches the minimal account info for a fresh token set.
	Identity(ctx context.Context, ts *TokenSet) (*Account, error)
}

// InstallationMinter is implemented by app-style providers that mint
// short-lived tokens for an installation instead of refreshing.
type InstallationMinter interface {
	CanMint() bool
	MintInstallationToken(ctx context.Context, installationID string) (*TokenSet, error)
}

// Config contains the configuration for a provider instance.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string

	// Endpoint overrides, mostly for tests and the generic provider.
	AuthURL     string
	TokenURL    string
	UserInfoURL string
	APIBaseURL  string

	HTTPTimeout time.Duration

	// Provider-specific extra config
	Extra map[string]string
}

// TokenSet contains tokens received from the provider.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time // zero when the provider sent no expires_in
	Scopes       []string

	raw *oauth2.Token
}

// Extra returns a raw field from the token response.
func (t *TokenSet) Extra(key string) any {
	if t == nil || t.raw == nil {
		return nil
	}
	return t.raw.Extra(key)
}

// HasExpiry reports whether the token carries an expiry.
func (t *TokenSet) HasExpiry() bool { return !t.Expiry.IsZero() }

// Account is the remote identity behind a token set.
type Account struct {
	RemoteAccountID   string
	RemoteAccountName string
	OrganizationID    string
	OrganizationName  string
}

// FromOAuth2 converts an oauth2 token.
func FromOAuth2(tok *oauth2.Token) *TokenSet {
	ts := &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
		raw:          tok,
	}
	if s, ok := tok.Extra("scope").(string); ok {
		ts.Scopes = ParseScopes(s)
	}
	return ts
}

// ParseScopes splits a scope string on spaces or commas.
func ParseScopes(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' })
	if len(fields) == 0 {
		return nil
	}
	return fields
}
