// Package slack implements the Slack OAuth v2 provider. Connections are
// scoped to a Slack team.
package slack

import (
	"context"
	"fmt"

	"github.com/dropDatabas3/agentlink/internal/providers"
	"golang.org/x/oauth2"
)

const ProviderName = "slack"

var endpoint = oauth2.Endpoint{
	AuthURL:   "https://slack.com/oauth/v2/authorize",
	TokenURL:  "https://slack.com/api/oauth.v2.access",
	AuthStyle: oauth2.AuthStyleInParams,
}

// DefaultScopes are the bot scopes needed to follow channels and mentions.
var DefaultScopes = []string{
	"app_mentions:read",
	"channels:history",
	"channels:read",
	"chat:write",
	"im:history",
	"reactions:read",
	"users:read",
}

type Provider struct {
	*providers.OAuth2
}

func New(cfg providers.Config) *Provider {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	return &Provider{OAuth2: providers.NewOAuth2(cfg, endpoint)}
}

func (p *Provider) Name() string    { return ProviderName }
func (p *Provider) OrgScoped() bool { return true }

// Identity reads the team and installing user from the oauth.v2.access
// response itself; no extra API call is needed.
func (p *Provider) Identity(ctx context.Context, ts *providers.TokenSet) (*providers.Account, error) {
	team, _ := ts.Extra("team").(map[string]any)
	teamID, _ := team["id"].(string)
	teamName, _ := team["name"].(string)
	if teamID == "" {
		return nil, fmt.Errorf("slack: token response has no team")
	}

	acc := &providers.Account{
		RemoteAccountID:   teamID,
		RemoteAccountName: teamName,
		OrganizationID:    teamID,
		OrganizationName:  teamName,
	}
	if u, ok := ts.Extra("authed_user").(map[string]any); ok {
		if id, _ := u["id"].(string); id != "" {
			acc.RemoteAccountID = id
		}
	}
	return acc, nil
}

// BotUserID returns the bot user id Slack assigned to the installation.
func BotUserID(ts *providers.TokenSet) string {
	s, _ := ts.Extra("bot_user_id").(string)
	return s
}
