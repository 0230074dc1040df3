package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dropDatabas3/agentlink/internal/security/secretbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"APP_ENV", "SECRETBOX_MASTER_KEY", "STORAGE_DSN", "STORAGE_DRIVER", "REDIS_ADDR", "CACHE_KIND",
		"SLACK_CLIENT_ID", "SLACK_SIGNING_SECRET", "GITHUB_CLIENT_ID", "GITHUB_WEBHOOK_SECRET",
		"LINEAR_CLIENT_ID", "LINEAR_WEBHOOK_SECRET", "WEBHOOKS_INSECURE_DEV_MODE", "JWT_JWKS_URL",
		"RATE_ENABLED", "RATE_MAX_REQUESTS",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("SECRETBOX_MASTER_KEY", testKey)

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "dev", c.App.Env)
	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, "memory", c.Storage.Driver)
	assert.Equal(t, "memory", c.Cache.Kind)
	assert.Equal(t, 10*time.Minute, c.Challenge.TTL)
	assert.Equal(t, 5*time.Minute, c.Tokens.RefreshBuffer)
	assert.Equal(t, 10*time.Second, c.Providers.HTTPTimeout)
	assert.Empty(t, c.EnabledProviders())
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	clearEnv(t)
	p := writeYAML(t, `
app:
  app_env: staging
security:
  secretbox_master_key: "`+testKey+`"
challenge:
  ttl: 3m
tokens:
  refresh_buffer: 2m
providers:
  http_timeout: 4s
  slack:
    client_id: yaml-slack
    webhook_secret: yaml-signing
  generic:
    Demo:
      client_id: demo-id
      auth_url: https://demo.example/authorize
      token_url: https://demo.example/token
oauth:
  allowed_redirect_urls: [https://app.example/done]
`)
	t.Setenv("SLACK_SIGNING_SECRET", "env-signing")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("GITHUB_CLIENT_ID", "gh-id")

	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "staging", c.App.Env)
	assert.Equal(t, 3*time.Minute, c.Challenge.TTL)
	assert.Equal(t, 2*time.Minute, c.Tokens.RefreshBuffer)
	assert.Equal(t, 4*time.Second, c.Providers.HTTPTimeout)
	assert.Equal(t, "redis", c.Cache.Kind)
	assert.Equal(t, []string{"https://app.example/done"}, c.OAuth.AllowedRedirectURLs)

	enabled := c.EnabledProviders()
	assert.Contains(t, enabled, "slack")
	assert.Contains(t, enabled, "github")
	assert.Contains(t, enabled, "demo")
	assert.Equal(t, map[string]string{"slack": "env-signing"}, c.WebhookSecrets())
}

func TestValidate_MasterKey(t *testing.T) {
	clearEnv(t)
	_, err := Load("")
	assert.ErrorIs(t, err, secretbox.ErrConfiguration)

	t.Setenv("SECRETBOX_MASTER_KEY", "short")
	_, err = Load("")
	assert.ErrorIs(t, err, secretbox.ErrConfiguration)
}

func TestValidate_ProdPosture(t *testing.T) {
	clearEnv(t)
	t.Setenv("SECRETBOX_MASTER_KEY", testKey)
	t.Setenv("APP_ENV", "prod")
	t.Setenv("JWT_JWKS_URL", "https://id.example/.well-known/jwks.json")
	t.Setenv("SLACK_CLIENT_ID", "slack-id")

	_, err := Load("")
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "providers.slack.webhook_secret")

	// insecure_dev_mode no cubre la falta de secreto en prod, y además es rechazado.
	t.Setenv("WEBHOOKS_INSECURE_DEV_MODE", "true")
	_, err = Load("")
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "insecure_dev_mode")

	t.Setenv("WEBHOOKS_INSECURE_DEV_MODE", "")
	t.Setenv("SLACK_SIGNING_SECRET", "s3cret")
	c, err := Load("")
	require.NoError(t, err)
	assert.True(t, c.IsProd())
}

func TestValidate_DevAllowsMissingSecret(t *testing.T) {
	clearEnv(t)
	t.Setenv("SECRETBOX_MASTER_KEY", testKey)
	t.Setenv("LINEAR_CLIENT_ID", "lin")
	t.Setenv("WEBHOOKS_INSECURE_DEV_MODE", "true")

	c, err := Load("")
	require.NoError(t, err)
	assert.True(t, c.Webhooks.InsecureDevMode)
	assert.Empty(t, c.WebhookSecrets())
}

func TestValidate_StorageAndCache(t *testing.T) {
	clearEnv(t)
	t.Setenv("SECRETBOX_MASTER_KEY", testKey)

	t.Setenv("STORAGE_DRIVER", "postgres")
	_, err := Load("")
	assert.ErrorIs(t, err, ErrInvalid)

	t.Setenv("STORAGE_DRIVER", "")
	t.Setenv("CACHE_KIND", "postgres")
	_, err = Load("")
	assert.ErrorIs(t, err, ErrInvalid)

	t.Setenv("STORAGE_DSN", "postgres://localhost/agentlink")
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres", c.Storage.Driver)
	assert.Equal(t, "postgres", c.Cache.Kind)
}

func TestValidate_ProviderScopes(t *testing.T) {
	clearEnv(t)
	path := writeYAML(t, `
security:
  secretbox_master_key: `+testKey+`
providers:
  github:
    client_id: gh
    scopes: ["repo", "read:org"]
  slack:
    client_id: sl
    scopes: ["chat:write", "bad scope"]
`)
	_, err := Load(path)
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "providers.slack.scopes")
	assert.NotContains(t, err.Error(), "providers.github")
}

func TestLoad_RateDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("SECRETBOX_MASTER_KEY", testKey)
	t.Setenv("RATE_ENABLED", "true")

	c, err := Load("")
	require.NoError(t, err)
	assert.True(t, c.Rate.Enabled)
	assert.Equal(t, time.Minute, c.Rate.Window)
	assert.Equal(t, 120, c.Rate.MaxRequests)
}
