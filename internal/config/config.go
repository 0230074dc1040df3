package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dropDatabas3/agentlink/internal/security/secretbox"
	"github.com/dropDatabas3/agentlink/internal/validation"
	"gopkg.in/yaml.v3"
)

// ErrInvalid agrupa los errores de validación que no son de la clave maestra
// (esos devuelven secretbox.ErrConfiguration).
var ErrInvalid = errors.New("config: invalid")

// ProviderConfig es la configuración de un proveedor OAuth + su webhook.
// Un proveedor está habilitado cuando tiene client_id.
type ProviderConfig struct {
	ClientID      string   `yaml:"client_id"`
	ClientSecret  string   `yaml:"client_secret"`
	RedirectURI   string   `yaml:"redirect_uri"`
	Scopes        []string `yaml:"scopes"`
	WebhookSecret string   `yaml:"webhook_secret"`

	// Overrides de endpoints (tests, proveedores genéricos).
	AuthURL     string `yaml:"auth_url"`
	TokenURL    string `yaml:"token_url"`
	UserInfoURL string `yaml:"userinfo_url"`
	APIBaseURL  string `yaml:"api_base_url"`

	Extra map[string]string `yaml:"extra"`
}

// Enabled reports whether the provider has client credentials.
func (p ProviderConfig) Enabled() bool { return strings.TrimSpace(p.ClientID) != "" }

type Config struct {
	App struct {
		// dev | staging | prod
		Env      string `yaml:"app_env"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	Server struct {
		Addr            string        `yaml:"addr"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Storage struct {
		Driver   string `yaml:"driver"` // memory | postgres
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxOpenConns int `yaml:"max_open_conns"`
			MaxIdleConns int `yaml:"max_idle_conns"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	// Cache respalda el Challenge Store.
	Cache struct {
		Kind  string `yaml:"kind"` // memory | redis | postgres
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			CleanupInterval time.Duration `yaml:"cleanup_interval"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	Security struct {
		SecretBoxMasterKey string `yaml:"secretbox_master_key"`
		PBKDF2Iterations   int    `yaml:"pbkdf2_iterations"`
	} `yaml:"security"`

	OAuth struct {
		AllowedRedirectURLs []string `yaml:"allowed_redirect_urls"`
	} `yaml:"oauth"`

	Challenge struct {
		TTL           time.Duration `yaml:"ttl"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
	} `yaml:"challenge"`

	Tokens struct {
		RefreshBuffer time.Duration `yaml:"refresh_buffer"`
	} `yaml:"tokens"`

	Providers struct {
		HTTPTimeout time.Duration             `yaml:"http_timeout"`
		Slack       ProviderConfig            `yaml:"slack"`
		GitHub      ProviderConfig            `yaml:"github"`
		Linear      ProviderConfig            `yaml:"linear"`
		Generic     map[string]ProviderConfig `yaml:"generic"`
	} `yaml:"providers"`

	Webhooks struct {
		// Sólo dev: acepta entregas sin firma cuando el secreto no está configurado.
		InsecureDevMode bool          `yaml:"insecure_dev_mode"`
		ReplayWindow    time.Duration `yaml:"replay_window"`
		Rules           struct {
			Handles           []string      `yaml:"handles"`
			PriorityThreshold int           `yaml:"priority_threshold"`
			AttentionStates   []string      `yaml:"attention_states"`
			AttentionLabels   []string      `yaml:"attention_labels"`
			DeadlineWindow    time.Duration `yaml:"deadline_window"`
		} `yaml:"rules"`
	} `yaml:"webhooks"`

	Reaction struct {
		Workers   int           `yaml:"workers"`
		QueueSize int           `yaml:"queue_size"`
		Timeout   time.Duration `yaml:"timeout"`
		// AgentURL recibe un POST por evento; vacío => sólo se loguea.
		AgentURL string `yaml:"agent_url"`
	} `yaml:"reaction"`

	// Rate limita OAuth y webhooks por IP + ruta.
	Rate struct {
		Enabled     bool          `yaml:"enabled"`
		Window      time.Duration `yaml:"window"`
		MaxRequests int           `yaml:"max_requests"`
	} `yaml:"rate"`

	JWT struct {
		JWKSURL  string        `yaml:"jwks_url"`
		Issuer   string        `yaml:"issuer"`
		Audience string        `yaml:"audience"`
		CacheTTL time.Duration `yaml:"cache_ttl"`
		Leeway   time.Duration `yaml:"leeway"`
	} `yaml:"jwt"`
}

// Load lee el YAML (path vacío => sólo defaults + env), aplica defaults,
// overrides por env y valida.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	c.applyEnvOverrides()
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	c.App.Env = strings.ToLower(c.App.Env)
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Storage.Driver == "" {
		if c.Storage.DSN != "" {
			c.Storage.Driver = "postgres"
		} else {
			c.Storage.Driver = "memory"
		}
	}
	if c.Storage.Driver == "pg" {
		c.Storage.Driver = "postgres"
	}
	if c.Storage.Postgres.MaxOpenConns == 0 {
		c.Storage.Postgres.MaxOpenConns = 10
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "agentlink"
	}
	if c.Cache.Memory.CleanupInterval == 0 {
		c.Cache.Memory.CleanupInterval = time.Minute
	}
	if c.Challenge.TTL == 0 {
		c.Challenge.TTL = 10 * time.Minute
	}
	if c.Challenge.SweepInterval == 0 {
		c.Challenge.SweepInterval = 5 * time.Minute
	}
	if c.Tokens.RefreshBuffer == 0 {
		c.Tokens.RefreshBuffer = 5 * time.Minute
	}
	if c.Providers.HTTPTimeout == 0 {
		c.Providers.HTTPTimeout = 10 * time.Second
	}
	if c.Webhooks.ReplayWindow == 0 {
		c.Webhooks.ReplayWindow = 5 * time.Minute
	}
	if c.Reaction.Workers == 0 {
		c.Reaction.Workers = 4
	}
	if c.Reaction.QueueSize == 0 {
		c.Reaction.QueueSize = 256
	}
	if c.Reaction.Timeout == 0 {
		c.Reaction.Timeout = 2 * time.Minute
	}
	if c.Rate.Window == 0 {
		c.Rate.Window = time.Minute
	}
	if c.Rate.MaxRequests == 0 {
		c.Rate.MaxRequests = 120
	}
	if c.JWT.CacheTTL == 0 {
		c.JWT.CacheTTL = 10 * time.Minute
	}
	if c.JWT.Leeway == 0 {
		c.JWT.Leeway = 30 * time.Second
	}
}

// IsProd reports whether the process runs with production posture.
func (c *Config) IsProd() bool {
	return c.App.Env == "prod" || c.App.Env == "production"
}

// EnabledProviders devuelve los proveedores con credenciales, por nombre.
func (c *Config) EnabledProviders() map[string]ProviderConfig {
	out := map[string]ProviderConfig{}
	for name, p := range map[string]ProviderConfig{
		"slack":  c.Providers.Slack,
		"github": c.Providers.GitHub,
		"linear": c.Providers.Linear,
	} {
		if p.Enabled() {
			out[name] = p
		}
	}
	for name, p := range c.Providers.Generic {
		if p.Enabled() {
			out[strings.ToLower(name)] = p
		}
	}
	return out
}

// WebhookSecrets devuelve provider -> secreto, sólo los configurados.
func (c *Config) WebhookSecrets() map[string]string {
	out := map[string]string{}
	for name, p := range c.EnabledProviders() {
		if s := strings.TrimSpace(p.WebhookSecret); s != "" {
			out[name] = s
		}
	}
	return out
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

func setStr(dst *string, key string) {
	if v, ok := getEnvStr(key); ok {
		*dst = v
	}
}

func setDur(dst *time.Duration, key string) {
	if v, ok := getEnvDur(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := getEnvInt(key); ok {
		*dst = v
	}
}

// providerEnv pisa las credenciales de un proveedor con <PREFIX>_CLIENT_ID,
// <PREFIX>_CLIENT_SECRET, <PREFIX>_REDIRECT_URI y el secreto de webhook.
func providerEnv(p *ProviderConfig, prefix, secretKey string) {
	setStr(&p.ClientID, prefix+"_CLIENT_ID")
	setStr(&p.ClientSecret, prefix+"_CLIENT_SECRET")
	setStr(&p.RedirectURI, prefix+"_REDIRECT_URI")
	setStr(&p.WebhookSecret, secretKey)
	if v, ok := getEnvCSV(prefix + "_SCOPES"); ok {
		p.Scopes = v
	}
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	setStr(&c.App.LogLevel, "LOG_LEVEL")

	// SERVER
	setStr(&c.Server.Addr, "SERVER_ADDR")

	// STORAGE
	setStr(&c.Storage.Driver, "STORAGE_DRIVER")
	setStr(&c.Storage.DSN, "STORAGE_DSN")

	// CACHE
	setStr(&c.Cache.Kind, "CACHE_KIND")
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
		if _, explicit := getEnvStr("CACHE_KIND"); !explicit {
			c.Cache.Kind = "redis"
		}
	}
	setStr(&c.Cache.Redis.Password, "REDIS_PASSWORD")
	setInt(&c.Cache.Redis.DB, "REDIS_DB")

	// SECURITY
	setStr(&c.Security.SecretBoxMasterKey, "SECRETBOX_MASTER_KEY")
	setInt(&c.Security.PBKDF2Iterations, "SECRETBOX_PBKDF2_ITERATIONS")

	// OAUTH / TOKENS
	if v, ok := getEnvCSV("OAUTH_ALLOWED_REDIRECT_URLS"); ok {
		c.OAuth.AllowedRedirectURLs = v
	}
	setDur(&c.Challenge.TTL, "CHALLENGE_TTL")
	setDur(&c.Tokens.RefreshBuffer, "TOKENS_REFRESH_BUFFER")
	setDur(&c.Providers.HTTPTimeout, "PROVIDERS_HTTP_TIMEOUT")

	// PROVIDERS
	providerEnv(&c.Providers.Slack, "SLACK", "SLACK_SIGNING_SECRET")
	providerEnv(&c.Providers.GitHub, "GITHUB", "GITHUB_WEBHOOK_SECRET")
	providerEnv(&c.Providers.Linear, "LINEAR", "LINEAR_WEBHOOK_SECRET")
	for _, k := range []string{"app_id", "private_key_path"} {
		if v, ok := getEnvStr("GITHUB_" + strings.ToUpper(k)); ok {
			if c.Providers.GitHub.Extra == nil {
				c.Providers.GitHub.Extra = map[string]string{}
			}
			c.Providers.GitHub.Extra[k] = v
		}
	}

	// WEBHOOKS
	if v, ok := getEnvBool("WEBHOOKS_INSECURE_DEV_MODE"); ok {
		c.Webhooks.InsecureDevMode = v
	}
	if v, ok := getEnvCSV("WEBHOOKS_HANDLES"); ok {
		c.Webhooks.Rules.Handles = v
	}

	// REACTION
	setStr(&c.Reaction.AgentURL, "REACTION_AGENT_URL")
	setInt(&c.Reaction.Workers, "REACTION_WORKERS")

	// RATE
	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
	setInt(&c.Rate.MaxRequests, "RATE_MAX_REQUESTS")

	// JWT
	setStr(&c.JWT.JWKSURL, "JWT_JWKS_URL")
	setStr(&c.JWT.Issuer, "JWT_ISSUER")
	setStr(&c.JWT.Audience, "JWT_AUDIENCE")
}

// Validate falla rápido ante configuraciones inseguras o incompletas.
func (c *Config) Validate() error {
	if _, err := secretbox.FromEncoded(c.Security.SecretBoxMasterKey); err != nil {
		return err
	}

	var problems []string
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			problems = append(problems, "storage.dsn is required for postgres")
		}
	default:
		problems = append(problems, fmt.Sprintf("storage.driver %q not supported", c.Storage.Driver))
	}
	switch c.Cache.Kind {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Cache.Redis.Addr) == "" {
			problems = append(problems, "cache.redis.addr is required for redis")
		}
	case "postgres":
		if c.Storage.Driver != "postgres" {
			problems = append(problems, "cache.kind=postgres requires storage.driver=postgres")
		}
	default:
		problems = append(problems, fmt.Sprintf("cache.kind %q not supported", c.Cache.Kind))
	}
	if c.Challenge.TTL < 0 || c.Tokens.RefreshBuffer < 0 || c.Providers.HTTPTimeout < 0 || c.Rate.Window < 0 {
		problems = append(problems, "durations must not be negative")
	}

	enabled := c.EnabledProviders()
	names := make([]string, 0, len(enabled))
	for name := range enabled {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if bad := validation.InvalidScopes(enabled[name].Scopes); len(bad) > 0 {
			problems = append(problems, fmt.Sprintf("providers.%s.scopes: invalid scope tokens %q", name, bad))
		}
	}

	if c.IsProd() {
		if c.Webhooks.InsecureDevMode {
			problems = append(problems, "webhooks.insecure_dev_mode is not allowed in prod")
		}
		secrets := c.WebhookSecrets()
		for _, name := range names {
			if _, ok := secrets[name]; !ok {
				problems = append(problems, fmt.Sprintf("providers.%s.webhook_secret is required in prod", name))
			}
		}
		if strings.TrimSpace(c.JWT.JWKSURL) == "" {
			problems = append(problems, "jwt.jwks_url is required in prod")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}
