// Package app arma el grafo de dependencias del servicio a partir de la
// configuración: storage, challenge store, proveedores, manager, ingress de
// webhooks, dispatcher de reacciones, validador JWT y router.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/agentlink/internal/cache"
	"github.com/dropDatabas3/agentlink/internal/challenge"
	"github.com/dropDatabas3/agentlink/internal/config"
	"github.com/dropDatabas3/agentlink/internal/connection"
	"github.com/dropDatabas3/agentlink/internal/domain/repository"
	"github.com/dropDatabas3/agentlink/internal/http/controllers"
	mw "github.com/dropDatabas3/agentlink/internal/http/middlewares"
	"github.com/dropDatabas3/agentlink/internal/http/router"
	"github.com/dropDatabas3/agentlink/internal/jwtauth"
	"github.com/dropDatabas3/agentlink/internal/observability/logger"
	"github.com/dropDatabas3/agentlink/internal/providers"
	"github.com/dropDatabas3/agentlink/internal/providers/generic"
	"github.com/dropDatabas3/agentlink/internal/providers/github"
	"github.com/dropDatabas3/agentlink/internal/providers/linear"
	"github.com/dropDatabas3/agentlink/internal/providers/slack"
	"github.com/dropDatabas3/agentlink/internal/rate"
	"github.com/dropDatabas3/agentlink/internal/reaction"
	"github.com/dropDatabas3/agentlink/internal/security/secretbox"
	"github.com/dropDatabas3/agentlink/internal/store/memory"
	"github.com/dropDatabas3/agentlink/internal/store/pg"
	"github.com/dropDatabas3/agentlink/internal/webhook"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Stores son los repositorios más lo necesario para cerrarlos.
type Stores struct {
	Connections repository.ConnectionRepository
	Events      repository.EventRepository

	// PG es nil con el driver memory.
	PG *pg.Store
}

// Close libera el pool, si hay.
func (s *Stores) Close() {
	if s.PG != nil {
		s.PG.Close()
	}
}

// OpenStores abre el storage configurado. Lo usan también los comandos
// migrate y reencrypt, que no necesitan el resto del grafo.
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		st, err := pg.Open(ctx, pg.Config{
			DSN:          cfg.Storage.DSN,
			MaxOpenConns: cfg.Storage.Postgres.MaxOpenConns,
			MaxIdleConns: cfg.Storage.Postgres.MaxIdleConns,
		})
		if err != nil {
			return nil, err
		}
		return &Stores{Connections: st.Connections(), Events: st.Events(), PG: st}, nil
	default:
		st := memory.New()
		return &Stores{Connections: st.Connections(), Events: st.Events()}, nil
	}
}

// OpenBox construye el secretbox con la master key configurada.
func OpenBox(cfg *config.Config) (*secretbox.Box, error) {
	var opts []secretbox.Option
	if cfg.Security.PBKDF2Iterations > 0 {
		opts = append(opts, secretbox.WithIterations(cfg.Security.PBKDF2Iterations))
	}
	return secretbox.FromEncoded(cfg.Security.SecretBoxMasterKey, opts...)
}

// App es la aplicación cableada.
type App struct {
	Config     *config.Config
	Handler    http.Handler
	Stores     *Stores
	Box        *secretbox.Box
	Registry   *providers.Registry
	Challenges *challenge.Store
	Manager    *connection.Manager
	Ingress    *webhook.Ingress
	Dispatcher *reaction.Dispatcher
	Validator  *jwtauth.Validator // nil sin jwks_url

	closers []func()
	log     *zap.Logger
}

// Build cablea todo. Si falla a mitad de camino cierra lo que ya abrió.
func Build(ctx context.Context, cfg *config.Config, version string) (_ *App, err error) {
	a := &App{Config: cfg, log: logger.Named("app")}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.Box, err = OpenBox(cfg); err != nil {
		return nil, err
	}

	if a.Stores, err = OpenStores(ctx, cfg); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Stores.Close)

	pingers := map[string]controllers.Pinger{}
	if a.Stores.PG != nil {
		pingers["postgres"] = a.Stores.PG
	}

	backend, redisCache, err := a.challengeBackend(ctx)
	if err != nil {
		return nil, err
	}
	if redisCache != nil {
		pingers["redis"] = redisCache
	}
	a.Challenges = challenge.New(backend, a.Box)

	if a.Registry, err = BuildRegistry(cfg); err != nil {
		return nil, err
	}

	a.Manager = connection.NewManager(a.Stores.Connections, a.Challenges, a.Registry, a.Box, connection.Config{
		ChallengeTTL:     cfg.Challenge.TTL,
		RefreshBuffer:    cfg.Tokens.RefreshBuffer,
		AllowedRedirects: cfg.OAuth.AllowedRedirectURLs,
	})

	var agent reaction.Agent = reaction.LogAgent{}
	if cfg.Reaction.AgentURL != "" {
		agent = reaction.NewHTTPAgent(cfg.Reaction.AgentURL, cfg.Reaction.Timeout)
	}
	a.Dispatcher = reaction.New(agent, a.Manager, a.Stores.Events, reaction.Config{
		Workers:   cfg.Reaction.Workers,
		QueueSize: cfg.Reaction.QueueSize,
		Timeout:   cfg.Reaction.Timeout,
	})

	a.Ingress = webhook.New(a.Stores.Events, a.Manager, webhook.Config{
		Secrets:         cfg.WebhookSecrets(),
		InsecureDevMode: cfg.Webhooks.InsecureDevMode,
		Rules: webhook.Rules{
			Handles:           cfg.Webhooks.Rules.Handles,
			PriorityThreshold: cfg.Webhooks.Rules.PriorityThreshold,
			AttentionStates:   cfg.Webhooks.Rules.AttentionStates,
			AttentionLabels:   cfg.Webhooks.Rules.AttentionLabels,
			DeadlineWindow:    cfg.Webhooks.Rules.DeadlineWindow,
		},
	}, BuildSources(cfg), webhook.WithDispatcher(a.Dispatcher))

	deps := router.Deps{
		Connections: controllers.NewConnectionController(a.Manager),
		Webhooks:    controllers.NewWebhookController(a.Ingress),
		Health:      controllers.NewHealthController(version, pingers),
		Metrics:     promhttp.Handler(),
	}

	if cfg.JWT.JWKSURL != "" {
		keys := jwtauth.NewKeySet(cfg.JWT.JWKSURL, cfg.JWT.CacheTTL, &http.Client{Timeout: cfg.Providers.HTTPTimeout})
		a.Validator = jwtauth.NewValidator(keys, jwtauth.Config{
			Issuer:   cfg.JWT.Issuer,
			Audience: cfg.JWT.Audience,
			Leeway:   cfg.JWT.Leeway,
		})
		// Interfaz no-nil sólo cuando hay validador.
		deps.Auth = mw.TokenVerifier(a.Validator)
	} else {
		a.log.Warn("jwt.jwks_url vacío: las rutas /connections quedan deshabilitadas")
	}

	if cfg.Rate.Enabled {
		if redisCache != nil {
			deps.RateLimiter = rate.NewRedisLimiter(redisCache.Client(), cfg.Cache.Redis.Prefix+":rl:", cfg.Rate.MaxRequests, cfg.Rate.Window)
		} else {
			deps.RateLimiter = rate.NewMemoryLimiter(cfg.Rate.MaxRequests, cfg.Rate.Window)
		}
	}

	a.Handler = router.New(deps)

	a.log.Info("app wired",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("cache", cfg.Cache.Kind),
		zap.Strings("providers", a.Registry.Names()),
		zap.Strings("webhooks", a.Ingress.Providers()),
		zap.Bool("auth", a.Validator != nil),
		zap.Bool("rate_limit", cfg.Rate.Enabled),
	)
	return a, nil
}

// challengeBackend elige dónde viven los states OAuth. Devuelve además el
// cliente redis cuando aplica, para compartirlo con el rate limiter.
func (a *App) challengeBackend(ctx context.Context) (challenge.Backend, *cache.Redis, error) {
	cfg := a.Config
	switch cfg.Cache.Kind {
	case "postgres":
		if a.Stores.PG == nil {
			return nil, nil, fmt.Errorf("app: cache.kind=postgres requires storage.driver=postgres")
		}
		return a.Stores.PG.Challenges(), nil, nil
	case "redis":
		r, err := cache.NewRedis(ctx, cache.Config{
			Driver:   "redis",
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Prefix:   cfg.Cache.Redis.Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func() { _ = r.Close() })
		return r, r, nil
	default:
		m := cache.NewMemory(cfg.Cache.Redis.Prefix, cfg.Cache.Memory.CleanupInterval)
		a.closers = append(a.closers, func() { _ = m.Close() })
		return m, nil, nil
	}
}

func providerConfig(cfg *config.Config, pc config.ProviderConfig) providers.Config {
	return providers.Config{
		ClientID:     pc.ClientID,
		ClientSecret: pc.ClientSecret,
		RedirectURI:  pc.RedirectURI,
		Scopes:       pc.Scopes,
		AuthURL:      pc.AuthURL,
		TokenURL:     pc.TokenURL,
		UserInfoURL:  pc.UserInfoURL,
		APIBaseURL:   pc.APIBaseURL,
		HTTPTimeout:  cfg.Providers.HTTPTimeout,
		Extra:        pc.Extra,
	}
}

// BuildRegistry registra los proveedores habilitados (los que tienen client_id).
func BuildRegistry(cfg *config.Config) (*providers.Registry, error) {
	reg := providers.NewRegistry()
	for name, pc := range cfg.EnabledProviders() {
		pcfg := providerConfig(cfg, pc)
		switch name {
		case slack.ProviderName:
			reg.Register(slack.New(pcfg))
		case linear.ProviderName:
			reg.Register(linear.New(pcfg))
		case github.ProviderName:
			p, err := github.New(pcfg)
			if err != nil {
				return nil, fmt.Errorf("app: github provider: %w", err)
			}
			reg.Register(p)
		default:
			p, err := generic.New(name, pcfg)
			if err != nil {
				return nil, fmt.Errorf("app: provider %q: %w", name, err)
			}
			reg.Register(p)
		}
	}
	return reg, nil
}

// BuildSources arma un verificador de webhooks por proveedor habilitado.
// Los genéricos usan bearer compartido.
func BuildSources(cfg *config.Config) []webhook.Source {
	var out []webhook.Source
	for name := range cfg.EnabledProviders() {
		switch name {
		case slack.ProviderName:
			out = append(out, webhook.SlackSource{Window: cfg.Webhooks.ReplayWindow})
		case github.ProviderName:
			out = append(out, webhook.GitHubSource{})
		case linear.ProviderName:
			out = append(out, webhook.LinearSource{Window: cfg.Webhooks.ReplayWindow})
		default:
			out = append(out, webhook.BearerSource{Name: strings.ToLower(name)})
		}
	}
	return out
}

// Start levanta el trabajo en background: workers de reacción y el janitor
// de challenges. El janitor termina con ctx; los workers no: los corta Stop
// después de drenar la cola.
func (a *App) Start(ctx context.Context) error {
	if err := a.Dispatcher.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	if a.Config.Challenge.SweepInterval > 0 {
		go a.Challenges.RunJanitor(ctx, a.Config.Challenge.SweepInterval)
	}
	return nil
}

// Stop drena el dispatcher dentro de timeout.
func (a *App) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return a.Dispatcher.Stop(ctx)
}

// Close libera recursos en orden inverso.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
