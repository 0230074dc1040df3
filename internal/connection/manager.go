// Package connection owns the lifecycle of third-party OAuth connections:
// authorization round trip, linking to a user, token refresh and
// disconnect, plus installation-style connections created from webhooks.
//
// Tokens are sealed with secretbox before they reach the repository and are
// only opened in GetValidAccessToken and Refresh.
package connection

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/agentlink/internal/challenge"
	"github.com/dropDatabas3/agentlink/internal/domain/repository"
	"github.com/dropDatabas3/agentlink/internal/metrics"
	"github.com/dropDatabas3/agentlink/internal/observability/logger"
	"github.com/dropDatabas3/agentlink/internal/providers"
	"github.com/dropDatabas3/agentlink/internal/security/pkce"
	"github.com/dropDatabas3/agentlink/internal/security/secretbox"
	tokens "github.com/dropDatabas3/agentlink/internal/security/token"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshBuffer is how close to expiry a token is refreshed.
const DefaultRefreshBuffer = 5 * time.Minute

// ChallengeStore is the single-use state -> verifier store.
type ChallengeStore interface {
	Put(ctx context.Context, state string, p challenge.Pending, ttl time.Duration) error
	Take(ctx context.Context, state string) (*challenge.Pending, bool, error)
}

// Config tunes the manager.
type Config struct {
	ChallengeTTL  time.Duration
	RefreshBuffer time.Duration

	// AllowedRedirects lists redirect URIs a caller may request. A request
	// matches an entry exactly or as a sub-path of it.
	AllowedRedirects []string
}

// Manager is the connection manager.
type Manager struct {
	repo       repository.ConnectionRepository
	challenges ChallengeStore
	providers  *providers.Registry
	box        *secretbox.Box
	cfg        Config
	now        func() time.Time
	newID      func() string
	log        *zap.Logger

	// refreshes collapses concurrent refreshes of one connection.
	refreshes singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithIDGenerator overrides uuid generation.
func WithIDGenerator(f func() string) Option { return func(m *Manager) { m.newID = f } }

// NewManager wires a Manager.
func NewManager(repo repository.ConnectionRepository, challenges ChallengeStore, reg *providers.Registry, box *secretbox.Box, cfg Config, opts ...Option) *Manager {
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = challenge.DefaultTTL
	}
	if cfg.RefreshBuffer <= 0 {
		cfg.RefreshBuffer = DefaultRefreshBuffer
	}
	m := &Manager{
		repo:       repo,
		challenges: challenges,
		providers:  reg,
		box:        box,
		cfg:        cfg,
		now:        time.Now,
		newID:      uuid.NewString,
		log:        logger.Named("connection"),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) provider(name string) (providers.Provider, error) {
	p, ok := m.providers.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// BeginOptions are optional inputs to BeginAuthorization.
type BeginOptions struct {
	RedirectURI string
	// BoundUserID links the resulting connection directly to this user.
	BoundUserID string
}

// Authorization is the consent URL plus the state it carries.
type Authorization struct {
	URL   string
	State string
}

// BeginAuthorization creates a PKCE pair and a state, stores the pending
// challenge and returns the provider consent URL.
func (m *Manager) BeginAuthorization(ctx context.Context, provider string, opts BeginOptions) (*Authorization, error) {
	p, err := m.provider(provider)
	if err != nil {
		return nil, err
	}
	if opts.RedirectURI != "" && !m.redirectAllowed(opts.RedirectURI) {
		return nil, ErrInvalidRedirect
	}

	pair := pkce.NewPair()
	state, err := tokens.NewState()
	if err != nil {
		return nil, fmt.Errorf("connection: begin: %w", err)
	}
	err = m.challenges.Put(ctx, state, challenge.Pending{
		Verifier:    pair.CodeVerifier,
		Provider:    provider,
		BoundUserID: opts.BoundUserID,
		RedirectURI: opts.RedirectURI,
	}, m.cfg.ChallengeTTL)
	if err != nil {
		return nil, fmt.Errorf("connection: begin: %w", err)
	}

	metrics.OAuthFlows.WithLabelValues(provider, "begun").Inc()
	return &Authorization{URL: p.AuthorizeURL(state, pair.CodeChallenge, opts.RedirectURI), State: state}, nil
}

func (m *Manager) redirectAllowed(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" || u.Fragment != "" {
		return false
	}
	for _, allowed := range m.cfg.AllowedRedirects {
		if raw == allowed {
			return true
		}
		base := strings.TrimRight(allowed, "/") + "/"
		if strings.HasPrefix(raw, base) && !traverses(raw[len(base):]) {
			return true
		}
	}
	return false
}

// traverses reports whether a redirect sub-path climbs out of its base,
// literally or percent-encoded (%2e%2e, %2E%2E, .%2e).
func traverses(rest string) bool {
	if strings.Contains(rest, "..") {
		return true
	}
	unescaped, err := url.PathUnescape(rest)
	return err != nil || strings.Contains(unescaped, "..")
}

// CompleteAuthorization consumes the challenge for state, exchanges the code
// and persists the connection. Nothing is persisted unless the exchange and
// the identity fetch both succeed.
func (m *Manager) CompleteAuthorization(ctx context.Context, provider, code, state string) (*repository.Connection, error) {
	log := logger.From(ctx).With(logger.Provider(provider), logger.Op("complete_authorization"))

	pending, ok, err := m.challenges.Take(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("connection: complete: %w", err)
	}
	if !ok || pending.Provider != provider {
		metrics.OAuthFlows.WithLabelValues(provider, "invalid_state").Inc()
		return nil, ErrInvalidOrExpiredState
	}

	p, err := m.provider(provider)
	if err != nil {
		return nil, err
	}
	if code == "" {
		metrics.OAuthFlows.WithLabelValues(provider, "exchange_failed").Inc()
		return nil, fmt.Errorf("%w: missing code", ErrTokenExchangeFailed)
	}

	ts, err := p.Exchange(ctx, code, pending.Verifier, pending.RedirectURI)
	if err != nil {
		log.Warn("code exchange rejected", logger.Err(err))
		metrics.OAuthFlows.WithLabelValues(provider, "exchange_failed").Inc()
		return nil, fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err)
	}
	acc, err := p.Identity(ctx, ts)
	if err != nil {
		log.Warn("identity fetch failed", logger.Err(err))
		metrics.OAuthFlows.WithLabelValues(provider, "exchange_failed").Inc()
		return nil, fmt.Errorf("%w: identity: %v", ErrTokenExchangeFailed, err)
	}

	owner := repository.PendingOwner
	if pending.BoundUserID != "" {
		owner = pending.BoundUserID
	}
	c, err := m.sealNew(provider, owner, acc, ts)
	if err != nil {
		return nil, err
	}

	// Una re-autorización de una org ya vinculada sólo vale para su owner;
	// cualquier otro flujo (otro usuario o sin usuario) no persiste nada.
	var saved *repository.Connection
	orgScoped := p.OrgScoped() && acc.OrganizationID != ""
	if orgScoped {
		saved, err = m.repo.UpsertByRemoteOrg(ctx, c, repository.UpsertRequireOwner)
	} else {
		err = m.repo.Create(ctx, c)
		saved = c
	}
	if orgScoped && repository.IsConflict(err) {
		log.Warn("organization already linked to another user", logger.OrgID(c.OrgID()))
		metrics.OAuthFlows.WithLabelValues(provider, "already_linked").Inc()
		return nil, ErrAlreadyLinked
	}
	if err != nil {
		metrics.OAuthFlows.WithLabelValues(provider, "error").Inc()
		return nil, fmt.Errorf("connection: persist: %w", err)
	}

	metrics.OAuthFlows.WithLabelValues(provider, "connected").Inc()
	log.Info("connection created", logger.ConnectionID(saved.ID), logger.Bool("pending", saved.IsPending()))
	return saved, nil
}

// AbortAuthorization handles a callback that carries a provider error
// instead of a code. The challenge is consumed either way.
func (m *Manager) AbortAuthorization(ctx context.Context, provider, state, providerError string) error {
	pending, ok, err := m.challenges.Take(ctx, state)
	if err != nil {
		return fmt.Errorf("connection: abort: %w", err)
	}
	if !ok || pending.Provider != provider {
		metrics.OAuthFlows.WithLabelValues(provider, "invalid_state").Inc()
		return ErrInvalidOrExpiredState
	}
	metrics.OAuthFlows.WithLabelValues(provider, "exchange_failed").Inc()
	return fmt.Errorf("%w: provider returned %q", ErrTokenExchangeFailed, providerError)
}

func (m *Manager) sealNew(provider, owner string, acc *providers.Account, ts *providers.TokenSet) (*repository.Connection, error) {
	access, err := m.box.Encrypt(ts.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("connection: seal access token: %w", err)
	}
	var refresh *string
	if ts.RefreshToken != "" {
		r, err := m.box.Encrypt(ts.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("connection: seal refresh token: %w", err)
		}
		refresh = &r
	}

	now := m.now().UTC()
	c := &repository.Connection{
		ID:                    m.newID(),
		OwnerUserID:           owner,
		Provider:              provider,
		EncryptedAccessToken:  access,
		EncryptedRefreshToken: refresh,
		TokenExpiresAt:        expiryPtr(ts),
		RemoteAccountID:       acc.RemoteAccountID,
		RemoteAccountName:     acc.RemoteAccountName,
		Scopes:                ts.Scopes,
		IsActive:              true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if acc.OrganizationID != "" {
		org := acc.OrganizationID
		c.OrganizationID = &org
	}
	return c, nil
}

func expiryPtr(ts *providers.TokenSet) *time.Time {
	if !ts.HasExpiry() {
		return nil
	}
	t := ts.Expiry.UTC()
	return &t
}

// Get returns a connection by id.
func (m *Manager) Get(ctx context.Context, id string) (*repository.Connection, error) {
	c, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return c, nil
}

// LinkConnection binds a pending connection to userID. A connection is
// linked at most once; a second call fails even with the same user.
func (m *Manager) LinkConnection(ctx context.Context, id, userID string) (*repository.Connection, error) {
	if userID == "" || userID == repository.PendingOwner {
		return nil, fmt.Errorf("connection: link: %w", repository.ErrInvalidInput)
	}
	c, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.IsActive {
		return nil, ErrConnectionInactive
	}
	if !c.IsPending() {
		return nil, ErrAlreadyLinked
	}
	linked, err := m.repo.BindOwner(ctx, id, userID)
	if err != nil {
		if repository.IsConflict(err) {
			return nil, ErrAlreadyLinked
		}
		return nil, mapRepoErr(err)
	}
	logger.From(ctx).Info("connection linked", logger.ConnectionID(id), logger.UserID(userID), logger.Provider(c.Provider))
	return linked, nil
}

// Disconnect deactivates a connection. Sealed tokens are kept for audit.
func (m *Manager) Disconnect(ctx context.Context, id string) error {
	if err := m.repo.Deactivate(ctx, id); err != nil {
		return mapRepoErr(err)
	}
	logger.From(ctx).Info("connection disconnected", logger.ConnectionID(id))
	return nil
}

// LookupByRemoteOrg returns the active connection for a provider
// organization, or ErrNotFound.
func (m *Manager) LookupByRemoteOrg(ctx context.Context, provider, orgID string) (*repository.Connection, error) {
	if orgID == "" {
		return nil, ErrNotFound
	}
	c, err := m.repo.GetActiveByRemoteOrg(ctx, provider, orgID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return c, nil
}

func mapRepoErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("connection: %w", err)
}
