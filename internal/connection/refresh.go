package connection

import (
	"context"
	"fmt"

	"github.com/dropDatabas3/agentlink/internal/domain/repository"
	"github.com/dropDatabas3/agentlink/internal/metrics"
	"github.com/dropDatabas3/agentlink/internal/observability/logger"
	"github.com/dropDatabas3/agentlink/internal/providers"
)

// GetValidAccessToken returns a usable access token, refreshing first when
// the stored one expires within the refresh buffer or has no expiry.
//
// A token with no expiry and nothing to refresh with is returned as is. A
// token inside the buffer but not yet expired is also returned when it
// cannot be refreshed; only an expired one fails with ErrNoRefreshToken.
func (m *Manager) GetValidAccessToken(ctx context.Context, id string) (string, error) {
	c, err := m.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !c.IsActive {
		return "", ErrConnectionInactive
	}

	if m.needsRefresh(c) {
		p, err := m.provider(c.Provider)
		if err != nil {
			return "", err
		}
		switch {
		case m.canRefresh(c, p):
			if c, err = m.Refresh(ctx, id); err != nil {
				return "", err
			}
		case m.expired(c):
			return "", ErrNoRefreshToken
		}
	}

	token, err := m.box.Decrypt(c.EncryptedAccessToken)
	if err != nil {
		return "", fmt.Errorf("connection: open access token: %w", err)
	}
	if token == "" {
		return "", ErrNoRefreshToken
	}
	return token, nil
}

func (m *Manager) needsRefresh(c *repository.Connection) bool {
	if c.TokenExpiresAt == nil {
		return true
	}
	return !m.now().Add(m.cfg.RefreshBuffer).Before(*c.TokenExpiresAt)
}

func (m *Manager) expired(c *repository.Connection) bool {
	if c.TokenExpiresAt == nil {
		return false
	}
	return !m.now().Before(*c.TokenExpiresAt)
}

func (m *Manager) canRefresh(c *repository.Connection, p providers.Provider) bool {
	if c.EncryptedRefreshToken != nil {
		return true
	}
	mm, ok := p.(providers.InstallationMinter)
	return ok && mm.CanMint() && c.OrgID() != ""
}

// Refresh obtains new tokens from the provider and persists them. Concurrent
// calls for the same connection share one provider round trip. A failure
// leaves the stored connection untouched.
func (m *Manager) Refresh(ctx context.Context, id string) (*repository.Connection, error) {
	// The shared call must not die with whichever caller started it.
	shared := context.WithoutCancel(ctx)
	v, err, _ := m.refreshes.Do(id, func() (any, error) {
		return m.refresh(shared, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*repository.Connection).Clone(), nil
}

func (m *Manager) refresh(ctx context.Context, id string) (*repository.Connection, error) {
	c, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.IsActive {
		return nil, ErrConnectionInactive
	}
	p, err := m.provider(c.Provider)
	if err != nil {
		return nil, err
	}
	log := logger.From(ctx).With(logger.ConnectionID(id), logger.Provider(c.Provider))

	var (
		ts      *providers.TokenSet
		refresh = c.EncryptedRefreshToken
		result  = "ok"
	)
	switch {
	case c.EncryptedRefreshToken != nil:
		old, err := m.box.Decrypt(*c.EncryptedRefreshToken)
		if err != nil {
			return nil, fmt.Errorf("connection: open refresh token: %w", err)
		}
		ts, err = p.Refresh(ctx, old)
		if err != nil {
			log.Warn("token refresh rejected", logger.Err(err))
			metrics.TokenRefresh.WithLabelValues(c.Provider, "failed").Inc()
			return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
		}
		if ts.RefreshToken != "" && ts.RefreshToken != old {
			sealed, err := m.box.Encrypt(ts.RefreshToken)
			if err != nil {
				return nil, fmt.Errorf("connection: seal refresh token: %w", err)
			}
			refresh = &sealed
		}
	default:
		mm, ok := p.(providers.InstallationMinter)
		if !ok || !mm.CanMint() || c.OrgID() == "" {
			return nil, ErrNoRefreshToken
		}
		ts, err = mm.MintInstallationToken(ctx, c.OrgID())
		if err != nil {
			log.Warn("installation token mint failed", logger.Err(err))
			metrics.TokenRefresh.WithLabelValues(c.Provider, "failed").Inc()
			return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
		}
		result = "minted"
	}

	access, err := m.box.Encrypt(ts.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("connection: seal access token: %w", err)
	}
	scopes := ts.Scopes
	if len(scopes) == 0 {
		scopes = c.Scopes
	}
	updated, err := m.repo.UpdateTokens(ctx, id, repository.TokenUpdate{
		EncryptedAccessToken:  access,
		EncryptedRefreshToken: refresh,
		TokenExpiresAt:        expiryPtr(ts),
		Scopes:                scopes,
	})
	if err != nil {
		return nil, mapRepoErr(err)
	}

	metrics.TokenRefresh.WithLabelValues(c.Provider, result).Inc()
	log.Debug("token refreshed")
	return updated, nil
}
