package connection

import (
	"context"
	"errors"
	"fmt"

	"github.com/dropDatabas3/agentlink/internal/domain/repository"
	"github.com/dropDatabas3/agentlink/internal/observability/logger"
	"github.com/dropDatabas3/agentlink/internal/providers"
)

// Installation is a provider-initiated install (GitHub App style).
type Installation struct {
	ID          string // remote installation id, stored as the organization id
	AccountID   string
	AccountName string
}

// HandleInstallation creates or reactivates the connection for an
// installation. A known installation id is overwritten in place, keeping its
// owner. When the provider can mint installation tokens the first one is
// minted now. Without a fresh token the active connection keeps the tokens it
// already had; a new one holds no usable token yet.
func (m *Manager) HandleInstallation(ctx context.Context, provider string, inst Installation) (*repository.Connection, error) {
	if inst.ID == "" {
		return nil, fmt.Errorf("connection: installation: %w", repository.ErrInvalidInput)
	}
	p, err := m.provider(provider)
	if err != nil {
		return nil, err
	}
	log := logger.From(ctx).With(logger.Provider(provider), logger.OrgID(inst.ID))

	ts := &providers.TokenSet{}
	minted := false
	if mm, ok := p.(providers.InstallationMinter); ok && mm.CanMint() {
		fresh, err := mm.MintInstallationToken(ctx, inst.ID)
		if err != nil {
			log.Warn("installation token mint failed", logger.Err(err))
		} else {
			ts, minted = fresh, true
		}
	}

	c, err := m.sealNew(provider, repository.PendingOwner, &providers.Account{
		RemoteAccountID:   inst.AccountID,
		RemoteAccountName: inst.AccountName,
		OrganizationID:    inst.ID,
	}, ts)
	if err != nil {
		return nil, err
	}
	if !minted {
		if err := m.keepTokens(ctx, provider, c); err != nil {
			return nil, err
		}
	}
	saved, err := m.repo.UpsertByRemoteOrg(ctx, c, repository.UpsertKeepOwner)
	if err != nil {
		return nil, fmt.Errorf("connection: installation: %w", err)
	}
	log.Info("installation recorded", logger.ConnectionID(saved.ID))
	return saved, nil
}

// keepTokens copies the sealed tokens of the active connection for c's
// organization into c, so an upsert without a fresh token does not blank them.
func (m *Manager) keepTokens(ctx context.Context, provider string, c *repository.Connection) error {
	prev, err := m.repo.GetActiveByRemoteOrg(ctx, provider, c.OrgID())
	if repository.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("connection: installation: %w", err)
	}
	c.EncryptedAccessToken = prev.EncryptedAccessToken
	c.EncryptedRefreshToken = prev.EncryptedRefreshToken
	c.TokenExpiresAt = prev.TokenExpiresAt
	c.Scopes = prev.Scopes
	return nil
}

// DeactivateByRemoteOrg disconnects the active connection for an
// organization, if any.
func (m *Manager) DeactivateByRemoteOrg(ctx context.Context, provider, orgID string) error {
	c, err := m.LookupByRemoteOrg(ctx, provider, orgID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return m.Disconnect(ctx, c.ID)
}
