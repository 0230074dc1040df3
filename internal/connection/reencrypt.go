package connection

import (
	"context"
	"fmt"

	"github.com/dropDatabas3/agentlink/internal/domain/repository"
	"github.com/dropDatabas3/agentlink/internal/observability/logger"
	"github.com/dropDatabas3/agentlink/internal/security/secretbox"
)

// ReencryptLegacy seals token columns that still hold plaintext from before
// encryption at rest. It is a one-off migration run from the CLI; nothing on
// the request path treats a stored value as plaintext.
func (m *Manager) ReencryptLegacy(ctx context.Context) (int, error) {
	all, err := m.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("connection: reencrypt: %w", err)
	}

	n := 0
	for i := range all {
		c := &all[i]
		upd, changed, err := m.sealLegacy(c)
		if err != nil {
			return n, err
		}
		if !changed {
			continue
		}
		if _, err := m.repo.UpdateTokens(ctx, c.ID, upd); err != nil {
			return n, fmt.Errorf("connection: reencrypt %s: %w", c.ID, err)
		}
		n++
		logger.From(ctx).Info("legacy tokens sealed", logger.ConnectionID(c.ID), logger.Provider(c.Provider))
	}
	return n, nil
}

func (m *Manager) sealLegacy(c *repository.Connection) (repository.TokenUpdate, bool, error) {
	upd := repository.TokenUpdate{
		EncryptedAccessToken:  c.EncryptedAccessToken,
		EncryptedRefreshToken: c.EncryptedRefreshToken,
		TokenExpiresAt:        c.TokenExpiresAt,
		Scopes:                c.Scopes,
	}
	changed := false
	if !secretbox.IsSealed(c.EncryptedAccessToken) {
		s, err := m.box.Encrypt(c.EncryptedAccessToken)
		if err != nil {
			return upd, false, fmt.Errorf("connection: reencrypt %s: %w", c.ID, err)
		}
		upd.EncryptedAccessToken = s
		changed = true
	}
	if c.EncryptedRefreshToken != nil && !secretbox.IsSealed(*c.EncryptedRefreshToken) {
		s, err := m.box.Encrypt(*c.EncryptedRefreshToken)
		if err != nil {
			return upd, false, fmt.Errorf("connection: reencrypt %s: %w", c.ID, err)
		}
		upd.EncryptedRefreshToken = &s
		changed = true
	}
	return upd, changed, nil
}
