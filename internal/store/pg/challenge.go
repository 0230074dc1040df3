package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/agentlink/internal/cache"
)

// ChallengeBackend guarda challenges PKCE pendientes en oauth_challenge.
// Implementa challenge.Backend y cache.Sweeper.
type ChallengeBackend struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func (b *ChallengeBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return cache.ErrInvalidTTL
	}
	_, err := b.pool.Exec(ctx, `
		INSERT INTO oauth_challenge (key, value, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, b.now().Add(ttl).UTC())
	if err != nil {
		return fmt.Errorf("pg: set challenge: %w", err)
	}
	return nil
}

// GetAndDelete es un único DELETE ... RETURNING: dos callers concurrentes
// sobre la misma key nunca reciben ambos el valor.
func (b *ChallengeBackend) GetAndDelete(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value     []byte
		expiresAt time.Time
	)
	err := b.pool.QueryRow(ctx, `DELETE FROM oauth_challenge WHERE key = $1 RETURNING value, expires_at`, key).Scan(&value, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pg: take challenge: %w", err)
	}
	if !b.now().Before(expiresAt) {
		return nil, false, nil
	}
	return value, true, nil
}

// Cleanup borra los challenges expirados que nadie consumió.
func (b *ChallengeBackend) Cleanup(ctx context.Context) (int, error) {
	tag, err := b.pool.Exec(ctx, `DELETE FROM oauth_challenge WHERE expires_at <= $1`, b.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("pg: cleanup challenges: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
