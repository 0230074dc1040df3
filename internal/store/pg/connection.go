package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/agentlink/internal/domain/repository"
)

type connectionRepo struct {
	pool *pgxpool.Pool
}

const connColumns = `id::text, owner_user_id, provider, access_token_enc, refresh_token_enc,
	token_expires_at, remote_account_id, remote_account_name, organization_id,
	scopes, is_active, created_at, updated_at`

func scanConnection(row pgx.Row) (*repository.Connection, error) {
	var c repository.Connection
	if err := row.Scan(
		&c.ID, &c.OwnerUserID, &c.Provider, &c.EncryptedAccessToken, &c.EncryptedRefreshToken,
		&c.TokenExpiresAt, &c.RemoteAccountID, &c.RemoteAccountName, &c.OrganizationID,
		&c.Scopes, &c.IsActive, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func scopesOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (r *connectionRepo) Create(ctx context.Context, c *repository.Connection) error {
	const q = `
		INSERT INTO oauth_connection (id, owner_user_id, provider, access_token_enc, refresh_token_enc,
			token_expires_at, remote_account_id, remote_account_name, organization_id,
			scopes, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	_, err := r.pool.Exec(ctx, q,
		c.ID, c.OwnerUserID, c.Provider, c.EncryptedAccessToken, c.EncryptedRefreshToken,
		c.TokenExpiresAt, c.RemoteAccountID, c.RemoteAccountName, c.OrganizationID,
		scopesOrEmpty(c.Scopes), c.IsActive, c.CreatedAt, c.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return repository.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("pg: create connection: %w", err)
	}
	return nil
}

func (r *connectionRepo) GetByID(ctx context.Context, id string) (*repository.Connection, error) {
	id, ok := rowID(id)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return scanConnection(r.pool.QueryRow(ctx, `SELECT `+connColumns+` FROM oauth_connection WHERE id = $1::uuid`, id))
}

func (r *connectionRepo) GetActiveByRemoteOrg(ctx context.Context, provider, orgID string) (*repository.Connection, error) {
	return scanConnection(r.pool.QueryRow(ctx, `
		SELECT `+connColumns+` FROM oauth_connection
		WHERE provider = $1 AND organization_id = $2 AND is_active
		ORDER BY updated_at DESC LIMIT 1`, provider, orgID))
}

// UpsertByRemoteOrg corre en una transacción con la fila existente bloqueada
// (FOR UPDATE): la última instalación sobreescribe los metadatos, pero el
// owner se resuelve con repository.UpsertOwner antes de escribir.
func (r *connectionRepo) UpsertByRemoteOrg(ctx context.Context, c *repository.Connection, mode repository.UpsertMode) (*repository.Connection, error) {
	if c.OrgID() == "" {
		return nil, repository.ErrInvalidInput
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("pg: upsert connection: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	existing, err := scanConnection(tx.QueryRow(ctx, `
		SELECT `+connColumns+` FROM oauth_connection
		WHERE provider = $1 AND organization_id = $2
		ORDER BY is_active DESC, updated_at DESC LIMIT 1 FOR UPDATE`, c.Provider, c.OrgID()))
	if err != nil && err != repository.ErrNotFound {
		return nil, fmt.Errorf("pg: upsert connection: lookup: %w", err)
	}

	var saved *repository.Connection
	if existing == nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO oauth_connection (id, owner_user_id, provider, access_token_enc, refresh_token_enc,
				token_expires_at, remote_account_id, remote_account_name, organization_id,
				scopes, is_active, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,TRUE,$11,$12)`,
			c.ID, c.OwnerUserID, c.Provider, c.EncryptedAccessToken, c.EncryptedRefreshToken,
			c.TokenExpiresAt, c.RemoteAccountID, c.RemoteAccountName, c.OrganizationID,
			scopesOrEmpty(c.Scopes), c.CreatedAt, c.UpdatedAt)
		if isUniqueViolation(err) {
			return nil, repository.ErrConflict
		}
		if err != nil {
			return nil, fmt.Errorf("pg: upsert connection: insert: %w", err)
		}
		saved = c.Clone()
		saved.IsActive = true
	} else {
		owner, err := repository.UpsertOwner(existing.OwnerUserID, c.OwnerUserID, mode)
		if err != nil {
			return nil, err
		}
		saved, err = scanConnection(tx.QueryRow(ctx, `
			UPDATE oauth_connection SET
				owner_user_id = $2,
				access_token_enc = $3,
				refresh_token_enc = $4,
				token_expires_at = $5,
				remote_account_id = $6,
				remote_account_name = $7,
				scopes = $8,
				is_active = TRUE,
				updated_at = $9
			WHERE id = $1::uuid
			RETURNING `+connColumns,
			existing.ID, owner, c.EncryptedAccessToken, c.EncryptedRefreshToken,
			c.TokenExpiresAt, c.RemoteAccountID, c.RemoteAccountName, scopesOrEmpty(c.Scopes), c.UpdatedAt))
		if err != nil {
			return nil, fmt.Errorf("pg: upsert connection: update: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("pg: upsert connection: commit: %w", err)
	}
	return saved, nil
}

func (r *connectionRepo) BindOwner(ctx context.Context, id, userID string) (*repository.Connection, error) {
	id, ok := rowID(id)
	if !ok {
		return nil, repository.ErrNotFound
	}
	c, err := scanConnection(r.pool.QueryRow(ctx, `
		UPDATE oauth_connection SET owner_user_id = $2, updated_at = now()
		WHERE id = $1::uuid AND owner_user_id = 'pending'
		RETURNING `+connColumns, id, userID))
	if err == nil {
		return c, nil
	}
	if err != repository.ErrNotFound {
		return nil, fmt.Errorf("pg: bind owner: %w", err)
	}
	// Sin fila actualizada: o no existe o ya estaba vinculada.
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM oauth_connection WHERE id = $1::uuid)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("pg: bind owner: %w", err)
	}
	if exists {
		return nil, repository.ErrConflict
	}
	return nil, repository.ErrNotFound
}

func (r *connectionRepo) UpdateTokens(ctx context.Context, id string, u repository.TokenUpdate) (*repository.Connection, error) {
	id, ok := rowID(id)
	if !ok {
		return nil, repository.ErrNotFound
	}
	c, err := scanConnection(r.pool.QueryRow(ctx, `
		UPDATE oauth_connection SET
			access_token_enc = $2, refresh_token_enc = $3, token_expires_at = $4,
			scopes = $5, updated_at = now()
		WHERE id = $1::uuid
		RETURNING `+connColumns,
		id, u.EncryptedAccessToken, u.EncryptedRefreshToken, u.TokenExpiresAt, scopesOrEmpty(u.Scopes)))
	if err == repository.ErrNotFound {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("pg: update tokens: %w", err)
	}
	return c, nil
}

func (r *connectionRepo) Deactivate(ctx context.Context, id string) error {
	id, ok := rowID(id)
	if !ok {
		return repository.ErrNotFound
	}
	tag, err := r.pool.Exec(ctx, `UPDATE oauth_connection SET is_active = FALSE, updated_at = now() WHERE id = $1::uuid`, id)
	if err != nil {
		return fmt.Errorf("pg: deactivate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *connectionRepo) List(ctx context.Context) ([]repository.Connection, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+connColumns+` FROM oauth_connection ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("pg: list connections: %w", err)
	}
	defer rows.Close()

	var out []repository.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("pg: list connections: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
