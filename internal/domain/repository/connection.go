package repository

import (
	"context"
	"time"
)

// PendingOwner is the owner of a connection created before the user's
// session exists on this system. It is replaced exactly once by LinkConnection.
const PendingOwner = "pending"

// Connection is a third-party account bound (or pending binding) to a user.
// Token fields always hold secretbox blobs, never plaintext.
type Connection struct {
	ID                    string
	OwnerUserID           string
	Provider              string
	EncryptedAccessToken  string
	EncryptedRefreshToken *string
	TokenExpiresAt        *time.Time
	RemoteAccountID       string
	RemoteAccountName     string
	OrganizationID        *string
	Scopes                []string
	IsActive              bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// IsPending reports whether the connection still awaits a user.
func (c *Connection) IsPending() bool { return c.OwnerUserID == PendingOwner }

// OrgID returns the remote organization id or "".
func (c *Connection) OrgID() string {
	if c.OrganizationID == nil {
		return ""
	}
	return *c.OrganizationID
}

// Clone returns a deep copy, so stores can hand out values callers may mutate.
func (c *Connection) Clone() *Connection {
	out := *c
	if c.EncryptedRefreshToken != nil {
		v := *c.EncryptedRefreshToken
		out.EncryptedRefreshToken = &v
	}
	if c.TokenExpiresAt != nil {
		v := *c.TokenExpiresAt
		out.TokenExpiresAt = &v
	}
	if c.OrganizationID != nil {
		v := *c.OrganizationID
		out.OrganizationID = &v
	}
	out.Scopes = append([]string(nil), c.Scopes...)
	return &out
}

// UpsertMode decide cómo trata UpsertByRemoteOrg un owner entrante pendiente
// cuando la fila existente ya está vinculada.
type UpsertMode int

const (
	// UpsertKeepOwner conserva el owner vinculado (re-instalación iniciada
	// por el provider, sin usuario).
	UpsertKeepOwner UpsertMode = iota
	// UpsertRequireOwner exige que el owner entrante sea el vinculado
	// (re-autorización iniciada por un usuario).
	UpsertRequireOwner
)

// UpsertOwner resuelve el owner que queda tras un upsert sobre una fila con
// owner existing. Una fila pendiente toma el owner entrante; una vinculada
// sólo acepta el mismo owner, o PendingOwner en modo UpsertKeepOwner.
func UpsertOwner(existing, incoming string, mode UpsertMode) (string, error) {
	switch {
	case existing == PendingOwner, existing == incoming:
		return incoming, nil
	case incoming == PendingOwner && mode == UpsertKeepOwner:
		return existing, nil
	default:
		return "", ErrConflict
	}
}

// TokenUpdate carries the result of a refresh. Fields are already encrypted.
type TokenUpdate struct {
	EncryptedAccessToken  string
	EncryptedRefreshToken *string
	TokenExpiresAt        *time.Time
	Scopes                []string
}

// ConnectionRepository define operaciones sobre conexiones OAuth.
type ConnectionRepository interface {
	// Create inserta una conexión nueva. ID y timestamps ya vienen seteados.
	Create(ctx context.Context, c *Connection) error

	// GetByID retorna ErrNotFound si no existe.
	GetByID(ctx context.Context, id string) (*Connection, error)

	// GetActiveByRemoteOrg busca la conexión activa para (provider, orgID).
	// Retorna ErrNotFound si no hay ninguna.
	GetActiveByRemoteOrg(ctx context.Context, provider, orgID string) (*Connection, error)

	// UpsertByRemoteOrg crea o sobreescribe (last-write-wins) la conexión de
	// un provider organization-scoped, reactivándola. Prefiere la fila activa
	// del par. Un owner ya vinculado nunca se reemplaza: ver UpsertOwner.
	// Retorna ErrConflict sin persistir nada si el owner no es compatible.
	UpsertByRemoteOrg(ctx context.Context, c *Connection, mode UpsertMode) (*Connection, error)

	// BindOwner setea el owner sólo si todavía es PendingOwner.
	// Retorna ErrConflict si ya estaba vinculada y ErrNotFound si no existe.
	BindOwner(ctx context.Context, id, userID string) (*Connection, error)

	// UpdateTokens persiste tokens nuevos tras un refresh.
	UpdateTokens(ctx context.Context, id string, u TokenUpdate) (*Connection, error)

	// Deactivate marca is_active=false. Los tokens se conservan para auditoría.
	Deactivate(ctx context.Context, id string) error

	// List devuelve todas las conexiones (activas o no), ordenadas por created_at.
	List(ctx context.Context) ([]Connection, error)
}
