// Package memory implementa los repositorios del dominio en memoria.
// Sirve para desarrollo local (storage.driver=memory) y para tests; no
// persiste nada entre reinicios.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dropDatabas3/agentlink/internal/domain/repository"
)

// Store guarda conexiones y eventos detrás de un único mutex.
type Store struct {
	mu     sync.Mutex
	conns  map[string]*repository.Connection
	events map[string]*repository.InboundEvent // key: provider_event_id
	now    func() time.Time
}

// New crea un Store vacío.
func New() *Store {
	return &Store{
		conns:  make(map[string]*repository.Connection),
		events: make(map[string]*repository.InboundEvent),
		now:    time.Now,
	}
}

// Connections expone el Store como ConnectionRepository.
func (s *Store) Connections() repository.ConnectionRepository { return (*connRepo)(s) }

// Events expone el Store como EventRepository.
func (s *Store) Events() repository.EventRepository { return (*eventRepo)(s) }

type connRepo Store

func (r *connRepo) Create(ctx context.Context, c *repository.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.ID]; ok {
		return repository.ErrConflict
	}
	r.conns[c.ID] = c.Clone()
	return nil
}

func (r *connRepo) GetByID(ctx context.Context, id string) (*repository.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c.Clone(), nil
}

// activeByOrg asume r.mu tomado.
func (r *connRepo) activeByOrg(provider, orgID string) *repository.Connection {
	var found *repository.Connection
	for _, c := range r.conns {
		if c.Provider != provider || c.OrgID() != orgID || !c.IsActive {
			continue
		}
		if found == nil || c.UpdatedAt.After(found.UpdatedAt) {
			found = c
		}
	}
	return found
}

func (r *connRepo) GetActiveByRemoteOrg(ctx context.Context, provider, orgID string) (*repository.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.activeByOrg(provider, orgID); c != nil {
		return c.Clone(), nil
	}
	return nil, repository.ErrNotFound
}

func (r *connRepo) UpsertByRemoteOrg(ctx context.Context, c *repository.Connection, mode repository.UpsertMode) (*repository.Connection, error) {
	if c.OrgID() == "" {
		return nil, repository.ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	// Igual que en pg: is_active DESC, updated_at DESC. Una re-instalación
	// reactiva la fila más reciente del par si no hay ninguna activa.
	var existing *repository.Connection
	for _, e := range r.conns {
		if e.Provider != c.Provider || e.OrgID() != c.OrgID() {
			continue
		}
		switch {
		case existing == nil,
			e.IsActive && !existing.IsActive,
			e.IsActive == existing.IsActive && e.UpdatedAt.After(existing.UpdatedAt):
			existing = e
		}
	}
	if existing == nil {
		r.conns[c.ID] = c.Clone()
		return c.Clone(), nil
	}

	owner, err := repository.UpsertOwner(existing.OwnerUserID, c.OwnerUserID, mode)
	if err != nil {
		return nil, err
	}
	updated := c.Clone()
	updated.ID = existing.ID
	updated.OwnerUserID = owner
	updated.CreatedAt = existing.CreatedAt
	updated.IsActive = true
	r.conns[existing.ID] = updated

	// Cualquier otra fila activa del mismo par queda inactiva.
	for id, e := range r.conns {
		if id != existing.ID && e.Provider == c.Provider && e.OrgID() == c.OrgID() {
			e.IsActive = false
		}
	}
	return updated.Clone(), nil
}

func (r *connRepo) BindOwner(ctx context.Context, id, userID string) (*repository.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if c.OwnerUserID != repository.PendingOwner {
		return nil, repository.ErrConflict
	}
	c.OwnerUserID = userID
	c.UpdatedAt = r.now().UTC()
	return c.Clone(), nil
}

func (r *connRepo) UpdateTokens(ctx context.Context, id string, u repository.TokenUpdate) (*repository.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	tmp := (&repository.Connection{
		EncryptedRefreshToken: u.EncryptedRefreshToken,
		TokenExpiresAt:        u.TokenExpiresAt,
		Scopes:                u.Scopes,
	}).Clone()
	c.EncryptedAccessToken = u.EncryptedAccessToken
	c.EncryptedRefreshToken = tmp.EncryptedRefreshToken
	c.TokenExpiresAt = tmp.TokenExpiresAt
	c.Scopes = tmp.Scopes
	c.UpdatedAt = r.now().UTC()
	return c.Clone(), nil
}

func (r *connRepo) Deactivate(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.IsActive = false
	c.UpdatedAt = r.now().UTC()
	return nil
}

func (r *connRepo) List(ctx context.Context) ([]repository.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]repository.Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, *c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type eventRepo Store

func (r *eventRepo) Insert(ctx context.Context, e *repository.InboundEvent) (bool, error) {
	if e.ProviderEventID == "" {
		return false, repository.ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[e.ProviderEventID]; ok {
		return false, nil
	}
	cp := *e
	cp.RawPayload = append([]byte(nil), e.RawPayload...)
	r.events[e.ProviderEventID] = &cp
	return true, nil
}

func (r *eventRepo) ExistsByProviderEventID(ctx context.Context, providerEventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.events[providerEventID]
	return ok, nil
}

func (r *eventRepo) GetByProviderEventID(ctx context.Context, providerEventID string) (*repository.InboundEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[providerEventID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *eventRepo) MarkProcessed(ctx context.Context, id string, result, errMsg *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			e.Processed = true
			e.ReactionResult = result
			e.ErrorMessage = errMsg
			return nil
		}
	}
	return repository.ErrNotFound
}

// EventCount returns the number of stored events.
func (s *Store) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
