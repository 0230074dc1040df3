package memory

import (
	"context"
	"testing"
	"time"

	"github.com/dropDatabas3/agentlink/internal/domain/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orgConn(id, owner, org, name string, at time.Time) *repository.Connection {
	return &repository.Connection{
		ID:                   id,
		OwnerUserID:          owner,
		Provider:             "slack",
		EncryptedAccessToken: "v1.x",
		RemoteAccountName:    name,
		OrganizationID:       &org,
		IsActive:             true,
		CreatedAt:            at,
		UpdatedAt:            at,
	}
}

func TestUpsertByRemoteOrg_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	repo := New().Connections()
	t0 := time.Now()

	first, err := repo.UpsertByRemoteOrg(ctx, orgConn("c1", repository.PendingOwner, "T1", "Acme", t0), repository.UpsertKeepOwner)
	require.NoError(t, err)
	_, err = repo.BindOwner(ctx, first.ID, "user-1")
	require.NoError(t, err)
	require.NoError(t, repo.Deactivate(ctx, first.ID))

	second, err := repo.UpsertByRemoteOrg(ctx, orgConn("c2", repository.PendingOwner, "T1", "Acme Renamed", t0.Add(time.Minute)), repository.UpsertKeepOwner)
	require.NoError(t, err)
	assert.Equal(t, "c1", second.ID, "re-installation reuses the row")
	assert.Equal(t, "user-1", second.OwnerUserID, "owner survives re-installation")
	assert.Equal(t, "Acme Renamed", second.RemoteAccountName)
	assert.True(t, second.IsActive)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpsertByRemoteOrg_NeverReplacesLinkedOwner(t *testing.T) {
	ctx := context.Background()
	repo := New().Connections()
	t0 := time.Now()

	first, err := repo.UpsertByRemoteOrg(ctx, orgConn("c1", "alice", "T1", "Acme", t0), repository.UpsertRequireOwner)
	require.NoError(t, err)

	_, err = repo.UpsertByRemoteOrg(ctx, orgConn("c2", "mallory", "T1", "Evil", t0.Add(time.Minute)), repository.UpsertRequireOwner)
	assert.ErrorIs(t, err, repository.ErrConflict)
	_, err = repo.UpsertByRemoteOrg(ctx, orgConn("c3", "mallory", "T1", "Evil", t0.Add(time.Minute)), repository.UpsertKeepOwner)
	assert.ErrorIs(t, err, repository.ErrConflict)
	_, err = repo.UpsertByRemoteOrg(ctx, orgConn("c4", repository.PendingOwner, "T1", "Evil", t0.Add(time.Minute)), repository.UpsertRequireOwner)
	assert.ErrorIs(t, err, repository.ErrConflict)

	got, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.OwnerUserID)
	assert.Equal(t, "Acme", got.RemoteAccountName, "a rejected upsert persists nothing")

	again, err := repo.UpsertByRemoteOrg(ctx, orgConn("c5", "alice", "T1", "Acme 2", t0.Add(2*time.Minute)), repository.UpsertRequireOwner)
	require.NoError(t, err)
	assert.Equal(t, "c1", again.ID)
	assert.Equal(t, "Acme 2", again.RemoteAccountName)
}

func TestUpsertByRemoteOrg_PrefersActiveRow(t *testing.T) {
	ctx := context.Background()
	repo := New().Connections()
	t0 := time.Now()

	// Fila activa vieja y fila inactiva más nueva del mismo par.
	require.NoError(t, repo.Create(ctx, orgConn("active", "user-1", "T1", "Acme", t0)))
	stale := orgConn("stale", "user-2", "T1", "Acme Old", t0.Add(time.Minute))
	stale.IsActive = false
	require.NoError(t, repo.Create(ctx, stale))

	got, err := repo.UpsertByRemoteOrg(ctx, orgConn("c3", repository.PendingOwner, "T1", "Acme New", t0.Add(2*time.Minute)), repository.UpsertKeepOwner)
	require.NoError(t, err)
	assert.Equal(t, "active", got.ID)
	assert.Equal(t, "user-1", got.OwnerUserID)

	old, err := repo.GetByID(ctx, "stale")
	require.NoError(t, err)
	assert.False(t, old.IsActive)
	assert.Equal(t, "Acme Old", old.RemoteAccountName)
}

func TestUpsertOwner(t *testing.T) {
	cases := []struct {
		existing, incoming string
		mode               repository.UpsertMode
		want               string
		conflict           bool
	}{
		{repository.PendingOwner, "u1", repository.UpsertRequireOwner, "u1", false},
		{repository.PendingOwner, repository.PendingOwner, repository.UpsertRequireOwner, repository.PendingOwner, false},
		{"u1", "u1", repository.UpsertRequireOwner, "u1", false},
		{"u1", repository.PendingOwner, repository.UpsertKeepOwner, "u1", false},
		{"u1", repository.PendingOwner, repository.UpsertRequireOwner, "", true},
		{"u1", "u2", repository.UpsertKeepOwner, "", true},
		{"u1", "u2", repository.UpsertRequireOwner, "", true},
	}
	for _, tc := range cases {
		got, err := repository.UpsertOwner(tc.existing, tc.incoming, tc.mode)
		if tc.conflict {
			assert.ErrorIs(t, err, repository.ErrConflict, "%s <- %s", tc.existing, tc.incoming)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestBindOwner_Once(t *testing.T) {
	ctx := context.Background()
	repo := New().Connections()
	require.NoError(t, repo.Create(ctx, orgConn("c1", repository.PendingOwner, "T1", "Acme", time.Now())))

	c, err := repo.BindOwner(ctx, "c1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", c.OwnerUserID)

	_, err = repo.BindOwner(ctx, "c1", "u2")
	assert.ErrorIs(t, err, repository.ErrConflict)

	_, err = repo.BindOwner(ctx, "missing", "u1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestGetByID_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	repo := New().Connections()
	require.NoError(t, repo.Create(ctx, orgConn("c1", repository.PendingOwner, "T1", "Acme", time.Now())))

	c, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	c.IsActive = false

	again, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, again.IsActive)
}

func TestEvents_InsertIsUnique(t *testing.T) {
	ctx := context.Background()
	s := New()
	events := s.Events()

	ok, err := events.Insert(ctx, &repository.InboundEvent{ID: "e1", ProviderEventID: "Ev001", EventType: "message"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = events.Insert(ctx, &repository.InboundEvent{ID: "e2", ProviderEventID: "Ev001", EventType: "other"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, s.EventCount())

	got, err := events.GetByProviderEventID(ctx, "Ev001")
	require.NoError(t, err)
	assert.Equal(t, "message", got.EventType, "duplicate must not overwrite")
}

func TestEvents_MarkProcessed(t *testing.T) {
	ctx := context.Background()
	events := New().Events()
	_, err := events.Insert(ctx, &repository.InboundEvent{ID: "e1", ProviderEventID: "Ev001"})
	require.NoError(t, err)

	res := "commented"
	require.NoError(t, events.MarkProcessed(ctx, "e1", &res, nil))

	got, err := events.GetByProviderEventID(ctx, "Ev001")
	require.NoError(t, err)
	assert.True(t, got.Processed)
	assert.Equal(t, "commented", *got.ReactionResult)

	assert.ErrorIs(t, events.MarkProcessed(ctx, "nope", nil, nil), repository.ErrNotFound)
}
