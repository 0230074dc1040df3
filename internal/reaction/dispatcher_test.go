package reaction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dropDatabas3/agentlink/internal/domain/repository"
	"github.com/dropDatabas3/agentlink/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens map[string]string

func (s staticTokens) GetValidAccessToken(ctx context.Context, id string) (string, error) {
	if t, ok := s[id]; ok {
		return t, nil
	}
	return "", errors.New("connection: inactive")
}

func storeEvent(t *testing.T, events repository.EventRepository, id, evID string, connID *string) *repository.InboundEvent {
	t.Helper()
	e := &repository.InboundEvent{ID: id, Provider: "slack", ProviderEventID: evID, ConnectionID: connID, ShouldReact: true}
	ok, err := events.Insert(context.Background(), e)
	require.NoError(t, err)
	require.True(t, ok)
	return e
}

func TestDispatcher_ProcessesAndRecords(t *testing.T) {
	s := memory.New()
	events := s.Events()
	conn := "c1"

	got := make(chan Request, 1)
	d := New(AgentFunc(func(ctx context.Context, req Request) (string, error) {
		got <- req
		return "replied", nil
	}), staticTokens{"c1": "AT1"}, events, Config{Workers: 1})
	require.NoError(t, d.Start(context.Background()))

	e := storeEvent(t, events, "e1", "Ev001", &conn)
	assert.True(t, d.Enqueue(e))

	select {
	case req := <-got:
		assert.Equal(t, "AT1", req.AccessToken)
		assert.Equal(t, "Ev001", req.Event.ProviderEventID)
	case <-time.After(2 * time.Second):
		t.Fatal("agent not called")
	}
	require.NoError(t, d.Stop(context.Background()))

	stored, err := events.GetByProviderEventID(context.Background(), "Ev001")
	require.NoError(t, err)
	assert.True(t, stored.Processed)
	require.NotNil(t, stored.ReactionResult)
	assert.Equal(t, "replied", *stored.ReactionResult)
	assert.Nil(t, stored.ErrorMessage)
}

func TestDispatcher_AgentErrorRecorded(t *testing.T) {
	s := memory.New()
	events := s.Events()
	d := New(AgentFunc(func(ctx context.Context, req Request) (string, error) {
		return "", errors.New("model unavailable")
	}), nil, events, Config{Workers: 2})
	require.NoError(t, d.Start(context.Background()))

	assert.True(t, d.Enqueue(storeEvent(t, events, "e1", "Ev002", nil)))
	require.NoError(t, d.Stop(context.Background()))

	stored, err := events.GetByProviderEventID(context.Background(), "Ev002")
	require.NoError(t, err)
	assert.True(t, stored.Processed)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "model unavailable", *stored.ErrorMessage)
}

func TestDispatcher_TokenFailureSkipsAgent(t *testing.T) {
	s := memory.New()
	events := s.Events()
	called := false
	conn := "gone"
	d := New(AgentFunc(func(ctx context.Context, req Request) (string, error) {
		called = true
		return "", nil
	}), staticTokens{}, events, Config{Workers: 1})
	require.NoError(t, d.Start(context.Background()))

	d.Enqueue(storeEvent(t, events, "e1", "Ev003", &conn))
	require.NoError(t, d.Stop(context.Background()))

	assert.False(t, called)
	stored, err := events.GetByProviderEventID(context.Background(), "Ev003")
	require.NoError(t, err)
	assert.NotNil(t, stored.ErrorMessage)
}

func TestDispatcher_FullQueueDrops(t *testing.T) {
	events := memory.New().Events()
	d := New(AgentFunc(func(ctx context.Context, req Request) (string, error) { return "", nil }), nil, events, Config{QueueSize: 1})

	// Not started: nothing drains the queue.
	assert.True(t, d.Enqueue(&repository.InboundEvent{ID: "a", Provider: "slack"}))
	assert.False(t, d.Enqueue(&repository.InboundEvent{ID: "b", Provider: "slack"}))

	require.NoError(t, d.Stop(context.Background()))
	assert.False(t, d.Enqueue(&repository.InboundEvent{ID: "c", Provider: "slack"}))
	assert.ErrorIs(t, d.Start(context.Background()), ErrClosed)
}
