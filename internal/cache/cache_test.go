package cache

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_GetAndDelete_SingleUse(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("t", time.Minute)

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))

	v, ok, err := m.GetAndDelete(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	_, ok, err = m.GetAndDelete(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_Expired(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("", time.Hour)

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, ok, err := m.GetAndDelete(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_CleanupPurgesUnread(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("", time.Hour)

	require.NoError(t, m.Set(ctx, "a", []byte("1"), 10*time.Millisecond))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), time.Hour))
	time.Sleep(30 * time.Millisecond)

	n, err := m.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, m.Len())
}

func TestMemory_RejectsNonPositiveTTL(t *testing.T) {
	m := NewMemory("", time.Minute)
	assert.ErrorIs(t, m.Set(context.Background(), "k", nil, 0), ErrInvalidTTL)
}

func TestMemory_ConcurrentTakeOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("", time.Minute)
	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := m.GetAndDelete(ctx, "k"); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestRedis_GetAndDelete(t *testing.T) {
	addr := os.Getenv("AGENTLINK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AGENTLINK_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	r, err := NewRedis(ctx, Config{Addr: addr, Prefix: "agentlink-test"})
	require.NoError(t, err)
	defer r.Close()

	key := uuid.NewString()
	require.NoError(t, r.Set(ctx, key, []byte("v"), time.Minute))

	v, ok, err := r.GetAndDelete(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	_, ok, err = r.GetAndDelete(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}
