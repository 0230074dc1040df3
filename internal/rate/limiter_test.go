package rate

import (
	"context"
	"os"
	"testing"
	"time"

	rdb "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 10, 0, time.UTC)
	l := NewMemoryLimiter(2, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	r1, _ := l.Allow(ctx, "1.2.3.4|/webhooks/slack")
	r2, _ := l.Allow(ctx, "1.2.3.4|/webhooks/slack")
	r3, _ := l.Allow(ctx, "1.2.3.4|/webhooks/slack")
	assert.True(t, r1.Allowed)
	assert.True(t, r2.Allowed)
	assert.False(t, r3.Allowed)
	assert.Equal(t, int64(0), r3.Remaining)
	assert.Equal(t, 50*time.Second, r3.RetryAfter)

	other, _ := l.Allow(ctx, "5.6.7.8|/webhooks/slack")
	assert.True(t, other.Allowed)

	now = now.Add(time.Minute)
	next, _ := l.Allow(ctx, "1.2.3.4|/webhooks/slack")
	assert.True(t, next.Allowed)
	assert.Equal(t, int64(1), next.CurrentHits)
}

func TestRedisLimiter(t *testing.T) {
	addr := os.Getenv("AGENTLINK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AGENTLINK_TEST_REDIS_ADDR not set")
	}
	client := rdb.NewClient(&rdb.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisLimiter(client, "rl-test:", 1, time.Minute)
	key := "k-" + time.Now().Format(time.RFC3339Nano)
	r1, err := l.Allow(context.Background(), key)
	require.NoError(t, err)
	r2, err := l.Allow(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, r1.Allowed)
	assert.False(t, r2.Allowed)
	assert.Greater(t, r2.RetryAfter, time.Duration(0))
}
