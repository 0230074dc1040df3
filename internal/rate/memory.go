package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryLimiter es la variante de un solo proceso, sobre go-cache. Las
// ventanas vencidas las limpia el janitor de go-cache.
type MemoryLimiter struct {
	c      *gocache.Cache
	mu     sync.Mutex
	max    int64
	window time.Duration
	now    func() time.Time
}

func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		c:      gocache.New(window, 2*window),
		max:    int64(max),
		window: window,
		now:    time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := l.now().UTC()
	winStart := now.Truncate(l.window)
	k := fmt.Sprintf("%s:%d", key, winStart.Unix())
	ttl := winStart.Add(l.window).Sub(now)

	l.mu.Lock()
	hits, err := l.c.IncrementInt64(k, 1)
	if err != nil {
		hits = 1
		l.c.Set(k, hits, ttl)
	}
	l.mu.Unlock()

	return decide(hits, l.max, ttl, l.window), nil
}
