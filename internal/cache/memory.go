package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory implementa Client sobre go-cache. El janitor de go-cache purga las
// entradas expiradas cada CleanupInterval aunque nadie las lea.
type Memory struct {
	prefix string
	c      *gocache.Cache

	// go-cache no ofrece get+delete atómico; mu serializa GetAndDelete.
	mu sync.Mutex
}

// NewMemory crea un cliente de cache en memoria.
func NewMemory(prefix string, cleanupInterval time.Duration) *Memory {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	return &Memory{
		prefix: prefix,
		c:      gocache.New(gocache.NoExpiration, cleanupInterval),
	}
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c.Set(prefixed(m.prefix, key), append([]byte(nil), value...), ttl)
	return nil
}

func (m *Memory) GetAndDelete(ctx context.Context, key string) ([]byte, bool, error) {
	k := prefixed(m.prefix, key)

	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.c.Get(k)
	m.c.Delete(k)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	return b, true, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c.Delete(prefixed(m.prefix, key))
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error {
	m.c.Flush()
	return nil
}

// Cleanup elimina entradas expiradas sin esperar al janitor.
func (m *Memory) Cleanup(ctx context.Context) (int, error) {
	before := m.c.ItemCount()
	m.c.DeleteExpired()
	return before - m.c.ItemCount(), nil
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int { return m.c.ItemCount() }
