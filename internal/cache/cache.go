// Package cache provee backends clave/valor con TTL para estado efímero
// (challenges PKCE pendientes).
//
// Soporta:
//   - Memory (in-process, go-cache con janitor; desarrollo y single-node)
//   - Redis (distribuido, para producción)
package cache

import (
	"context"
	"errors"
	"time"
)

// Client define las operaciones de cache que necesita el dominio.
type Client interface {
	// Set guarda un valor con TTL. ttl debe ser > 0.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// GetAndDelete obtiene y elimina atómicamente (one-time tokens).
	// Retorna nil, false, nil si la key no existe o expiró.
	GetAndDelete(ctx context.Context, key string) ([]byte, bool, error)

	// Delete elimina una key.
	Delete(ctx context.Context, key string) error

	// Ping verifica la conexión.
	Ping(ctx context.Context) error

	// Close cierra la conexión.
	Close() error
}

// Sweeper is implemented by backends that need an explicit purge of expired
// entries. Redis expires keys on its own and does not implement it.
type Sweeper interface {
	Cleanup(ctx context.Context) (int, error)
}

// Config configuración para crear un cliente de cache.
type Config struct {
	Driver   string // "memory" | "redis"
	Addr     string
	Password string
	DB       int
	Prefix   string // Prefijo para todas las keys

	// CleanupInterval es el intervalo del janitor del backend memory.
	CleanupInterval time.Duration
}

// ErrInvalidTTL se retorna cuando ttl <= 0.
var ErrInvalidTTL = errors.New("cache: ttl must be positive")

// New crea un cliente de cache según la configuración.
func New(ctx context.Context, cfg Config) (Client, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedis(ctx, cfg)
	default:
		return NewMemory(cfg.Prefix, cfg.CleanupInterval), nil
	}
}

func prefixed(prefix, k string) string {
	if prefix == "" {
		return k
	}
	return prefix + ":" + k
}
