// Package pg implementa los repositorios del dominio sobre PostgreSQL.
// Usa pgxpool directamente.
//
// Tres tablas:
//   - oauth_connection: conexiones OAuth con tokens sellados por secretbox
//   - inbound_event: webhooks ingeridos, únicos por provider_event_id
//   - oauth_challenge: challenges PKCE pendientes (backend del challenge store)
package pg

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/agentlink/internal/domain/repository"
	"github.com/dropDatabas3/agentlink/internal/observability/logger"
)

// Config del pool.
type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// Store agrupa el pool y expone los repositorios.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// Open crea el pool y verifica la conexión.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pg: parse DSN: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	} else {
		poolCfg.MaxConns = 10
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
	} else {
		poolCfg.MinConns = 2
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping failed: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

// Close cierra el pool.
func (s *Store) Close() { s.pool.Close() }

// Ping verifica la conexión.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Connections retorna el ConnectionRepository.
func (s *Store) Connections() repository.ConnectionRepository { return &connectionRepo{pool: s.pool} }

// Events retorna el EventRepository.
func (s *Store) Events() repository.EventRepository { return &eventRepo{pool: s.pool} }

// Challenges retorna el backend del challenge store.
func (s *Store) Challenges() *ChallengeBackend { return &ChallengeBackend{pool: s.pool, now: s.now} }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	return err
}

// rowID normaliza un id de fila. Un id que no es UUID no puede existir, así
// que el caller responde ErrNotFound sin ir a la base.
func rowID(id string) (string, bool) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", false
	}
	return u.String(), true
}

// ─── Migraciones ───

const migrateLockID = "agentlink:migrate"

func lockID() int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(migrateLockID))
	return int64(h.Sum64())
}

// Migrate aplica, bajo advisory lock, los *_up.sql de dir que todavía no
// figuran en schema_migrations. Retorna cuántos aplicó.
func (s *Store) Migrate(ctx context.Context, fsys fs.FS, dir string) (int, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("pg: migrate: acquire: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "select pg_advisory_lock($1)", lockID()); err != nil {
		return 0, fmt.Errorf("pg: migrate: lock: %w", err)
	}
	defer func() {
		if _, err := conn.Exec(context.Background(), "select pg_advisory_unlock($1)", lockID()); err != nil {
			logger.L().Warn("failed to release migration lock", logger.Err(err))
		}
	}()

	if _, err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
		return 0, fmt.Errorf("pg: migrate: schema_migrations: %w", err)
	}

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return 0, fmt.Errorf("pg: migrate: read dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), "_up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	applied := 0
	for _, name := range files {
		version := strings.TrimSuffix(name, "_up.sql")
		var exists bool
		if err := conn.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists); err != nil {
			return applied, fmt.Errorf("pg: migrate: check %s: %w", version, err)
		}
		if exists {
			continue
		}
		sqlText, err := fs.ReadFile(fsys, dir+"/"+name)
		if err != nil {
			return applied, fmt.Errorf("pg: migrate: read %s: %w", name, err)
		}

		tx, err := conn.Begin(ctx)
		if err != nil {
			return applied, err
		}
		if _, err := tx.Exec(ctx, string(sqlText)); err != nil {
			_ = tx.Rollback(ctx)
			return applied, fmt.Errorf("pg: migrate: apply %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations(version) VALUES ($1)`, version); err != nil {
			_ = tx.Rollback(ctx)
			return applied, fmt.Errorf("pg: migrate: record %s: %w", name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return applied, err
		}
		applied++
		logger.L().Info("migration applied", logger.String("version", version))
	}
	return applied, nil
}
