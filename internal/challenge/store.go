// Package challenge keeps pending PKCE verifiers between the authorization
// redirect and the provider callback.
//
// Entries are keyed by the opaque state token, stored with the verifier
// sealed by secretbox, and can be taken exactly once. Unknown, expired and
// already consumed states are indistinguishable to callers.
package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/agentlink/internal/cache"
	"github.com/dropDatabas3/agentlink/internal/observability/logger"
	"github.com/dropDatabas3/agentlink/internal/security/secretbox"
	"go.uber.org/zap"
)

// DefaultTTL is used when Put receives a non-positive ttl.
const DefaultTTL = 10 * time.Minute

const keyPrefix = "oauth:challenge:"

// Backend is the single-use key/value storage behind a Store. GetAndDelete
// must be atomic: with concurrent callers on the same key at most one
// observes the value.
type Backend interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	GetAndDelete(ctx context.Context, key string) ([]byte, bool, error)
}

// Pending is what the callback recovers for a state.
type Pending struct {
	Verifier    string
	Provider    string
	BoundUserID string // empty when the flow started before login
	RedirectURI string
}

type record struct {
	Verifier    string `json:"v"` // sealed
	Provider    string `json:"p"`
	BoundUserID string `json:"u,omitempty"`
	RedirectURI string `json:"r,omitempty"`
	ExpiresAt   int64  `json:"e"` // unix millis
}

// Store is the challenge store.
type Store struct {
	backend Backend
	box     *secretbox.Box
	now     func() time.Time
	log     *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New builds a Store.
func New(backend Backend, box *secretbox.Box, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		box:     box,
		now:     time.Now,
		log:     logger.Named("challenge"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Put seals the verifier and stores the pending entry under state.
func (s *Store) Put(ctx context.Context, state string, p Pending, ttl time.Duration) error {
	if state == "" || p.Verifier == "" || p.Provider == "" {
		return errors.New("challenge: state, verifier and provider are required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	sealed, err := s.box.Encrypt(p.Verifier)
	if err != nil {
		return fmt.Errorf("challenge: seal verifier: %w", err)
	}
	raw, err := json.Marshal(record{
		Verifier:    sealed,
		Provider:    p.Provider,
		BoundUserID: p.BoundUserID,
		RedirectURI: p.RedirectURI,
		ExpiresAt:   s.now().Add(ttl).UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("challenge: encode: %w", err)
	}
	if err := s.backend.Set(ctx, keyPrefix+state, raw, ttl); err != nil {
		return fmt.Errorf("challenge: put: %w", err)
	}
	return nil
}

// Take returns the pending entry for state and removes it. ok is false when
// the state is unknown, expired, consumed or unreadable. err is only set for
// backend failures.
func (s *Store) Take(ctx context.Context, state string) (*Pending, bool, error) {
	if state == "" {
		return nil, false, nil
	}
	raw, found, err := s.backend.GetAndDelete(ctx, keyPrefix+state)
	if err != nil {
		return nil, false, fmt.Errorf("challenge: take: %w", err)
	}
	if !found {
		return nil, false, nil
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		s.log.Warn("discarding malformed challenge record", logger.Err(err))
		return nil, false, nil
	}
	if !s.now().Before(time.UnixMilli(rec.ExpiresAt)) {
		return nil, false, nil
	}
	verifier, err := s.box.Decrypt(rec.Verifier)
	if err != nil {
		s.log.Error("challenge verifier failed to decrypt", logger.Provider(rec.Provider), logger.Err(err))
		return nil, false, nil
	}
	return &Pending{
		Verifier:    verifier,
		Provider:    rec.Provider,
		BoundUserID: rec.BoundUserID,
		RedirectURI: rec.RedirectURI,
	}, true, nil
}

// Sweep purges expired entries if the backend needs it. Backends with native
// TTL report zero.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	sw, ok := s.backend.(cache.Sweeper)
	if !ok {
		return 0, nil
	}
	return sw.Cleanup(ctx)
}

// RunJanitor calls Sweep every interval until ctx is done.
func (s *Store) RunJanitor(ctx context.Context, interval time.Duration) {
	if _, ok := s.backend.(cache.Sweeper); !ok || interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				s.log.Warn("challenge sweep failed", logger.Err(err))
				continue
			}
			if n > 0 {
				s.log.Debug("challenge sweep", logger.Count(n))
			}
		}
	}
}
