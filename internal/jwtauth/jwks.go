package jwtauth

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// JWK is one entry of a JSON Web Key Set.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg,omitempty"`
	Use string `json:"use,omitempty"`
	Crv string `json:"crv,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

type jwkSet struct {
	Keys []JWK `json:"keys"`
}

var errUnknownKID = errors.New("jwtauth: unknown kid")

// PublicKey converts the JWK to a crypto public key.
func (k JWK) PublicKey() (any, error) {
	dec := base64.RawURLEncoding
	switch k.Kty {
	case "RSA":
		n, err := dec.DecodeString(k.N)
		if err != nil {
			return nil, fmt.Errorf("jwk %s: n: %w", k.Kid, err)
		}
		e, err := dec.DecodeString(k.E)
		if err != nil {
			return nil, fmt.Errorf("jwk %s: e: %w", k.Kid, err)
		}
		return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(new(big.Int).SetBytes(e).Int64())}, nil
	case "EC":
		var curve elliptic.Curve
		switch k.Crv {
		case "P-256":
			curve = elliptic.P256()
		case "P-384":
			curve = elliptic.P384()
		default:
			return nil, fmt.Errorf("jwk %s: unsupported curve %q", k.Kid, k.Crv)
		}
		x, err := dec.DecodeString(k.X)
		if err != nil {
			return nil, fmt.Errorf("jwk %s: x: %w", k.Kid, err)
		}
		y, err := dec.DecodeString(k.Y)
		if err != nil {
			return nil, fmt.Errorf("jwk %s: y: %w", k.Kid, err)
		}
		return &ecdsa.PublicKey{Curve: curve, X: new(big.Int).SetBytes(x), Y: new(big.Int).SetBytes(y)}, nil
	case "OKP":
		if k.Crv != "Ed25519" {
			return nil, fmt.Errorf("jwk %s: unsupported curve %q", k.Kid, k.Crv)
		}
		x, err := dec.DecodeString(k.X)
		if err != nil || len(x) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("jwk %s: bad ed25519 key", k.Kid)
		}
		return ed25519.PublicKey(x), nil
	}
	return nil, fmt.Errorf("jwk %s: unsupported kty %q", k.Kid, k.Kty)
}

// KeySet caches a remote JWKS. Keys are refetched after TTL, and at most
// every MinRefresh when a token names a kid we do not have (rotation).
type KeySet struct {
	url        string
	client     *http.Client
	ttl        time.Duration
	minRefresh time.Duration
	now        func() time.Time

	mu        sync.RWMutex
	keys      map[string]any
	fetchedAt time.Time

	group singleflight.Group
}

// NewKeySet builds a KeySet for url.
func NewKeySet(url string, ttl time.Duration, client *http.Client) *KeySet {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &KeySet{
		url:        url,
		client:     client,
		ttl:        ttl,
		minRefresh: 30 * time.Second,
		now:        time.Now,
		keys:       map[string]any{},
	}
}

// Key returns the public key for kid. An empty kid matches when the set
// has exactly one key.
func (s *KeySet) Key(ctx context.Context, kid string) (any, error) {
	s.mu.RLock()
	fresh := !s.fetchedAt.IsZero() && s.now().Sub(s.fetchedAt) < s.ttl
	k, ok := s.lookup(kid)
	canRetry := s.fetchedAt.IsZero() || s.now().Sub(s.fetchedAt) >= s.minRefresh
	s.mu.RUnlock()

	if ok && fresh {
		return k, nil
	}
	if !fresh || canRetry {
		if err := s.refresh(ctx); err != nil {
			// A stale key is better than logging everyone out while the
			// issuer is unreachable.
			if ok {
				return k, nil
			}
			return nil, err
		}
		s.mu.RLock()
		k, ok = s.lookup(kid)
		s.mu.RUnlock()
	}
	if !ok {
		return nil, errUnknownKID
	}
	return k, nil
}

// lookup asume s.mu tomado.
func (s *KeySet) lookup(kid string) (any, bool) {
	if kid == "" {
		if len(s.keys) == 1 {
			for _, k := range s.keys {
				return k, true
			}
		}
		return nil, false
	}
	k, ok := s.keys[kid]
	return k, ok
}

func (s *KeySet) refresh(ctx context.Context) error {
	_, err, _ := s.group.Do("jwks", func() (any, error) {
		keys, err := s.fetch(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.keys = keys
		s.fetchedAt = s.now()
		s.mu.Unlock()
		return nil, nil
	})
	return err
}

func (s *KeySet) fetch(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrKeySetUnavailable, resp.StatusCode)
	}

	var set jwkSet
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&set); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrKeySetUnavailable, err)
	}
	keys := make(map[string]any, len(set.Keys))
	for _, k := range set.Keys {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		pub, err := k.PublicKey()
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no usable keys", ErrKeySetUnavailable)
	}
	return keys, nil
}
