// Package jwtauth validates bearer tokens issued by the external identity
// service against its published JWKS.
//
// Two failure kinds matter to callers: ErrTokenInvalid is terminal (401),
// ErrKeySetUnavailable means the keys could not be fetched and the request
// may be retried (503) without forcing a logout.
package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenInvalid      = errors.New("jwtauth: token invalid")
	ErrKeySetUnavailable = errors.New("jwtauth: key set unavailable")
)

// Identity is what a valid token says about its bearer.
type Identity struct {
	UserID string
	Email  string
	Claims jwt.MapClaims
}

// Keys resolves verification keys by kid.
type Keys interface {
	Key(ctx context.Context, kid string) (any, error)
}

// Config for the validator.
type Config struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Validator checks signature, issuer, audience and expiry.
type Validator struct {
	keys   Keys
	cfg    Config
	parser *jwt.Parser
}

// NewValidator builds a Validator.
func NewValidator(keys Keys, cfg Config, opts ...jwt.ParserOption) *Validator {
	if cfg.Leeway <= 0 {
		cfg.Leeway = 30 * time.Second
	}
	popts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "ES256", "EdDSA"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		popts = append(popts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		popts = append(popts, jwt.WithAudience(cfg.Audience))
	}
	popts = append(popts, opts...)
	return &Validator{keys: keys, cfg: cfg, parser: jwt.NewParser(popts...)}
}

// Verify validates a raw token (with or without the "Bearer " prefix).
func (v *Validator) Verify(ctx context.Context, bearer string) (*Identity, error) {
	raw := strings.TrimSpace(bearer)
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		raw = strings.TrimSpace(raw[7:])
	}
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}

	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		if errors.Is(err, ErrKeySetUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	sub, _ := claims.GetSubject()
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrTokenInvalid)
	}
	email, _ := claims["email"].(string)
	return &Identity{UserID: sub, Email: email, Claims: claims}, nil
}

type ctxKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(*Identity)
	return id, ok && id != nil
}
