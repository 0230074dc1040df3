// Package pkce implements the S256 Proof Key for Code Exchange helpers
// (RFC 7636). It is pure: no I/O, no state.
package pkce

import (
	"crypto/subtle"

	"golang.org/x/oauth2"
)

// MethodS256 is the only challenge method this service issues.
const MethodS256 = "S256"

const (
	minVerifierLen = 43
	maxVerifierLen = 128
)

// Pair is a verifier and its derived challenge. The verifier never leaves
// this service until the token exchange.
type Pair struct {
	CodeVerifier  string
	CodeChallenge string
	Method        string
}

// GenerateVerifier returns a verifier with 256 bits of entropy, encoded as
// 43 unreserved characters.
func GenerateVerifier() string {
	return oauth2.GenerateVerifier()
}

// DeriveChallenge returns base64url(SHA-256(verifier)) without padding.
func DeriveChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// NewPair generates a fresh verifier and its S256 challenge.
func NewPair() Pair {
	v := GenerateVerifier()
	return Pair{CodeVerifier: v, CodeChallenge: DeriveChallenge(v), Method: MethodS256}
}

// Verify reports whether challenge was derived from verifier. The comparison
// takes the same time wherever the first mismatch is; only a length mismatch
// short-circuits.
func Verify(verifier, challenge string) bool {
	derived := DeriveChallenge(verifier)
	if len(derived) != len(challenge) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(derived), []byte(challenge)) == 1
}

// ValidVerifier reports whether v satisfies the RFC 7636 length and
// charset rules (ALPHA / DIGIT / "-" / "." / "_" / "~").
func ValidVerifier(v string) bool {
	if len(v) < minVerifierLen || len(v) > maxVerifierLen {
		return false
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-', c == '.', c == '_', c == '~':
		default:
			return false
		}
	}
	return true
}
