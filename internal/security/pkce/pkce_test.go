package pkce

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVerifier_Format(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		v := GenerateVerifier()
		require.True(t, ValidVerifier(v), v)
		require.False(t, seen[v], "duplicate verifier")
		seen[v] = true
	}
}

func TestDeriveChallenge_MatchesRFC(t *testing.T) {
	// RFC 7636 appendix B
	v := "dBjftJeZ4CVP-mJ92K27uhbUJU1p1r_wW1gFWFOEjXk"
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", DeriveChallenge(v))

	sum := sha256.Sum256([]byte(v))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), DeriveChallenge(v))
}

func TestVerify_RoundTrip(t *testing.T) {
	for i := 0; i < 20; i++ {
		p := NewPair()
		assert.Equal(t, MethodS256, p.Method)
		assert.True(t, Verify(p.CodeVerifier, p.CodeChallenge))
	}
}

func TestVerify_SingleCharMutation(t *testing.T) {
	p := NewPair()
	for i := 0; i < len(p.CodeVerifier); i++ {
		b := []byte(p.CodeVerifier)
		if b[i] == 'A' {
			b[i] = 'B'
		} else {
			b[i] = 'A'
		}
		assert.False(t, Verify(string(b), p.CodeChallenge), "position %d", i)
	}
}

func TestVerify_LengthMismatch(t *testing.T) {
	p := NewPair()
	assert.False(t, Verify(p.CodeVerifier, p.CodeChallenge[:10]))
	assert.False(t, Verify(p.CodeVerifier, ""))
}

func TestValidVerifier(t *testing.T) {
	assert.False(t, ValidVerifier("short"))
	assert.False(t, ValidVerifier(string(make([]byte, 129))))
	assert.False(t, ValidVerifier("dBjftJeZ4CVP+mJ92K27uhbUJU1p1r/wW1gFWFOEjXk"))
	assert.True(t, ValidVerifier("dBjftJeZ4CVP-mJ92K27uhbUJU1p1r_wW1gFWFOEjXk"))
}
