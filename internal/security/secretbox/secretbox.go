// Package secretbox cifra secretos en reposo (tokens OAuth, verifiers PKCE).
//
// Every call to Encrypt draws a fresh salt and nonce, derives a per-record
// AES-256 key from the master key with PBKDF2-SHA256 and seals the plaintext
// with AES-GCM. The sealed blob is
//
//	"v1." + base64url(salt || nonce || tag || ciphertext)
//
// without padding. Decrypt fails closed with ErrDecryption on any tampering,
// truncation or wrong key.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize  = 16
	nonceSize = 12 // AES-GCM nonce recomendado (96 bits)
	tagSize   = 16
	keySize   = 32 // AES-256

	// MinMasterKeyLength is the smallest accepted master key, in bytes.
	MinMasterKeyLength = 16

	// DefaultIterations is the PBKDF2 work factor used when none is configured.
	DefaultIterations = 100_000

	blobPrefix = "v1."
	headerSize = saltSize + nonceSize + tagSize
)

var (
	// ErrDecryption indica que el blob fue alterado, está truncado o la clave es incorrecta.
	ErrDecryption = errors.New("secretbox: decryption failed")

	// ErrConfiguration indica que falta la clave maestra o es inválida.
	ErrConfiguration = errors.New("secretbox: invalid configuration")
)

var encoding = base64.RawURLEncoding

// Box holds the process master key. It is safe for concurrent use.
type Box struct {
	master     []byte
	iterations int
	rand       io.Reader
}

// Option configures a Box.
type Option func(*Box)

// WithIterations overrides the PBKDF2 iteration count.
func WithIterations(n int) Option {
	return func(b *Box) {
		if n > 0 {
			b.iterations = n
		}
	}
}

// WithRandom replaces the entropy source. Only tests should need it.
func WithRandom(r io.Reader) Option {
	return func(b *Box) { b.rand = r }
}

// New builds a Box from raw master key bytes.
func New(masterKey []byte, opts ...Option) (*Box, error) {
	if len(masterKey) < MinMasterKeyLength {
		return nil, fmt.Errorf("%w: master key must be at least %d bytes, got %d", ErrConfiguration, MinMasterKeyLength, len(masterKey))
	}
	b := &Box{
		master:     append([]byte(nil), masterKey...),
		iterations: DefaultIterations,
		rand:       rand.Reader,
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// FromEncoded parses a master key given as base64 (std or raw), hex, or raw
// text, in that order of preference.
func FromEncoded(key string, opts ...Option) (*Box, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: master key not set; generate one with: agentlink keygen", ErrConfiguration)
	}
	return New(decodeKey(key), opts...)
}

func decodeKey(key string) []byte {
	if b, err := base64.StdEncoding.DecodeString(key); err == nil && len(b) >= MinMasterKeyLength {
		return b
	}
	if b, err := base64.RawStdEncoding.DecodeString(key); err == nil && len(b) >= MinMasterKeyLength {
		return b
	}
	if len(key)%2 == 0 {
		if h, err := hex.DecodeString(key); err == nil && len(h) >= MinMasterKeyLength {
			return h
		}
	}
	return []byte(key)
}

func (b *Box) deriveKey(salt []byte) []byte {
	return pbkdf2.Key(b.master, salt, b.iterations, keySize, sha256.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return aead, nil
}

// Encrypt seals plaintext into an opaque printable blob.
func (b *Box) Encrypt(plaintext string) (string, error) {
	buf := make([]byte, saltSize+nonceSize)
	if _, err := io.ReadFull(b.rand, buf); err != nil {
		return "", fmt.Errorf("secretbox: random: %w", err)
	}
	salt, nonce := buf[:saltSize], buf[saltSize:]

	aead, err := newGCM(b.deriveKey(salt))
	if err != nil {
		return "", err
	}
	// Seal devuelve ciphertext||tag; el formato persistido es tag||ciphertext.
	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	out := make([]byte, 0, headerSize+len(ct))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ct...)
	return blobPrefix + encoding.EncodeToString(out), nil
}

// Decrypt opens a blob produced by Encrypt.
func (b *Box) Decrypt(blob string) (string, error) {
	raw, err := parse(blob)
	if err != nil {
		return "", err
	}
	salt := raw[:saltSize]
	nonce := raw[saltSize : saltSize+nonceSize]
	tag := raw[saltSize+nonceSize : headerSize]
	ct := raw[headerSize:]

	aead, err := newGCM(b.deriveKey(salt))
	if err != nil {
		return "", err
	}
	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	pt, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryption)
	}
	return string(pt), nil
}

func parse(blob string) ([]byte, error) {
	if !strings.HasPrefix(blob, blobPrefix) {
		return nil, fmt.Errorf("%w: unknown format", ErrDecryption)
	}
	raw, err := encoding.DecodeString(blob[len(blobPrefix):])
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrDecryption, err)
	}
	if len(raw) < headerSize {
		return nil, fmt.Errorf("%w: blob too short", ErrDecryption)
	}
	return raw, nil
}

// IsSealed reports whether s has the shape of a blob produced by Encrypt.
// It does not authenticate; it exists for the one-time legacy migration.
func IsSealed(s string) bool {
	_, err := parse(s)
	return err == nil
}

// GenerateKey returns a new random master key, base64 encoded.
func GenerateKey() (string, error) {
	k := make([]byte, keySize)
	if _, err := rand.Read(k); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(k), nil
}
