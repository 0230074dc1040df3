package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidSignature: la firma no coincide, falta, o el timestamp está
	// fuera de la ventana de replay.
	ErrInvalidSignature = errors.New("webhook: invalid signature")

	// ErrSecretNotConfigured: no hay secreto para el provider y el modo
	// inseguro de desarrollo no está activo.
	ErrSecretNotConfigured = errors.New("webhook: signing secret not configured")

	// ErrMalformedPayload: la firma es válida pero el cuerpo no se puede leer.
	ErrMalformedPayload = errors.New("webhook: malformed payload")

	// ErrUnknownProvider: no hay Source registrada para el provider.
	ErrUnknownProvider = errors.New("webhook: unknown provider")
)

// DefaultReplayWindow bounds the age of a signed timestamp.
const DefaultReplayWindow = 5 * time.Minute

func hmacSHA256Hex(secret string, parts ...[]byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	for _, p := range parts {
		mac.Write(p)
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// equalDigest compara en tiempo constante. Solo una diferencia de largo
// corta antes.
func equalDigest(expected, got string) bool {
	if len(expected) != len(got) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

func withinWindow(ts, now time.Time, window time.Duration) bool {
	d := now.Sub(ts)
	if d < 0 {
		d = -d
	}
	return d <= window
}

// VerifySlack checks X-Slack-Signature = "v0=" + HMAC-SHA256(secret,
// "v0:" + timestamp + ":" + body) and rejects timestamps outside window.
func VerifySlack(body []byte, h http.Header, secret string, now time.Time, window time.Duration) error {
	tsRaw := h.Get("X-Slack-Request-Timestamp")
	sig := h.Get("X-Slack-Signature")
	if tsRaw == "" || sig == "" {
		return fmt.Errorf("%w: missing slack headers", ErrInvalidSignature)
	}
	sec, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	if !withinWindow(time.Unix(sec, 0), now, window) {
		return fmt.Errorf("%w: timestamp outside replay window", ErrInvalidSignature)
	}
	expected := "v0=" + hmacSHA256Hex(secret, []byte("v0:"+tsRaw+":"), body)
	if !equalDigest(expected, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyGitHub checks X-Hub-Signature-256 = "sha256=" + HMAC-SHA256(secret, body).
func VerifyGitHub(body []byte, h http.Header, secret string) error {
	sig := h.Get("X-Hub-Signature-256")
	if sig == "" {
		return fmt.Errorf("%w: missing X-Hub-Signature-256", ErrInvalidSignature)
	}
	if !equalDigest("sha256="+hmacSHA256Hex(secret, body), sig) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyLinear checks Linear-Signature = hex HMAC-SHA256(secret, body). The
// webhookTimestamp freshness check lives in the Linear source, which has the
// parsed payload.
func VerifyLinear(body []byte, h http.Header, secret string) error {
	sig := strings.ToLower(strings.TrimSpace(h.Get("Linear-Signature")))
	if sig == "" {
		return fmt.Errorf("%w: missing Linear-Signature", ErrInvalidSignature)
	}
	if !equalDigest(hmacSHA256Hex(secret, body), sig) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyBearer is for providers that send a static shared secret as
// "Authorization: Bearer <secret>" instead of signing each request.
func VerifyBearer(h http.Header, secret string) error {
	auth := h.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return fmt.Errorf("%w: missing bearer token", ErrInvalidSignature)
	}
	if !equalDigest(secret, auth[len(prefix):]) {
		return ErrInvalidSignature
	}
	return nil
}
