package connection

import "errors"

var (
	// ErrInvalidOrExpiredState: callback state unknown, expired or replayed.
	// The user must restart the flow.
	ErrInvalidOrExpiredState = errors.New("connection: invalid or expired state")

	// ErrTokenExchangeFailed: the provider rejected the code or was unreachable.
	ErrTokenExchangeFailed = errors.New("connection: token exchange failed")

	// ErrRefreshFailed: the provider rejected the refresh. Not retried here.
	ErrRefreshFailed = errors.New("connection: token refresh failed")

	ErrAlreadyLinked      = errors.New("connection: already linked")
	ErrConnectionInactive = errors.New("connection: inactive")
	ErrNoRefreshToken     = errors.New("connection: token expired and no refresh token stored")
	ErrNotFound           = errors.New("connection: not found")
	ErrInvalidRedirect    = errors.New("connection: redirect uri not allowed")
	ErrUnknownProvider    = errors.New("connection: unknown provider")
)
