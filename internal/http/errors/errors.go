package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/dropDatabas3/agentlink/internal/connection"
	"github.com/dropDatabas3/agentlink/internal/domain/repository"
	"github.com/dropDatabas3/agentlink/internal/jwtauth"
	"github.com/dropDatabas3/agentlink/internal/webhook"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// WriteError escribe la respuesta JSON para err. Los errores de dominio se
// traducen con FromError.
func WriteError(w http.ResponseWriter, err error) {
	appErr := FromError(err)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Code:    appErr.Code,
		Message: appErr.Message,
		Detail:  appErr.Detail,
	})
}

// FromError mapea la taxonomía de dominio a un AppError. Lo desconocido es 500
// conservando la causa.
func FromError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	var base *AppError
	switch {
	case stderrors.Is(err, connection.ErrInvalidOrExpiredState):
		base = ErrInvalidState
	case stderrors.Is(err, connection.ErrInvalidRedirect):
		base = ErrInvalidRedirect
	case stderrors.Is(err, connection.ErrUnknownProvider), stderrors.Is(err, webhook.ErrUnknownProvider):
		base = ErrUnknownProvider
	case stderrors.Is(err, connection.ErrAlreadyLinked):
		base = ErrAlreadyLinked
	case stderrors.Is(err, connection.ErrConnectionInactive):
		base = ErrConnectionInactive
	case stderrors.Is(err, connection.ErrNoRefreshToken):
		base = ErrReauthRequired
	case stderrors.Is(err, connection.ErrTokenExchangeFailed), stderrors.Is(err, connection.ErrRefreshFailed):
		base = ErrProviderFailed
	case stderrors.Is(err, connection.ErrNotFound), stderrors.Is(err, repository.ErrNotFound):
		base = ErrNotFound
	case stderrors.Is(err, repository.ErrInvalidInput):
		base = ErrBadRequest
	case stderrors.Is(err, webhook.ErrInvalidSignature), stderrors.Is(err, webhook.ErrSecretNotConfigured):
		base = ErrInvalidSignature
	case stderrors.Is(err, webhook.ErrMalformedPayload):
		base = ErrMalformedPayload
	case stderrors.Is(err, jwtauth.ErrKeySetUnavailable):
		base = ErrServiceUnavailable
	case stderrors.Is(err, jwtauth.ErrTokenInvalid):
		base = ErrTokenInvalid
	default:
		return ErrInternalServerError.WithCause(err)
	}
	return base.WithCause(err)
}
