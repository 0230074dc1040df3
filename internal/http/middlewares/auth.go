package middlewares

import (
	"context"
	"errors"
	"net/http"
	"strings"

	httperrors "github.com/dropDatabas3/agentlink/internal/http/errors"
	"github.com/dropDatabas3/agentlink/internal/jwtauth"
	"github.com/dropDatabas3/agentlink/internal/observability/logger"
)

// TokenVerifier es la parte del gateway JWT que usan los middlewares.
type TokenVerifier interface {
	Verify(ctx context.Context, bearer string) (*jwtauth.Identity, error)
}

// RequireAuth valida Authorization: Bearer <JWT> contra el gateway y guarda
// la identidad en el contexto. Token inválido => 401; JWKS inaccesible => 503
// con Retry-After, para que el cliente no trate la caída como un logout.
func RequireAuth(v TokenVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ah := strings.TrimSpace(r.Header.Get("Authorization"))
			if ah == "" || !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
				w.Header().Set("WWW-Authenticate", `Bearer realm="agentlink", error="invalid_token", error_description="missing bearer token"`)
				httperrors.WriteError(w, httperrors.ErrTokenMissing)
				return
			}

			id, err := v.Verify(r.Context(), ah)
			if err != nil {
				if errors.Is(err, jwtauth.ErrKeySetUnavailable) {
					logger.From(r.Context()).Warn("jwks unavailable", logger.Err(err))
					w.Header().Set("Retry-After", "5")
				} else {
					w.Header().Set("WWW-Authenticate", `Bearer realm="agentlink", error="invalid_token"`)
				}
				httperrors.WriteError(w, err)
				return
			}

			ctx := jwtauth.WithIdentity(r.Context(), id)
			ctx = logger.ToContext(ctx, logger.From(ctx).With(logger.UserID(id.UserID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth intenta validar el token pero no falla si no hay header.
// Un token presente e inválido sí se rechaza.
func OptionalAuth(v TokenVerifier) Middleware {
	required := RequireAuth(v)
	return func(next http.Handler) http.Handler {
		withAuth := required(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.TrimSpace(r.Header.Get("Authorization")) == "" {
				next.ServeHTTP(w, r)
				return
			}
			withAuth.ServeHTTP(w, r)
		})
	}
}
