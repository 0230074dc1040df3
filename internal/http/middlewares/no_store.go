package middlewares

import "net/http"

// WithNoStore agrega Cache-Control: no-store. Va en todo lo que devuelve
// estados de OAuth o metadata de conexiones.
func WithNoStore() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("Pragma", "no-cache")
			next.ServeHTTP(w, r)
		})
	}
}
