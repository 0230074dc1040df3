package middlewares

import "net/http"

// Middleware es un decorador de http.Handler (misma firma que chi.Use).
type Middleware = func(http.Handler) http.Handler
