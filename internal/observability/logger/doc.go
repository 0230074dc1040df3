// Package logger provides a process-wide Zap logger with context scoping.
//
//   - Init builds the singleton once from Config; later calls are no-ops.
//   - "dev" logs to a colored console, "prod" logs JSON, "test" discards.
//   - Middlewares attach a request-scoped logger with ToContext; everything
//     below reads it back with From(ctx).
//
// Token values, verifiers and state strings are never logged. Use the field
// helpers in this package, which only carry identifiers.
//
//	logger.Init(logger.Config{Env: cfg.Env, Level: cfg.Log.Level})
//	defer logger.Sync()
//
//	log := logger.From(ctx)
//	log.Info("connection linked", logger.ConnectionID(c.ID), logger.Provider(c.Provider))
package logger
