package logger

import (
	"time"

	"go.uber.org/zap"
)

// HTTP

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field    { return zap.String("method", v) }
func Path(v string) zap.Field      { return zap.String("path", v) }
func Status(v int) zap.Field       { return zap.Int("status", v) }
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}
func ClientIP(v string) zap.Field { return zap.String("client_ip", v) }

// Domain

func Provider(v string) zap.Field     { return zap.String("provider", v) }
func ConnectionID(v string) zap.Field { return zap.String("connection_id", v) }
func UserID(v string) zap.Field       { return zap.String("user_id", v) }
func OrgID(v string) zap.Field        { return zap.String("org_id", v) }

// EventID is the provider-assigned event identifier.
func EventID(v string) zap.Field   { return zap.String("event_id", v) }
func EventType(v string) zap.Field { return zap.String("event_type", v) }
func Outcome(v string) zap.Field   { return zap.String("outcome", v) }

// System

func Component(v string) zap.Field { return zap.String("component", v) }
func Op(v string) zap.Field        { return zap.String("op", v) }
func Err(err error) zap.Field      { return zap.Error(err) }
func Count(v int) zap.Field        { return zap.Int("count", v) }
func String(key, v string) zap.Field {
	return zap.String(key, v)
}
func Bool(key string, v bool) zap.Field { return zap.Bool(key, v) }
