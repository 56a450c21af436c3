// Package logging is the broker's structured logger: a small interface over
// go.uber.org/zap with request, principal and credential tags carried in
// context.Context.
package logging

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is implemented by the zap-backed logger and by test doubles.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	// Error appends err under "error"; a nil err adds nothing.
	Error(msg string, err error, fields ...Field)
	WithFields(fields ...Field) Logger
	// WithContext adds whichever of request_id, principal_id and credential_id ctx carries.
	WithContext(ctx context.Context) Logger
}

type Field = zapcore.Field

type Level = zapcore.Level

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
)

// ParseLevel reads LOG_LEVEL values. Unknown input means info.
func ParseLevel(s string) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	level, err := zapcore.ParseLevel(s)
	if err != nil || s == "" {
		return InfoLevel
	}
	return level
}

func String(key, value string) Field { return zap.String(key, value) }
func Strings(key string, values []string) Field { return zap.Strings(key, values) }
func Int(key string, value int) Field { return zap.Int(key, value) }
func Int64(key string, value int64) Field { return zap.Int64(key, value) }
func Bool(key string, value bool) Field { return zap.Bool(key, value) }
func Duration(key string, value time.Duration) Field { return zap.Duration(key, value) }
func Time(key string, value time.Time) Field { return zap.Time(key, value) }
func Any(key string, value interface{}) Field { return zap.Any(key, value) }

// Err records err under "error".
func Err(err error) Field { return zap.Error(err) }

type tagKey int

const (
	requestIDTag tagKey = iota
	principalTag
	credentialTag
)

func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDTag, requestID)
}

func ContextWithPrincipal(ctx context.Context, principalID int64) context.Context {
	return context.WithValue(ctx, principalTag, principalID)
}

func ContextWithCredential(ctx context.Context, credentialID int64) context.Context {
	return context.WithValue(ctx, credentialTag, credentialID)
}

// RequestIDFrom returns the request ID tagged on ctx, if any.
func RequestIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDTag).(string)
	return id, ok
}

func contextFields(ctx context.Context) []Field {
	var fields []Field
	if id, ok := RequestIDFrom(ctx); ok {
		fields = append(fields, zap.String("request_id", id))
	}
	if id, ok := ctx.Value(principalTag).(int64); ok {
		fields = append(fields, zap.Int64("principal_id", id))
	}
	if id, ok := ctx.Value(credentialTag).(int64); ok {
		fields = append(fields, zap.Int64("credential_id", id))
	}
	return fields
}
