// Package reqcontext carries per-request values through a context.
package reqcontext

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// Header carries the request ID in both directions.
	Header = "X-Request-Id"

	// maxIDLength bounds client-supplied IDs before they reach the logs.
	maxIDLength = 256
)

type key int

const (
	requestIDKey key = iota
	loggerKey
)

// ValidID reports whether a client-supplied ID can be echoed back and
// logged as is: 1 to 256 ASCII letters, digits, dashes or underscores.
func ValidID(id string) bool {
	if id == "" || len(id) > maxIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// NewID returns a random UUID.
func NewID() string {
	return uuid.NewString()
}

// IDFromHeader keeps a valid client ID and replaces anything else with a
// fresh one.
func IDFromHeader(value string) string {
	if ValidID(value) {
		return value
	}
	return NewID()
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the ID stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func WithLogger(ctx context.Context, logger *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger returns the request-scoped logger. Handlers outside the request
// logging middleware get a no-op logger.
func Logger(ctx context.Context) *zap.SugaredLogger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(*zap.SugaredLogger); ok && l != nil {
			return l
		}
	}
	return zap.NewNop().Sugar()
}
