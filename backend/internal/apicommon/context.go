package apicommon

import (
	"context"
	"log/slog"
)

// ctxKey is keyed by the stored type, so each value type gets its own slot.
type ctxKey[T any] struct{}

type requestID string

func withValue[T any](ctx context.Context, v T) context.Context {
	return context.WithValue(ctx, ctxKey[T]{}, v)
}

func value[T any](ctx context.Context) (T, bool) {
	v, ok := ctx.Value(ctxKey[T]{}).(T)
	return v, ok
}

func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return withValue(ctx, logger)
}

// GetLogger returns the request logger set by LoggerMiddleware, or the
// default logger outside a request.
func GetLogger(ctx context.Context) *slog.Logger {
	if l := GetLoggerOrNil(ctx); l != nil {
		return l
	}

	return slog.Default()
}

func GetLoggerOrNil(ctx context.Context) *slog.Logger {
	l, _ := value[*slog.Logger](ctx)
	return l
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return withValue(ctx, requestID(id))
}

// GetRequestID returns the id set by RequestIDMiddleware, or the zero UUID.
func GetRequestID(ctx context.Context) string {
	if id, ok := value[requestID](ctx); ok {
		return string(id)
	}

	return zeroUUID
}
