// Package logctx carries a zerolog logger through context.Context so a
// transform's fields (transform_id, checkpoint) follow every call of its
// indexing cycle.
package logctx

import (
	"context"

	"github.com/adfharrison1/go-pivot/pkg/logging"
	"github.com/rs/zerolog"
)

type loggerKey struct{}

// WithLogger returns a new context with the given logger attached.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext extracts the logger from the context, falling back to the
// global logger.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
			return logger
		}
	}
	return *logging.L()
}

// WithStr returns a new context with a logger that has the specified string field added.
func WithStr(ctx context.Context, key, value string) context.Context {
	logger := FromContext(ctx).With().Str(key, value).Logger()
	return WithLogger(ctx, logger)
}

// WithInt64 returns a new context with a logger that has the specified int64 field added.
func WithInt64(ctx context.Context, key string, value int64) context.Context {
	logger := FromContext(ctx).With().Int64(key, value).Logger()
	return WithLogger(ctx, logger)
}
