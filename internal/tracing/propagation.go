package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	if tc.TraceID != "" {
		logger = logger.With().Str("trace_id", tc.TraceID).Logger()
	}
	if tc.ContextID != "" {
		logger = logger.With().Str("context_id", tc.ContextID).Logger()
	}
	if tc.TaskID != "" {
		logger = logger.With().Str("task_id", tc.TaskID).Logger()
	}
	if tc.Strategy != "" {
		logger = logger.With().Str("strategy", tc.Strategy).Logger()
	}

	return logger
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}
