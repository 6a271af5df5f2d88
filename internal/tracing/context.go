package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// TaskIDKey is the context key for the A2A task ID
	TaskIDKey ContextKey = "task_id"
	// ConversationKey is the context key for the A2A context ID
	ConversationKey ContextKey = "context_id"
	// StrategyKey is the context key for the isolation strategy name
	StrategyKey ContextKey = "strategy"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID   string
	TaskID    string
	ContextID string
	Strategy  string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithTaskID adds an A2A task ID to the context
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, TaskIDKey, taskID)
}

// WithContextID adds an A2A context ID to the context
func WithContextID(ctx context.Context, contextID string) context.Context {
	return context.WithValue(ctx, ConversationKey, contextID)
}

// WithStrategy adds the isolation strategy name to the context
func WithStrategy(ctx context.Context, strategy string) context.Context {
	return context.WithValue(ctx, StrategyKey, strategy)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetTaskID retrieves the A2A task ID from the context
func GetTaskID(ctx context.Context) string {
	if taskID, ok := ctx.Value(TaskIDKey).(string); ok {
		return taskID
	}
	return ""
}

// GetContextID retrieves the A2A context ID from the context
func GetContextID(ctx context.Context) string {
	if contextID, ok := ctx.Value(ConversationKey).(string); ok {
		return contextID
	}
	return ""
}

// GetStrategy retrieves the isolation strategy name from the context
func GetStrategy(ctx context.Context) string {
	if strategy, ok := ctx.Value(StrategyKey).(string); ok {
		return strategy
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:   GetTraceID(ctx),
		TaskID:    GetTaskID(ctx),
		ContextID: GetContextID(ctx),
		Strategy:  GetStrategy(ctx),
	}
}

// NewRequestContext creates a new context for a request with a new trace ID
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// NewTaskContext creates a new context scoped to one A2A task
func NewTaskContext(ctx context.Context, contextID, taskID string) context.Context {
	ctx = WithContextID(ctx, contextID)
	ctx = WithTaskID(ctx, taskID)
	return ctx
}
