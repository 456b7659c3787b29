package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}
type scopeKey struct{}
type taskIDKey struct{}
type orchestratorIDKey struct{}

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID generates a new trace_id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithScope attaches the active multi-tenant partition to the context.
func WithScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// Scope extracts scope from context. Returns "" if absent.
func Scope(ctx context.Context) string {
	if v, ok := ctx.Value(scopeKey{}).(string); ok {
		return v
	}
	return ""
}

// WithTaskID attaches a task_id to the context.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, taskID)
}

// TaskID extracts task_id from context. Returns "" if absent.
func TaskID(ctx context.Context) string {
	if v, ok := ctx.Value(taskIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithOrchestratorID attaches the calling orchestrator's id to the context.
func WithOrchestratorID(ctx context.Context, orchestratorID string) context.Context {
	return context.WithValue(ctx, orchestratorIDKey{}, orchestratorID)
}

// OrchestratorID extracts orchestrator_id from context. Returns "" if absent.
func OrchestratorID(ctx context.Context) string {
	if v, ok := ctx.Value(orchestratorIDKey{}).(string); ok {
		return v
	}
	return ""
}
