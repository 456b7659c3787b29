package shared

import (
	"context"
	"testing"
)

func TestTraceID_DefaultDash(t *testing.T) {
	ctx := context.Background()
	if got := TraceID(ctx); got != "-" {
		t.Fatalf("expected '-', got %q", got)
	}
	ctx = WithTraceID(ctx, "trace-1")
	if got := TraceID(ctx); got != "trace-1" {
		t.Fatalf("expected trace-1, got %q", got)
	}
}

func TestNewTraceID_NonEmpty(t *testing.T) {
	if got := NewTraceID(); got == "" {
		t.Fatal("expected non-empty trace id")
	}
}

func TestScope_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := Scope(ctx); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	ctx = WithScope(ctx, "team-a")
	if got := Scope(ctx); got != "team-a" {
		t.Fatalf("expected team-a, got %q", got)
	}
}

func TestTaskID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := TaskID(ctx); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	ctx = WithTaskID(ctx, "t-42")
	if got := TaskID(ctx); got != "t-42" {
		t.Fatalf("expected t-42, got %q", got)
	}
}

func TestOrchestratorID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := OrchestratorID(ctx); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	ctx = WithOrchestratorID(ctx, "o-1")
	if got := OrchestratorID(ctx); got != "o-1" {
		t.Fatalf("expected o-1, got %q", got)
	}
}
