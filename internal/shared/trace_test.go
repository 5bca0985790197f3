package shared

import (
	"context"
	"testing"
)

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	// Absent trace id reads as "-".
	if got := TraceID(ctx); got != "-" {
		t.Fatalf("expected '-', got %q", got)
	}

	ctx = WithTraceID(ctx, "trace-1")
	if got := TraceID(ctx); got != "trace-1" {
		t.Fatalf("expected trace-1, got %q", got)
	}

	// Overwrite.
	ctx = WithTraceID(ctx, "trace-2")
	if got := TraceID(ctx); got != "trace-2" {
		t.Fatalf("expected trace-2, got %q", got)
	}
}

func TestNewTraceID_Unique(t *testing.T) {
	a := NewTraceID()
	b := NewTraceID()
	if a == "" || a == b {
		t.Fatalf("expected distinct non-empty ids, got %q and %q", a, b)
	}
}

func TestCallID_DefaultEmpty(t *testing.T) {
	ctx := context.Background()
	if got := CallID(ctx); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	ctx = WithCallID(ctx, "call-42")
	if got := CallID(ctx); got != "call-42" {
		t.Fatalf("expected call-42, got %q", got)
	}
}

func TestClientID_DefaultEmpty(t *testing.T) {
	ctx := context.Background()
	if got := ClientID(ctx); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	ctx = WithClientID(ctx, "client-7")
	if got := ClientID(ctx); got != "client-7" {
		t.Fatalf("expected client-7, got %q", got)
	}
}
