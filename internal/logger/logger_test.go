package logger

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/Strob0t/QueryForge/internal/config"
)

func TestNew(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "test-svc"}
	l, closer := New(cfg)
	defer closer.Close()
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewAsync(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "test-svc", Async: true}
	l, closer := New(cfg)
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
	closer.Close()
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input).String()
			if got != tt.want {
				t.Errorf("parseLevel(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()

	if got := RequestID(ctx); got != "" {
		t.Errorf("expected empty request ID, got %q", got)
	}

	ctx = WithRequestID(ctx, "req-123")
	if got := RequestID(ctx); got != "req-123" {
		t.Errorf("expected req-123, got %q", got)
	}
	if got := RunID(ctx); got != "" {
		t.Errorf("expected empty run ID, got %q", got)
	}

	ctx = WithRunID(ctx, "run-9")
	if got := RunID(ctx); got != "run-9" {
		t.Errorf("expected run-9, got %q", got)
	}

	ctx = WithSessionID(ctx, "sess-4")
	if got := SessionID(ctx); got != "sess-4" {
		t.Errorf("expected sess-4, got %q", got)
	}
}

func TestContextHandlerAddsIDs(t *testing.T) {
	inner := &recordingHandler{}
	h := &contextHandler{inner: inner}

	ctx := WithSessionID(WithRunID(WithRequestID(context.Background(), "req-1"), "run-1"), "sess-1")
	rec := slog.NewRecord(time.Now(), slog.LevelInfo, "turn", 0)
	if err := h.Handle(ctx, rec); err != nil {
		t.Fatal(err)
	}

	if inner.count() != 1 {
		t.Fatalf("expected 1 record, got %d", inner.count())
	}
	got := inner.attrs(0)
	if got["request_id"] != "req-1" || got["run_id"] != "run-1" || got["session_id"] != "sess-1" {
		t.Errorf("expected correlation attrs, got %v", got)
	}
}
