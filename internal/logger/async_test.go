package logger

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// recordingHandler collects slog.Records for test assertions.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
	gate    chan struct{} // when set, Handle blocks until it is closed
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if h.gate != nil {
		<-h.gate
	}
	h.mu.Lock()
	h.records = append(h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

func (h *recordingHandler) attrs(i int) map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	got := map[string]string{}
	h.records[i].Attrs(func(a slog.Attr) bool {
		got[a.Key] = a.Value.String()
		return true
	})
	return got
}

func (h *recordingHandler) levels() []slog.Level {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]slog.Level, len(h.records))
	for i := range h.records {
		out[i] = h.records[i].Level
	}
	return out
}

func TestAsyncHandler_CarriesTurnIDs(t *testing.T) {
	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, 16, 1)

	ctx := WithSessionID(WithRunID(WithRequestID(context.Background(), "req-7"), "run-7"), "sess-7")
	if err := ah.Handle(ctx, slog.NewRecord(time.Now(), slog.LevelInfo, "turn completed", 0)); err != nil {
		t.Fatal(err)
	}
	ah.Close()

	if inner.count() != 1 {
		t.Fatalf("expected 1 record, got %d", inner.count())
	}
	got := inner.attrs(0)
	for key, want := range map[string]string{"request_id": "req-7", "run_id": "run-7", "session_id": "sess-7"} {
		if got[key] != want {
			t.Errorf("%s = %q, want %q", key, got[key], want)
		}
	}
}

func TestAsyncHandler_ConcurrentTurns(t *testing.T) {
	const turns = 50
	const perTurn = 40

	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, turns*perTurn, 4)

	var wg sync.WaitGroup
	for i := range turns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := WithRunID(context.Background(), string(rune('a'+i%26)))
			for range perTurn {
				_ = ah.Handle(ctx, slog.NewRecord(time.Now(), slog.LevelInfo, "event", 0))
			}
		}()
	}
	wg.Wait()
	ah.Close()

	if got := inner.count(); got != turns*perTurn {
		t.Fatalf("expected %d records, got %d", turns*perTurn, got)
	}
}

func TestAsyncHandler_FullBufferKeepsWarnings(t *testing.T) {
	inner := &recordingHandler{gate: make(chan struct{})}
	ah := NewAsyncHandler(inner, 1, 1)
	ctx := context.Background()

	// The worker takes the first record and blocks; the second fills the
	// buffer. Everything after that overflows.
	_ = ah.Handle(ctx, slog.NewRecord(time.Now(), slog.LevelInfo, "first", 0))
	deadline := time.Now().Add(2 * time.Second)
	for len(ah.q.ch) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	_ = ah.Handle(ctx, slog.NewRecord(time.Now(), slog.LevelInfo, "buffered", 0))
	for range 5 {
		_ = ah.Handle(ctx, slog.NewRecord(time.Now(), slog.LevelDebug, "noise", 0))
	}

	errDone := make(chan struct{})
	go func() {
		defer close(errDone)
		_ = ah.Handle(ctx, slog.NewRecord(time.Now(), slog.LevelError, "persist turn failed", 0))
	}()

	close(inner.gate)
	<-errDone
	ah.Close()

	if got := ah.DroppedCount(); got != 5 {
		t.Errorf("dropped = %d, want 5", got)
	}
	var errors int
	for _, l := range inner.levels() {
		if l == slog.LevelError {
			errors++
		}
	}
	if errors != 1 {
		t.Errorf("error records written = %d, want 1", errors)
	}
	if got := inner.count(); got != 3 {
		t.Errorf("records written = %d, want 3", got)
	}
}

func TestAsyncHandler_CloseFlushesAndIsIdempotent(t *testing.T) {
	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, 1000, 2)

	const total = 200
	for range total {
		_ = ah.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "flush", 0))
	}
	ah.Close()
	ah.Close()

	if got := inner.count(); got != total {
		t.Fatalf("expected %d records after close, got %d", total, got)
	}

	// Records after shutdown are written inline rather than lost.
	if err := ah.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelWarn, "late", 0)); err != nil {
		t.Fatal(err)
	}
	if got := inner.count(); got != total+1 {
		t.Errorf("expected late record to be written, got %d records", got)
	}
}

func TestAsyncHandler_DerivedHandlersShareQueue(t *testing.T) {
	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, 10, 1)
	child := ah.WithAttrs([]slog.Attr{slog.String("component", "ws")}).WithGroup("turn")

	_ = child.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "x", 0))
	ah.Close()

	if inner.count() != 1 {
		t.Errorf("expected the derived handler's record to be flushed by Close, got %d", inner.count())
	}
}
