package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Strob0t/QueryForge/internal/domain/stream"
	"github.com/Strob0t/QueryForge/internal/port/eventsink"
)

var _ eventsink.Sink = (*emitter)(nil)

// emitter serialises a turn's events onto the client sink. Once closed, or
// once the sink has failed, every later event is dropped, so done is
// delivered at most once. Console events are delivered once per
// (type, console, content) within the turn.
type emitter struct {
	ctx  context.Context
	sink eventsink.Sink

	mu      sync.Mutex
	closed  bool
	failed  bool
	console map[string]struct{}
}

func newEmitter(ctx context.Context, sink eventsink.Sink) *emitter {
	return &emitter{ctx: ctx, sink: sink, console: make(map[string]struct{})}
}

// Send implements eventsink.Sink for tool handlers running on other
// goroutines. ctx is ignored in favour of the turn's context.
func (e *emitter) Send(_ context.Context, ev stream.Event) error {
	e.emit(ev)
	return nil
}

// emit delivers ev unless the stream is finished. It reports whether the
// event reached the sink.
func (e *emitter) emit(ev stream.Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ev.Type == stream.TypeDone {
		return e.closeLocked()
	}
	return e.sendLocked(ev)
}

// close emits done exactly once.
func (e *emitter) close() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeLocked()
}

func (e *emitter) closeLocked() bool {
	if e.closed {
		return false
	}
	ok := e.sendLocked(stream.Done())
	e.closed = true
	return ok
}

func (e *emitter) sendLocked(ev stream.Event) bool {
	if e.closed || e.failed {
		return false
	}
	if ev.Console != nil {
		key := string(ev.Type) + "\x00" + ev.Console.ConsoleID + "\x00" + ev.Console.Content
		if _, dup := e.console[key]; dup {
			return false
		}
		e.console[key] = struct{}{}
	}
	if err := e.sink.Send(e.ctx, ev); err != nil {
		e.failed = true
		slog.DebugContext(e.ctx, "client sink failed, dropping further events", "type", ev.Type, "error", err)
		return false
	}
	return true
}

// sinkFailed reports whether the client stopped accepting events.
func (e *emitter) sinkFailed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failed
}
