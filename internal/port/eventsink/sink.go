// Package eventsink defines the port through which a chat turn delivers
// canonical events to its client.
package eventsink

import (
	"context"

	"github.com/Strob0t/QueryForge/internal/domain/stream"
)

// Sink receives the events of one turn in order. Implementations are
// transport specific (SSE, WebSocket) and need not be safe for concurrent
// use; the caller serialises emission.
type Sink interface {
	Send(ctx context.Context, ev stream.Event) error
}

// Func adapts a function to the Sink interface.
type Func func(ctx context.Context, ev stream.Event) error

// Send calls f.
func (f Func) Send(ctx context.Context, ev stream.Event) error { return f(ctx, ev) }
