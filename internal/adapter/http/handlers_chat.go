package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Strob0t/QueryForge/internal/domain/conversation"
	"github.com/Strob0t/QueryForge/internal/domain/stream"
	"github.com/Strob0t/QueryForge/internal/middleware"
	"github.com/Strob0t/QueryForge/internal/port/eventsink"
)

// StreamChat handles POST /api/v1/chat/stream. Request errors are answered
// with a JSON status before the stream opens; afterwards every outcome is
// reported in-band and the stream always ends with a done event.
func (h *Handlers) StreamChat(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	req, ok := readJSON[conversation.TurnRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	req.UserID = middleware.UserIDFromContext(r.Context())

	turn, err := h.Conversations.PrepareTurn(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.Conversations.StreamTurn(r.Context(), turn, sseSink(w, flusher))
}

// sseSink writes each event as one "data:" frame and flushes it.
func sseSink(w http.ResponseWriter, flusher http.Flusher) eventsink.Sink {
	return eventsink.Func(func(ctx context.Context, ev stream.Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			slog.ErrorContext(ctx, "marshal stream event", "type", ev.Type, "error", err)
			return nil
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
		flusher.Flush()
		return nil
	})
}
