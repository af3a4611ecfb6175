// Package ws implements the WebSocket chat transport. Each client text frame
// is a turn request; the turn's events are written back as text frames and
// a connection may carry several turns one after another.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/Strob0t/QueryForge/internal/domain"
	"github.com/Strob0t/QueryForge/internal/domain/conversation"
	"github.com/Strob0t/QueryForge/internal/domain/stream"
	"github.com/Strob0t/QueryForge/internal/middleware"
	"github.com/Strob0t/QueryForge/internal/port/eventsink"
	"github.com/Strob0t/QueryForge/internal/service"
)

const (
	defaultReadLimit    = 1 << 20
	defaultWriteTimeout = 10 * time.Second
	// maxPending bounds turn requests queued behind the running one.
	maxPending = 4
)

// TurnRunner prepares and streams chat turns.
type TurnRunner interface {
	PrepareTurn(ctx context.Context, req conversation.TurnRequest) (*service.Turn, error)
	StreamTurn(ctx context.Context, turn *service.Turn, sink eventsink.Sink)
}

// TurnLimiter decides whether a user may start another turn. It reports
// how long to wait when the answer is no.
type TurnLimiter interface {
	AllowTurn(userID string) (time.Duration, bool)
}

// conn wraps a single WebSocket connection.
type conn struct {
	ws     *websocket.Conn
	userID string
	cancel context.CancelFunc
}

// Hub serves chat connections and tracks the open ones.
type Hub struct {
	runner       TurnRunner
	limiter      TurnLimiter
	readLimit    int64
	writeTimeout time.Duration

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates a Hub running turns with runner.
func NewHub(runner TurnRunner) *Hub {
	return &Hub{
		runner:       runner,
		readLimit:    defaultReadLimit,
		writeTimeout: defaultWriteTimeout,
		conns:        make(map[*conn]struct{}),
	}
}

// SetTurnLimiter charges every turn frame against l. The upgrade request
// itself only pays the ordinary request cost.
func (h *Hub) SetTurnLimiter(l TurnLimiter) { h.limiter = l }

// frame is one decoded client message.
type frame struct {
	req conversation.TurnRequest
	err error
}

// HandleChat upgrades the request and serves turns until the client leaves.
// The caller must be authenticated before the upgrade.
func (h *Hub) HandleChat(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"authentication required"}`))
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}
	ws.SetReadLimit(h.readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: ws, userID: userID, cancel: cancel}
	h.add(c)
	defer func() {
		h.remove(c)
		_ = ws.Close(websocket.StatusNormalClosure, "")
	}()

	slog.Info("websocket connected", "remote", r.RemoteAddr, "user_id", userID)

	frames := make(chan frame, maxPending)
	go h.readLoop(ctx, c, frames)

	for {
		select {
		case <-ctx.Done():
			return
		case f := <-frames:
			h.serveTurn(ctx, c, f)
		}
	}
}

// readLoop decodes client frames. It keeps reading while a turn runs so
// close frames and disconnects are seen immediately.
func (h *Hub) readLoop(ctx context.Context, c *conn, frames chan<- frame) {
	defer c.cancel()
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				slog.Debug("websocket read failed", "error", err)
			}
			return
		}

		var f frame
		if typ != websocket.MessageText {
			f.err = errors.New("turn requests must be text frames")
		} else if err := json.Unmarshal(data, &f.req); err != nil {
			f.err = errors.New("invalid turn request")
		}

		select {
		case frames <- f:
		default:
			slog.Warn("websocket client exceeded pending turns", "user_id", c.userID)
			_ = c.ws.Close(websocket.StatusPolicyViolation, "too many pending turns")
			return
		}
	}
}

func (h *Hub) serveTurn(ctx context.Context, c *conn, f frame) {
	if f.err != nil {
		h.reject(ctx, c, f.err.Error())
		return
	}

	if h.limiter != nil {
		if wait, ok := h.limiter.AllowTurn(c.userID); !ok {
			h.reject(ctx, c, fmt.Sprintf("rate limit exceeded, retry in %ds", int(math.Ceil(wait.Seconds()))))
			return
		}
	}

	f.req.UserID = c.userID
	turn, err := h.runner.PrepareTurn(ctx, f.req)
	if err != nil {
		h.reject(ctx, c, clientMessage(err))
		return
	}

	h.runner.StreamTurn(ctx, turn, eventsink.Func(func(ctx context.Context, ev stream.Event) error {
		return h.write(ctx, c, ev)
	}))
}

// reject ends a turn that never started.
func (h *Hub) reject(ctx context.Context, c *conn, msg string) {
	if h.write(ctx, c, stream.Error(msg)) == nil {
		_ = h.write(ctx, c, stream.Done())
	}
}

func (h *Hub) write(ctx context.Context, c *conn, ev stream.Event) error {
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, c.ws, ev); err != nil {
		slog.Debug("websocket write failed", "type", ev.Type, "error", err)
		return err
	}
	return nil
}

// clientMessage maps a turn preparation error to the text shown to the client.
func clientMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
	case errors.Is(err, domain.ErrNotFound):
		return "session not found"
	case errors.Is(err, domain.ErrUnauthenticated):
		return "authentication required"
	default:
		slog.Error("prepare turn failed", "error", err)
		return "internal server error"
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// CloseAll closes every open connection, e.g. on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	open := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		open = append(open, c)
	}
	h.mu.RUnlock()

	for _, c := range open {
		c.cancel()
		_ = c.ws.CloseNow()
	}
}

func (h *Hub) add(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected", "user_id", c.userID)
	}
}
