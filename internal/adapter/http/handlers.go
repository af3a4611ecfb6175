package http

import (
	"context"
	"net/http"

	"github.com/Strob0t/QueryForge/internal/service"
)

// defaultBodyLimit caps request bodies when Limits.MaxRequestBodySize is unset.
const defaultBodyLimit = 1 << 20

// Limits bounds request handling.
type Limits struct {
	MaxRequestBodySize int64
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Conversations *service.ConversationService
	Workspaces    *service.WorkspaceService
	Limits        Limits
	// ChatSocket serves the WebSocket turn transport; nil leaves it unmounted.
	ChatSocket http.HandlerFunc
	// TurnLimit wraps the SSE turn endpoint, e.g. to charge turns more than reads.
	TurnLimit func(http.Handler) http.Handler
	// Checks are run by /health, keyed by component name.
	Checks map[string]Pinger
	// Info values are reported by /health without affecting its status,
	// e.g. the state of the title model's breaker.
	Info map[string]func() string
}

func (h *Handlers) bodyLimit() int64 {
	if h.Limits.MaxRequestBodySize > 0 {
		return h.Limits.MaxRequestBodySize
	}
	return defaultBodyLimit
}

type healthStatus struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
	Info       map[string]string `json:"info,omitempty"`
}

// Health handles GET /health. A failing component turns the status to
// "degraded" with 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{Status: "ok"}
	code := http.StatusOK
	if len(h.Checks) > 0 {
		status.Components = make(map[string]string, len(h.Checks))
	}
	for name, p := range h.Checks {
		if err := p.Ping(r.Context()); err != nil {
			status.Components[name] = err.Error()
			status.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status.Components[name] = "ok"
	}
	if len(h.Info) > 0 {
		status.Info = make(map[string]string, len(h.Info))
		for name, fn := range h.Info {
			status.Info[name] = fn()
		}
	}
	writeJSON(w, code, status)
}
