package messagequeue

import (
	"encoding/json"
	"time"

	"github.com/Strob0t/QueryForge/internal/domain/agent"
)

// RunStartPayload is the schema for chat.run.start messages.
type RunStartPayload struct {
	RunID       string             `json:"run_id"`
	ActiveAgent agent.Kind         `json:"active_agent"`
	Agents      []agent.Descriptor `json:"agents"`
	Prompt      string             `json:"prompt"`
	MaxTurns    int                `json:"max_turns"`
	WorkspaceID string             `json:"workspace_id"`
	ConsoleID   string             `json:"console_id,omitempty"`
}

// RunCancelPayload is the schema for chat.run.cancel messages.
type RunCancelPayload struct {
	RunID  string `json:"run_id"`
	Reason string `json:"reason"`
}

// RunEventPayload is one raw event on chat.live.<run>.events. The tag
// RunEventCompleted ends the sequence.
type RunEventPayload struct {
	Tag  string         `json:"tag"`
	Data map[string]any `json:"data,omitempty"`
}

// RunEventCompleted is the terminal tag on the live events subject.
const RunEventCompleted = "run_completed"

// RunCompletedData is the data of a run_completed event.
type RunCompletedData struct {
	FinalOutput string `json:"final_output"`
	Error       string `json:"error"`
}

// ToolCallRequestPayload is sent by the worker on chat.live.<run>.tools.
type ToolCallRequestPayload struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCallResponsePayload is the reply to a ToolCallRequestPayload.
type ToolCallResponsePayload struct {
	Output  string `json:"output"`
	IsError bool   `json:"is_error"`
}

// TurnCompletedPayload is the schema for chat.turn.completed messages.
type TurnCompletedPayload struct {
	SessionID    string     `json:"session_id"`
	ThreadID     string     `json:"thread_id"`
	WorkspaceID  string     `json:"workspace_id"`
	UserID       string     `json:"user_id"`
	RunID        string     `json:"run_id"`
	Agent        agent.Kind `json:"agent"`
	Handoffs     int        `json:"handoffs"`
	ToolCalls    int        `json:"tool_calls"`
	MessageCount int        `json:"message_count"`
	DurationMs   int64      `json:"duration_ms"`
	CompletedAt  time.Time  `json:"completed_at"`
}

// TurnFailedPayload is the schema for chat.turn.failed messages.
type TurnFailedPayload struct {
	WorkspaceID string `json:"workspace_id"`
	UserID      string `json:"user_id"`
	RunID       string `json:"run_id"`
	Reason      string `json:"reason"` // "timeout" | "error" | "canceled"
	Error       string `json:"error,omitempty"`
}

// WorkspaceChangedPayload is the schema for chat.workspace.changed messages.
type WorkspaceChangedPayload struct {
	WorkspaceID string            `json:"workspace_id"`
	DatabaseID  string            `json:"database_id,omitempty"`
	Type        agent.BackendType `json:"type,omitempty"`
}
