// Package conversation defines the chat session record and the pure helpers
// that derive a prompt and title eligibility from it.
package conversation

import (
	"encoding/json"
	"time"

	"github.com/Strob0t/QueryForge/internal/domain/agent"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PlaceholderTitle is stored on new sessions until a title is generated.
const PlaceholderTitle = "New conversation"

// Session is the durable record of one conversation.
type Session struct {
	ID             string     `json:"id"`
	WorkspaceID    string     `json:"workspace_id"`
	UserID         string     `json:"user_id"`
	ThreadID       string     `json:"thread_id"` // never changes once assigned
	Messages       []Message  `json:"messages"`
	ActiveAgent    agent.Kind `json:"active_agent,omitempty"`
	ConsoleID      string     `json:"console_id,omitempty"`
	Title          string     `json:"title"`
	TitleGenerated bool       `json:"title_generated"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Summary is the listing view of a session without its messages.
type Summary struct {
	ID           string     `json:"id"`
	WorkspaceID  string     `json:"workspace_id"`
	ThreadID     string     `json:"thread_id"`
	Title        string     `json:"title"`
	ActiveAgent  agent.Kind `json:"active_agent,omitempty"`
	MessageCount int        `json:"message_count"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Message is one entry of the transcript. Immutable once appended.
type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ToolCallStatus is the lifecycle state of a tool call within a turn.
type ToolCallStatus string

const (
	ToolCallStarted   ToolCallStatus = "started"
	ToolCallCompleted ToolCallStatus = "completed"
)

// ToolCall records one tool invocation observed during a turn.
type ToolCall struct {
	Name        string          `json:"name"`
	Status      ToolCallStatus  `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Console is a code console attached to a chat turn by the client.
type Console struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TurnUpdate is everything a completed turn writes back to a session.
// It is applied atomically by the session store.
type TurnUpdate struct {
	SessionID   string
	ThreadID    string // used only when the session has none yet
	Messages    []Message
	ActiveAgent agent.Kind
	ConsoleID   string
}
