// Package agentruntime defines the port to the external agent runtime that
// executes an agent and streams loosely structured events back.
package agentruntime

import (
	"context"
	"encoding/json"

	"github.com/Strob0t/QueryForge/internal/domain/agent"
)

// Event tags the translator knows how to classify. Unknown tags are ignored.
const (
	TagTextDelta        = "text_delta"
	TagToolCalled       = "tool_called"
	TagToolOutput       = "tool_output"
	TagHandoffRequested = "handoff_requested"
	TagHandoffOccurred  = "handoff_occurred"
	TagAgentUpdated     = "agent_updated"
	TagMessageCreated   = "message_output_created"
)

// RawEvent is one opaque producer event. Field layout under Data varies
// between producers and event sub-kinds.
type RawEvent struct {
	Tag  string         `json:"tag"`
	Data map[string]any `json:"data,omitempty"`
}

// ToolInvoker executes a tool call on behalf of the runtime.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, args json.RawMessage) (output string, isError bool)
}

// Request starts a streamed run.
type Request struct {
	RunID    string
	Active   agent.Kind
	Agents   []agent.Descriptor
	Tools    ToolInvoker
	Prompt   string
	MaxTurns int
}

// Result is the runtime's completion signal.
type Result struct {
	FinalOutput string
}

// Run is a started run.
type Run interface {
	// Next blocks for the next event. It returns io.EOF when the sequence
	// is exhausted.
	Next(ctx context.Context) (RawEvent, error)

	// Wait returns the completion signal once the sequence is exhausted.
	Wait(ctx context.Context) (Result, error)

	// Close releases the run. Closing an unfinished run cancels it.
	Close() error
}

// Runtime starts runs.
type Runtime interface {
	Start(ctx context.Context, req Request) (Run, error)
}
