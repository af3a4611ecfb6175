// Package stream defines the canonical client event vocabulary of a chat
// turn. Raw agent runtime events never cross this boundary.
package stream

import "github.com/Strob0t/QueryForge/internal/domain/agent"

// Type discriminates a client event.
type Type string

const (
	TypeText                Type = "text"
	TypeStep                Type = "step"
	TypeConsoleModification Type = "console_modification"
	TypeConsoleCreation     Type = "console_creation"
	TypeAgentMode           Type = "agent_mode"
	TypeHandoff             Type = "handoff"
	TypeThreadInfo          Type = "thread_info"
	TypeSession             Type = "session"
	TypeTimeout             Type = "timeout"
	TypeError               Type = "error"
	TypeDone                Type = "done"
)

// StepStatus is the state reported by a step event.
type StepStatus string

const (
	StepStarted   StepStatus = "started"
	StepCompleted StepStatus = "completed"
)

// Event is one frame of the outbound stream, encoded as {"type": ..., fields}.
type Event struct {
	Type Type `json:"type"`

	Content string     `json:"content,omitempty"`
	Name    string     `json:"name,omitempty"`
	Status  StepStatus `json:"status,omitempty"`

	Agent   agent.Kind `json:"agent,omitempty"`
	Message string     `json:"message,omitempty"`

	Console *ConsoleChange `json:"console,omitempty"`

	ThreadID     string `json:"threadId,omitempty"`
	MessageCount int    `json:"messageCount,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`
}

// ConsoleChange is the payload of console_modification and console_creation.
type ConsoleChange struct {
	ConsoleID    string `json:"consoleId,omitempty"`
	Title        string `json:"title,omitempty"`
	Content      string `json:"content"`
	DatabaseID   string `json:"databaseId,omitempty"`
	DatabaseType string `json:"databaseType,omitempty"`
}

// Text builds a text delta event.
func Text(delta string) Event { return Event{Type: TypeText, Content: delta} }

// Step builds a tool progress event.
func Step(name string, status StepStatus) Event {
	return Event{Type: TypeStep, Name: name, Status: status}
}

// AgentMode announces the active agent kind.
func AgentMode(k agent.Kind) Event { return Event{Type: TypeAgentMode, Agent: k} }

// Handoff announces a transfer of control to k.
func Handoff(k agent.Kind) Event {
	return Event{Type: TypeHandoff, Agent: k, Message: "Transferring you to the " + k.DisplayName()}
}

// ConsoleModification builds a console edit side-channel event.
func ConsoleModification(c ConsoleChange) Event {
	return Event{Type: TypeConsoleModification, Console: &c}
}

// ConsoleCreation builds a console creation side-channel event.
func ConsoleCreation(c ConsoleChange) Event {
	return Event{Type: TypeConsoleCreation, Console: &c}
}

// ThreadInfo reports the thread id and the persisted message count.
func ThreadInfo(threadID string, count int) Event {
	return Event{Type: TypeThreadInfo, ThreadID: threadID, MessageCount: count}
}

// Session reports the session id of the turn.
func Session(id string) Event { return Event{Type: TypeSession, SessionID: id} }

// Timeout reports that the turn budget was exceeded.
func Timeout() Event {
	return Event{Type: TypeTimeout, Message: "The request took too long and was stopped."}
}

// Error reports a failure to the client.
func Error(msg string) Event { return Event{Type: TypeError, Message: msg} }

// Done terminates the stream.
func Done() Event { return Event{Type: TypeDone} }

// Terminal reports whether e ends the stream.
func (e Event) Terminal() bool { return e.Type == TypeDone }
