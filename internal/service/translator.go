package service

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/Strob0t/QueryForge/internal/domain/agent"
	"github.com/Strob0t/QueryForge/internal/domain/conversation"
	"github.com/Strob0t/QueryForge/internal/domain/stream"
	"github.com/Strob0t/QueryForge/internal/port/agentruntime"
)

// Field paths, tried in order. The first non-empty match wins.
var (
	textPaths    = []string{"delta", "data.delta", "text", "content"}
	toolPaths    = []string{"name", "tool_name", "item.raw_item.name", "item.name", "raw_item.name", "tool.name"}
	outputPaths  = []string{"output", "item.output", "result"}
	handoffPaths = []string{"to_agent", "target", "new_agent.name", "agent.name", "agent"}
)

const fallbackToolName = "tool"

// Translator turns raw runtime events into client events for one turn. It
// owns the turn's assistant reply, its tool call ledger and the handoff
// state. It is not safe for concurrent use.
type Translator struct {
	emit    func(stream.Event)
	now     func() time.Time
	reply   strings.Builder
	held    strings.Builder // text seen while a handoff is pending
	ledger  toolCallLedger
	handoff handoffMachine
	texts   int
}

// NewTranslator starts a turn with initial as the active kind. Every client
// event is passed to emit in order.
func NewTranslator(initial agent.Kind, emit func(stream.Event)) *Translator {
	return &Translator{
		emit:    emit,
		now:     time.Now,
		handoff: newHandoffMachine(initial),
	}
}

// Handle processes one raw event. Unknown tags are ignored.
func (t *Translator) Handle(ev agentruntime.RawEvent) {
	switch ev.Tag {
	case agentruntime.TagTextDelta:
		t.handleText(ev.Data)
	case agentruntime.TagToolCalled:
		name := lookupToolName(ev.Data)
		t.ledger.start(name, t.now())
		t.emit(stream.Step(name, stream.StepStarted))
	case agentruntime.TagToolOutput:
		t.handleToolOutput(ev.Data)
	case agentruntime.TagHandoffRequested:
		t.handoff.request()
	case agentruntime.TagHandoffOccurred, agentruntime.TagAgentUpdated:
		t.handleHandoff(ev.Data)
	case agentruntime.TagMessageCreated:
		// A new assistant message means any pending handoff was abandoned.
		t.handoff.settle()
		t.release()
	}
}

func (t *Translator) handleText(data map[string]any) {
	delta := lookupString(data, textPaths)
	if delta == "" {
		return
	}
	if t.handoff.pending {
		t.held.WriteString(delta)
		return
	}
	t.appendText(delta)
}

func (t *Translator) appendText(delta string) {
	t.reply.WriteString(delta)
	t.texts++
	t.emit(stream.Text(delta))
}

// release emits held text as one delta once a pending handoff turned out
// not to move control. Text still held when the turn ends is never shown.
func (t *Translator) release() {
	if t.held.Len() == 0 {
		return
	}
	held := t.held.String()
	t.held.Reset()
	t.appendText(held)
}

func (t *Translator) handleToolOutput(data map[string]any) {
	name := lookupToolName(data)
	output, _ := firstOf(data, outputPaths)

	t.emit(stream.Step(name, stream.StepCompleted))
	t.ledger.complete(name, resultPayload(output), t.now())

	ev, ok, err := consoleEventFromOutput(output)
	if err != nil {
		slog.Debug("tool output is not a side-channel payload", "tool", name, "error", err)
		return
	}
	if ok {
		t.emit(ev)
	}
}

func (t *Translator) handleHandoff(data map[string]any) {
	kind, moved := t.handoff.resolve(lookupString(data, handoffPaths))
	if !moved {
		t.release()
		return
	}
	t.held.Reset()
	t.reply.Reset()
	t.emit(stream.AgentMode(kind))
	t.emit(stream.Handoff(kind))
}

// Reply returns the assistant text of the current agent.
func (t *Translator) Reply() string { return t.reply.String() }

// StreamedText reports whether any text delta was emitted this turn.
func (t *Translator) StreamedText() bool { return t.texts > 0 }

// Active returns the kind active at this point of the turn.
func (t *Translator) Active() agent.Kind { return t.handoff.active }

// Handoffs returns how many transitions happened.
func (t *Translator) Handoffs() int { return t.handoff.count }

// ToolCalls returns the turn's tool call records.
func (t *Translator) ToolCalls() []conversation.ToolCall { return t.ledger.records() }

// firstOf walks each dotted path through nested maps and returns the first
// value that is present and non-empty.
func firstOf(data map[string]any, paths []string) (any, bool) {
	for _, p := range paths {
		v, ok := lookup(data, p)
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

// lookupString is firstOf restricted to string values.
func lookupString(data map[string]any, paths []string) string {
	for _, p := range paths {
		if v, ok := lookup(data, p); ok {
			if s, isStr := v.(string); isStr && s != "" {
				return s
			}
		}
	}
	return ""
}

func lookupToolName(data map[string]any) string {
	if name := lookupString(data, toolPaths); name != "" {
		return name
	}
	return fallbackToolName
}

func lookup(data map[string]any, path string) (any, bool) {
	var cur any = data
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// resultPayload stores JSON output as-is and anything else as a JSON string.
func resultPayload(output any) json.RawMessage {
	if output == nil {
		return nil
	}
	if s, ok := output.(string); ok && json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	data, err := json.Marshal(output)
	if err != nil {
		return nil
	}
	return data
}

// consoleEventFromOutput detects the console marker in a tool result. Plain
// text is not an error; malformed JSON objects are.
func consoleEventFromOutput(output any) (stream.Event, bool, error) {
	var m consoleMarker
	switch v := output.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		if !strings.HasPrefix(trimmed, "{") {
			return stream.Event{}, false, nil
		}
		if err := json.Unmarshal([]byte(trimmed), &m); err != nil {
			return stream.Event{}, false, err
		}
	case map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return stream.Event{}, false, err
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return stream.Event{}, false, err
		}
	default:
		return stream.Event{}, false, nil
	}

	switch m.EventType {
	case stream.TypeConsoleModification:
		return stream.ConsoleModification(m.change()), true, nil
	case stream.TypeConsoleCreation:
		return stream.ConsoleCreation(m.change()), true, nil
	}
	return stream.Event{}, false, nil
}
