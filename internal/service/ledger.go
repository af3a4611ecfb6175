package service

import (
	"encoding/json"
	"time"

	"github.com/Strob0t/QueryForge/internal/domain/conversation"
)

// toolCallLedger pairs tool outputs with the calls that produced them. The
// runtime gives no call id, so a result attaches to the most recent
// unfinished call of the same name. Parallel calls to one tool may pair out
// of order.
type toolCallLedger struct {
	calls []conversation.ToolCall
}

func (l *toolCallLedger) start(name string, at time.Time) {
	l.calls = append(l.calls, conversation.ToolCall{
		Name:      name,
		Status:    conversation.ToolCallStarted,
		StartedAt: at,
	})
}

// complete marks the newest open call named name as completed. A result
// with no open call is kept as a completed record of its own.
func (l *toolCallLedger) complete(name string, result json.RawMessage, at time.Time) {
	for i := len(l.calls) - 1; i >= 0; i-- {
		c := &l.calls[i]
		if c.Name == name && c.Status == conversation.ToolCallStarted {
			c.Status = conversation.ToolCallCompleted
			c.Result = result
			c.CompletedAt = &at
			return
		}
	}
	l.calls = append(l.calls, conversation.ToolCall{
		Name:        name,
		Status:      conversation.ToolCallCompleted,
		Result:      result,
		StartedAt:   at,
		CompletedAt: &at,
	})
}

func (l *toolCallLedger) records() []conversation.ToolCall {
	if len(l.calls) == 0 {
		return nil
	}
	out := make([]conversation.ToolCall, len(l.calls))
	copy(out, l.calls)
	return out
}
