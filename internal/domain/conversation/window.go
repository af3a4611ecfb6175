package conversation

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// DefaultWindowSize is the number of prior messages included in a prompt.
	DefaultWindowSize = 10
	// DefaultCharBudget is the maximum prompt length before truncation.
	DefaultCharBudget = 4000
	// TruncationMarker prefixes a prompt that was cut from the start.
	TruncationMarker = "[...truncated...]\n"
)

// ThreadContext is the bounded view of a session used to build a prompt.
// It is derived on every turn and never stored.
type ThreadContext struct {
	ThreadID      string
	Recent        []Message
	TotalMessages int
	LastActivity  time.Time
}

// NewThreadContext keeps the last window messages of s. A nil session
// yields an empty context.
func NewThreadContext(s *Session, window int) ThreadContext {
	if s == nil {
		return ThreadContext{}
	}
	if window < 1 {
		window = DefaultWindowSize
	}
	msgs := s.Messages
	if len(msgs) > window {
		msgs = msgs[len(msgs)-window:]
	}
	recent := make([]Message, len(msgs))
	copy(recent, msgs)
	return ThreadContext{
		ThreadID:      s.ThreadID,
		Recent:        recent,
		TotalMessages: len(s.Messages),
		LastActivity:  s.UpdatedAt,
	}
}

// BuildPrompt renders the context window plus the new user message into a
// single prompt of at most budget characters (plus the truncation marker).
// The most recent content is kept when truncating.
func BuildPrompt(tc ThreadContext, message string, budget int) string {
	if budget < 1 {
		budget = DefaultCharBudget
	}

	var b strings.Builder
	if omitted := tc.TotalMessages - len(tc.Recent); omitted > 0 {
		fmt.Fprintf(&b, "[%d earlier messages omitted]\n", omitted)
	}
	for i := range tc.Recent {
		b.WriteString(roleLabel(tc.Recent[i].Role))
		b.WriteString(": ")
		b.WriteString(tc.Recent[i].Content)
		b.WriteByte('\n')
	}
	b.WriteString("User: ")
	b.WriteString(message)

	prompt := b.String()
	n := utf8.RuneCountInString(prompt)
	if n <= budget {
		return prompt
	}
	return TruncationMarker + string([]rune(prompt)[n-budget:])
}

func roleLabel(r Role) string {
	if r == RoleAssistant {
		return "Assistant"
	}
	return "User"
}
