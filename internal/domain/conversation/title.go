package conversation

import "unicode/utf8"

const (
	titleMinMessages      = 2
	titleSubstantialToken = 20
	titleMinUserTurns     = 2
)

// EstimateTokens approximates a token count as characters / 4.
func EstimateTokens(s string) int {
	return utf8.RuneCountInString(s) / 4
}

// TitleEligible reports whether msgs carry enough signal to generate a
// title: at least two messages with one from each side, and either a
// substantial first user message or two user turns.
func TitleEligible(msgs []Message) bool {
	if len(msgs) < titleMinMessages {
		return false
	}

	var users, assistants int
	firstUser := -1
	for i := range msgs {
		switch msgs[i].Role {
		case RoleUser:
			if firstUser < 0 {
				firstUser = i
			}
			users++
		case RoleAssistant:
			assistants++
		}
	}
	if users == 0 || assistants == 0 {
		return false
	}

	return EstimateTokens(msgs[firstUser].Content) >= titleSubstantialToken || users >= titleMinUserTurns
}

// NeedsTitle reports whether title generation should be dispatched for s.
func (s *Session) NeedsTitle() bool {
	return !s.TitleGenerated && TitleEligible(s.Messages)
}
