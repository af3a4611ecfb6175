package service

import (
	"strings"
	"unicode"
)

// roleMarkers are line prefixes a model may read as a turn boundary.
var roleMarkers = []string{
	"system:", "assistant:", "user:", "[system]", "[assistant]",
	"<|system|>", "<|assistant|>", "<|im_start|>",
	"### system", "### assistant", "### instruction",
}

// sanitizePromptInput drops control characters, defuses role markers at
// line starts and cuts the text to maxRunes. Newlines and tabs survive.
func sanitizePromptInput(s string, maxRunes int) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lower := strings.ToLower(strings.TrimSpace(line))
		for _, m := range roleMarkers {
			if strings.HasPrefix(lower, m) {
				lines[i] = "[sanitized] " + line
				break
			}
		}
	}
	s = strings.Join(lines, "\n")

	if r := []rune(s); maxRunes > 0 && len(r) > maxRunes {
		s = string(r[:maxRunes]) + " [truncated]"
	}
	return s
}
