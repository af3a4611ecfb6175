package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Strob0t/QueryForge/internal/adapter/litellm"
	qfotel "github.com/Strob0t/QueryForge/internal/adapter/otel"
	"github.com/Strob0t/QueryForge/internal/domain/conversation"
	"github.com/Strob0t/QueryForge/internal/logger"
	"github.com/Strob0t/QueryForge/internal/port/database"
)

const (
	titleMaxRunes   = 80
	titleMaxTokens  = 24
	titleMaxContext = 4

	titleMaxMessageRunes = 500
)

const titleSystemPrompt = "Write a short title (at most six words) for the conversation below. " +
	"Reply with the title only, without quotes or trailing punctuation."

// Completer returns a single chat completion.
type Completer interface {
	ChatCompletion(ctx context.Context, req litellm.ChatCompletionRequest) (string, error)
}

// TitleService generates session titles in the background. A chat turn
// never waits on it.
type TitleService struct {
	llm     Completer
	store   database.SessionStore
	model   string
	timeout time.Duration

	wg sync.WaitGroup
}

// NewTitleService creates a TitleService.
func NewTitleService(llm Completer, store database.SessionStore, model string, timeout time.Duration) *TitleService {
	return &TitleService{llm: llm, store: store, model: model, timeout: timeout}
}

// Dispatch starts title generation for sess when it is eligible and returns
// immediately. Failures are logged and leave the placeholder title in place.
func (s *TitleService) Dispatch(sess *conversation.Session) bool {
	if sess == nil || !sess.NeedsTitle() {
		return false
	}
	msgs := append([]conversation.Message(nil), sess.Messages...)
	id := sess.ID

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("title generation panicked", "session_id", id, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(logger.WithSessionID(context.Background(), id), s.timeout)
		defer cancel()
		if err := s.Generate(ctx, id, msgs); err != nil {
			slog.WarnContext(ctx, "title generation failed", "error", err)
		}
	}()
	return true
}

// Generate asks the model for a title and stores it.
func (s *TitleService) Generate(ctx context.Context, sessionID string, msgs []conversation.Message) error {
	ctx = logger.WithSessionID(ctx, sessionID)
	ctx, span := qfotel.StartTitleSpan(ctx, sessionID)
	defer span.End()

	raw, err := s.llm.ChatCompletion(ctx, litellm.ChatCompletionRequest{
		Model: s.model,
		Messages: []litellm.ChatMessage{
			{Role: "system", Content: titleSystemPrompt},
			{Role: "user", Content: titleTranscript(msgs)},
		},
		MaxTokens:   titleMaxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return fmt.Errorf("complete title: %w", err)
	}

	title := cleanTitle(raw)
	if title == "" {
		return fmt.Errorf("complete title: empty title")
	}
	if err := s.store.UpdateTitle(ctx, sessionID, title); err != nil {
		return fmt.Errorf("store title: %w", err)
	}
	slog.DebugContext(ctx, "session titled", "title", title)
	return nil
}

// Wait blocks until in-flight generations finish or ctx ends.
func (s *TitleService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func titleTranscript(msgs []conversation.Message) string {
	if len(msgs) > titleMaxContext {
		msgs = msgs[:titleMaxContext]
	}
	var b strings.Builder
	for i := range msgs {
		role := "User"
		if msgs[i].Role == conversation.RoleAssistant {
			role = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, sanitizePromptInput(msgs[i].Content, titleMaxMessageRunes))
	}
	return b.String()
}

// cleanTitle keeps the first line without quotes and trailing punctuation.
func cleanTitle(raw string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(raw), "\n")
	line = strings.Trim(strings.TrimSpace(line), "\"'`*")
	line = strings.TrimRight(line, ".!?:; ")
	line = strings.TrimPrefix(line, "Title: ")
	if r := []rune(line); len(r) > titleMaxRunes {
		line = strings.TrimSpace(string(r[:titleMaxRunes]))
	}
	return line
}
