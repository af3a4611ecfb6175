package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	qfotel "github.com/Strob0t/QueryForge/internal/adapter/otel"
	"github.com/Strob0t/QueryForge/internal/config"
	"github.com/Strob0t/QueryForge/internal/domain"
	"github.com/Strob0t/QueryForge/internal/domain/agent"
	"github.com/Strob0t/QueryForge/internal/domain/conversation"
	"github.com/Strob0t/QueryForge/internal/domain/stream"
	"github.com/Strob0t/QueryForge/internal/logger"
	"github.com/Strob0t/QueryForge/internal/port/agentruntime"
	"github.com/Strob0t/QueryForge/internal/port/database"
	"github.com/Strob0t/QueryForge/internal/port/eventsink"
	"github.com/Strob0t/QueryForge/internal/port/messagequeue"
)

const (
	persistTimeout = 10 * time.Second
	auditTimeout   = 5 * time.Second

	msgStreamFailed  = "The assistant stopped unexpectedly. Partial results were kept."
	msgStartFailed   = "The assistant could not be started. Please try again."
	msgPersistFailed = "Your conversation could not be saved."
)

// Turn is a validated turn request with its session loaded.
type Turn struct {
	req       conversation.TurnRequest
	session   *conversation.Session // nil for a new conversation
	available agent.Availability
}

// SessionID returns the id of an existing session, or "" for a new one.
func (t *Turn) SessionID() string {
	if t.session == nil {
		return ""
	}
	return t.session.ID
}

// ConversationService runs chat turns: it picks the agent, drives the agent
// runtime, streams client events and persists the transcript once per turn.
type ConversationService struct {
	store     database.SessionStore
	workspace *WorkspaceService
	registry  *AgentRegistry
	tools     *Toolset
	runtime   agentruntime.Runtime
	cfg       config.Conversation

	titles  *TitleService
	queue   messagequeue.Queue
	metrics *qfotel.Metrics
	now     func() time.Time
}

// NewConversationService creates a ConversationService.
func NewConversationService(
	store database.SessionStore,
	workspace *WorkspaceService,
	registry *AgentRegistry,
	tools *Toolset,
	runtime agentruntime.Runtime,
	cfg config.Conversation,
) *ConversationService {
	return &ConversationService{
		store:     store,
		workspace: workspace,
		registry:  registry,
		tools:     tools,
		runtime:   runtime,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetTitleService enables title generation after persisted turns.
func (s *ConversationService) SetTitleService(t *TitleService) { s.titles = t }

// SetQueue enables turn audit records.
func (s *ConversationService) SetQueue(q messagequeue.Queue) { s.queue = q }

// SetMetrics enables turn metrics.
func (s *ConversationService) SetMetrics(m *qfotel.Metrics) { s.metrics = m }

// PrepareTurn validates req and loads its session. Every error it returns
// happens before any event is streamed.
func (s *ConversationService) PrepareTurn(ctx context.Context, req conversation.TurnRequest) (*Turn, error) {
	if err := req.Normalize(); err != nil {
		return nil, err
	}
	if err := ValidateWorkspaceID(req.WorkspaceID); err != nil {
		return nil, err
	}

	turn := &Turn{req: req}
	if req.SessionID != "" {
		sess, err := s.store.GetSession(ctx, req.SessionID, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", req.SessionID, err)
		}
		if sess.WorkspaceID != req.WorkspaceID {
			return nil, fmt.Errorf("load session %s: other workspace: %w", req.SessionID, domain.ErrNotFound)
		}
		turn.session = sess
	}

	avail, err := s.workspace.Availability(ctx, req.WorkspaceID)
	if err != nil {
		slog.WarnContext(ctx, "backend availability unknown, falling back to triage", "workspace_id", req.WorkspaceID, "error", err)
	}
	turn.available = avail
	return turn, nil
}

// StreamTurn runs a prepared turn and writes its events to sink. The
// sequence always ends with exactly one done event, whatever fails.
func (s *ConversationService) StreamTurn(ctx context.Context, turn *Turn, sink eventsink.Sink) {
	started := s.now()
	runID := uuid.NewString()
	ctx = logger.WithRunID(ctx, runID)
	if id := turn.SessionID(); id != "" {
		ctx = logger.WithSessionID(ctx, id)
	}

	em := newEmitter(ctx, sink)
	defer em.close()

	var pinned agent.Kind
	consoleID := turn.req.ConsoleID
	if turn.session != nil {
		pinned = turn.session.ActiveAgent
		if consoleID == "" {
			consoleID = turn.session.ConsoleID
		}
	}
	kind := agent.Select(agent.SelectInput{
		Pinned:          pinned,
		ConsoleMetadata: turn.req.ConsoleMetadata(),
		Available:       turn.available,
	})

	ctx, span := qfotel.StartTurnSpan(ctx, runID, turn.req.WorkspaceID, string(kind))
	defer span.End()
	s.metrics.RecordStart(ctx, string(kind))
	log := slog.With("workspace_id", turn.req.WorkspaceID)
	log.InfoContext(ctx, "turn started", "agent", kind)

	tc := conversation.NewThreadContext(turn.session, s.cfg.WindowSize)
	prompt := conversation.BuildPrompt(tc, turn.req.Message, s.cfg.CharBudget)

	agents, err := s.registry.BuildAll(kind, AgentParams{
		WorkspaceID: turn.req.WorkspaceID,
		ConsoleID:   consoleID,
		Available:   turn.available,
	})
	if err != nil {
		log.ErrorContext(ctx, "build agents failed", "error", err)
		em.emit(stream.Error(msgStartFailed))
		s.finish(ctx, turn, runID, kind, qfotel.OutcomeFailed, started, nil, err)
		return
	}

	turnCtx, cancel := context.WithTimeout(ctx, s.cfg.TurnTimeout)
	defer cancel()

	tr := NewTranslator(kind, func(ev stream.Event) { em.emit(ev) })
	run, err := s.runtime.Start(turnCtx, agentruntime.Request{
		RunID:    runID,
		Active:   kind,
		Agents:   agents,
		Tools:    s.tools.Invoker(ToolBinding{WorkspaceID: turn.req.WorkspaceID, ConsoleID: consoleID, Events: em}),
		Prompt:   prompt,
		MaxTurns: s.cfg.MaxTurns,
	})
	if err != nil {
		if s.timedOut(ctx, turnCtx) {
			em.emit(stream.Timeout())
			s.finish(ctx, turn, runID, kind, qfotel.OutcomeTimedOut, started, tr, nil)
			return
		}
		log.ErrorContext(ctx, "agent run start failed", "error", err)
		em.emit(stream.Error(msgStartFailed))
		s.finish(ctx, turn, runID, kind, qfotel.OutcomeFailed, started, tr, err)
		return
	}
	defer func() {
		if err := run.Close(); err != nil {
			log.WarnContext(ctx, "close agent run", "error", err)
		}
	}()

	pumpErr := s.pump(turnCtx, run, tr)

	switch {
	case pumpErr != nil && s.timedOut(ctx, turnCtx):
		log.WarnContext(ctx, "turn timed out", "timeout", s.cfg.TurnTimeout)
		em.emit(stream.Timeout())
		s.finish(ctx, turn, runID, tr.Active(), qfotel.OutcomeTimedOut, started, tr, nil)
		return
	case ctx.Err() != nil || em.sinkFailed():
		log.InfoContext(ctx, "client went away, turn not persisted")
		s.finish(ctx, turn, runID, tr.Active(), qfotel.OutcomeCanceled, started, tr, ctx.Err())
		return
	case pumpErr != nil:
		log.ErrorContext(ctx, "agent event stream failed", "error", pumpErr)
		em.emit(stream.Error(msgStreamFailed))
	}

	var final string
	if pumpErr == nil {
		res, err := run.Wait(turnCtx)
		if err != nil {
			log.WarnContext(ctx, "agent run completion failed", "error", err)
		}
		final = res.FinalOutput
	}

	reply := tr.Reply()
	if reply == "" && !tr.StreamedText() {
		reply = final
	}

	sess, err := s.persistTurn(ctx, turn, tr, reply, consoleID, started)
	if err != nil {
		log.ErrorContext(ctx, "persist turn failed", "error", err)
		em.emit(stream.Error(msgPersistFailed))
		s.finish(ctx, turn, runID, tr.Active(), qfotel.OutcomeFailed, started, tr, err)
		return
	}

	ctx = logger.WithSessionID(ctx, sess.ID)
	em.emit(stream.ThreadInfo(sess.ThreadID, len(sess.Messages)))
	em.emit(stream.Session(sess.ID))
	em.close()

	outcome := qfotel.OutcomeCompleted
	if pumpErr != nil {
		outcome = qfotel.OutcomeFailed
	}
	log.InfoContext(ctx, "turn completed", "thread_id", sess.ThreadID, "agent", sess.ActiveAgent,
		"handoffs", tr.Handoffs(), "duration_ms", s.now().Sub(started).Milliseconds())
	s.finish(ctx, turn, runID, tr.Active(), outcome, started, tr, pumpErr)
	if pumpErr == nil {
		s.publishCompleted(ctx, sess, runID, tr, started)
	}

	if s.titles != nil {
		s.titles.Dispatch(sess)
	}
}

// pump feeds runtime events to the translator until the run is exhausted,
// fails, or ctx ends. Events are read on a separate goroutine so the turn
// budget applies even while the runtime blocks.
func (s *ConversationService) pump(ctx context.Context, run agentruntime.Run, tr *Translator) error {
	events := make(chan agentruntime.RawEvent)
	done := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("agent run panicked: %v", r)
			}
		}()
		for {
			ev, err := run.Next(ctx)
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				done <- err
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				done <- ctx.Err()
				return
			}
		}
	}()

	for {
		select {
		case ev := <-events:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			tr.Handle(ev)
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// timedOut reports whether the turn budget, not the caller, ended turnCtx.
func (s *ConversationService) timedOut(parent, turnCtx context.Context) bool {
	return parent.Err() == nil && errors.Is(turnCtx.Err(), context.DeadlineExceeded)
}

// persistTurn writes the turn in one store call. The assistant message is
// only added when there is text for it.
func (s *ConversationService) persistTurn(ctx context.Context, turn *Turn, tr *Translator, reply, consoleID string, started time.Time) (*conversation.Session, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	msgs := []conversation.Message{{
		Role:      conversation.RoleUser,
		Content:   turn.req.Message,
		CreatedAt: started,
	}}
	if reply != "" {
		msgs = append(msgs, conversation.Message{
			Role:      conversation.RoleAssistant,
			Content:   reply,
			ToolCalls: tr.ToolCalls(),
			CreatedAt: s.now(),
		})
	}

	pin := pinnedKind(turn.session, tr)

	if turn.session == nil {
		sess := &conversation.Session{
			WorkspaceID: turn.req.WorkspaceID,
			UserID:      turn.req.UserID,
			ThreadID:    uuid.NewString(),
			Messages:    msgs,
			ActiveAgent: pin,
			ConsoleID:   consoleID,
			Title:       conversation.PlaceholderTitle,
		}
		if err := s.store.CreateSession(ctx, sess); err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		return sess, nil
	}

	sess, err := s.store.SaveTurn(ctx, conversation.TurnUpdate{
		SessionID:   turn.session.ID,
		ThreadID:    uuid.NewString(),
		Messages:    msgs,
		ActiveAgent: pin,
		ConsoleID:   consoleID,
	})
	if err != nil {
		return nil, fmt.Errorf("save turn: %w", err)
	}
	return sess, nil
}

// pinnedKind is the kind stored on the session after a turn. A specialist,
// or any kind reached by a handoff, is pinned; a triage turn without a
// handoff keeps the previous pin so later turns can still specialise.
func pinnedKind(sess *conversation.Session, tr *Translator) agent.Kind {
	active := tr.Active()
	if active.IsSpecialist() || tr.Handoffs() > 0 {
		return active
	}
	if sess != nil {
		return sess.ActiveAgent
	}
	return ""
}

// finish records metrics and, for turns that did not complete, a failure
// audit record.
func (s *ConversationService) finish(ctx context.Context, turn *Turn, runID string, kind agent.Kind, outcome qfotel.Outcome, started time.Time, tr *Translator, cause error) {
	var toolCalls, handoffs int
	if tr != nil {
		toolCalls = len(tr.ToolCalls())
		handoffs = tr.Handoffs()
	}
	s.metrics.RecordTurn(ctx, string(kind), outcome, s.now().Sub(started).Seconds(), toolCalls, handoffs)

	if outcome == qfotel.OutcomeCompleted || s.queue == nil {
		return
	}
	p := messagequeue.TurnFailedPayload{
		WorkspaceID: turn.req.WorkspaceID,
		UserID:      turn.req.UserID,
		RunID:       runID,
		Reason:      failureReason(outcome),
	}
	if cause != nil {
		p.Error = cause.Error()
	}
	s.publish(ctx, messagequeue.SubjectTurnFailed, p)
}

func failureReason(o qfotel.Outcome) string {
	switch o {
	case qfotel.OutcomeTimedOut:
		return "timeout"
	case qfotel.OutcomeCanceled:
		return "canceled"
	}
	return "error"
}

func (s *ConversationService) publishCompleted(ctx context.Context, sess *conversation.Session, runID string, tr *Translator, started time.Time) {
	if s.queue == nil {
		return
	}
	s.publish(ctx, messagequeue.SubjectTurnCompleted, messagequeue.TurnCompletedPayload{
		SessionID:    sess.ID,
		ThreadID:     sess.ThreadID,
		WorkspaceID:  sess.WorkspaceID,
		UserID:       sess.UserID,
		RunID:        runID,
		Agent:        tr.Active(),
		Handoffs:     tr.Handoffs(),
		ToolCalls:    len(tr.ToolCalls()),
		MessageCount: len(sess.Messages),
		DurationMs:   s.now().Sub(started).Milliseconds(),
		CompletedAt:  s.now().UTC(),
	})
}

// publish sends an audit record. Failures are logged only.
func (s *ConversationService) publish(ctx context.Context, subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "marshal audit record", "subject", subject, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := s.queue.Publish(ctx, subject, data); err != nil {
		slog.WarnContext(ctx, "publish audit record failed", "subject", subject, "error", err)
	}
}

// GetSession returns one of the caller's sessions.
func (s *ConversationService) GetSession(ctx context.Context, id, userID string) (*conversation.Session, error) {
	return s.store.GetSession(ctx, id, userID)
}

// ListSessions returns the caller's sessions in a workspace.
func (s *ConversationService) ListSessions(ctx context.Context, workspaceID, userID string) ([]conversation.Summary, error) {
	if err := ValidateWorkspaceID(workspaceID); err != nil {
		return nil, err
	}
	return s.store.ListSessions(ctx, workspaceID, userID)
}
