package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Strob0t/QueryForge/internal/domain"
	"github.com/Strob0t/QueryForge/internal/domain/agent"
	"github.com/Strob0t/QueryForge/internal/domain/conversation"
)

const sessionColumns = `id, workspace_id, user_id, thread_id, messages, active_agent, console_id,
	title, title_generated, created_at, updated_at`

func scanSession(row scannable) (*conversation.Session, error) {
	var (
		s        conversation.Session
		messages []byte
		active   string
	)
	if err := row.Scan(&s.ID, &s.WorkspaceID, &s.UserID, &s.ThreadID, &messages, &active,
		&s.ConsoleID, &s.Title, &s.TitleGenerated, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(messages, &s.Messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	s.ActiveAgent = agent.Kind(active)
	return &s, nil
}

func (s *Store) GetSession(ctx context.Context, id, userID string) (*conversation.Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions WHERE id = $1 AND user_id = $2`,
		id, userID))
	if err != nil {
		if isInvalidText(err) {
			return nil, fmt.Errorf("get session %s: %w", id, domain.ErrNotFound)
		}
		return nil, notFoundWrap(err, "get session %s", id)
	}
	return sess, nil
}

func (s *Store) CreateSession(ctx context.Context, sess *conversation.Session) error {
	messages, err := marshalJSONB(sess.Messages)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO chat_sessions (workspace_id, user_id, thread_id, messages, active_agent, console_id, title)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		sess.WorkspaceID, sess.UserID, sess.ThreadID, messages, string(sess.ActiveAgent), sess.ConsoleID, sess.Title,
	).Scan(&sess.ID, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *Store) SaveTurn(ctx context.Context, u conversation.TurnUpdate) (*conversation.Session, error) {
	messages, err := marshalJSONB(u.Messages)
	if err != nil {
		return nil, fmt.Errorf("save turn %s: %w", u.SessionID, err)
	}
	sess, err := scanSession(s.pool.QueryRow(ctx,
		`UPDATE chat_sessions
		 SET messages = messages || $2::jsonb,
		     active_agent = $3,
		     console_id = $4,
		     thread_id = COALESCE(NULLIF(thread_id, ''), $5),
		     updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+sessionColumns,
		u.SessionID, messages, string(u.ActiveAgent), u.ConsoleID, u.ThreadID))
	if err != nil {
		return nil, notFoundWrap(err, "save turn %s", u.SessionID)
	}
	return sess, nil
}

func (s *Store) UpdateTitle(ctx context.Context, id, title string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chat_sessions SET title = $2, title_generated = TRUE WHERE id = $1`,
		id, title)
	return execExpectOne(tag, err, "update title %s", id)
}

func (s *Store) ListSessions(ctx context.Context, workspaceID, userID string) ([]conversation.Summary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, workspace_id, thread_id, title, active_agent, jsonb_array_length(messages), updated_at
		 FROM chat_sessions WHERE workspace_id = $1 AND user_id = $2
		 ORDER BY updated_at DESC LIMIT 200`,
		workspaceID, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var result []conversation.Summary
	for rows.Next() {
		var (
			sum    conversation.Summary
			active string
		)
		if err := rows.Scan(&sum.ID, &sum.WorkspaceID, &sum.ThreadID, &sum.Title, &active,
			&sum.MessageCount, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sum.ActiveAgent = agent.Kind(active)
		result = append(result, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return orEmpty(result), nil
}
