// Package servicetest provides in-memory collaborators for exercising the
// conversation service from transport tests.
package servicetest

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/QueryForge/internal/domain"
	"github.com/Strob0t/QueryForge/internal/domain/conversation"
	"github.com/Strob0t/QueryForge/internal/domain/datasource"
	"github.com/Strob0t/QueryForge/internal/port/agentruntime"
	"github.com/Strob0t/QueryForge/internal/port/database"
)

var _ database.Store = (*MemoryStore)(nil)

// MemoryStore is a map-backed database.Store.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*conversation.Session
	dbs      map[string][]datasource.Database
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]*conversation.Session{},
		dbs:      map[string][]datasource.Database{},
	}
}

func clone(s *conversation.Session) *conversation.Session {
	c := *s
	c.Messages = append([]conversation.Message(nil), s.Messages...)
	return &c
}

// GetSession implements database.SessionStore.
func (m *MemoryStore) GetSession(_ context.Context, id, userID string) (*conversation.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return clone(s), nil
}

// CreateSession implements database.SessionStore.
func (m *MemoryStore) CreateSession(_ context.Context, s *conversation.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now()
	s.CreatedAt, s.UpdatedAt = now, now
	m.sessions[s.ID] = clone(s)
	return nil
}

// SaveTurn implements database.SessionStore.
func (m *MemoryStore) SaveTurn(_ context.Context, u conversation.TurnUpdate) (*conversation.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[u.SessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if s.ThreadID == "" {
		s.ThreadID = u.ThreadID
	}
	s.Messages = append(s.Messages, u.Messages...)
	s.ActiveAgent = u.ActiveAgent
	if u.ConsoleID != "" {
		s.ConsoleID = u.ConsoleID
	}
	s.UpdatedAt = time.Now()
	return clone(s), nil
}

// UpdateTitle implements database.SessionStore.
func (m *MemoryStore) UpdateTitle(_ context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.Title, s.TitleGenerated = title, true
	return nil
}

// ListSessions implements database.SessionStore.
func (m *MemoryStore) ListSessions(_ context.Context, workspaceID, userID string) ([]conversation.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []conversation.Summary
	for _, s := range m.sessions {
		if s.WorkspaceID != workspaceID || s.UserID != userID {
			continue
		}
		out = append(out, conversation.Summary{
			ID:           s.ID,
			WorkspaceID:  s.WorkspaceID,
			ThreadID:     s.ThreadID,
			Title:        s.Title,
			ActiveAgent:  s.ActiveAgent,
			MessageCount: len(s.Messages),
			UpdatedAt:    s.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Session returns a copy of a stored session, or nil.
func (m *MemoryStore) Session(id string) *conversation.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return clone(s)
	}
	return nil
}

// SessionCount returns the number of stored sessions.
func (m *MemoryStore) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ListWorkspaceDatabases implements database.DatabaseCatalog.
func (m *MemoryStore) ListWorkspaceDatabases(_ context.Context, workspaceID string) ([]datasource.Database, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]datasource.Database(nil), m.dbs[workspaceID]...), nil
}

// GetWorkspaceDatabase implements database.DatabaseCatalog.
func (m *MemoryStore) GetWorkspaceDatabase(_ context.Context, workspaceID, id string) (*datasource.Database, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.dbs[workspaceID] {
		if m.dbs[workspaceID][i].ID == id {
			db := m.dbs[workspaceID][i]
			return &db, nil
		}
	}
	return nil, domain.ErrNotFound
}

// CreateWorkspaceDatabase implements database.DatabaseCatalog.
func (m *MemoryStore) CreateWorkspaceDatabase(_ context.Context, db *datasource.Database) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.dbs[db.WorkspaceID] {
		if m.dbs[db.WorkspaceID][i].Name == db.Name {
			return fmt.Errorf("create workspace database %s: %w", db.Name, domain.ErrConflict)
		}
	}
	if db.ID == "" {
		db.ID = uuid.NewString()
	}
	db.CreatedAt = time.Now()
	m.dbs[db.WorkspaceID] = append(m.dbs[db.WorkspaceID], *db)
	return nil
}

var _ agentruntime.Runtime = (*ScriptedRuntime)(nil)

// ScriptedRuntime replays the same events for every run.
type ScriptedRuntime struct {
	Events      []agentruntime.RawEvent
	FinalOutput string
	// Hold, when set, blocks each run after its events until it is closed
	// or ctx ends.
	Hold chan struct{}

	mu   sync.Mutex
	reqs []agentruntime.Request
}

// Requests returns the requests seen so far.
func (r *ScriptedRuntime) Requests() []agentruntime.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]agentruntime.Request(nil), r.reqs...)
}

// Start implements agentruntime.Runtime.
func (r *ScriptedRuntime) Start(_ context.Context, req agentruntime.Request) (agentruntime.Run, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	return &scriptedRun{rt: r}, nil
}

type scriptedRun struct {
	rt  *ScriptedRuntime
	pos int
}

func (s *scriptedRun) Next(ctx context.Context) (agentruntime.RawEvent, error) {
	if s.pos < len(s.rt.Events) {
		ev := s.rt.Events[s.pos]
		s.pos++
		return ev, nil
	}
	if s.rt.Hold != nil {
		select {
		case <-s.rt.Hold:
		case <-ctx.Done():
			return agentruntime.RawEvent{}, ctx.Err()
		}
	}
	return agentruntime.RawEvent{}, io.EOF
}

func (s *scriptedRun) Wait(context.Context) (agentruntime.Result, error) {
	return agentruntime.Result{FinalOutput: s.rt.FinalOutput}, nil
}

func (s *scriptedRun) Close() error { return nil }

// TextEvents builds text delta events.
func TextEvents(deltas ...string) []agentruntime.RawEvent {
	out := make([]agentruntime.RawEvent, len(deltas))
	for i, d := range deltas {
		out[i] = agentruntime.RawEvent{Tag: agentruntime.TagTextDelta, Data: map[string]any{"delta": d}}
	}
	return out
}
