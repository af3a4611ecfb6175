package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/QueryForge/internal/adapter/litellm"
	"github.com/Strob0t/QueryForge/internal/domain"
	"github.com/Strob0t/QueryForge/internal/domain/agent"
	"github.com/Strob0t/QueryForge/internal/domain/conversation"
	"github.com/Strob0t/QueryForge/internal/domain/datasource"
	"github.com/Strob0t/QueryForge/internal/domain/stream"
	"github.com/Strob0t/QueryForge/internal/port/agentruntime"
	"github.com/Strob0t/QueryForge/internal/port/messagequeue"
)

// fakeSessionStore implements database.SessionStore in memory.
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*conversation.Session
	creates  int
	saves    int
	saveErr  error
	titleErr error
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*conversation.Session)}
}

func cloneSession(s *conversation.Session) *conversation.Session {
	c := *s
	c.Messages = append([]conversation.Message(nil), s.Messages...)
	return &c
}

func (f *fakeSessionStore) put(s *conversation.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = cloneSession(s)
}

func (f *fakeSessionStore) get(id string) *conversation.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil
	}
	return cloneSession(s)
}

func (f *fakeSessionStore) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates + f.saves
}

func (f *fakeSessionStore) GetSession(_ context.Context, id, userID string) (*conversation.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return cloneSession(s), nil
}

func (f *fakeSessionStore) CreateSession(_ context.Context, s *conversation.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.creates++
	s.ID = uuid.NewString()
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	f.sessions[s.ID] = cloneSession(s)
	return nil
}

func (f *fakeSessionStore) SaveTurn(_ context.Context, u conversation.TurnUpdate) (*conversation.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	s, ok := f.sessions[u.SessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	f.saves++
	s.Messages = append(s.Messages, u.Messages...)
	s.ActiveAgent = u.ActiveAgent
	s.ConsoleID = u.ConsoleID
	if s.ThreadID == "" {
		s.ThreadID = u.ThreadID
	}
	s.UpdatedAt = time.Now()
	return cloneSession(s), nil
}

func (f *fakeSessionStore) UpdateTitle(_ context.Context, id, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.titleErr != nil {
		return f.titleErr
	}
	s, ok := f.sessions[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.Title = title
	s.TitleGenerated = true
	return nil
}

func (f *fakeSessionStore) ListSessions(_ context.Context, workspaceID, userID string) ([]conversation.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []conversation.Summary
	for _, s := range f.sessions {
		if s.WorkspaceID == workspaceID && s.UserID == userID {
			out = append(out, conversation.Summary{ID: s.ID, WorkspaceID: s.WorkspaceID, Title: s.Title, MessageCount: len(s.Messages)})
		}
	}
	return out, nil
}

// fakeCatalog implements database.DatabaseCatalog. When gate is set, list
// calls block until it is closed.
type fakeCatalog struct {
	mu      sync.Mutex
	dbs     []datasource.Database
	listErr error
	gate    chan struct{}
	lists   atomic.Int32
}

func (f *fakeCatalog) ListWorkspaceDatabases(_ context.Context, workspaceID string) ([]datasource.Database, error) {
	f.lists.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []datasource.Database
	for i := range f.dbs {
		if f.dbs[i].WorkspaceID == workspaceID {
			out = append(out, f.dbs[i])
		}
	}
	return out, nil
}

func (f *fakeCatalog) GetWorkspaceDatabase(_ context.Context, workspaceID, id string) (*datasource.Database, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.dbs {
		if f.dbs[i].WorkspaceID == workspaceID && f.dbs[i].ID == id {
			db := f.dbs[i]
			return &db, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeCatalog) CreateWorkspaceDatabase(_ context.Context, db *datasource.Database) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	db.ID = uuid.NewString()
	db.CreatedAt = time.Now()
	f.dbs = append(f.dbs, *db)
	return nil
}

// fakeDriver implements datasource.Driver with canned answers.
type fakeDriver struct {
	backend agent.BackendType
	mu      sync.Mutex
	queries []datasource.Query
	result  *datasource.QueryResult
}

func (d *fakeDriver) Type() agent.BackendType { return d.backend }

func (d *fakeDriver) ListContainers(context.Context, *datasource.Database) ([]string, error) {
	return []string{"analytics"}, nil
}

func (d *fakeDriver) ListCollections(_ context.Context, _ *datasource.Database, container string) ([]string, error) {
	return []string{container + ".users", container + ".orders"}, nil
}

func (d *fakeDriver) Inspect(_ context.Context, _ *datasource.Database, container, collection string) (*datasource.Schema, error) {
	return &datasource.Schema{
		Container:  container,
		Collection: collection,
		Fields:     []datasource.Field{{Name: "_id", Type: "objectId"}},
	}, nil
}

func (d *fakeDriver) Query(_ context.Context, _ *datasource.Database, q datasource.Query) (*datasource.QueryResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queries = append(d.queries, q)
	if d.result != nil {
		return d.result, nil
	}
	return &datasource.QueryResult{Rows: []map[string]any{{"n": 1}}}, nil
}

// step is one scripted runtime action. Exactly one field is set.
type step struct {
	event  *agentruntime.RawEvent
	tool   string          // invoke this tool through the request's invoker
	args   json.RawMessage // arguments for tool
	block  bool            // block until the run context ends
	fail   error           // return this error from Next
	panics bool
}

func ev(tag string, data map[string]any) step {
	return step{event: &agentruntime.RawEvent{Tag: tag, Data: data}}
}

func text(delta string) step {
	return ev(agentruntime.TagTextDelta, map[string]any{"delta": delta})
}

// scriptedRuntime implements agentruntime.Runtime by replaying steps.
type scriptedRuntime struct {
	steps    []step
	final    string
	waitErr  error
	startErr error

	mu     sync.Mutex
	req    agentruntime.Request
	run    *scriptedRun
	starts int
}

func (r *scriptedRuntime) Start(ctx context.Context, req agentruntime.Request) (agentruntime.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	r.req = req
	if r.startErr != nil {
		return nil, r.startErr
	}
	r.run = &scriptedRun{steps: r.steps, final: r.final, waitErr: r.waitErr, tools: req.Tools, ctx: ctx}
	return r.run, nil
}

func (r *scriptedRuntime) request() agentruntime.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.req
}

type scriptedRun struct {
	steps   []step
	final   string
	waitErr error
	tools   agentruntime.ToolInvoker
	ctx     context.Context

	pos     int
	closed  atomic.Bool
	outputs []string
}

func (r *scriptedRun) Next(ctx context.Context) (agentruntime.RawEvent, error) {
	for r.pos < len(r.steps) {
		s := r.steps[r.pos]
		r.pos++
		switch {
		case s.event != nil:
			return *s.event, nil
		case s.tool != "":
			out, isErr := r.tools.Invoke(r.ctx, s.tool, s.args)
			r.outputs = append(r.outputs, out)
			return agentruntime.RawEvent{Tag: agentruntime.TagToolOutput, Data: map[string]any{
				"name": s.tool, "output": out, "is_error": isErr,
			}}, nil
		case s.block:
			<-ctx.Done()
			return agentruntime.RawEvent{}, ctx.Err()
		case s.fail != nil:
			return agentruntime.RawEvent{}, s.fail
		case s.panics:
			panic("runtime exploded")
		}
	}
	return agentruntime.RawEvent{}, io.EOF
}

func (r *scriptedRun) Wait(context.Context) (agentruntime.Result, error) {
	return agentruntime.Result{FinalOutput: r.final}, r.waitErr
}

func (r *scriptedRun) Close() error {
	r.closed.Store(true)
	return nil
}

// recordingSink implements eventsink.Sink. failAfter > 0 makes the n-th and
// later sends fail.
type recordingSink struct {
	mu        sync.Mutex
	events    []stream.Event
	failAfter int
}

func (s *recordingSink) Send(_ context.Context, ev stream.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter > 0 && len(s.events)+1 >= s.failAfter {
		return errors.New("client gone")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) all() []stream.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stream.Event(nil), s.events...)
}

func (s *recordingSink) types() []stream.Type {
	evs := s.all()
	out := make([]stream.Type, len(evs))
	for i := range evs {
		out[i] = evs[i].Type
	}
	return out
}

func (s *recordingSink) count(t stream.Type) int {
	n := 0
	for _, e := range s.all() {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (s *recordingSink) first(t stream.Type) (stream.Event, bool) {
	for _, e := range s.all() {
		if e.Type == t {
			return e, true
		}
	}
	return stream.Event{}, false
}

// fakeCompleter implements Completer.
type fakeCompleter struct {
	mu      sync.Mutex
	reply   string
	err     error
	delay   time.Duration
	calls   int
	lastReq []string
}

func (f *fakeCompleter) ChatCompletion(ctx context.Context, req litellm.ChatCompletionRequest) (string, error) {
	f.mu.Lock()
	f.calls++
	f.lastReq = f.lastReq[:0]
	for _, m := range req.Messages {
		f.lastReq = append(f.lastReq, m.Content)
	}
	delay, reply, err := f.delay, f.reply, f.err
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return reply, err
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeQueue implements messagequeue.Queue by recording publishes and
// delivering them synchronously to subscribed handlers.
type fakeQueue struct {
	mu        sync.Mutex
	published map[string][][]byte
	handlers  map[string][]messagequeue.Handler
}

func (q *fakeQueue) Publish(ctx context.Context, subject string, data []byte) error {
	q.mu.Lock()
	if q.published == nil {
		q.published = make(map[string][][]byte)
	}
	q.published[subject] = append(q.published[subject], data)
	handlers := append([]messagequeue.Handler(nil), q.handlers[subject]...)
	q.mu.Unlock()

	for _, h := range handlers {
		if err := h(ctx, subject, data); err != nil {
			return err
		}
	}
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.handlers == nil {
		q.handlers = make(map[string][]messagequeue.Handler)
	}
	q.handlers[subject] = append(q.handlers[subject], h)
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.handlers, subject)
	}, nil
}

func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

func (q *fakeQueue) messages(subject string) [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([][]byte(nil), q.published[subject]...)
}
