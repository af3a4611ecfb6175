package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	qfhttp "github.com/Strob0t/QueryForge/internal/adapter/http"
	"github.com/Strob0t/QueryForge/internal/config"
	"github.com/Strob0t/QueryForge/internal/domain/agent"
	"github.com/Strob0t/QueryForge/internal/domain/conversation"
	"github.com/Strob0t/QueryForge/internal/domain/datasource"
	"github.com/Strob0t/QueryForge/internal/domain/stream"
	"github.com/Strob0t/QueryForge/internal/middleware"
	"github.com/Strob0t/QueryForge/internal/service"
	"github.com/Strob0t/QueryForge/internal/service/servicetest"
)

const (
	testWorkspace = "6f0c7a52-3f5e-4c1a-9d55-1f2b3c4d5e6f"
	testUser      = "user-1"
)

type fixture struct {
	store  *servicetest.MemoryStore
	rt     *servicetest.ScriptedRuntime
	router chi.Router
}

func withUser(userID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID != "" {
				r = r.WithContext(middleware.WithIdentity(r.Context(), middleware.Identity{UserID: userID, Method: "default"}))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func newFixture(t *testing.T, userID string) *fixture {
	t.Helper()
	store := servicetest.NewMemoryStore()
	rt := &servicetest.ScriptedRuntime{Events: servicetest.TextEvents("Hello", " there")}
	tools := service.NewToolset(store, 50, 2)
	workspaces := service.NewWorkspaceService(store, nil, 0)
	convs := service.NewConversationService(store, workspaces, service.NewAgentRegistry(tools), tools, rt, config.Conversation{
		WindowSize:  10,
		CharBudget:  4000,
		TurnTimeout: 5 * time.Second,
		MaxTurns:    5,
	})

	h := &qfhttp.Handlers{Conversations: convs, Workspaces: workspaces}
	r := chi.NewRouter()
	qfhttp.MountRoutes(r, h, withUser(userID))
	return &fixture{store: store, rt: rt, router: r}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// sseEvents decodes every data frame of an SSE body.
func sseEvents(t *testing.T, body string) []stream.Event {
	t.Helper()
	var out []stream.Event
	for _, frame := range strings.Split(body, "\n\n") {
		frame = strings.TrimSpace(frame)
		if frame == "" {
			continue
		}
		data, ok := strings.CutPrefix(frame, "data: ")
		if !ok {
			t.Fatalf("unexpected frame %q", frame)
		}
		var ev stream.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			t.Fatalf("decode frame %q: %v", data, err)
		}
		out = append(out, ev)
	}
	return out
}

func turnBody(t *testing.T, req conversation.TurnRequest) string {
	t.Helper()
	b, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestStreamChat_NewSession(t *testing.T) {
	f := newFixture(t, testUser)

	rec := f.do(http.MethodPost, "/api/v1/chat/stream", turnBody(t, conversation.TurnRequest{
		Message:     "  how many orders?  ",
		WorkspaceID: testWorkspace,
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	events := sseEvents(t, rec.Body.String())
	var types []stream.Type
	for i := range events {
		types = append(types, events[i].Type)
	}
	want := []stream.Type{stream.TypeText, stream.TypeText, stream.TypeThreadInfo, stream.TypeSession, stream.TypeDone}
	if len(types) != len(want) {
		t.Fatalf("types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("types = %v, want %v", types, want)
		}
	}

	sessionID := events[3].SessionID
	sess := f.store.Session(sessionID)
	if sess == nil {
		t.Fatalf("session %q not persisted", sessionID)
	}
	if len(sess.Messages) != 2 || sess.Messages[0].Content != "how many orders?" || sess.Messages[1].Content != "Hello there" {
		t.Errorf("unexpected transcript %+v", sess.Messages)
	}
	if events[2].ThreadID != sess.ThreadID || events[2].MessageCount != 2 {
		t.Errorf("thread_info = %+v, session thread %s", events[2], sess.ThreadID)
	}
}

func TestStreamChat_RequestErrors(t *testing.T) {
	tests := []struct {
		name string
		user string
		body string
		want int
	}{
		{"invalid json", testUser, `{"message":`, http.StatusBadRequest},
		{"empty message", testUser, `{"message":"   ","workspaceId":"` + testWorkspace + `"}`, http.StatusBadRequest},
		{"missing workspace", testUser, `{"message":"hi"}`, http.StatusBadRequest},
		{"bad workspace", testUser, `{"message":"hi","workspaceId":"ws-1"}`, http.StatusBadRequest},
		{"unknown session", testUser, `{"message":"hi","workspaceId":"` + testWorkspace + `","sessionId":"nope"}`, http.StatusNotFound},
		{"no identity", "", `{"message":"hi","workspaceId":"` + testWorkspace + `"}`, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.user)
			rec := f.do(http.MethodPost, "/api/v1/chat/stream", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			if strings.Contains(rec.Body.String(), "data:") {
				t.Error("request errors must not open a stream")
			}
			if len(f.rt.Requests()) != 0 {
				t.Error("runtime must not start on a rejected request")
			}
		})
	}
}

func TestStreamChat_ContinuesSession(t *testing.T) {
	f := newFixture(t, testUser)
	first := sseEvents(t, f.do(http.MethodPost, "/api/v1/chat/stream", turnBody(t, conversation.TurnRequest{
		Message: "first", WorkspaceID: testWorkspace,
	})).Body.String())
	sessionID := first[3].SessionID

	rec := f.do(http.MethodPost, "/api/v1/chat/stream", turnBody(t, conversation.TurnRequest{
		Message: "second", WorkspaceID: testWorkspace, SessionID: sessionID,
	}))
	second := sseEvents(t, rec.Body.String())
	if second[len(second)-2].SessionID != sessionID {
		t.Fatalf("second turn reported session %q, want %q", second[len(second)-2].SessionID, sessionID)
	}
	if n := len(f.store.Session(sessionID).Messages); n != 4 {
		t.Fatalf("expected 4 messages, got %d", n)
	}

	reqs := f.rt.Requests()
	if !strings.Contains(reqs[1].Prompt, "first") {
		t.Errorf("second prompt lacks history: %q", reqs[1].Prompt)
	}
}

func TestSessions(t *testing.T) {
	f := newFixture(t, testUser)
	events := sseEvents(t, f.do(http.MethodPost, "/api/v1/chat/stream", turnBody(t, conversation.TurnRequest{
		Message: "hello", WorkspaceID: testWorkspace,
	})).Body.String())
	sessionID := events[3].SessionID

	rec := f.do(http.MethodGet, "/api/v1/workspaces/"+testWorkspace+"/sessions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list []conversation.Summary
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != sessionID || list[0].MessageCount != 2 {
		t.Fatalf("unexpected list %+v", list)
	}

	rec = f.do(http.MethodGet, "/api/v1/sessions/"+sessionID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var sess conversation.Session
	if err := json.NewDecoder(rec.Body).Decode(&sess); err != nil {
		t.Fatal(err)
	}
	if len(sess.Messages) != 2 {
		t.Errorf("expected 2 messages, got %d", len(sess.Messages))
	}

	if rec := f.do(http.MethodGet, "/api/v1/sessions/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing session status = %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/v1/workspaces/not-a-uuid/sessions", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad workspace status = %d", rec.Code)
	}
}

func TestSessions_Unauthenticated(t *testing.T) {
	f := newFixture(t, "")
	if rec := f.do(http.MethodGet, "/api/v1/sessions/abc", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestDatabases(t *testing.T) {
	f := newFixture(t, testUser)

	rec := f.do(http.MethodPost, "/api/v1/workspaces/"+testWorkspace+"/databases",
		`{"type":"mongodb","name":"shop","connection_uri":"mongodb://localhost:27017"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "mongodb://") {
		t.Error("connection uri must not be echoed")
	}

	rec = f.do(http.MethodGet, "/api/v1/workspaces/"+testWorkspace+"/databases", "")
	var dbs []datasource.Database
	if err := json.NewDecoder(rec.Body).Decode(&dbs); err != nil {
		t.Fatal(err)
	}
	if len(dbs) != 1 || dbs[0].Name != "shop" {
		t.Fatalf("unexpected databases %+v", dbs)
	}

	// A workspace with only MongoDB routes the next turn to its specialist.
	f.do(http.MethodPost, "/api/v1/chat/stream", turnBody(t, conversation.TurnRequest{
		Message: "list collections", WorkspaceID: testWorkspace,
	}))
	reqs := f.rt.Requests()
	if len(reqs) != 1 || reqs[0].Active != agent.KindMongo {
		t.Errorf("expected the mongodb specialist, got %+v", reqs)
	}

	rec = f.do(http.MethodPost, "/api/v1/workspaces/"+testWorkspace+"/databases",
		`{"type":"mongodb","name":"shop","connection_uri":"mongodb://other:27017"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", rec.Code)
	}

	bad := []string{
		`{"type":"mongodb","name":"shop"}`,
		`{"type":"postgres","name":"x"}`,
		`{"type":"bigquery","name":"wh"}`,
		`not json`,
	}
	for _, body := range bad {
		if rec := f.do(http.MethodPost, "/api/v1/workspaces/"+testWorkspace+"/databases", body); rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestRequestBodyLimit(t *testing.T) {
	f := newFixture(t, testUser)
	big := `{"message":"` + strings.Repeat("x", 2<<20) + `","workspaceId":"` + testWorkspace + `"}`
	if rec := f.do(http.MethodPost, "/api/v1/chat/stream", big); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	h := &qfhttp.Handlers{Checks: map[string]qfhttp.Pinger{
		"postgres": pingFunc(func(context.Context) error { return nil }),
	}}
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte(`"status":"ok"`)) {
		t.Fatalf("healthy: %d %s", rec.Code, rec.Body.String())
	}

	h.Checks["nats"] = pingFunc(func(context.Context) error { return errors.New("disconnected") })
	rec = httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	if rec.Code != http.StatusServiceUnavailable || !bytes.Contains(rec.Body.Bytes(), []byte("degraded")) {
		t.Fatalf("degraded: %d %s", rec.Code, rec.Body.String())
	}
}

func TestHealthInfoDoesNotDegrade(t *testing.T) {
	h := &qfhttp.Handlers{Info: map[string]func() string{
		"title_model_breaker": func() string { return "open" },
	}}
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"info":{"title_model_breaker":"open"}`)) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestStreamChat_TurnLimitAppliesToTurnsOnly(t *testing.T) {
	store := servicetest.NewMemoryStore()
	rt := &servicetest.ScriptedRuntime{Events: servicetest.TextEvents("Hi")}
	tools := service.NewToolset(store, 50, 2)
	workspaces := service.NewWorkspaceService(store, nil, 0)
	convs := service.NewConversationService(store, workspaces, service.NewAgentRegistry(tools), tools, rt, config.Conversation{
		WindowSize: 10, CharBudget: 4000, TurnTimeout: 5 * time.Second, MaxTurns: 5,
	})

	limiter := middleware.NewRateLimiter(1, 5, 4)
	h := &qfhttp.Handlers{Conversations: convs, Workspaces: workspaces, TurnLimit: limiter.Turns}
	r := chi.NewRouter()
	qfhttp.MountRoutes(r, h, withUser(testUser), limiter.Handler)
	f := &fixture{store: store, rt: rt, router: r}

	body := turnBody(t, conversation.TurnRequest{Message: "count orders", WorkspaceID: testWorkspace})
	if rec := f.do(http.MethodPost, "/api/v1/chat/stream", body); rec.Code != http.StatusOK {
		t.Fatalf("first turn: %d %s", rec.Code, rec.Body.String())
	}
	rec := f.do(http.MethodPost, "/api/v1/chat/stream", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second turn: expected 429, got %d", rec.Code)
	}
	if len(rt.Requests()) != 1 {
		t.Errorf("limited turn reached the runtime: %d runs", len(rt.Requests()))
	}
}
