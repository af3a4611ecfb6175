package messagequeue

import (
	"strings"
	"testing"
)

func TestValidateRunStart(t *testing.T) {
	data := []byte(`{"run_id":"r1","active_agent":"mongodb","agents":[],"prompt":"User: hi","max_turns":25,"workspace_id":"w1"}`)
	if err := Validate(SubjectRunStart, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRunStartMissingRunID(t *testing.T) {
	data := []byte(`{"active_agent":"triage","prompt":"x"}`)
	err := Validate(SubjectRunStart, data)
	if err == nil {
		t.Fatal("expected error for missing run_id")
	}
	if !strings.Contains(err.Error(), "run_id") {
		t.Errorf("expected run_id in error, got %v", err)
	}
}

func TestValidateRunStartUnknownAgent(t *testing.T) {
	data := []byte(`{"run_id":"r1","active_agent":"oracle"}`)
	if err := Validate(SubjectRunStart, data); err == nil {
		t.Fatal("expected error for unknown agent")
	}
}

func TestValidateRunCancel(t *testing.T) {
	if err := Validate(SubjectRunCancel, []byte(`{"run_id":"r1","reason":"timeout"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateTurnCompleted(t *testing.T) {
	data := []byte(`{"session_id":"s1","thread_id":"t1","workspace_id":"w1","user_id":"u1","run_id":"r1","agent":"bigquery","handoffs":1,"tool_calls":2,"message_count":4,"duration_ms":1200,"completed_at":"2026-01-01T00:00:00Z"}`)
	if err := Validate(SubjectTurnCompleted, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateLiveSubjects(t *testing.T) {
	if err := Validate(RunEventsSubject("r1"), []byte(`{"tag":"text_delta","data":{"delta":"hi"}}`)); err != nil {
		t.Fatalf("events: unexpected error: %v", err)
	}
	if err := Validate(RunToolsSubject("r1"), []byte(`{"name":"list_databases","arguments":{}}`)); err != nil {
		t.Fatalf("tools: unexpected error: %v", err)
	}
}

func TestValidateWrongType(t *testing.T) {
	data := []byte(`{"session_id":123}`)
	err := Validate(SubjectTurnCompleted, data)
	if err == nil {
		t.Fatal("expected error for wrong field type")
	}
	if !strings.Contains(err.Error(), "schema validation failed") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestValidateInvalidJSON(t *testing.T) {
	if err := Validate(SubjectRunCancel, []byte(`{not json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestValidateUnknownSubject(t *testing.T) {
	if err := Validate("some.other.subject", []byte(`{"anything":true}`)); err != nil {
		t.Fatalf("unknown subjects should pass, got %v", err)
	}
}

func TestLiveSubjectNames(t *testing.T) {
	if got := RunEventsSubject("abc"); got != "chat.live.abc.events" {
		t.Errorf("RunEventsSubject = %q", got)
	}
	if got := RunToolsSubject("abc"); got != "chat.live.abc.tools" {
		t.Errorf("RunToolsSubject = %q", got)
	}
}

func TestValidateWorkspaceChanged(t *testing.T) {
	ok := []byte(`{"workspace_id":"w1","database_id":"d1","type":"mongodb"}`)
	if err := Validate(SubjectWorkspaceChanged, ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Validate(SubjectWorkspaceChanged, []byte(`{"database_id":"d1"}`)); err == nil {
		t.Fatal("expected error for missing workspace_id")
	}
}
