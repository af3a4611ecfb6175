// Package agent defines the chat agent kinds, their descriptors, and the
// selection rule that picks the active kind at the start of a turn.
package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind identifies which instruction and tool bundle drives a conversation.
type Kind string

const (
	KindTriage   Kind = "triage"
	KindMongo    Kind = "mongodb"
	KindBigQuery Kind = "bigquery"
)

// Kinds lists every valid agent kind.
var Kinds = []Kind{KindTriage, KindMongo, KindBigQuery}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindTriage, KindMongo, KindBigQuery:
		return true
	}
	return false
}

// IsSpecialist reports whether k is bound to a single backend type.
func (k Kind) IsSpecialist() bool {
	return k == KindMongo || k == KindBigQuery
}

// DisplayName returns a human-readable agent name.
func (k Kind) DisplayName() string {
	switch k {
	case KindMongo:
		return "MongoDB Assistant"
	case KindBigQuery:
		return "BigQuery Assistant"
	default:
		return "Database Assistant"
	}
}

// ParseKind resolves a kind from a free-form agent name as reported by the
// agent runtime (e.g. "mongodb", "MongoDB Assistant", "bigquery_agent").
func ParseKind(s string) (Kind, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return "", false
	}
	switch {
	case strings.Contains(v, "mongo"):
		return KindMongo, true
	case strings.Contains(v, "bigquery"), v == "bq", strings.HasPrefix(v, "bq_"), strings.HasPrefix(v, "bq-"):
		return KindBigQuery, true
	case strings.Contains(v, "triage"), v == strings.ToLower(KindTriage.DisplayName()):
		return KindTriage, true
	}
	return "", false
}

// BackendType is a kind of database a workspace can connect.
type BackendType string

const (
	BackendMongo    BackendType = "mongodb"
	BackendBigQuery BackendType = "bigquery"
)

// ParseBackendType matches common spellings case-insensitively.
func ParseBackendType(s string) (BackendType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mongodb", "mongo":
		return BackendMongo, true
	case "bigquery", "bq":
		return BackendBigQuery, true
	}
	return "", false
}

// Specialist returns the agent kind that owns the backend type.
func (b BackendType) Specialist() Kind {
	switch b {
	case BackendMongo:
		return KindMongo
	case BackendBigQuery:
		return KindBigQuery
	}
	return KindTriage
}

// Backend returns the backend type a specialist kind is bound to.
func (k Kind) Backend() (BackendType, bool) {
	switch k {
	case KindMongo:
		return BackendMongo, true
	case KindBigQuery:
		return BackendBigQuery, true
	}
	return "", false
}

// Availability records which backend types a workspace has at least one
// database of.
type Availability struct {
	Mongo    bool `json:"mongodb"`
	BigQuery bool `json:"bigquery"`
}

// Has reports whether the given backend type is available.
func (a Availability) Has(b BackendType) bool {
	switch b {
	case BackendMongo:
		return a.Mongo
	case BackendBigQuery:
		return a.BigQuery
	}
	return false
}

// ToolSpec is the serialisable declaration of a callable tool.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Descriptor binds an agent kind to its instructions and capabilities for
// one turn.
type Descriptor struct {
	Kind         Kind       `json:"kind"`
	Name         string     `json:"name"`
	Instructions string     `json:"instructions"`
	Tools        []ToolSpec `json:"tools"`
	Handoffs     []Kind     `json:"handoffs,omitempty"`
	WorkspaceID  string     `json:"workspace_id"`
	ConsoleID    string     `json:"console_id,omitempty"`
}

// Validate checks that a descriptor is complete.
func (d *Descriptor) Validate() error {
	if !d.Kind.Valid() {
		return fmt.Errorf("unknown agent kind %q", d.Kind)
	}
	if d.Instructions == "" {
		return fmt.Errorf("agent %s: instructions are required", d.Kind)
	}
	if d.WorkspaceID == "" {
		return fmt.Errorf("agent %s: workspace id is required", d.Kind)
	}
	return nil
}
