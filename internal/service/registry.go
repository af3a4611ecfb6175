package service

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"

	"github.com/Strob0t/QueryForge/internal/domain/agent"
)

//go:embed templates/*.tmpl
var instructionFS embed.FS

// instructionTmpl holds the per-kind instruction templates.
var instructionTmpl = template.Must(template.ParseFS(instructionFS, "templates/*.tmpl"))

// instructionData is the input of an instruction template.
type instructionData struct {
	WorkspaceID string
	ConsoleID   string
	HasMongo    bool
	HasBigQuery bool
}

// AgentParams are the turn-scoped values bound into a descriptor.
type AgentParams struct {
	WorkspaceID string
	ConsoleID   string
	Available   agent.Availability
}

// AgentRegistry builds agent descriptors. Descriptors are constructed fresh
// for every turn and never shared.
type AgentRegistry struct {
	tools *Toolset
}

// NewAgentRegistry creates a registry over the given tool catalogue.
func NewAgentRegistry(tools *Toolset) *AgentRegistry {
	return &AgentRegistry{tools: tools}
}

// Build returns the descriptor for kind.
func (r *AgentRegistry) Build(kind agent.Kind, p AgentParams) (agent.Descriptor, error) {
	if !kind.Valid() {
		return agent.Descriptor{}, fmt.Errorf("build agent: unknown kind %q", kind)
	}

	var buf bytes.Buffer
	err := instructionTmpl.ExecuteTemplate(&buf, string(kind)+".tmpl", instructionData{
		WorkspaceID: p.WorkspaceID,
		ConsoleID:   p.ConsoleID,
		HasMongo:    p.Available.Has(agent.BackendMongo),
		HasBigQuery: p.Available.Has(agent.BackendBigQuery),
	})
	if err != nil {
		return agent.Descriptor{}, fmt.Errorf("build agent %s: render instructions: %w", kind, err)
	}

	d := agent.Descriptor{
		Kind:         kind,
		Name:         kind.DisplayName(),
		Instructions: buf.String(),
		Tools:        r.toolsFor(kind),
		Handoffs:     handoffTargets(kind),
		WorkspaceID:  p.WorkspaceID,
		ConsoleID:    p.ConsoleID,
	}
	if err := d.Validate(); err != nil {
		return agent.Descriptor{}, fmt.Errorf("build agent: %w", err)
	}
	return d, nil
}

// BuildAll returns descriptors for every kind, active kind first, so the
// runtime can perform handoffs without a round trip.
func (r *AgentRegistry) BuildAll(active agent.Kind, p AgentParams) ([]agent.Descriptor, error) {
	out := make([]agent.Descriptor, 0, len(agent.Kinds))
	first, err := r.Build(active, p)
	if err != nil {
		return nil, err
	}
	out = append(out, first)
	for _, k := range agent.Kinds {
		if k == active {
			continue
		}
		d, err := r.Build(k, p)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// toolsFor returns a specialist's full pool, or for triage the discovery
// subset of both pools with duplicates removed by name.
func (r *AgentRegistry) toolsFor(kind agent.Kind) []agent.ToolSpec {
	if b, ok := kind.Backend(); ok {
		return r.tools.Pool(b)
	}

	seen := make(map[string]bool)
	var out []agent.ToolSpec
	for _, b := range []agent.BackendType{agent.BackendMongo, agent.BackendBigQuery} {
		for _, spec := range r.tools.Pool(b) {
			if seen[spec.Name] || !r.tools.IsDiscovery(spec.Name) {
				continue
			}
			seen[spec.Name] = true
			out = append(out, spec)
		}
	}
	return out
}

func handoffTargets(kind agent.Kind) []agent.Kind {
	switch kind {
	case agent.KindMongo:
		return []agent.Kind{agent.KindTriage, agent.KindBigQuery}
	case agent.KindBigQuery:
		return []agent.Kind{agent.KindTriage, agent.KindMongo}
	default:
		return []agent.Kind{agent.KindMongo, agent.KindBigQuery}
	}
}
