package service

import "github.com/Strob0t/QueryForge/internal/domain/agent"

// handoffMachine tracks the active agent kind across one turn. While a
// request is pending the translator holds text back instead of emitting it.
type handoffMachine struct {
	active  agent.Kind
	pending bool
	count   int
}

func newHandoffMachine(initial agent.Kind) handoffMachine {
	return handoffMachine{active: initial}
}

func (m *handoffMachine) request() { m.pending = true }

// settle ends a pending request without a transition.
func (m *handoffMachine) settle() { m.pending = false }

// resolve applies a handoff to the named destination. It reports the new
// kind when control actually moved.
func (m *handoffMachine) resolve(dest string) (agent.Kind, bool) {
	m.pending = false
	kind, ok := agent.ParseKind(dest)
	if !ok || kind == m.active {
		return m.active, false
	}
	m.active = kind
	m.count++
	return kind, true
}
