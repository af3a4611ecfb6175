// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	// Pending messages are processed; no new messages are accepted.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Durable subjects carried by the QUERYFORGE JetStream stream.
const (
	SubjectRunStart      = "chat.run.start"      // service -> agent worker: start a streamed run
	SubjectRunCancel     = "chat.run.cancel"     // service -> agent worker: abandon a run
	SubjectTurnCompleted = "chat.turn.completed" // audit record after a persisted turn
	SubjectTurnFailed    = "chat.turn.failed"    // audit record for timed out or failed turns

	SubjectWorkspaceChanged = "chat.workspace.changed" // a workspace's databases changed; replicas drop cached availability
)

// Live subjects are per run and use core NATS (no persistence).
const (
	liveSubjectPrefix = "chat.live."
)

// RunEventsSubject is where the agent worker publishes raw run events.
func RunEventsSubject(runID string) string {
	return liveSubjectPrefix + runID + ".events"
}

// RunToolsSubject is where the agent worker sends tool-call requests.
func RunToolsSubject(runID string) string {
	return liveSubjectPrefix + runID + ".tools"
}
