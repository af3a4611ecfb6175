package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "queryforge"

// Metrics holds all chat turn metric instruments.
type Metrics struct {
	TurnsStarted   metric.Int64Counter
	TurnsCompleted metric.Int64Counter
	TurnsFailed    metric.Int64Counter
	TurnsTimedOut  metric.Int64Counter
	ToolCalls      metric.Int64Counter
	Handoffs       metric.Int64Counter
	TurnDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TurnsStarted, err = meter.Int64Counter("queryforge.turns.started",
		metric.WithDescription("Number of chat turns started"))
	if err != nil {
		return nil, err
	}

	m.TurnsCompleted, err = meter.Int64Counter("queryforge.turns.completed",
		metric.WithDescription("Number of chat turns persisted"))
	if err != nil {
		return nil, err
	}

	m.TurnsFailed, err = meter.Int64Counter("queryforge.turns.failed",
		metric.WithDescription("Number of chat turns that reported an error"))
	if err != nil {
		return nil, err
	}

	m.TurnsTimedOut, err = meter.Int64Counter("queryforge.turns.timed_out",
		metric.WithDescription("Number of chat turns stopped by the turn budget"))
	if err != nil {
		return nil, err
	}

	m.ToolCalls, err = meter.Int64Counter("queryforge.toolcalls",
		metric.WithDescription("Number of tool calls observed"))
	if err != nil {
		return nil, err
	}

	m.Handoffs, err = meter.Int64Counter("queryforge.handoffs",
		metric.WithDescription("Number of agent handoffs"))
	if err != nil {
		return nil, err
	}

	m.TurnDuration, err = meter.Float64Histogram("queryforge.turn.duration_seconds",
		metric.WithDescription("Chat turn duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Outcome labels a finished turn.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeCanceled  Outcome = "canceled"
)

// RecordTurn records the end of a turn. A nil receiver is a no-op.
func (m *Metrics) RecordTurn(ctx context.Context, agentKind string, outcome Outcome, seconds float64, toolCalls, handoffs int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("agent", agentKind), attribute.String("outcome", string(outcome)))
	switch outcome {
	case OutcomeCompleted:
		m.TurnsCompleted.Add(ctx, 1, attrs)
	case OutcomeTimedOut:
		m.TurnsTimedOut.Add(ctx, 1, attrs)
	case OutcomeFailed:
		m.TurnsFailed.Add(ctx, 1, attrs)
	}
	m.TurnDuration.Record(ctx, seconds, attrs)
	if toolCalls > 0 {
		m.ToolCalls.Add(ctx, int64(toolCalls), metric.WithAttributes(attribute.String("agent", agentKind)))
	}
	if handoffs > 0 {
		m.Handoffs.Add(ctx, int64(handoffs))
	}
}

// RecordStart counts a started turn. A nil receiver is a no-op.
func (m *Metrics) RecordStart(ctx context.Context, agentKind string) {
	if m == nil {
		return
	}
	m.TurnsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("agent", agentKind)))
}
