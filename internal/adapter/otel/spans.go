package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "queryforge"

// StartTurnSpan starts a span for one chat turn.
func StartTurnSpan(ctx context.Context, runID, workspaceID, agentKind string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "chat.turn",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("workspace.id", workspaceID),
			attribute.String("agent.kind", agentKind),
		),
	)
}

// StartToolCallSpan starts a span for a tool invocation served to the runtime.
func StartToolCallSpan(ctx context.Context, tool, agentKind string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "chat.toolcall",
		trace.WithAttributes(
			attribute.String("toolcall.tool", tool),
			attribute.String("agent.kind", agentKind),
		),
	)
}

// StartTitleSpan starts a span for background title generation.
func StartTitleSpan(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "chat.title",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
}
