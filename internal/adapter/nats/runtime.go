package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/Strob0t/QueryForge/internal/port/agentruntime"
	"github.com/Strob0t/QueryForge/internal/port/messagequeue"
)

var _ agentruntime.Runtime = (*Runtime)(nil)

// Runtime dispatches agent runs to an external worker over NATS. The start
// request goes through JetStream; events and tool calls flow over per-run
// core subjects.
type Runtime struct {
	q *Queue
}

// NewRuntime creates a Runtime on top of a connected Queue.
func NewRuntime(q *Queue) *Runtime {
	return &Runtime{q: q}
}

// Start subscribes to the run's live subjects and then publishes the start
// request, so no early event is lost.
func (r *Runtime) Start(ctx context.Context, req agentruntime.Request) (agentruntime.Run, error) {
	if req.RunID == "" {
		return nil, errors.New("start run: run id is required")
	}

	events, err := r.q.nc.SubscribeSync(messagequeue.RunEventsSubject(req.RunID))
	if err != nil {
		return nil, fmt.Errorf("start run %s: subscribe events: %w", req.RunID, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &natsRun{
		q:      r.q,
		id:     req.RunID,
		events: events,
		cancel: cancel,
	}

	if req.Tools != nil {
		run.tools, err = r.q.nc.Subscribe(messagequeue.RunToolsSubject(req.RunID), func(msg *nats.Msg) {
			serveToolCall(runCtx, req.Tools, msg)
		})
		if err != nil {
			_ = run.Close()
			return nil, fmt.Errorf("start run %s: subscribe tools: %w", req.RunID, err)
		}
	}

	payload := messagequeue.RunStartPayload{
		RunID:       req.RunID,
		ActiveAgent: req.Active,
		Agents:      req.Agents,
		Prompt:      req.Prompt,
		MaxTurns:    req.MaxTurns,
	}
	for i := range req.Agents {
		if req.Agents[i].Kind == req.Active {
			payload.WorkspaceID = req.Agents[i].WorkspaceID
			payload.ConsoleID = req.Agents[i].ConsoleID
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		_ = run.Close()
		return nil, fmt.Errorf("start run %s: marshal: %w", req.RunID, err)
	}
	if err := r.q.Publish(ctx, messagequeue.SubjectRunStart, data); err != nil {
		_ = run.Close()
		return nil, fmt.Errorf("start run %s: %w", req.RunID, err)
	}

	return run, nil
}

func serveToolCall(ctx context.Context, tools agentruntime.ToolInvoker, msg *nats.Msg) {
	var req messagequeue.ToolCallRequestPayload
	var resp messagequeue.ToolCallResponsePayload
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		resp = messagequeue.ToolCallResponsePayload{Output: "malformed tool call: " + err.Error(), IsError: true}
	} else {
		resp.Output, resp.IsError = tools.Invoke(ctx, req.Name, req.Arguments)
	}

	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("marshal tool response", "tool", req.Name, "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn("respond to tool call", "tool", req.Name, "error", err)
	}
}

type natsRun struct {
	q      *Queue
	id     string
	events *nats.Subscription
	tools  *nats.Subscription
	cancel context.CancelFunc

	mu        sync.Mutex
	completed bool
	result    messagequeue.RunCompletedData
	closed    bool
}

func (r *natsRun) Next(ctx context.Context) (agentruntime.RawEvent, error) {
	for {
		msg, err := r.events.NextMsgWithContext(ctx)
		if err != nil {
			return agentruntime.RawEvent{}, fmt.Errorf("run %s: next event: %w", r.id, err)
		}

		var ev messagequeue.RunEventPayload
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Warn("skipping malformed run event", "run_id", r.id, "error", err)
			continue
		}

		if ev.Tag == messagequeue.RunEventCompleted {
			var done messagequeue.RunCompletedData
			if s, ok := ev.Data["final_output"].(string); ok {
				done.FinalOutput = s
			}
			if s, ok := ev.Data["error"].(string); ok {
				done.Error = s
			}
			r.mu.Lock()
			r.completed = true
			r.result = done
			r.mu.Unlock()
			return agentruntime.RawEvent{}, io.EOF
		}

		return agentruntime.RawEvent{Tag: ev.Tag, Data: ev.Data}, nil
	}
}

func (r *natsRun) Wait(_ context.Context) (agentruntime.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.completed {
		return agentruntime.Result{}, fmt.Errorf("run %s: not completed", r.id)
	}
	if r.result.Error != "" {
		return agentruntime.Result{FinalOutput: r.result.FinalOutput}, fmt.Errorf("run %s: %s", r.id, r.result.Error)
	}
	return agentruntime.Result{FinalOutput: r.result.FinalOutput}, nil
}

// Close unsubscribes and, when the run never completed, asks the worker to
// cancel it.
func (r *natsRun) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	completed := r.completed
	r.mu.Unlock()

	r.cancel()
	var errs []error
	if err := r.events.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		errs = append(errs, err)
	}
	if r.tools != nil {
		if err := r.tools.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}

	if !completed {
		data, err := json.Marshal(messagequeue.RunCancelPayload{RunID: r.id, Reason: "abandoned"})
		if err == nil {
			err = r.q.Publish(context.Background(), messagequeue.SubjectRunCancel, data)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close run %s: %w", r.id, errors.Join(errs...))
	}
	return nil
}
