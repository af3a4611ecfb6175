package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/semaphore"

	qfotel "github.com/Strob0t/QueryForge/internal/adapter/otel"
	"github.com/Strob0t/QueryForge/internal/domain"
	"github.com/Strob0t/QueryForge/internal/domain/agent"
	"github.com/Strob0t/QueryForge/internal/port/agentruntime"
	"github.com/Strob0t/QueryForge/internal/port/database"
	"github.com/Strob0t/QueryForge/internal/port/datasource"
	"github.com/Strob0t/QueryForge/internal/port/eventsink"
)

// ToolBinding carries the turn-scoped parameters every tool call runs with.
type ToolBinding struct {
	WorkspaceID string
	ConsoleID   string
	Events      eventsink.Sink // receives console side-channel events; may be nil
}

type toolBindingCtxKey struct{}

// WithToolBinding stores b in ctx for tool handlers.
func WithToolBinding(ctx context.Context, b ToolBinding) context.Context {
	return context.WithValue(ctx, toolBindingCtxKey{}, b)
}

func toolBindingFrom(ctx context.Context) (ToolBinding, bool) {
	b, ok := ctx.Value(toolBindingCtxKey{}).(ToolBinding)
	return b, ok && b.WorkspaceID != ""
}

// toolEntry is one catalogue entry. A nil backend means the tool is shared
// by every pool.
type toolEntry struct {
	server    mcpserver.ServerTool
	backend   agent.BackendType
	discovery bool
	console   bool
}

// Toolset is the catalogue of tools agents may call. Every tool is declared
// with an MCP schema; arguments are checked against it before a handler
// decodes them into its typed struct.
type Toolset struct {
	catalog  database.DatabaseCatalog
	drivers  map[agent.BackendType]datasource.Driver
	rowLimit int
	queries  *semaphore.Weighted

	entries map[string]*toolEntry
	order   []string
}

// NewToolset builds the catalogue. Backend tools whose driver is missing
// are still declared and fail at call time.
func NewToolset(catalog database.DatabaseCatalog, rowLimit, workers int, drivers ...datasource.Driver) *Toolset {
	if rowLimit < 1 {
		rowLimit = 50
	}
	if workers < 1 {
		workers = 1
	}
	t := &Toolset{
		catalog:  catalog,
		drivers:  make(map[agent.BackendType]datasource.Driver, len(drivers)),
		rowLimit: rowLimit,
		queries:  semaphore.NewWeighted(int64(workers)),
		entries:  make(map[string]*toolEntry),
	}
	for _, d := range drivers {
		t.drivers[d.Type()] = d
	}
	t.registerConsoleTools()
	t.registerMongoTools()
	t.registerBigQueryTools()
	return t
}

func (t *Toolset) add(e *toolEntry) {
	name := e.server.Tool.Name
	if _, dup := t.entries[name]; dup {
		panic("duplicate tool " + name)
	}
	t.entries[name] = e
	t.order = append(t.order, name)
}

// Pool returns the specs of the shared tools plus the tools of backend b,
// in declaration order.
func (t *Toolset) Pool(b agent.BackendType) []agent.ToolSpec {
	var specs []agent.ToolSpec
	for _, name := range t.order {
		e := t.entries[name]
		if e.backend == "" || e.backend == b {
			specs = append(specs, toolSpec(e.server.Tool))
		}
	}
	return specs
}

// IsDiscovery reports whether the named tool only lists or reads metadata
// (or reads and edits the bound console) and is safe before a handoff.
func (t *Toolset) IsDiscovery(name string) bool {
	e, ok := t.entries[name]
	return ok && e.discovery
}

// ServerTools returns the non-console tools for exposure over MCP.
func (t *Toolset) ServerTools() []mcpserver.ServerTool {
	out := make([]mcpserver.ServerTool, 0, len(t.order))
	for _, name := range t.order {
		if e := t.entries[name]; !e.console {
			out = append(out, e.server)
		}
	}
	return out
}

// Invoker returns a ToolInvoker that runs every call with binding b.
func (t *Toolset) Invoker(b ToolBinding) agentruntime.ToolInvoker {
	return &boundTools{set: t, binding: b}
}

type boundTools struct {
	set     *Toolset
	binding ToolBinding
}

func (bt *boundTools) Invoke(ctx context.Context, name string, args json.RawMessage) (string, bool) {
	return bt.set.Call(WithToolBinding(ctx, bt.binding), name, args)
}

// Call validates args against the tool's schema and runs it. The returned
// text is what the agent sees; isError marks a failed call. Failures are
// reported as results, never as Go errors.
func (t *Toolset) Call(ctx context.Context, name string, args json.RawMessage) (output string, isError bool) {
	e, ok := t.entries[name]
	if !ok {
		return fmt.Sprintf("unknown tool %q", name), true
	}

	ctx, span := qfotel.StartToolCallSpan(ctx, name, string(e.backend))
	defer span.End()

	parsed, err := validateArgs(e.server.Tool.InputSchema, args)
	if err != nil {
		return fmt.Sprintf("invalid arguments for %s: %v", name, err), true
	}

	var req mcplib.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = parsed

	res, err := e.server.Handler(ctx, req)
	if err != nil {
		slog.WarnContext(ctx, "tool handler failed", "tool", name, "error", err)
		return err.Error(), true
	}
	return resultText(res), res.IsError
}

func resultText(res *mcplib.CallToolResult) string {
	if res == nil {
		return ""
	}
	var b strings.Builder
	for _, c := range res.Content {
		switch tc := c.(type) {
		case mcplib.TextContent:
			b.WriteString(tc.Text)
		case *mcplib.TextContent:
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func toolSpec(tool mcplib.Tool) agent.ToolSpec {
	schema, err := closedSchema(tool.InputSchema)
	if err != nil {
		// Schemas are built from literals in this package.
		panic(fmt.Sprintf("tool %s: %v", tool.Name, err))
	}
	return agent.ToolSpec{Name: tool.Name, Description: tool.Description, InputSchema: schema}
}

// closedSchema renders s with additionalProperties disabled.
func closedSchema(s mcplib.ToolInputSchema) (json.RawMessage, error) {
	props := s.Properties
	if props == nil {
		props = map[string]any{}
	}
	out := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return json.Marshal(out)
}

// jsonResult renders v as the text of a successful tool result.
func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to encode result", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}

// bindArgs decodes the validated arguments into a typed struct.
func bindArgs[T any](req mcplib.CallToolRequest) (T, error) {
	var v T
	if err := req.BindArguments(&v); err != nil {
		return v, fmt.Errorf("decode arguments: %w", err)
	}
	return v, nil
}

// toolFailure converts err into an error result the agent can read.
func toolFailure(msg string, err error) *mcplib.CallToolResult {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return mcplib.NewToolResultError(msg + ": not found")
	case errors.Is(err, domain.ErrValidation):
		return mcplib.NewToolResultError(msg + ": " + strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": "))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return mcplib.NewToolResultError(msg + ": cancelled")
	}
	return mcplib.NewToolResultErrorFromErr(msg, err)
}
