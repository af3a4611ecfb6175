package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/QueryForge/internal/domain/agent"
	"github.com/Strob0t/QueryForge/internal/domain/datasource"
	"github.com/Strob0t/QueryForge/internal/domain/stream"
)

// consoleMarker is the result payload of the console tools. EventType is the
// discriminator the Translator looks for in tool output.
type consoleMarker struct {
	EventType    stream.Type `json:"_eventType"`
	ConsoleID    string      `json:"consoleId"`
	Title        string      `json:"title,omitempty"`
	Content      string      `json:"content"`
	DatabaseID   string      `json:"databaseId,omitempty"`
	DatabaseType string      `json:"databaseType,omitempty"`
	Message      string      `json:"message,omitempty"`
}

func (m *consoleMarker) change() stream.ConsoleChange {
	return stream.ConsoleChange{
		ConsoleID:    m.ConsoleID,
		Title:        m.Title,
		Content:      m.Content,
		DatabaseID:   m.DatabaseID,
		DatabaseType: m.DatabaseType,
	}
}

type listDatabasesArgs struct {
	Type string `json:"type,omitempty"`
}

type modifyConsoleArgs struct {
	Content   string `json:"content"`
	Title     string `json:"title,omitempty"`
	ConsoleID string `json:"console_id,omitempty"`
}

type createConsoleArgs struct {
	Title      string `json:"title"`
	Content    string `json:"content"`
	DatabaseID string `json:"database_id,omitempty"`
}

func (t *Toolset) registerConsoleTools() {
	t.add(&toolEntry{discovery: true, server: mcpserver.ServerTool{
		Tool: mcplib.NewTool("list_databases",
			mcplib.WithDescription("List the databases connected to the current workspace"),
			mcplib.WithString("type",
				mcplib.Description("Only list databases of this backend type"),
				mcplib.Enum(string(agent.BackendMongo), string(agent.BackendBigQuery)),
			),
			mcplib.WithReadOnlyHintAnnotation(true),
		),
		Handler: t.handleListDatabases,
	}})

	t.add(&toolEntry{discovery: true, console: true, server: mcpserver.ServerTool{
		Tool: mcplib.NewTool("read_console",
			mcplib.WithDescription("Return the id of the console attached to this conversation"),
			mcplib.WithReadOnlyHintAnnotation(true),
		),
		Handler: t.handleReadConsole,
	}})

	t.add(&toolEntry{discovery: true, console: true, server: mcpserver.ServerTool{
		Tool: mcplib.NewTool("modify_console",
			mcplib.WithDescription("Replace the content of the attached console with a query for the user to review"),
			mcplib.WithString("content", mcplib.Required(), mcplib.Description("The full new console content")),
			mcplib.WithString("title", mcplib.Description("Optional new console title")),
			mcplib.WithString("console_id", mcplib.Description("Console to modify; defaults to the attached console")),
		),
		Handler: t.handleModifyConsole,
	}})

	t.add(&toolEntry{console: true, server: mcpserver.ServerTool{
		Tool: mcplib.NewTool("create_console",
			mcplib.WithDescription("Open a new console with a query for the user to review"),
			mcplib.WithString("title", mcplib.Required(), mcplib.Description("Console title")),
			mcplib.WithString("content", mcplib.Required(), mcplib.Description("Console content")),
			mcplib.WithString("database_id", mcplib.Description("Database the console runs against")),
		),
		Handler: t.handleCreateConsole,
	}})
}

func (t *Toolset) handleListDatabases(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	b, ok := toolBindingFrom(ctx)
	if !ok {
		return mcplib.NewToolResultError("no workspace bound to this call"), nil
	}
	args, err := bindArgs[listDatabasesArgs](req)
	if err != nil {
		return toolFailure("list databases", err), nil
	}

	dbs, err := t.catalog.ListWorkspaceDatabases(ctx, b.WorkspaceID)
	if err != nil {
		return toolFailure("list databases", err), nil
	}
	out := make([]datasource.Database, 0, len(dbs))
	for i := range dbs {
		if args.Type == "" || string(dbs[i].Type) == args.Type {
			out = append(out, dbs[i])
		}
	}
	return jsonResult(out)
}

func (t *Toolset) handleReadConsole(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	b, _ := toolBindingFrom(ctx)
	if b.ConsoleID == "" {
		return jsonResult(map[string]any{"consoleId": nil, "message": "No console is attached to this conversation"})
	}
	return jsonResult(map[string]any{"consoleId": b.ConsoleID})
}

func (t *Toolset) handleModifyConsole(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	b, _ := toolBindingFrom(ctx)
	args, err := bindArgs[modifyConsoleArgs](req)
	if err != nil {
		return toolFailure("modify console", err), nil
	}
	id := args.ConsoleID
	if id == "" {
		id = b.ConsoleID
	}
	if id == "" {
		return mcplib.NewToolResultError("no console is attached; use create_console instead"), nil
	}

	m := consoleMarker{
		EventType: stream.TypeConsoleModification,
		ConsoleID: id,
		Title:     args.Title,
		Content:   args.Content,
		Message:   "Console updated",
	}
	t.emitConsole(ctx, b, stream.ConsoleModification(m.change()))
	return jsonResult(m)
}

func (t *Toolset) handleCreateConsole(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	b, ok := toolBindingFrom(ctx)
	if !ok {
		return mcplib.NewToolResultError("no workspace bound to this call"), nil
	}
	args, err := bindArgs[createConsoleArgs](req)
	if err != nil {
		return toolFailure("create console", err), nil
	}

	m := consoleMarker{
		EventType: stream.TypeConsoleCreation,
		ConsoleID: uuid.NewString(),
		Title:     args.Title,
		Content:   args.Content,
		Message:   "Console created",
	}
	if args.DatabaseID != "" {
		db, err := t.catalog.GetWorkspaceDatabase(ctx, b.WorkspaceID, args.DatabaseID)
		if err != nil {
			return toolFailure("create console", err), nil
		}
		m.DatabaseID = db.ID
		m.DatabaseType = string(db.Type)
	}
	t.emitConsole(ctx, b, stream.ConsoleCreation(m.change()))
	return jsonResult(m)
}

// emitConsole delivers the side-channel event before the tool returns so the
// client sees the change even if the agent never repeats the output.
func (t *Toolset) emitConsole(ctx context.Context, b ToolBinding, ev stream.Event) {
	if b.Events == nil {
		return
	}
	if err := b.Events.Send(ctx, ev); err != nil {
		slog.WarnContext(ctx, "console event not delivered", "type", ev.Type, "error", err)
	}
}
