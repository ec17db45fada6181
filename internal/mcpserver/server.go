// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes miniCycle tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/minicycle/internal/engine"
	"github.com/starford/minicycle/internal/export"
)

const schemaURI = "minicycle://schema"

// Server wraps the MCP server with miniCycle tools.
type Server struct {
	mcp *server.MCPServer
	eng *engine.Engine
}

// New creates a new MCP server with all tools registered. eng must be booted.
func New(eng *engine.Engine) *Server {
	s := &Server{eng: eng}

	s.mcp = server.NewMCPServer(
		"miniCycle",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("get_document",
		mcp.WithDescription("Return the full miniCycle document as JSON."),
	), s.getDocument)

	s.mcp.AddTool(mcp.NewTool("get_active_cycle",
		mcp.WithDescription("Return the active cycle with its tasks."),
	), s.getActiveCycle)

	s.mcp.AddTool(mcp.NewTool("create_cycle",
		mcp.WithDescription("Create a new cycle and make it active."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Cycle title (max 100 characters)")),
	), s.createCycle)

	s.mcp.AddTool(mcp.NewTool("add_task",
		mcp.WithDescription("Append a task to a cycle. Without cycle_id the active cycle is used."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Task text (1-500 characters)")),
		mcp.WithString("cycle_id", mcp.Description("Target cycle id (defaults to the active cycle)")),
		mcp.WithBoolean("high_priority", mcp.Description("Mark the task as high priority")),
		mcp.WithString("due_date", mcp.Description("Due date as YYYY-MM-DD")),
	), s.addTask)

	s.mcp.AddTool(mcp.NewTool("toggle_task",
		mcp.WithDescription("Flip a task's completion. Completing the last task of an auto-reset cycle starts the next round."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id")),
		mcp.WithString("cycle_id", mcp.Description("Cycle id (defaults to the active cycle)")),
	), s.toggleTask)

	s.mcp.AddTool(mcp.NewTool("delete_task",
		mcp.WithDescription("Remove a task from a cycle."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id")),
		mcp.WithString("cycle_id", mcp.Description("Cycle id (defaults to the active cycle)")),
	), s.deleteTask)

	s.mcp.AddTool(mcp.NewTool("undo",
		mcp.WithDescription("Undo the last change to the active cycle."),
	), s.undo)

	s.mcp.AddTool(mcp.NewTool("redo",
		mcp.WithDescription("Redo the last undone change."),
	), s.redo)

	s.mcp.AddTool(mcp.NewTool("history_status",
		mcp.WithDescription("Report undo and redo depth."),
	), s.historyStatus)

	s.mcp.AddTool(mcp.NewTool("force_save",
		mcp.WithDescription("Write pending changes to storage immediately."),
	), s.forceSave)

	s.mcp.AddTool(mcp.NewTool("export_cycle",
		mcp.WithDescription("Export the active cycle as a Markdown checklist."),
	), s.exportCycle)

	s.mcp.AddTool(mcp.NewTool("import_cycle",
		mcp.WithDescription("Import a Markdown checklist as a new active cycle. "+
			"Read the format via get_schema_contract or the "+schemaURI+" resource first."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown checklist with optional YAML frontmatter")),
	), s.importCycle)

	s.mcp.AddTool(mcp.NewTool("get_schema_contract",
		mcp.WithDescription("Returns the document schema and Markdown cycle format."),
	), s.getSchemaContract)

	s.mcp.AddResource(
		mcp.NewResource(schemaURI, "Document Contract",
			mcp.WithResourceDescription("Persisted document schema and Markdown cycle format."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readSchemaResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := s.eng.Document()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(doc)
}

func (s *Server) getActiveCycle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := s.eng.ActiveCycle()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(c)
}

func (s *Server) createCycle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	c, err := s.eng.CreateCycle(title)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(c)
}

func (s *Server) addTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	in := engine.TaskInput{Text: text, HighPriority: req.GetBool("high_priority", false)}
	if due := req.GetString("due_date", ""); due != "" {
		in.DueDate = &due
	}
	task, err := s.eng.AddTask(req.GetString("cycle_id", ""), in)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(task)
}

func (s *Server) toggleTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	task, err := s.eng.ToggleTask(req.GetString("cycle_id", ""), id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(task)
}

func (s *Server) deleteTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.eng.DeleteTask(req.GetString("cycle_id", ""), id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", id)), nil
}

func (s *Server) undo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.step("undo", s.eng.Undo)
}

func (s *Server) redo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.step("redo", s.eng.Redo)
}

func (s *Server) step(op string, fn func() (bool, error)) (*mcp.CallToolResult, error) {
	applied, err := fn()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !applied {
		return mcp.NewToolResultText("nothing to " + op), nil
	}
	st := s.eng.History().Status()
	return mcp.NewToolResultText(fmt.Sprintf("%s applied (undo %d, redo %d)", op, st.UndoDepth, st.RedoDepth)), nil
}

func (s *Server) historyStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.eng.History().Status())
}

func (s *Server) forceSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.eng.ForceSave(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("saved"), nil
}

func (s *Server) exportCycle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := s.eng.Document()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := export.Encode(doc, export.FormatMarkdown)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) importCycle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	c, err := export.DecodeCycle([]byte(content))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	added, err := s.eng.ImportCycle(c)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("imported: %s (%d tasks)", added.ID, len(added.Tasks))), nil
}

func (s *Server) getSchemaContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(SchemaContract), nil
}

func (s *Server) readSchemaResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      schemaURI,
			MIMEType: "text/markdown",
			Text:     SchemaContract,
		},
	}, nil
}
