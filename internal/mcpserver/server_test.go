package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/minicycle/internal/engine"
	"github.com/starford/minicycle/internal/models"
	"github.com/starford/minicycle/internal/storage"
	"github.com/starford/minicycle/internal/testutil"
)

func testServer(t *testing.T) (*Server, *engine.Engine) {
	t.Helper()
	eng := testutil.Engine(t, storage.NewMemory(0))
	return New(eng), eng
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"get_document":        srv.getDocument,
		"get_active_cycle":    srv.getActiveCycle,
		"create_cycle":        srv.createCycle,
		"add_task":            srv.addTask,
		"toggle_task":         srv.toggleTask,
		"delete_task":         srv.deleteTask,
		"undo":                srv.undo,
		"redo":                srv.redo,
		"history_status":      srv.historyStatus,
		"force_save":          srv.forceSave,
		"export_cycle":        srv.exportCycle,
		"import_cycle":        srv.importCycle,
		"get_schema_contract": srv.getSchemaContract,
	}
	h, ok := handlers[name]
	if !ok {
		t.Fatalf("unknown tool: %s", name)
	}
	result, err := h(ctx, req)
	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestCreateCycleAndAddTask(t *testing.T) {
	srv, eng := testServer(t)

	r := callTool(t, srv, "create_cycle", map[string]interface{}{"title": "Morning"})
	if r.IsError {
		t.Fatalf("create_cycle: %s", resultText(r))
	}
	r = callTool(t, srv, "add_task", map[string]interface{}{
		"text":          "stretch",
		"high_priority": true,
		"due_date":      "2024-07-10",
	})
	if r.IsError {
		t.Fatalf("add_task: %s", resultText(r))
	}
	var task models.Task
	if err := json.Unmarshal([]byte(resultText(r)), &task); err != nil {
		t.Fatal(err)
	}
	if !task.HighPriority || task.DueDate == nil || *task.DueDate != "2024-07-10" {
		t.Errorf("task = %+v", task)
	}

	c, err := eng.ActiveCycle()
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Tasks) != 1 || c.Tasks[0].Text != "stretch" {
		t.Errorf("active tasks = %+v", c.Tasks)
	}
}

func TestAddTaskWithoutActiveCycle(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "add_task", map[string]interface{}{"text": "x"})
	if !r.IsError {
		t.Error("expected error without an active cycle")
	}
	r = callTool(t, srv, "add_task", map[string]interface{}{})
	if !r.IsError {
		t.Error("expected error for missing text")
	}
}

func TestToggleAndUndo(t *testing.T) {
	srv, eng := testServer(t)
	_ = callTool(t, srv, "create_cycle", map[string]interface{}{"title": "Morning"})
	a, _ := eng.AddTask("", engine.TaskInput{Text: "a"})
	_, _ = eng.AddTask("", engine.TaskInput{Text: "b"})

	r := callTool(t, srv, "toggle_task", map[string]interface{}{"task_id": a.ID})
	if r.IsError {
		t.Fatalf("toggle_task: %s", resultText(r))
	}

	r = callTool(t, srv, "undo", nil)
	if !strings.HasPrefix(resultText(r), "undo applied") {
		t.Errorf("undo = %q", resultText(r))
	}
	c, _ := eng.ActiveCycle()
	if c.Tasks[0].Completed {
		t.Error("undo should uncheck the task")
	}

	r = callTool(t, srv, "history_status", nil)
	if !strings.Contains(resultText(r), `"canRedo": true`) {
		t.Errorf("history_status = %q", resultText(r))
	}
}

func TestRedoWithNothingToRedo(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "redo", nil)
	if r.IsError || resultText(r) != "nothing to redo" {
		t.Errorf("redo = %q", resultText(r))
	}
}

func TestExportImportCycle(t *testing.T) {
	srv, eng := testServer(t)
	_ = callTool(t, srv, "create_cycle", map[string]interface{}{"title": "Morning"})
	_, _ = eng.AddTask("", engine.TaskInput{Text: "stretch"})

	r := callTool(t, srv, "export_cycle", nil)
	md := resultText(r)
	if r.IsError || !strings.Contains(md, "- [ ] stretch") {
		t.Fatalf("export_cycle = %q", md)
	}

	r = callTool(t, srv, "import_cycle", map[string]interface{}{"content": md})
	if r.IsError || !strings.HasPrefix(resultText(r), "imported: ") {
		t.Fatalf("import_cycle = %q", resultText(r))
	}
	doc, _ := eng.Document()
	if len(doc.Collections.Cycles) != 2 {
		t.Errorf("cycles = %d, want 2", len(doc.Collections.Cycles))
	}

	r = callTool(t, srv, "import_cycle", map[string]interface{}{"content": "no items here"})
	if !r.IsError {
		t.Error("expected error for checklist without items")
	}
}

func TestDeleteTaskAndForceSave(t *testing.T) {
	srv, eng := testServer(t)
	_ = callTool(t, srv, "create_cycle", map[string]interface{}{"title": "Morning"})
	task, _ := eng.AddTask("", engine.TaskInput{Text: "a"})

	r := callTool(t, srv, "delete_task", map[string]interface{}{"task_id": task.ID})
	if r.IsError {
		t.Fatalf("delete_task: %s", resultText(r))
	}
	r = callTool(t, srv, "delete_task", map[string]interface{}{"task_id": task.ID})
	if !r.IsError {
		t.Error("deleting twice should fail")
	}
	if r := callTool(t, srv, "force_save", nil); resultText(r) != "saved" {
		t.Errorf("force_save = %q", resultText(r))
	}
}

func TestGetDocumentAndContract(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_document", nil)
	if !strings.Contains(resultText(r), `"schemaVersion": "2.5"`) {
		t.Errorf("get_document missing schema version")
	}
	r = callTool(t, srv, "get_active_cycle", nil)
	if !r.IsError {
		t.Error("expected error without an active cycle")
	}
	r = callTool(t, srv, "get_schema_contract", nil)
	if resultText(r) != SchemaContract {
		t.Error("contract mismatch")
	}

	contents, err := srv.readSchemaResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil || len(contents) != 1 {
		t.Fatalf("resource = %v, %v", contents, err)
	}
}
