package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/minicycle/internal/apperr"
	"github.com/starford/minicycle/internal/models"
	"github.com/starford/minicycle/internal/storage"
)

func newTestEngine(t *testing.T, p storage.Provider) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SaveDelay = time.Hour
	cfg.HistoryMinInterval = 0
	e := New(p, cfg, WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))))
	if err := e.Boot(context.Background()); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	t.Cleanup(func() { _ = e.Shutdown() })
	return e
}

func taskTexts(c *models.Cycle) []string {
	out := make([]string, len(c.Tasks))
	for i, task := range c.Tasks {
		out[i] = task.Text
	}
	return out
}

func TestCreateCycleAndAddTasks(t *testing.T) {
	e := newTestEngine(t, storage.NewMemory(0))

	c, err := e.CreateCycle("  Morning  ")
	if err != nil {
		t.Fatalf("CreateCycle: %v", err)
	}
	if c.Title != "Morning" {
		t.Errorf("title = %q", c.Title)
	}
	for _, text := range []string{"stretch", "coffee"} {
		if _, err := e.AddTask("", TaskInput{Text: text}); err != nil {
			t.Fatalf("AddTask: %v", err)
		}
	}

	active, err := e.ActiveCycle()
	if err != nil {
		t.Fatal(err)
	}
	if active.ID != c.ID {
		t.Errorf("active = %q, want %q", active.ID, c.ID)
	}
	if diff := cmp.Diff([]string{"stretch", "coffee"}, taskTexts(active)); diff != "" {
		t.Errorf("tasks (-want +got):\n%s", diff)
	}
	doc, _ := e.Document()
	if doc.Metadata.TotalCyclesCreated != 1 {
		t.Errorf("totalCyclesCreated = %d", doc.Metadata.TotalCyclesCreated)
	}
}

func TestAddTaskRejectsBadInput(t *testing.T) {
	e := newTestEngine(t, storage.NewMemory(0))
	if _, err := e.AddTask("", TaskInput{Text: "x"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("without active cycle err = %v", err)
	}
	if _, err := e.CreateCycle("Morning"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.AddTask("", TaskInput{Text: "   "}); !errors.Is(err, apperr.ErrMutator) {
		t.Errorf("blank text err = %v", err)
	}
	bad := "yesterday"
	if _, err := e.AddTask("", TaskInput{Text: "x", DueDate: &bad}); !errors.Is(err, apperr.ErrMutator) {
		t.Errorf("bad due date err = %v", err)
	}
}

func TestToggleCompletesAutoResetCycle(t *testing.T) {
	e := newTestEngine(t, storage.NewMemory(0))
	c, _ := e.CreateCycle("Morning")
	a, _ := e.AddTask(c.ID, TaskInput{Text: "a"})
	b, _ := e.AddTask(c.ID, TaskInput{Text: "b"})

	if _, err := e.ToggleTask(c.ID, a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ToggleTask(c.ID, b.ID); err != nil {
		t.Fatal(err)
	}

	doc, _ := e.Document()
	cycle := doc.Collections.Cycles[c.ID]
	if cycle.CycleCount != 1 || doc.UserProgress.CyclesCompleted != 1 {
		t.Errorf("cycleCount = %d, cyclesCompleted = %d", cycle.CycleCount, doc.UserProgress.CyclesCompleted)
	}
	for _, task := range cycle.Tasks {
		if task.Completed {
			t.Errorf("task %q should be reset", task.Text)
		}
	}
	if doc.Metadata.TotalTasksCompleted != 2 {
		t.Errorf("totalTasksCompleted = %d", doc.Metadata.TotalTasksCompleted)
	}
}

func TestToggleUnknownTask(t *testing.T) {
	e := newTestEngine(t, storage.NewMemory(0))
	c, _ := e.CreateCycle("Morning")
	if _, err := e.ToggleTask(c.ID, "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestUndoAfterEngineOps(t *testing.T) {
	e := newTestEngine(t, storage.NewMemory(0))
	c, _ := e.CreateCycle("Morning")
	_, _ = e.AddTask(c.ID, TaskInput{Text: "a"})
	_, _ = e.AddTask(c.ID, TaskInput{Text: "b"})

	if ok, err := e.Undo(); !ok || err != nil {
		t.Fatalf("Undo = %v, %v", ok, err)
	}
	active, _ := e.ActiveCycle()
	if diff := cmp.Diff([]string{"a"}, taskTexts(active)); diff != "" {
		t.Errorf("after undo (-want +got):\n%s", diff)
	}
	if ok, err := e.Redo(); !ok || err != nil {
		t.Fatalf("Redo = %v, %v", ok, err)
	}
	active, _ = e.ActiveCycle()
	if diff := cmp.Diff([]string{"a", "b"}, taskTexts(active)); diff != "" {
		t.Errorf("after redo (-want +got):\n%s", diff)
	}
}

func TestRejectedOperationKeepsHistory(t *testing.T) {
	e := newTestEngine(t, storage.NewMemory(0))
	c, _ := e.CreateCycle("Morning")
	_, _ = e.AddTask(c.ID, TaskInput{Text: "a"})
	_, _ = e.AddTask(c.ID, TaskInput{Text: "b"})
	if ok, err := e.Undo(); !ok || err != nil {
		t.Fatalf("Undo = %v, %v", ok, err)
	}
	before := e.History().Status()

	if _, err := e.ToggleTask(c.ID, "no-such-task"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("ToggleTask err = %v", err)
	}
	if _, err := e.AddTask(c.ID, TaskInput{Text: "  "}); err == nil {
		t.Fatal("blank task should be rejected")
	}
	if diff := cmp.Diff(before, e.History().Status()); diff != "" {
		t.Errorf("history changed by rejected operations (-before +after):\n%s", diff)
	}

	if ok, err := e.Redo(); !ok || err != nil {
		t.Fatalf("Redo = %v, %v", ok, err)
	}
	active, _ := e.ActiveCycle()
	if diff := cmp.Diff([]string{"a", "b"}, taskTexts(active)); diff != "" {
		t.Errorf("after redo (-want +got):\n%s", diff)
	}
}

func TestWaitReady(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReadyTimeout = 10 * time.Millisecond
	e := New(storage.NewMemory(0), cfg, WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))))

	if err := e.WaitReady(context.Background()); !errors.Is(err, apperr.ErrNotReady) {
		t.Fatalf("before boot err = %v, want ErrNotReady", err)
	}
	if err := e.Boot(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()
	if err := e.WaitReady(context.Background()); err != nil {
		t.Errorf("after boot err = %v", err)
	}
}

func TestDeleteCycle(t *testing.T) {
	e := newTestEngine(t, storage.NewMemory(0))
	c, _ := e.CreateCycle("Morning")
	if err := e.DeleteCycle(c.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ActiveCycle(); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("active cycle after delete: %v", err)
	}
	if err := e.DeleteCycle(c.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func TestSetActiveCycle(t *testing.T) {
	e := newTestEngine(t, storage.NewMemory(0))
	first, _ := e.CreateCycle("Morning")
	_, _ = e.CreateCycle("Evening")
	if err := e.SetActiveCycle(first.ID); err != nil {
		t.Fatal(err)
	}
	active, _ := e.ActiveCycle()
	if active.ID != first.ID {
		t.Errorf("active = %q", active.ID)
	}
	if err := e.SetActiveCycle("missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestImportReplacesDocumentAndClearsHistory(t *testing.T) {
	e := newTestEngine(t, storage.NewMemory(0))
	_, _ = e.CreateCycle("Old")
	_, _ = e.AddTask("", TaskInput{Text: "old task"})

	incoming := models.NewDocument(time.UnixMilli(1))
	c := models.NewCycle("Imported", time.UnixMilli(1))
	c.Tasks = append(c.Tasks, models.NewTask("new task"))
	incoming.Collections.Cycles[c.ID] = c
	incoming.ActiveState.ActiveCycleID = c.ID

	if err := e.Import(incoming); err != nil {
		t.Fatalf("Import: %v", err)
	}
	active, _ := e.ActiveCycle()
	if active.Title != "Imported" {
		t.Errorf("active = %q", active.Title)
	}
	if e.History().Len() != 0 {
		t.Error("import should clear history")
	}

	broken := models.NewDocument(time.UnixMilli(1))
	broken.ActiveState.ActiveCycleID = "ghost"
	if err := e.Import(broken); !errors.Is(err, apperr.ErrInvalidDocument) {
		t.Errorf("invalid import err = %v", err)
	}
}

func TestShutdownPersistsDocumentAndHistory(t *testing.T) {
	p := storage.NewMemory(0)
	cfg := DefaultConfig()
	cfg.SaveDelay = time.Hour
	cfg.HistoryMinInterval = 0
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	e := New(p, cfg, WithLogger(logger))
	if err := e.Boot(context.Background()); err != nil {
		t.Fatal(err)
	}
	c, _ := e.CreateCycle("Morning")
	_, _ = e.AddTask(c.ID, TaskInput{Text: "a"})
	if err := e.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	again := New(p, cfg, WithLogger(logger))
	if err := again.Boot(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer again.Shutdown()

	active, err := again.ActiveCycle()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a"}, taskTexts(active)); diff != "" {
		t.Errorf("reloaded tasks (-want +got):\n%s", diff)
	}
	if again.History().Len() == 0 {
		t.Error("undo history should survive a restart")
	}
}

func TestBootReadOnly(t *testing.T) {
	p := storage.NewMemory(0)
	p.SetUnavailable(true)
	e := New(p, DefaultConfig(), WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))))
	if err := e.Boot(context.Background()); err != nil {
		t.Fatalf("Boot should tolerate read-only mode: %v", err)
	}
	defer e.Shutdown()
	if !e.Degraded() {
		t.Fatal("expected degraded engine")
	}
	if _, err := e.CreateCycle("x"); !errors.Is(err, apperr.ErrReadOnly) {
		t.Errorf("CreateCycle err = %v", err)
	}
}
