package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/starford/minicycle/internal/engine"
	"github.com/starford/minicycle/internal/models"
	"github.com/starford/minicycle/internal/storage"
	"github.com/starford/minicycle/internal/testutil"
)

// testEnv boots an engine over an in-memory provider and mounts the router.
// An empty authToken means auth is disabled.
func testEnv(t *testing.T, authToken string) (*engine.Engine, http.Handler) {
	t.Helper()
	return testEnvWithSSE(t, authToken != "", authToken, nil)
}

func testEnvWithSSE(t *testing.T, authEnabled bool, token string, sseHandler http.Handler) (*engine.Engine, http.Handler) {
	t.Helper()
	return testEnvWithProvider(t, storage.NewMemory(0), authEnabled, token, sseHandler)
}

func testEnvWithProvider(t *testing.T, p storage.Provider, authEnabled bool, token string, sseHandler http.Handler) (*engine.Engine, http.Handler) {
	t.Helper()
	eng := testutil.Engine(t, p)
	return eng, NewRouter(eng, authEnabled, token, sseHandler)
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createCycle(t *testing.T, router http.Handler, title string) models.Cycle {
	t.Helper()
	w := do(t, router, http.MethodPost, "/cycles", map[string]string{"title": title})
	if w.Code != http.StatusCreated {
		t.Fatalf("create cycle status = %d, body = %s", w.Code, w.Body.String())
	}
	var c models.Cycle
	if err := json.Unmarshal(w.Body.Bytes(), &c); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestCreateCycleAndGetActive(t *testing.T) {
	_, router := testEnv(t, "")
	c := createCycle(t, router, "Morning")

	w := do(t, router, http.MethodGet, "/document/active", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get active status = %d", w.Code)
	}
	var got models.Cycle
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.ID != c.ID || got.Title != "Morning" {
		t.Errorf("active = %+v", got)
	}
}

func TestCreateCycleValidation(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/cycles", map[string]string{"title": "   "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank title = %d, want 400", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/cycles", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad json = %d, want 400", rec.Code)
	}
}

func TestAddToggleAndDeleteTask(t *testing.T) {
	_, router := testEnv(t, "")
	c := createCycle(t, router, "Morning")

	w := do(t, router, http.MethodPost, "/cycles/active/tasks", map[string]any{"text": "stretch", "highPriority": true})
	if w.Code != http.StatusCreated {
		t.Fatalf("add task status = %d, body = %s", w.Code, w.Body.String())
	}
	var task models.Task
	_ = json.Unmarshal(w.Body.Bytes(), &task)
	if !task.HighPriority || task.Text != "stretch" {
		t.Errorf("task = %+v", task)
	}
	// Second task keeps the cycle from auto-resetting on the first toggle.
	if w := do(t, router, http.MethodPost, "/cycles/"+c.ID+"/tasks", map[string]any{"text": "coffee"}); w.Code != http.StatusCreated {
		t.Fatalf("add second task = %d", w.Code)
	}

	w = do(t, router, http.MethodPost, "/cycles/"+c.ID+"/tasks/"+task.ID+"/toggle", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("toggle status = %d", w.Code)
	}
	_ = json.Unmarshal(w.Body.Bytes(), &task)
	if !task.Completed {
		t.Error("task should be completed after toggle")
	}

	w = do(t, router, http.MethodDelete, "/cycles/"+c.ID+"/tasks/"+task.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete task status = %d", w.Code)
	}
	w = do(t, router, http.MethodDelete, "/cycles/"+c.ID+"/tasks/"+task.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestAddTaskRejectsBadDueDate(t *testing.T) {
	_, router := testEnv(t, "")
	createCycle(t, router, "Morning")
	w := do(t, router, http.MethodPost, "/cycles/active/tasks", map[string]any{"text": "x", "dueDate": "tomorrow"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad due date = %d, want 400", w.Code)
	}
}

func TestAddTaskUnknownCycle(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodPost, "/cycles/ghost/tasks", map[string]any{"text": "x"})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown cycle = %d, want 404", w.Code)
	}
}

func TestSetActiveAndDeleteCycle(t *testing.T) {
	_, router := testEnv(t, "")
	first := createCycle(t, router, "Morning")
	createCycle(t, router, "Evening")

	w := do(t, router, http.MethodPut, "/active", map[string]string{"cycleId": first.ID})
	if w.Code != http.StatusNoContent {
		t.Fatalf("set active = %d, body = %s", w.Code, w.Body.String())
	}
	if w := do(t, router, http.MethodPut, "/active", map[string]string{"cycleId": "ghost"}); w.Code != http.StatusNotFound {
		t.Errorf("set unknown active = %d, want 404", w.Code)
	}

	if w := do(t, router, http.MethodDelete, "/cycles/"+first.ID, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete cycle = %d", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/document/active", nil); w.Code != http.StatusNotFound {
		t.Errorf("active after delete = %d, want 404", w.Code)
	}
}

func TestUndoRedoEndpoints(t *testing.T) {
	_, router := testEnv(t, "")
	createCycle(t, router, "Morning")
	do(t, router, http.MethodPost, "/cycles/active/tasks", map[string]any{"text": "a"})

	w := do(t, router, http.MethodPost, "/undo", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("undo = %d", w.Code)
	}
	var step StepResponse
	_ = json.Unmarshal(w.Body.Bytes(), &step)
	if !step.Applied || !step.History.CanRedo {
		t.Errorf("undo response = %+v", step)
	}

	w = do(t, router, http.MethodGet, "/document/active", nil)
	var c models.Cycle
	_ = json.Unmarshal(w.Body.Bytes(), &c)
	if len(c.Tasks) != 0 {
		t.Errorf("tasks after undo = %d", len(c.Tasks))
	}

	w = do(t, router, http.MethodPost, "/redo", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &step)
	if !step.Applied {
		t.Error("redo should apply")
	}
	w = do(t, router, http.MethodPost, "/redo", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &step)
	if w.Code != http.StatusOK || step.Applied {
		t.Errorf("empty redo = %d, %+v", w.Code, step)
	}
}

func TestSnapshotAndHistoryStatus(t *testing.T) {
	_, router := testEnv(t, "")
	createCycle(t, router, "Morning")

	w := do(t, router, http.MethodPost, "/snapshot", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("snapshot = %d", w.Code)
	}
	w = do(t, router, http.MethodGet, "/history", nil)
	var st struct {
		UndoDepth int `json:"undoDepth"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &st)
	if st.UndoDepth != 1 {
		t.Errorf("undoDepth = %d, want 1", st.UndoDepth)
	}
}

func TestForceSaveWritesDocument(t *testing.T) {
	p := storage.NewMemory(0)
	_, router := testEnvWithProvider(t, p, false, "", nil)
	createCycle(t, router, "Morning")
	do(t, router, http.MethodPost, "/cycles/active/tasks", map[string]any{"text": "a"})

	if w := do(t, router, http.MethodPost, "/save", nil); w.Code != http.StatusNoContent {
		t.Fatalf("save = %d", w.Code)
	}
	raw, _ := p.Read(storage.KeyDocument)
	if !bytes.Contains(raw, []byte(`"text":"a"`)) {
		t.Errorf("saved document missing task: %s", raw)
	}
}

func TestGetDocument(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/document", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get document = %d", w.Code)
	}
	var doc models.Document
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.SchemaVersion != models.SchemaVersion {
		t.Errorf("schemaVersion = %q", doc.SchemaVersion)
	}
}

func TestReadOnlyEngineRejectsWrites(t *testing.T) {
	p := storage.NewMemory(0)
	p.SetUnavailable(true)
	_, router := testEnvWithProvider(t, p, false, "", nil)

	if w := do(t, router, http.MethodGet, "/document", nil); w.Code != http.StatusOK {
		t.Errorf("read in degraded mode = %d, want 200", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/cycles", map[string]string{"title": "x"}); w.Code != http.StatusConflict {
		t.Errorf("write in degraded mode = %d, want 409", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	body, _ := json.Marshal(map[string]string{"title": "Morning"})
	req := httptest.NewRequest(http.MethodPost, "/cycles", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Errorf("authed create = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	w := do(t, router, http.MethodGet, "/document", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
	if w.Header().Get("WWW-Authenticate") == "" {
		t.Error("401 should carry a WWW-Authenticate challenge")
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/document", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestRequestsBeforeBootAreUnavailable(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.ReadyTimeout = 20 * time.Millisecond
	eng := engine.New(storage.NewMemory(0), cfg, engine.WithLogger(testutil.Logger()))
	router := NewRouter(eng, false, "", nil)

	w := do(t, router, http.MethodGet, "/document", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("before boot = %d, want 503", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("503 should carry Retry-After")
	}
}

func TestRequestsWaitForBoot(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.ReadyTimeout = 5 * time.Second
	eng := engine.New(storage.NewMemory(0), cfg, engine.WithLogger(testutil.Logger()))
	router := NewRouter(eng, false, "", nil)

	booted := make(chan error, 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		booted <- eng.Boot(context.Background())
	}()
	t.Cleanup(func() { _ = eng.Shutdown() })

	if w := do(t, router, http.MethodGet, "/document", nil); w.Code != http.StatusOK {
		t.Errorf("request during boot = %d, want 200", w.Code)
	}
	if err := <-booted; err != nil {
		t.Fatalf("Boot: %v", err)
	}
}

// SSE endpoint auth tests.

func stubSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "secret", stubSSE())

	w := do(t, router, http.MethodGet, "/events", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "tok", stubSSE())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}
