package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/minicycle/internal/engine"
)

// Handler holds API route handlers.
type Handler struct {
	eng *engine.Engine
}

// NewHandler creates a new Handler.
func NewHandler(eng *engine.Engine) *Handler {
	return &Handler{eng: eng}
}

type validatable interface {
	Validate() error
}

// decode reads a JSON body into dst and validates it. It writes the 400
// response itself and reports whether the handler should continue.
func decode(w http.ResponseWriter, r *http.Request, dst validatable) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	if err := dst.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return false
	}
	return true
}

// GetDocument handles GET /document.
//
//	@Summary		Get the full document
//	@Tags			document
//	@Produce		json
//	@Success		200	{object}	models.Document
//	@Failure		503	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/document [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.eng.Document()
	if err != nil {
		writeError(w, "get document", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// GetActiveCycle handles GET /document/active.
//
//	@Summary		Get the active cycle
//	@Tags			document
//	@Produce		json
//	@Success		200	{object}	models.Cycle
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/document/active [get]
func (h *Handler) GetActiveCycle(w http.ResponseWriter, r *http.Request) {
	c, err := h.eng.ActiveCycle()
	if err != nil {
		writeError(w, "get active cycle", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ForceSave handles POST /save.
//
//	@Summary		Write pending changes immediately
//	@Tags			document
//	@Success		204	"Saved"
//	@Failure		507	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/save [post]
func (h *Handler) ForceSave(w http.ResponseWriter, r *http.Request) {
	if err := h.eng.ForceSave(); err != nil {
		writeError(w, "force save", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateCycle handles POST /cycles.
//
//	@Summary		Create a cycle and make it active
//	@Tags			cycles
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateCycleRequest	true	"Cycle to create"
//	@Success		201		{object}	models.Cycle
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/cycles [post]
func (h *Handler) CreateCycle(w http.ResponseWriter, r *http.Request) {
	var req CreateCycleRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.eng.CreateCycle(req.Title)
	if err != nil {
		writeError(w, "create cycle", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// DeleteCycle handles DELETE /cycles/{id}.
//
//	@Summary		Delete a cycle
//	@Tags			cycles
//	@Param			id	path	string	true	"Cycle id"
//	@Success		204	"Cycle deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/cycles/{id} [delete]
func (h *Handler) DeleteCycle(w http.ResponseWriter, r *http.Request) {
	if err := h.eng.DeleteCycle(chi.URLParam(r, "id")); err != nil {
		writeError(w, "delete cycle", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetActiveCycle handles PUT /active.
//
//	@Summary		Switch the active cycle
//	@Tags			cycles
//	@Accept			json
//	@Param			body	body	SetActiveRequest	true	"Cycle to activate"
//	@Success		204	"Switched"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/active [put]
func (h *Handler) SetActiveCycle(w http.ResponseWriter, r *http.Request) {
	var req SetActiveRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.eng.SetActiveCycle(req.CycleID); err != nil {
		writeError(w, "set active cycle", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddTask handles POST /cycles/{id}/tasks. The id "active" targets the
// active cycle.
//
//	@Summary		Add a task to a cycle
//	@Tags			tasks
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Cycle id or 'active'"
//	@Param			body	body		AddTaskRequest	true	"Task to add"
//	@Success		201		{object}	models.Task
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/cycles/{id}/tasks [post]
func (h *Handler) AddTask(w http.ResponseWriter, r *http.Request) {
	var req AddTaskRequest
	if !decode(w, r, &req) {
		return
	}
	task, err := h.eng.AddTask(cycleParam(r), req.input())
	if err != nil {
		writeError(w, "add task", err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// DeleteTask handles DELETE /cycles/{id}/tasks/{taskID}.
//
//	@Summary		Delete a task
//	@Tags			tasks
//	@Param			id		path	string	true	"Cycle id or 'active'"
//	@Param			taskID	path	string	true	"Task id"
//	@Success		204	"Task deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/cycles/{id}/tasks/{taskID} [delete]
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.eng.DeleteTask(cycleParam(r), chi.URLParam(r, "taskID")); err != nil {
		writeError(w, "delete task", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleTask handles POST /cycles/{id}/tasks/{taskID}/toggle.
//
//	@Summary		Toggle task completion
//	@Tags			tasks
//	@Produce		json
//	@Param			id		path		string	true	"Cycle id or 'active'"
//	@Param			taskID	path		string	true	"Task id"
//	@Success		200		{object}	models.Task
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/cycles/{id}/tasks/{taskID}/toggle [post]
func (h *Handler) ToggleTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.eng.ToggleTask(cycleParam(r), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, "toggle task", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// HistoryStatus handles GET /history.
//
//	@Summary		Undo and redo depth
//	@Tags			history
//	@Produce		json
//	@Success		200	{object}	history.Status
//	@Security		BearerAuth
//	@Router			/history [get]
func (h *Handler) HistoryStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.eng.History().Status())
}

// CaptureSnapshot handles POST /snapshot.
//
//	@Summary		Record the current state as an undo step
//	@Tags			history
//	@Produce		json
//	@Success		200	{object}	history.Status
//	@Failure		503	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/snapshot [post]
func (h *Handler) CaptureSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := h.eng.CaptureSnapshot(); err != nil {
		writeError(w, "capture snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, h.eng.History().Status())
}

// Undo handles POST /undo.
//
//	@Summary		Step back one snapshot
//	@Tags			history
//	@Produce		json
//	@Success		200	{object}	StepResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/undo [post]
func (h *Handler) Undo(w http.ResponseWriter, r *http.Request) {
	h.step(w, "undo", h.eng.Undo)
}

// Redo handles POST /redo.
//
//	@Summary		Step forward one snapshot
//	@Tags			history
//	@Produce		json
//	@Success		200	{object}	StepResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/redo [post]
func (h *Handler) Redo(w http.ResponseWriter, r *http.Request) {
	h.step(w, "redo", h.eng.Redo)
}

func (h *Handler) step(w http.ResponseWriter, op string, fn func() (bool, error)) {
	applied, err := fn()
	if err != nil {
		writeError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, StepResponse{Applied: applied, History: h.eng.History().Status()})
}

func cycleParam(r *http.Request) string {
	id := chi.URLParam(r, "id")
	if id == "active" {
		return ""
	}
	return id
}
