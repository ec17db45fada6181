package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/minicycle/internal/engine"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(eng *engine.Engine, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(eng)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))
	r.Use(ReadyMiddleware(eng))

	// Document.
	r.Get("/document", h.GetDocument)
	r.Get("/document/active", h.GetActiveCycle)
	r.Post("/save", h.ForceSave)

	// Cycles and tasks.
	r.Post("/cycles", h.CreateCycle)
	r.Delete("/cycles/{id}", h.DeleteCycle)
	r.Put("/active", h.SetActiveCycle)
	r.Post("/cycles/{id}/tasks", h.AddTask)
	r.Delete("/cycles/{id}/tasks/{taskID}", h.DeleteTask)
	r.Post("/cycles/{id}/tasks/{taskID}/toggle", h.ToggleTask)

	// Undo history.
	r.Get("/history", h.HistoryStatus)
	r.Post("/snapshot", h.CaptureSnapshot)
	r.Post("/undo", h.Undo)
	r.Post("/redo", h.Redo)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
