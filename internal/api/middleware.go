// Package api implements the miniCycle REST API using chi.
package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/starford/minicycle/internal/apperr"
	"github.com/starford/minicycle/internal/engine"
)

// AuthMiddleware returns middleware that validates a Bearer token.
// With enabled false every request passes through.
func AuthMiddleware(enabled bool, token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="minicycle"`)
				writeJSON(w, http.StatusUnauthorized, errorBody("missing or invalid bearer token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ReadyMiddleware holds requests until the engine has loaded the document.
// It answers 503 when loading takes longer than the engine's ready timeout.
func ReadyMiddleware(eng *engine.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := eng.WaitReady(r.Context()); err != nil {
				if errors.Is(err, apperr.ErrNotReady) {
					w.Header().Set("Retry-After", "1")
					writeError(w, "wait ready", err)
				}
				// Otherwise the client went away.
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
