// Package testutil provides shared test helpers for booting engines over
// throwaway storage.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/starford/minicycle/internal/engine"
	"github.com/starford/minicycle/internal/storage"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// TestFS creates a temporary data directory with an FS provider.
func TestFS(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	fs, err := storage.NewFS(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	return dir, fs
}

// Engine boots an engine over p that only saves on demand and captures
// every distinct change. It is shut down when the test ends.
func Engine(t *testing.T, p storage.Provider, opts ...engine.Option) *engine.Engine {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.SaveDelay = time.Hour
	cfg.HistoryMinInterval = 0

	opts = append([]engine.Option{engine.WithLogger(Logger())}, opts...)
	eng := engine.New(p, cfg, opts...)
	if err := eng.Boot(context.Background()); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	t.Cleanup(func() { _ = eng.Shutdown() })
	return eng
}
