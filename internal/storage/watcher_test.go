package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func TestWatcher_ReportsExternalWritesOnly(t *testing.T) {
	s := tempStore(t, 0)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var events []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, s, logger, func(kind, key string) {
			mu.Lock()
			events = append(events, kind+":"+key)
			mu.Unlock()
		})
	}()
	time.Sleep(100 * time.Millisecond)

	// Own write: must not be reported.
	if err := s.Write(KeyDocument, []byte(`{"own":true}`)); err != nil {
		t.Fatal(err)
	}
	time.Sleep(400 * time.Millisecond)
	mu.Lock()
	if len(events) != 0 {
		t.Errorf("own write reported: %v", events)
	}
	mu.Unlock()

	// External write.
	_ = os.WriteFile(filepath.Join(s.Root(), KeyDocument+".json"), []byte(`{"other":true}`), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			if e == ChangeUpdated+":"+KeyDocument {
				return true
			}
		}
		return false
	}, "expected external update event")

	cancel()
	<-done
}
