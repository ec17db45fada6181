package storage

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/minicycle/internal/checksum"
)

// Change kinds reported by Watch.
const (
	ChangeUpdated = "updated"
	ChangeRemoved = "removed"
)

// ChangeCallback is called for a key modified by another process.
type ChangeCallback func(kind string, key string)

const watchDebounce = 200 * time.Millisecond

// Watch observes the FS root until ctx is cancelled and reports keys that
// were changed by something other than this process. Events for a key are
// debounced so an editor's write-then-rename shows up once.
func Watch(ctx context.Context, store *FS, logger *slog.Logger, cb ChangeCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(store.Root()); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", store.Root()))

	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerCh <-chan time.Time

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(watchDebounce)
			timerCh = timer.C
		} else {
			timer.Reset(watchDebounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			for key := range pending {
				delete(pending, key)
				kind, external := classifyChange(store, key)
				if !external {
					continue
				}
				logger.Debug("watcher: external change", slog.String("key", key), slog.String("op", kind))
				if cb != nil {
					cb(kind, key)
				}
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			key, ok := store.KeyForPath(ev.Name)
			if !ok {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			pending[key] = struct{}{}
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// classifyChange compares the file on disk with the last write made through
// store. Matching content means the event came from this process.
func classifyChange(store *FS, key string) (kind string, external bool) {
	p, err := store.path(key)
	if err != nil {
		return "", false
	}
	data, err := os.ReadFile(p)
	last, known := store.WrittenChecksum(key)
	if err != nil {
		if os.IsNotExist(err) {
			return ChangeRemoved, known
		}
		return "", false
	}
	if known && checksum.Sum(data) == last {
		return "", false
	}
	return ChangeUpdated, true
}
