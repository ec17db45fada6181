package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/minicycle/internal/apperr"
)

// Save writes the document if it is dirty.
func (s *Store) Save() error {
	switch s.Status() {
	case StatusReady:
		return s.save()
	case StatusDegraded:
		return nil
	default:
		return fmt.Errorf("state: save: %w", apperr.ErrNotReady)
	}
}

// ForceSave cancels any pending debounced save and writes now.
func (s *Store) ForceSave() error {
	switch s.Status() {
	case StatusReady:
		s.cancelPendingSave()
		return s.save()
	case StatusDegraded:
		return nil
	default:
		return fmt.Errorf("state: force save: %w", apperr.ErrNotReady)
	}
}

func (s *Store) scheduleSave() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.timer == nil {
		s.timer = time.AfterFunc(s.saveDelay, s.flushScheduled)
		return
	}
	s.timer.Reset(s.saveDelay)
}

func (s *Store) cancelPendingSave() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
}

func (s *Store) flushScheduled() {
	_ = s.save()
}

// save encodes whatever document is current when it acquires the write
// lock, so a late timer never writes stale data. The dirty flag is cleared
// only if no update landed while the write was in flight.
func (s *Store) save() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	doc, dirty, gen := s.doc, s.dirty, s.gen
	s.mu.RUnlock()
	if !dirty || doc == nil {
		return nil
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		err = fmt.Errorf("state: save: %w: %w", apperr.ErrSerialization, err)
		s.saveFailed(err)
		return err
	}
	if err := s.provider.Write(s.key, raw); err != nil {
		err = fmt.Errorf("state: save: %w", err)
		s.saveFailed(err)
		return err
	}

	s.mu.Lock()
	if s.gen == gen {
		s.dirty = false
	}
	s.mu.Unlock()

	s.logger.Debug("state: saved", slog.String("key", s.key), slog.Int("bytes", len(raw)))
	s.emit(Saved{Key: s.key, Bytes: len(raw)})
	return nil
}

func (s *Store) saveFailed(err error) {
	s.logger.Error("state: save failed", slog.String("key", s.key), slog.String("error", err.Error()))
	if apperr.IsDataLossRisk(err) {
		s.notify(LevelPersistent, "Your changes could not be saved. Export your data to avoid losing it.", err)
	} else {
		s.notify(LevelTransient, "Saving failed; will retry on the next change.", err)
	}
	s.emit(SaveFailed{Key: s.key, Err: err})
}
