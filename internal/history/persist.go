package history

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/starford/minicycle/internal/apperr"
	"github.com/starford/minicycle/internal/storage"
)

type persisted struct {
	Version int        `json:"version"`
	Undo    []Snapshot `json:"undo"`
	Redo    []Snapshot `json:"redo"`
}

// Persist writes both stacks under storage.KeyUndoHistory. It is a no-op
// without a provider.
func (m *Manager) Persist() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persist()
}

func (m *Manager) persistLocked() {
	if err := m.persist(); err != nil {
		m.logger.Warn("history: persist failed", slog.String("error", err.Error()))
	}
}

func (m *Manager) persist() error {
	if m.provider == nil {
		return nil
	}
	raw, err := json.Marshal(persisted{Version: SnapshotVersion, Undo: m.undo, Redo: m.redo})
	if err != nil {
		return fmt.Errorf("history: persist: %w: %w", apperr.ErrSerialization, err)
	}
	if err := m.provider.Write(storage.KeyUndoHistory, raw); err != nil {
		return fmt.Errorf("history: persist: %w", err)
	}
	return nil
}

// Load replaces the stacks with the persisted ones. Snapshots whose cycle
// no longer exists are dropped and signatures are recomputed.
func (m *Manager) Load() error {
	if m.provider == nil {
		return nil
	}
	raw, err := m.provider.Read(storage.KeyUndoHistory)
	if err != nil {
		return fmt.Errorf("history: load: %w", err)
	}
	if raw == nil {
		return nil
	}
	var p persisted
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("history: load: %w: %w", apperr.ErrSerialization, err)
	}
	if p.Version != SnapshotVersion {
		m.logger.Warn("history: ignoring persisted history with unknown version", slog.Int("version", p.Version))
		return nil
	}

	exists := func(string) bool { return true }
	if doc, err := m.store.Get(); err == nil {
		exists = func(id string) bool {
			c, ok := doc.Collections.Cycles[id]
			return ok && c != nil
		}
	}
	clean := func(in []Snapshot) []Snapshot {
		out := make([]Snapshot, 0, len(in))
		for _, s := range in {
			if s.ActiveCycleID == "" || !exists(s.ActiveCycleID) {
				continue
			}
			s.Signature = signature(&s)
			out = append(out, s)
		}
		if len(out) > m.limit {
			out = out[len(out)-m.limit:]
		}
		return out
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.undo, m.redo = clean(p.Undo), clean(p.Redo)
	m.logger.Debug("history: loaded", slog.Int("undo", len(m.undo)), slog.Int("redo", len(m.redo)))
	return nil
}
