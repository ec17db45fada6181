// Package history keeps bounded undo and redo stacks of snapshots of the
// active cycle and restores them through the state store, so every restore
// reaches subscribers like any other update.
package history

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/minicycle/internal/apperr"
	"github.com/starford/minicycle/internal/models"
	"github.com/starford/minicycle/internal/state"
	"github.com/starford/minicycle/internal/storage"
)

const (
	DefaultLimit       = 20
	DefaultMinInterval = 300 * time.Millisecond

	subscriberKey = "undo-history"
)

// Store is the part of state.Store the manager needs.
type Store interface {
	Get() (*models.Document, error)
	Update(fn state.Mutator, immediate bool) error
	Subscribe(key string, fn state.Listener) func()
}

func errMissingCycle(id string) error {
	return fmt.Errorf("%w: cycle %q no longer exists", apperr.ErrInvalidSnapshot, id)
}

type direction int

const (
	dirUndo direction = iota
	dirRedo
)

func (d direction) String() string {
	if d == dirRedo {
		return "redo"
	}
	return "undo"
}

// Status describes the stacks.
type Status struct {
	UndoDepth int  `json:"undoDepth"`
	RedoDepth int  `json:"redoDepth"`
	CanUndo   bool `json:"canUndo"`
	CanRedo   bool `json:"canRedo"`
}

// Manager owns the undo and redo stacks.
type Manager struct {
	store       Store
	provider    storage.Provider
	logger      *slog.Logger
	notifier    state.Notifier
	now         func() time.Time
	limit       int
	minInterval time.Duration

	observers []state.Observer

	restoring atomic.Bool
	opMu      sync.Mutex // serialises Undo and Redo

	mu      sync.Mutex
	undo    []Snapshot
	redo    []Snapshot
	lastSig string
	lastAt  time.Time
	detach  func()
}

// Option configures a Manager.
type Option func(*Manager)

func WithLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.limit = n
		}
	}
}

func WithMinInterval(d time.Duration) Option {
	return func(m *Manager) { m.minInterval = d }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithNotifier(n state.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithObserver registers an observer for Restored events.
func WithObserver(o state.Observer) Option {
	return func(m *Manager) { m.observers = append(m.observers, o) }
}

// WithProvider enables persisting the stacks after every change.
func WithProvider(p storage.Provider) Option {
	return func(m *Manager) { m.provider = p }
}

// New creates a manager over store.
func New(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		logger:      slog.Default(),
		now:         time.Now,
		limit:       DefaultLimit,
		minInterval: DefaultMinInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.notifier == nil {
		m.notifier = state.LogNotifier{Logger: m.logger}
	}
	return m
}

// CaptureSnapshot records the store's current document. Call it before a
// mutation that should be undoable.
func (m *Manager) CaptureSnapshot() error {
	doc, err := m.store.Get()
	if err != nil {
		return fmt.Errorf("history: capture: %w", err)
	}
	m.Capture(doc)
	return nil
}

// Capture records doc and reports whether a snapshot was pushed. Captures
// are skipped while a restore is running, when there is no active cycle and
// when the snapshot matches the previous one.
func (m *Manager) Capture(doc *models.Document) bool {
	if m.restoring.Load() {
		return false
	}
	snap, ok := snapshotOf(doc, m.now())
	if !ok {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if snap.Signature == m.lastSig && now.Sub(m.lastAt) < m.minInterval {
		return false
	}
	if n := len(m.undo); n > 0 && m.undo[n-1].Signature == snap.Signature {
		return false
	}

	m.undo = append(m.undo, snap)
	if len(m.undo) > m.limit {
		m.undo = slices.Delete(m.undo, 0, len(m.undo)-m.limit)
	}
	m.redo = nil
	m.lastSig = snap.Signature
	m.lastAt = now

	m.logger.Debug("history: snapshot captured",
		slog.String("cycle", snap.ActiveCycleID), slog.Int("tasks", len(snap.Tasks)), slog.Int("depth", len(m.undo)))
	m.persistLocked()
	return true
}

// Undo restores the most recent snapshot that differs from the current
// state. It returns false when there is nothing to undo.
func (m *Manager) Undo() (bool, error) {
	return m.step(dirUndo)
}

// Redo reapplies the most recently undone state.
func (m *Manager) Redo() (bool, error) {
	return m.step(dirRedo)
}

func (m *Manager) step(d direction) (bool, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	doc, err := m.store.Get()
	if err != nil {
		return false, fmt.Errorf("history: %s: %w", d, err)
	}
	current, hasCurrent := snapshotOf(doc, m.now())

	m.mu.Lock()
	from, to := &m.undo, &m.redo
	if d == dirRedo {
		from, to = &m.redo, &m.undo
	}
	savedFrom, savedTo := slices.Clone(*from), slices.Clone(*to)

	var target Snapshot
	found := false
	for len(*from) > 0 {
		last := len(*from) - 1
		cand := (*from)[last]
		*from = (*from)[:last]
		if hasCurrent && cand.Signature == current.Signature {
			continue
		}
		target, found = cand, true
		break
	}
	if !found {
		m.mu.Unlock()
		return false, nil
	}
	if c, ok := doc.Collections.Cycles[target.ActiveCycleID]; !ok || c == nil {
		m.persistLocked()
		m.mu.Unlock()
		m.logger.Warn("history: discarding snapshot of a deleted cycle",
			slog.String("op", d.String()), slog.String("cycle", target.ActiveCycleID))
		return false, fmt.Errorf("history: %s: %w", d, errMissingCycle(target.ActiveCycleID))
	}
	if hasCurrent {
		*to = append(*to, current)
		if len(*to) > m.limit {
			*to = slices.Delete(*to, 0, len(*to)-m.limit)
		}
	}
	m.restoring.Store(true)
	m.mu.Unlock()

	// m.mu is not held here: store listeners may call back into Capture.
	err = m.store.Update(target.restore, true)
	m.restoring.Store(false)

	m.mu.Lock()
	if err != nil {
		*from, *to = savedFrom, savedTo
		m.mu.Unlock()
		m.logger.Error("history: restore failed", slog.String("op", d.String()), slog.String("error", err.Error()))
		m.notify(state.LevelTransient, fmt.Sprintf("%s failed, state unchanged", verb(d)), err)
		return false, fmt.Errorf("history: %s: %w", d, err)
	}

	m.lastSig = target.Signature
	m.lastAt = m.now()

	desc := "Change"
	if hasCurrent {
		if d == dirUndo {
			desc = Describe(target, current)
		} else {
			desc = Describe(current, target)
		}
	}
	left := len(*from)
	m.persistLocked()
	m.mu.Unlock()

	m.notify(state.LevelTransient, fmt.Sprintf("%s: %s (%s)", verb(d), desc, stepsLeft(left)), nil)
	if restored, err := m.store.Get(); err == nil {
		m.emit(state.Restored{Direction: d.String(), Description: desc, Document: restored})
	}
	return true, nil
}

func verb(d direction) string {
	if d == dirRedo {
		return "Redone"
	}
	return "Undone"
}

// Attach subscribes to the store so edits to the active cycle are captured
// without callers having to call CaptureSnapshot. Snapshots of cycles that
// get deleted are dropped.
func (m *Manager) Attach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.detach != nil {
		return
	}
	m.detach = m.store.Subscribe(subscriberKey, m.observe)
}

// Detach undoes Attach.
func (m *Manager) Detach() {
	m.mu.Lock()
	detach := m.detach
	m.detach = nil
	m.mu.Unlock()
	if detach != nil {
		detach()
	}
}

func (m *Manager) observe(next, prev *models.Document) {
	if m.restoring.Load() || next == nil || prev == nil {
		return
	}
	m.prune(next, prev)

	id := next.ActiveState.ActiveCycleID
	if id == "" {
		return
	}
	oc, nc := prev.Collections.Cycles[id], next.Collections.Cycles[id]
	if oc == nil || nc == nil {
		return
	}
	now := m.now()
	if newSnapshot(id, oc, now).Signature == newSnapshot(id, nc, now).Signature {
		return
	}

	before := prev.Clone()
	before.ActiveState.ActiveCycleID = id
	m.Capture(before)
}

func (m *Manager) prune(next, prev *models.Document) {
	var gone []string
	for id := range prev.Collections.Cycles {
		if _, ok := next.Collections.Cycles[id]; !ok {
			gone = append(gone, id)
		}
	}
	if len(gone) == 0 {
		return
	}
	drop := func(s Snapshot) bool { return slices.Contains(gone, s.ActiveCycleID) }

	m.mu.Lock()
	defer m.mu.Unlock()
	nu, nr := len(m.undo), len(m.redo)
	m.undo = slices.DeleteFunc(m.undo, drop)
	m.redo = slices.DeleteFunc(m.redo, drop)
	if nu != len(m.undo) || nr != len(m.redo) {
		m.logger.Debug("history: dropped snapshots of deleted cycles", slog.Any("cycles", gone))
		m.persistLocked()
	}
}

// Clear empties both stacks.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.undo, m.redo = nil, nil
	m.lastSig = ""
	m.persistLocked()
}

// Status reports stack depths.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		UndoDepth: len(m.undo),
		RedoDepth: len(m.redo),
		CanUndo:   len(m.undo) > 0,
		CanRedo:   len(m.redo) > 0,
	}
}

// Len returns the number of undo steps.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo)
}

func (m *Manager) notify(level state.Level, msg string, err error) {
	m.notifier.Notify(state.Notification{Level: level, Message: msg, Err: err})
}

func (m *Manager) emit(ev state.Event) {
	for _, o := range m.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("history: observer panicked", slog.Any("panic", r))
				}
			}()
			o.OnEvent(ev)
		}()
	}
}

// IsInvalidSnapshot reports whether err came from restoring a snapshot
// whose cycle is gone.
func IsInvalidSnapshot(err error) bool {
	return errors.Is(err, apperr.ErrInvalidSnapshot)
}
