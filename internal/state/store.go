// Package state owns the canonical in-memory document. Every change goes
// through Store.Update, which applies a mutator to a private copy, checks
// invariants, swaps the copy in and schedules a debounced save.
package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/starford/minicycle/internal/apperr"
	"github.com/starford/minicycle/internal/migrate"
	"github.com/starford/minicycle/internal/models"
	"github.com/starford/minicycle/internal/storage"
)

// DefaultSaveDelay is the quiet period before a debounced save.
const DefaultSaveDelay = 600 * time.Millisecond

// Status is the lifecycle state of a Store.
type Status int32

const (
	StatusUninitialized Status = iota
	StatusLoading
	StatusReady
	// StatusDegraded serves reads but rejects updates; storage could not
	// be migrated without risking data loss.
	StatusDegraded
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Mutator changes a working copy of the document. Returning an error or
// panicking aborts the update and leaves the document untouched.
type Mutator func(doc *models.Document) error

// Listener is called after a successful update with the new and previous
// documents. Both are read-only.
type Listener func(next, prev *models.Document)

type subscription struct {
	id  uint64
	key string
	fn  Listener
}

// Store holds the document and coordinates persistence.
//
// Documents returned by Get and passed to listeners are never mutated after
// they are published; an update always installs a new copy. Callers must
// treat them as read-only. Listeners must not call Update synchronously.
type Store struct {
	provider  storage.Provider
	migrator  *migrate.Migrator
	logger    *slog.Logger
	notifier  Notifier
	saveDelay time.Duration
	now       func() time.Time
	key       string

	group     singleflight.Group
	status    atomic.Int32
	ready     chan struct{}
	readyOnce sync.Once

	updateMu sync.Mutex // serialises Update calls end to end

	mu          sync.RWMutex
	doc         *models.Document
	dirty       bool
	gen         uint64
	degradedErr error

	saveMu  sync.Mutex // serialises writes
	timerMu sync.Mutex
	timer   *time.Timer

	subsMu    sync.RWMutex
	subs      []subscription
	nextSubID uint64
	observers []Observer
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithNotifier sets where user-facing notifications go.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithSaveDelay sets the debounce window for non-immediate updates.
func WithSaveDelay(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.saveDelay = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMigrator sets the migrator used by Init.
func WithMigrator(m *migrate.Migrator) Option {
	return func(s *Store) { s.migrator = m }
}

// WithKey changes the storage key of the document.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithObserver registers an observer before Init runs.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observers = append(s.observers, o) }
}

// New creates an uninitialised store persisting through p.
func New(p storage.Provider, opts ...Option) *Store {
	s := &Store{
		provider:  p,
		logger:    slog.Default(),
		saveDelay: DefaultSaveDelay,
		now:       time.Now,
		key:       storage.KeyDocument,
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = LogNotifier{Logger: s.logger}
	}
	if s.migrator == nil {
		s.migrator = migrate.New(p, migrate.WithLogger(s.logger), migrate.WithClock(s.now))
	}
	return s
}

// Status returns the lifecycle state.
func (s *Store) Status() Status {
	return Status(s.status.Load())
}

// Ready is closed once Init has finished, in either Ready or Degraded state.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// WaitReady blocks until Init finishes, ctx is done or timeout elapses.
func (s *Store) WaitReady(ctx context.Context, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("state: wait ready: %w", ctx.Err())
	case <-t.C:
		s.logger.Warn("state: store not ready in time, continuing without it",
			slog.Duration("timeout", timeout), slog.String("status", s.Status().String()))
		return fmt.Errorf("state: wait ready: %w", apperr.ErrNotReady)
	}
}

// Init loads the persisted document, migrating it if needed, or creates a
// fresh one. Concurrent calls share a single load. In degraded mode the
// returned error wraps apperr.ErrReadOnly and the document is still usable
// for reads.
func (s *Store) Init(ctx context.Context) (*models.Document, error) {
	switch s.Status() {
	case StatusReady:
		return s.current(), nil
	case StatusDegraded:
		return s.degradedState()
	}

	ch := s.group.DoChan("init", func() (any, error) {
		return s.load()
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("state: init: %w", ctx.Err())
	case res := <-ch:
		doc, _ := res.Val.(*models.Document)
		return doc, res.Err
	}
}

func (s *Store) load() (*models.Document, error) {
	switch s.Status() {
	case StatusReady:
		return s.current(), nil
	case StatusDegraded:
		return s.degradedState()
	}
	s.status.Store(int32(StatusLoading))

	source := s.key
	raw, err := s.provider.Read(source)
	if err == nil && raw == nil {
		source = storage.KeyLegacyCycles
		raw, err = s.provider.Read(source)
	}
	if err != nil {
		return s.degrade(fmt.Errorf("read %s: %w", source, err))
	}

	if raw == nil {
		s.logger.Info("state: no saved data, starting fresh")
		return s.startFresh(), nil
	}

	res, err := s.migrator.Migrate(source, raw)
	if err != nil {
		f, ok := migrate.IsFailure(err)
		if !ok || f.Fatal() {
			return s.degrade(err)
		}
		s.notify(LevelPersistent, fmt.Sprintf(
			"Saved data could not be loaded and was backed up as %q. Starting with an empty document.", f.BackupKey), err)
		return s.startFresh(), nil
	}

	s.install(res.Document, res.Migrated || !res.Report.Empty())
	switch {
	case res.Migrated:
		s.logger.Info("state: migrated saved data",
			slog.String("from", string(res.From)), slog.String("backup_key", res.BackupKey),
			slog.Int("repairs", len(res.Report.Entries)))
		s.emit(Migrated{From: res.From, BackupKey: res.BackupKey, Repairs: res.Report.Entries})
		s.notify(LevelTransient, "Your data was upgraded to the latest format.", nil)
	case !res.Report.Empty():
		s.logger.Warn("state: repaired saved data",
			slog.String("backup_key", res.BackupKey), slog.Int("repairs", len(res.Report.Entries)))
		s.emit(Migrated{From: res.From, BackupKey: res.BackupKey, Repairs: res.Report.Entries})
		s.notify(LevelTransient, fmt.Sprintf("Some saved data was repaired. The original was backed up as %q.", res.BackupKey), nil)
	}
	_ = s.save()
	s.markReady(Ready{Document: res.Document})
	return res.Document, nil
}

func (s *Store) startFresh() *models.Document {
	doc := models.NewDocument(s.now())
	s.install(doc, true)
	_ = s.save()
	s.markReady(Ready{Document: doc, Fresh: true})
	return doc
}

func (s *Store) install(doc *models.Document, dirty bool) {
	s.mu.Lock()
	s.doc = doc
	s.dirty = dirty
	s.gen++
	s.mu.Unlock()
}

func (s *Store) markReady(ev Ready) {
	s.status.Store(int32(StatusReady))
	s.readyOnce.Do(func() { close(s.ready) })
	s.emit(ev)
}

func (s *Store) degrade(cause error) (*models.Document, error) {
	err := fmt.Errorf("state: init: %w: %w", apperr.ErrReadOnly, cause)
	doc := models.NewDocument(s.now())

	s.mu.Lock()
	s.doc = doc
	s.dirty = false
	s.degradedErr = err
	s.mu.Unlock()

	s.status.Store(int32(StatusDegraded))
	s.logger.Error("state: entering read-only mode", slog.String("error", err.Error()))
	s.notify(LevelPersistent,
		"Saved data could not be migrated safely. Changes are disabled until storage is repaired; export a backup before retrying.", cause)
	s.readyOnce.Do(func() { close(s.ready) })
	s.emit(Degraded{Err: err})
	return doc, err
}

func (s *Store) degradedState() (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc, s.degradedErr
}

func (s *Store) current() *models.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

// Get returns the current document. The result must not be modified.
func (s *Store) Get() (*models.Document, error) {
	switch s.Status() {
	case StatusReady, StatusDegraded:
		return s.current(), nil
	default:
		return nil, fmt.Errorf("state: get: %w", apperr.ErrNotReady)
	}
}

// Dirty reports whether the document has changes not yet written.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// Update applies fn to a copy of the document. On success the copy becomes
// the current document, lastModified is stamped, a save is scheduled (or
// performed at once when immediate is set) and listeners run. A failing
// mutator or a copy that breaks an invariant leaves the document untouched
// and returns an error wrapping apperr.ErrMutator.
//
// Save failures are reported through the notifier and events, not the
// returned error; the document stays dirty and the next save retries.
func (s *Store) Update(fn Mutator, immediate bool) error {
	switch s.Status() {
	case StatusReady:
	case StatusDegraded:
		return fmt.Errorf("state: update: %w", apperr.ErrReadOnly)
	default:
		return fmt.Errorf("state: update: %w", apperr.ErrNotReady)
	}

	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	prev := s.current()
	next := prev.Clone()
	if err := applyMutator(fn, next); err != nil {
		s.logger.Warn("state: update rejected", slog.String("error", err.Error()))
		return fmt.Errorf("state: update: %w", err)
	}
	for _, fix := range next.EnforceInvariants() {
		s.logger.Debug("state: invariant enforced", slog.String("detail", fix))
	}
	if err := next.Validate(); err != nil {
		s.logger.Warn("state: update produced an invalid document", slog.String("error", err.Error()))
		return fmt.Errorf("state: update: %w: %w: %w", apperr.ErrMutator, apperr.ErrInvalidDocument, err)
	}
	next.Metadata.LastModified = s.now().UnixMilli()

	s.mu.Lock()
	s.doc = next
	s.dirty = true
	s.gen++
	s.mu.Unlock()

	if immediate {
		s.cancelPendingSave()
		_ = s.save()
	} else {
		s.scheduleSave()
	}

	s.publish(next, prev)
	return nil
}

func applyMutator(fn Mutator, doc *models.Document) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", apperr.ErrMutator, r)
		}
	}()
	if err := fn(doc); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrMutator, err)
	}
	return nil
}

// Close cancels the pending debounced save and flushes any dirty state.
func (s *Store) Close() error {
	s.cancelPendingSave()
	if s.Status() != StatusReady {
		return nil
	}
	return s.save()
}

func (s *Store) notify(level Level, msg string, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("state: notifier panicked", slog.Any("panic", r))
		}
	}()
	s.notifier.Notify(Notification{Level: level, Message: msg, Err: err})
}
