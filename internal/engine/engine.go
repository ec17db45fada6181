// Package engine wires the migrator, state store and undo history into one
// unit that the daemon, MCP server and CLI share.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/minicycle/internal/apperr"
	"github.com/starford/minicycle/internal/history"
	"github.com/starford/minicycle/internal/migrate"
	"github.com/starford/minicycle/internal/models"
	"github.com/starford/minicycle/internal/state"
	"github.com/starford/minicycle/internal/storage"
)

// Config holds the tunables of the engine.
type Config struct {
	SaveDelay          time.Duration
	ReadyTimeout       time.Duration
	HistoryLimit       int
	HistoryMinInterval time.Duration
	PersistHistory     bool
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		SaveDelay:          state.DefaultSaveDelay,
		ReadyTimeout:       5 * time.Second,
		HistoryLimit:       history.DefaultLimit,
		HistoryMinInterval: history.DefaultMinInterval,
		PersistHistory:     true,
	}
}

// Engine coordinates the document lifecycle.
type Engine struct {
	provider storage.Provider
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	migrator *migrate.Migrator
	store    *state.Store
	history  *history.Manager

	booted   chan struct{}
	bootOnce sync.Once
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	notifier  state.Notifier
	observers []state.Observer
	now       func() time.Time
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithNotifier(n state.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithObserver registers an observer for store and undo history events.
func WithObserver(obs state.Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs) }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New builds an engine over p. Call Boot before use.
func New(p storage.Provider, cfg Config, opts ...Option) *Engine {
	o := options{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.notifier == nil {
		o.notifier = state.LogNotifier{Logger: o.logger}
	}

	m := migrate.New(p, migrate.WithLogger(o.logger), migrate.WithClock(o.now))

	storeOpts := []state.Option{
		state.WithLogger(o.logger),
		state.WithNotifier(o.notifier),
		state.WithSaveDelay(cfg.SaveDelay),
		state.WithClock(o.now),
		state.WithMigrator(m),
	}
	for _, obs := range o.observers {
		storeOpts = append(storeOpts, state.WithObserver(obs))
	}
	st := state.New(p, storeOpts...)

	histOpts := []history.Option{
		history.WithLogger(o.logger),
		history.WithNotifier(o.notifier),
		history.WithClock(o.now),
		history.WithLimit(cfg.HistoryLimit),
		history.WithMinInterval(cfg.HistoryMinInterval),
	}
	for _, obs := range o.observers {
		histOpts = append(histOpts, history.WithObserver(obs))
	}
	if cfg.PersistHistory {
		histOpts = append(histOpts, history.WithProvider(p))
	}

	return &Engine{
		provider: p,
		cfg:      cfg,
		logger:   o.logger,
		now:      o.now,
		migrator: m,
		store:    st,
		history:  history.New(st, histOpts...),
		booted:   make(chan struct{}),
	}
}

// Boot loads the document and restores undo history. A store that comes up
// read-only is not an error; check Degraded.
func (e *Engine) Boot(ctx context.Context) error {
	defer e.bootOnce.Do(func() { close(e.booted) })

	if _, err := e.store.Init(ctx); err != nil {
		if !errors.Is(err, apperr.ErrReadOnly) {
			return fmt.Errorf("engine: boot: %w", err)
		}
		e.logger.Warn("engine: running read-only", slog.String("error", err.Error()))
		return nil
	}

	e.history.Attach()
	if err := e.history.Load(); err != nil {
		e.logger.Warn("engine: undo history not restored", slog.String("error", err.Error()))
	}
	return nil
}

// Shutdown persists history and flushes pending document changes.
func (e *Engine) Shutdown() error {
	e.history.Detach()
	var errs []error
	if e.cfg.PersistHistory && e.store.Status() == state.StatusReady {
		if err := e.history.Persist(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Degraded reports whether the store is read-only.
func (e *Engine) Degraded() bool {
	return e.store.Status() == state.StatusDegraded
}

func (e *Engine) Store() *state.Store        { return e.store }
func (e *Engine) History() *history.Manager  { return e.history }
func (e *Engine) Migrator() *migrate.Migrator { return e.migrator }

// WaitReady blocks until Boot has finished, giving up with
// apperr.ErrNotReady once the configured ready timeout passes.
func (e *Engine) WaitReady(ctx context.Context) error {
	if err := e.store.WaitReady(ctx, e.cfg.ReadyTimeout); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	select {
	case <-e.booted:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine: wait ready: %w", ctx.Err())
	}
}

// Document returns the current document. It must not be modified.
func (e *Engine) Document() (*models.Document, error) {
	return e.store.Get()
}

// ActiveCycle returns the active cycle.
func (e *Engine) ActiveCycle() (*models.Cycle, error) {
	doc, err := e.store.Get()
	if err != nil {
		return nil, err
	}
	c := doc.ActiveCycle()
	if c == nil {
		return nil, fmt.Errorf("engine: active cycle: %w", apperr.ErrNotFound)
	}
	return c, nil
}

// Undo steps back one snapshot.
func (e *Engine) Undo() (bool, error) { return e.history.Undo() }

// Redo steps forward one snapshot.
func (e *Engine) Redo() (bool, error) { return e.history.Redo() }

// CaptureSnapshot records the current state as an undo step.
func (e *Engine) CaptureSnapshot() error { return e.history.CaptureSnapshot() }

// ForceSave writes pending changes now.
func (e *Engine) ForceSave() error { return e.store.ForceSave() }

// update applies fn and, only if the store accepted it, records the state
// before it as an undo step. A rejected operation leaves both stacks as
// they were.
func (e *Engine) update(fn state.Mutator, immediate bool) error {
	prev, err := e.store.Get()
	if err != nil {
		return err
	}
	if err := e.store.Update(fn, immediate); err != nil {
		return err
	}
	e.history.Capture(prev)
	return nil
}
