package migrate

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/minicycle/internal/apperr"
	"github.com/starford/minicycle/internal/models"
	"github.com/starford/minicycle/internal/storage"
)

// Migrator upgrades raw persisted data to the current schema.
type Migrator struct {
	provider   storage.Provider
	logger     *slog.Logger
	now        func() time.Time
	maxBackups int
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Migrator) { m.logger = l }
}

// WithClock overrides the time source used for timestamps and backup keys.
func WithClock(now func() time.Time) Option {
	return func(m *Migrator) { m.now = now }
}

// WithMaxBackups caps the number of automatic backups kept in the index.
func WithMaxBackups(n int) Option {
	return func(m *Migrator) {
		if n > 0 {
			m.maxBackups = n
		}
	}
}

// New creates a Migrator that reads side keys and writes backups through p.
func New(p storage.Provider, opts ...Option) *Migrator {
	m := &Migrator{
		provider:   p,
		logger:     slog.Default(),
		now:        time.Now,
		maxBackups: DefaultMaxBackup,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Result is the outcome of a successful Migrate call.
type Result struct {
	Document  *models.Document
	From      Version
	Migrated  bool   // false when the input was already current
	BackupKey string // set when the input was upgraded or repaired
	Report    Report
}

// Failure reports a migration that did not produce a document. The
// original bytes are untouched; BackupKey names the copy taken first.
type Failure struct {
	Reason    string
	BackupKey string
	BackupErr error // non-nil when the backup itself could not be written
	Err       error
}

func (f *Failure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "migrate: %s", f.Reason)
	if f.Err != nil {
		fmt.Fprintf(&b, ": %v", f.Err)
	}
	if f.BackupErr != nil {
		fmt.Fprintf(&b, " (backup failed: %v)", f.BackupErr)
	} else if f.BackupKey != "" {
		fmt.Fprintf(&b, " (backup at %s)", f.BackupKey)
	}
	return b.String()
}

func (f *Failure) Unwrap() []error {
	errs := []error{apperr.ErrMigration}
	for _, err := range []error{f.Err, f.BackupErr} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Fatal reports whether no backup exists, in which case storage must be
// treated as read-only.
func (f *Failure) Fatal() bool {
	return f.BackupErr != nil
}

// migrationInfo is written after every successful upgrade.
type migrationInfo struct {
	From      Version `json:"from"`
	To        Version `json:"to"`
	Date      int64   `json:"date"`
	BackupKey string  `json:"backupKey"`
	Repairs   int     `json:"repairs"`
}

// Migrate brings raw, read from sourceKey, to the current schema. It never
// writes sourceKey or the primary document key; the caller persists
// Result.Document once it accepts it.
func (m *Migrator) Migrate(sourceKey string, raw []byte) (*Result, error) {
	version, err := DetectVersion(raw)
	if err != nil {
		return nil, m.fail(sourceKey, raw, "unrecognized data", err)
	}

	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, m.fail(sourceKey, raw, "decode", err)
	}

	if version == VersionCurrent {
		doc, report, err := decodeCurrent(tree)
		if err != nil {
			return nil, m.fail(sourceKey, raw, "current document is not repairable", err)
		}
		m.logReport(report)
		res := &Result{Document: doc, From: version, Report: report}
		if report.Empty() {
			return res, nil
		}
		// The caller overwrites sourceKey with the repaired document.
		backupKey, err := m.backup(sourceKey, raw, "pre-repair")
		if err != nil {
			m.logger.Error("migrate: backup failed, refusing to repair",
				slog.String("source", sourceKey), slog.String("error", err.Error()))
			return nil, &Failure{Reason: "refusing to repair without a backup", BackupErr: err}
		}
		res.BackupKey = backupKey
		return res, nil
	}

	backupKey, err := m.backup(sourceKey, raw, "pre-migration")
	if err != nil {
		m.logger.Error("migrate: backup failed, refusing to migrate",
			slog.String("source", sourceKey), slog.String("error", err.Error()))
		return nil, &Failure{Reason: "refusing to migrate without a backup", BackupErr: err}
	}
	m.logger.Info("migrate: backup written",
		slog.String("key", backupKey), slog.String("from", string(version)))

	report := &Report{}
	side, err := readLegacySide(m.provider)
	if err != nil {
		return nil, &Failure{Reason: "read legacy settings", BackupKey: backupKey, Err: err}
	}
	env := &stepEnv{side: side, now: m.now(), from: version, report: report}

	upgraded, err := runSafely(tree, env)
	if err != nil {
		m.logger.Error("migrate: transform failed",
			slog.String("from", string(version)), slog.String("error", err.Error()))
		return nil, &Failure{Reason: "transform failed", BackupKey: backupKey, Err: err}
	}

	doc, repairs, err := decodeCurrent(upgraded)
	if err != nil {
		return nil, &Failure{Reason: "migrated document is invalid", BackupKey: backupKey, Err: err}
	}
	report.Entries = append(report.Entries, repairs.Entries...)
	m.logReport(*report)

	info, _ := json.Marshal(migrationInfo{
		From: version, To: VersionCurrent, Date: env.now.UnixMilli(),
		BackupKey: backupKey, Repairs: len(repairs.Entries),
	})
	if err := m.provider.Write(storage.KeyMigrationInfo, info); err != nil {
		m.logger.Warn("migrate: could not record migration info", slog.String("error", err.Error()))
	}

	return &Result{Document: doc, From: version, Migrated: true, BackupKey: backupKey, Report: *report}, nil
}

// fail backs up raw and wraps cause in a Failure.
func (m *Migrator) fail(sourceKey string, raw []byte, reason string, cause error) error {
	f := &Failure{Reason: reason, Err: cause}
	key, err := m.backup(sourceKey, raw, reason)
	if err != nil {
		f.BackupErr = err
	} else {
		f.BackupKey = key
	}
	m.logger.Error("migrate: failed", slog.String("source", sourceKey),
		slog.String("reason", reason), slog.String("error", cause.Error()),
		slog.String("backup_key", f.BackupKey))
	return f
}

// runSafely runs the step chain, converting a panic in a step into an error.
func runSafely(tree map[string]any, env *stepEnv) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("migrate: step panicked: %v", r)
		}
	}()
	return run(tree, env)
}

// decodeCurrent turns a current-schema tree into a validated document.
func decodeCurrent(tree map[string]any) (*models.Document, Report, error) {
	var report Report
	sanitizeTree(tree, &report)
	b, err := json.Marshal(tree)
	if err != nil {
		return nil, report, fmt.Errorf("%w: %w", apperr.ErrSerialization, err)
	}
	var doc models.Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, report, fmt.Errorf("%w: %w", apperr.ErrSerialization, err)
	}
	repaired, repairs := ValidateAndRepair(&doc)
	report.Entries = append(report.Entries, repairs.Entries...)
	if err := repaired.Validate(); err != nil {
		return nil, report, fmt.Errorf("%w: %w", apperr.ErrInvalidDocument, err)
	}
	return repaired, report, nil
}

// Decode is decodeCurrent for callers outside the migration path, such as
// data import.
func Decode(raw []byte) (*models.Document, Report, error) {
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, Report{}, fmt.Errorf("migrate: decode: %w: %w", apperr.ErrSerialization, err)
	}
	if !isCurrent(tree) {
		return nil, Report{}, fmt.Errorf("migrate: decode: %w", ErrUnrecognized)
	}
	return decodeCurrent(tree)
}

func (m *Migrator) logReport(r Report) {
	for _, e := range r.Entries {
		m.logger.Info("migrate: repaired", slog.String("detail", e))
	}
}

// IsFailure unwraps err into a *Failure.
func IsFailure(err error) (*Failure, bool) {
	var f *Failure
	ok := errors.As(err, &f)
	return f, ok
}
