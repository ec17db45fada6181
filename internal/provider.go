package internal

import (
	"fmt"
	"os"

	"github.com/starford/minicycle/internal/storage"
)

// OpenProvider builds the storage backend named by cfg. The returned close
// function releases it and is never nil.
func OpenProvider(cfg StorageConfig) (storage.Provider, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Driver {
	case DriverFS:
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, noop, fmt.Errorf("create data dir: %w", err)
		}
		fs, err := storage.NewFS(cfg.Path, cfg.QuotaBytes)
		if err != nil {
			return nil, noop, err
		}
		return fs, noop, nil
	case DriverSQLite:
		db, err := storage.OpenSQLite(cfg.Path, cfg.QuotaBytes)
		if err != nil {
			return nil, noop, err
		}
		return db, db.Close, nil
	case DriverMemory:
		return storage.NewMemory(cfg.QuotaBytes), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
