package storage

import (
	"database/sql"
	"errors"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/starford/minicycle/internal/apperr"
)

const kvSchemaSQL = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLite implements Provider on a single kv table.
type SQLite struct {
	conn  *sql.DB
	quota int64
}

// OpenSQLite opens (or creates) the database and applies the schema.
func OpenSQLite(dsn string, quota int64) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("storage: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: ping: %w: %w", apperr.ErrStorageUnavailable, err)
	}
	if _, err := conn.Exec(kvSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}
	return &SQLite{conn: conn, quota: quota}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

func (s *SQLite) Read(key string) ([]byte, error) {
	var v []byte
	err := s.conn.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", key, classifySQLite(err))
	}
	return v, nil
}

func (s *SQLite) Write(key string, raw []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("storage: begin: %w", classifySQLite(err))
	}
	defer tx.Rollback() //nolint:errcheck

	if s.quota > 0 {
		var used int64
		if err := tx.QueryRow(`SELECT COALESCE(SUM(LENGTH(value)), 0) FROM kv WHERE key <> ?`, key).Scan(&used); err != nil {
			return fmt.Errorf("storage: usage: %w", classifySQLite(err))
		}
		if used+int64(len(raw)) > s.quota {
			return fmt.Errorf("storage: write %s: %w (%d of %d bytes used)", key, apperr.ErrQuotaExceeded, used, s.quota)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, raw); err != nil {
		return fmt.Errorf("storage: write %s: %w", key, classifySQLite(err))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", classifySQLite(err))
	}
	return nil
}

func (s *SQLite) Remove(key string) error {
	if _, err := s.conn.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("storage: remove %s: %w", key, classifySQLite(err))
	}
	return nil
}

func (s *SQLite) Keys() ([]string, error) {
	rows, err := s.conn.Query(`SELECT key FROM kv ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", classifySQLite(err))
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("storage: list: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func classifySQLite(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrFull {
		return fmt.Errorf("%w: %w", apperr.ErrQuotaExceeded, err)
	}
	return fmt.Errorf("%w: %w", apperr.ErrStorageUnavailable, err)
}
