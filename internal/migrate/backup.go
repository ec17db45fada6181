package migrate

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/starford/minicycle/internal/apperr"
	"github.com/starford/minicycle/internal/storage"
)

// Backup envelope constants.
const (
	BackupKeyPrefix  = "auto_migration_backup_"
	BackupType       = "auto_migration_backup"
	backupVersion    = "legacy"
	DefaultMaxBackup = 5
)

// Envelope is the stored form of a pre-migration backup. Data maps each
// captured storage key to its original bytes.
type Envelope struct {
	Version   string            `json:"version"`
	Created   int64             `json:"created"`
	Type      string            `json:"type"`
	SourceKey string            `json:"sourceKey"`
	Reason    string            `json:"reason,omitempty"`
	Data      map[string]string `json:"data"`
}

// BackupEntry is one record of the backup index.
type BackupEntry struct {
	Key     string `json:"key"`
	Created int64  `json:"created"`
	Type    string `json:"type"`
}

// backup stores raw (read from sourceKey) plus every present legacy key and
// records it in the index, evicting the oldest automatic backups beyond the cap.
func (m *Migrator) backup(sourceKey string, raw []byte, reason string) (string, error) {
	created := m.now().UnixMilli()
	env := Envelope{
		Version:   backupVersion,
		Created:   created,
		Type:      BackupType,
		SourceKey: sourceKey,
		Reason:    reason,
		Data:      map[string]string{sourceKey: string(raw)},
	}
	for _, k := range storage.LegacyKeys {
		if k == sourceKey {
			continue
		}
		v, err := m.provider.Read(k)
		if err != nil {
			return "", fmt.Errorf("migrate: backup: read %s: %w", k, err)
		}
		if v != nil {
			env.Data[k] = string(v)
		}
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("migrate: backup: %w: %w", apperr.ErrSerialization, err)
	}

	key, err := m.freeBackupKey(created)
	if err != nil {
		return "", err
	}
	if err := m.provider.Write(key, payload); err != nil {
		return "", fmt.Errorf("migrate: backup: write %s: %w", key, err)
	}

	if err := m.recordBackup(BackupEntry{Key: key, Created: created, Type: BackupType}); err != nil {
		// The backup itself is durable; a stale index only affects pruning.
		m.logger.Warn("migrate: backup index update failed",
			slog.String("key", key), slog.String("error", err.Error()))
	}
	return key, nil
}

func (m *Migrator) freeBackupKey(created int64) (string, error) {
	base := fmt.Sprintf("%s%d", BackupKeyPrefix, created)
	key := base
	for i := 2; ; i++ {
		existing, err := m.provider.Read(key)
		if err != nil {
			return "", fmt.Errorf("migrate: backup: probe %s: %w", key, err)
		}
		if existing == nil {
			return key, nil
		}
		key = fmt.Sprintf("%s_%d", base, i)
	}
}

func (m *Migrator) recordBackup(entry BackupEntry) error {
	index, err := m.Backups()
	if err != nil {
		return err
	}
	index = append(index, entry)
	sort.SliceStable(index, func(i, j int) bool { return index[i].Created < index[j].Created })

	var auto []int
	for i, e := range index {
		if e.Type == BackupType {
			auto = append(auto, i)
		}
	}
	drop := map[int]bool{}
	for len(auto) > m.maxBackups {
		victim := index[auto[0]]
		if err := m.provider.Remove(victim.Key); err != nil {
			return fmt.Errorf("prune %s: %w", victim.Key, err)
		}
		drop[auto[0]] = true
		auto = auto[1:]
	}
	kept := index[:0]
	for i, e := range index {
		if !drop[i] {
			kept = append(kept, e)
		}
	}

	payload, err := json.Marshal(kept)
	if err != nil {
		return err
	}
	return m.provider.Write(storage.KeyBackupIndex, payload)
}

// Backups returns the backup index, oldest first.
func (m *Migrator) Backups() ([]BackupEntry, error) {
	raw, err := m.provider.Read(storage.KeyBackupIndex)
	if err != nil {
		return nil, fmt.Errorf("migrate: read backup index: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	var index []BackupEntry
	if err := json.Unmarshal(raw, &index); err != nil {
		m.logger.Warn("migrate: backup index unreadable, starting a new one", slog.String("error", err.Error()))
		return nil, nil
	}
	return index, nil
}

// LoadBackup reads a backup envelope.
func (m *Migrator) LoadBackup(key string) (*Envelope, error) {
	raw, err := m.provider.Read(key)
	if err != nil {
		return nil, fmt.Errorf("migrate: read backup %s: %w", key, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("migrate: backup %s: %w", key, apperr.ErrNotFound)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("migrate: backup %s: %w: %w", key, apperr.ErrSerialization, err)
	}
	if env.Type != BackupType || env.Data == nil {
		return nil, fmt.Errorf("migrate: %s is not a migration backup: %w", key, apperr.ErrNotFound)
	}
	return &env, nil
}

// RestoreBackup writes every key captured in the backup back to storage and
// removes the primary document, so the next start migrates again. It
// returns the restored keys.
func (m *Migrator) RestoreBackup(key string) ([]string, error) {
	env, err := m.LoadBackup(key)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(env.Data))
	for k := range env.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, k := range keys {
		if err := m.provider.Write(k, []byte(env.Data[k])); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", k, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("migrate: restore backup %s: %w", key, err)
	}
	if env.SourceKey != storage.KeyDocument {
		if err := m.provider.Remove(storage.KeyDocument); err != nil {
			return nil, fmt.Errorf("migrate: restore backup %s: %w", key, err)
		}
	}
	m.logger.Info("migrate: backup restored", slog.String("key", key), slog.Int("keys", len(keys)))
	return keys, nil
}
