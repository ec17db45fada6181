package storage

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/starford/minicycle/internal/apperr"
)

// Memory is a map-backed Provider with an optional byte quota. It can be
// switched into an unavailable mode to model storage that refuses access.
type Memory struct {
	mu          sync.RWMutex
	data        map[string][]byte
	writes      map[string]int
	quota       int64
	unavailable bool
}

// NewMemory returns an empty in-memory provider. quota <= 0 disables the limit.
func NewMemory(quota int64) *Memory {
	return &Memory{
		data:   make(map[string][]byte),
		writes: make(map[string]int),
		quota:  quota,
	}
}

// SetUnavailable toggles the unavailable mode.
func (m *Memory) SetUnavailable(v bool) {
	m.mu.Lock()
	m.unavailable = v
	m.mu.Unlock()
}

// SetQuota changes the byte quota.
func (m *Memory) SetQuota(q int64) {
	m.mu.Lock()
	m.quota = q
	m.mu.Unlock()
}

// WriteCount returns how many successful writes key has received.
func (m *Memory) WriteCount(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes[key]
}

func (m *Memory) Read(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unavailable {
		return nil, fmt.Errorf("storage: read %s: %w", key, apperr.ErrStorageUnavailable)
	}
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return slices.Clone(v), nil
}

func (m *Memory) Write(key string, raw []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return fmt.Errorf("storage: write %s: %w", key, apperr.ErrStorageUnavailable)
	}
	if m.quota > 0 {
		var used int64
		for k, v := range m.data {
			if k != key {
				used += int64(len(v))
			}
		}
		if used+int64(len(raw)) > m.quota {
			return fmt.Errorf("storage: write %s: %w (%d of %d bytes used)", key, apperr.ErrQuotaExceeded, used, m.quota)
		}
	}
	m.data[key] = slices.Clone(raw)
	m.writes[key]++
	return nil
}

func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return fmt.Errorf("storage: remove %s: %w", key, apperr.ErrStorageUnavailable)
	}
	delete(m.data, key)
	return nil
}

func (m *Memory) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unavailable {
		return nil, fmt.Errorf("storage: list: %w", apperr.ErrStorageUnavailable)
	}
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
