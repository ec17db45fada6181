package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/starford/minicycle/internal/apperr"
	"github.com/starford/minicycle/internal/checksum"
)

const fileExt = ".json"

// FS implements Provider with one file per key under a root directory.
type FS struct {
	root  string // absolute path to the data directory
	quota int64  // total bytes allowed across all keys; 0 disables the check

	mu      sync.Mutex
	written map[string]string // key -> checksum of the last write made by this process
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string, quota int64) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w: %w", apperr.ErrStorageUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s: %w", abs, apperr.ErrStorageUnavailable)
	}
	return &FS{root: abs, quota: quota, written: make(map[string]string)}, nil
}

// Root returns the absolute data directory.
func (f *FS) Root() string {
	return f.root
}

func (f *FS) path(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(f.root, key+fileExt), nil
}

// KeyForPath maps a file inside the root back to its key.
func (f *FS) KeyForPath(p string) (string, bool) {
	if filepath.Dir(p) != f.root {
		return "", false
	}
	name := filepath.Base(p)
	if !strings.HasSuffix(name, fileExt) {
		return "", false
	}
	key := strings.TrimSuffix(name, fileExt)
	if ValidateKey(key) != nil {
		return "", false
	}
	return key, true
}

// Read returns the bytes stored under key, or nil if the key is absent.
func (f *FS) Read(key string) ([]byte, error) {
	p, err := f.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w: %w", key, apperr.ErrStorageUnavailable, err)
	}
	return data, nil
}

// Write atomically replaces the value: tmp file → fsync → rename.
func (f *FS) Write(key string, raw []byte) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	if f.quota > 0 {
		used, err := f.usageExcluding(key)
		if err != nil {
			return err
		}
		if used+int64(len(raw)) > f.quota {
			return fmt.Errorf("storage: write %s: %w (%d of %d bytes used)", key, apperr.ErrQuotaExceeded, used, f.quota)
		}
	}

	tmp, err := os.CreateTemp(f.root, ".minicycle-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", classify(err))
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(raw); err != nil {
		return fmt.Errorf("storage: write temp: %w", classify(err))
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", classify(err))
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", classify(err))
	}
	if err := os.Rename(tmpName, p); err != nil {
		return fmt.Errorf("storage: rename: %w", classify(err))
	}
	success = true

	f.mu.Lock()
	f.written[key] = checksum.Sum(raw)
	f.mu.Unlock()
	return nil
}

// Remove deletes the file backing key.
func (f *FS) Remove(key string) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: remove %s: %w", key, classify(err))
	}
	f.mu.Lock()
	delete(f.written, key)
	f.mu.Unlock()
	return nil
}

// Keys lists the stored keys.
func (f *FS) Keys() ([]string, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w: %w", apperr.ErrStorageUnavailable, err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if key, ok := f.KeyForPath(filepath.Join(f.root, e.Name())); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// WrittenChecksum returns the checksum of the last value this process wrote
// under key, so a watcher can tell its own writes from external ones.
func (f *FS) WrittenChecksum(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum, ok := f.written[key]
	return sum, ok
}

func (f *FS) usageExcluding(key string) (int64, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return 0, fmt.Errorf("storage: usage: %w: %w", apperr.ErrStorageUnavailable, err)
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() || e.Name() == key+fileExt || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

// classify maps OS errors onto the storage failure kinds.
func classify(err error) error {
	switch {
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EDQUOT):
		return fmt.Errorf("%w: %w", apperr.ErrQuotaExceeded, err)
	default:
		return fmt.Errorf("%w: %w", apperr.ErrStorageUnavailable, err)
	}
}
