package storage

import (
	"sort"
	"sync"
)

// Overlay buffers writes and removals in memory on top of a read-only base.
// It lets a migration run end to end without touching the base store.
type Overlay struct {
	base Provider

	mu      sync.RWMutex
	writes  map[string][]byte
	removed map[string]bool
}

// NewOverlay wraps base.
func NewOverlay(base Provider) *Overlay {
	return &Overlay{
		base:    base,
		writes:  make(map[string][]byte),
		removed: make(map[string]bool),
	}
}

func (o *Overlay) Read(key string) ([]byte, error) {
	o.mu.RLock()
	v, ok := o.writes[key]
	gone := o.removed[key]
	o.mu.RUnlock()
	if ok {
		return v, nil
	}
	if gone {
		return nil, nil
	}
	return o.base.Read(key)
}

func (o *Overlay) Write(key string, raw []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	o.mu.Lock()
	o.writes[key] = append([]byte(nil), raw...)
	delete(o.removed, key)
	o.mu.Unlock()
	return nil
}

func (o *Overlay) Remove(key string) error {
	o.mu.Lock()
	delete(o.writes, key)
	o.removed[key] = true
	o.mu.Unlock()
	return nil
}

func (o *Overlay) Keys() ([]string, error) {
	base, err := o.base.Keys()
	if err != nil {
		return nil, err
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	set := make(map[string]struct{}, len(base)+len(o.writes))
	for _, k := range base {
		if !o.removed[k] {
			set[k] = struct{}{}
		}
	}
	for k := range o.writes {
		set[k] = struct{}{}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Pending returns the keys written through the overlay.
func (o *Overlay) Pending() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	keys := make([]string, 0, len(o.writes))
	for k := range o.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
