// Package storage defines the key-value persistence abstraction the engine
// reads and writes documents through.
package storage

// Provider is a synchronous key-value store.
//
// Implementations surface failures as errors wrapping apperr.ErrQuotaExceeded
// or apperr.ErrStorageUnavailable so callers can tell them apart.
type Provider interface {
	// Read returns the raw bytes stored under key, or (nil, nil) if the key is absent.
	Read(key string) ([]byte, error)
	// Write replaces the value stored under key.
	Write(key string, raw []byte) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error
	// Keys lists every stored key in lexical order.
	Keys() ([]string, error)
}
