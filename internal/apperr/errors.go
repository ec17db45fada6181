// Package apperr defines the sentinel errors shared by the engine packages.
package apperr

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrNotReady           = errors.New("store not ready")
	ErrReadOnly           = errors.New("store is read-only")
	ErrSerialization      = errors.New("serialization error")
	ErrQuotaExceeded      = errors.New("storage quota exceeded")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrMigration          = errors.New("migration failure")
	ErrInvalidSnapshot    = errors.New("invalid snapshot")
	ErrMutator            = errors.New("mutator failed")
	ErrInvalidDocument    = errors.New("invalid document")
)

// IsDataLossRisk reports whether err means the in-memory document could not
// be persisted and the user should be asked to export their data.
func IsDataLossRisk(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrSerialization)
}
