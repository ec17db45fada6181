package state

import (
	"github.com/starford/minicycle/internal/migrate"
	"github.com/starford/minicycle/internal/models"
)

// EventKind discriminates Event values.
type EventKind int

const (
	KindReady EventKind = iota + 1
	KindUpdated
	KindSaved
	KindSaveFailed
	KindMigrated
	KindDegraded
	KindRestored
)

func (k EventKind) String() string {
	switch k {
	case KindReady:
		return "ready"
	case KindUpdated:
		return "updated"
	case KindSaved:
		return "saved"
	case KindSaveFailed:
		return "save_failed"
	case KindMigrated:
		return "migrated"
	case KindDegraded:
		return "degraded"
	case KindRestored:
		return "restored"
	default:
		return "unknown"
	}
}

// Event is one of the concrete event types below. Observers switch on the
// dynamic type.
type Event interface {
	Kind() EventKind
}

// Ready is emitted once when Init completes.
type Ready struct {
	Document *models.Document
	Fresh    bool // true when no persisted data was found
}

// Updated is emitted after every successful Update.
type Updated struct {
	Document *models.Document
	Previous *models.Document
}

// Saved is emitted after the document was written.
type Saved struct {
	Key   string
	Bytes int
}

// SaveFailed is emitted when a write was rejected. The document stays dirty.
type SaveFailed struct {
	Key string
	Err error
}

// Migrated is emitted when Init upgraded or repaired saved data. From equals
// the current version for a repair.
type Migrated struct {
	From      migrate.Version
	BackupKey string
	Repairs   []string
}

// Degraded is emitted when the store enters read-only mode.
type Degraded struct {
	Err error
}

// Restored is emitted by the undo history after an undo or redo was
// applied. The matching Updated event precedes it.
type Restored struct {
	Direction   string // "undo" or "redo"
	Description string
	Document    *models.Document
}

func (Ready) Kind() EventKind      { return KindReady }
func (Updated) Kind() EventKind    { return KindUpdated }
func (Saved) Kind() EventKind      { return KindSaved }
func (SaveFailed) Kind() EventKind { return KindSaveFailed }
func (Migrated) Kind() EventKind   { return KindMigrated }
func (Degraded) Kind() EventKind   { return KindDegraded }
func (Restored) Kind() EventKind   { return KindRestored }

// Observer receives store events synchronously.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }
