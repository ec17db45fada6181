// Package migrate upgrades persisted documents to the current schema.
//
// Versions are detected from the shape of the data, never from a version
// field alone. Every migration writes a backup of the original bytes before
// anything else and never writes the primary document key itself.
package migrate

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/starford/minicycle/internal/apperr"
	"github.com/starford/minicycle/internal/models"
)

// Version tags a recognised document shape.
type Version string

const (
	// VersionSingleCycle is a lone cycle object: {"title": ..., "tasks": [...]}.
	VersionSingleCycle Version = "1.0"
	// VersionCycleMap maps cycle names to cycle objects, as stored under
	// the miniCycleStorage key.
	VersionCycleMap Version = "2.0"
	// VersionCurrent is the schema the store works with.
	VersionCurrent Version = models.SchemaVersion
)

// ErrUnrecognized reports a document whose shape matches no known version.
var ErrUnrecognized = fmt.Errorf("%w: unrecognized document shape", apperr.ErrMigration)

// DetectVersion classifies raw by its structural markers.
func DetectVersion(raw []byte) (Version, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnrecognized, err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return "", fmt.Errorf("%w: top level is not an object", ErrUnrecognized)
	}
	return detectTree(obj)
}

func detectTree(obj map[string]any) (Version, error) {
	if isCurrent(obj) {
		return VersionCurrent, nil
	}
	if _, tagged := obj["schemaVersion"]; tagged {
		return "", fmt.Errorf("%w: schemaVersion %v without matching structure", ErrUnrecognized, obj["schemaVersion"])
	}
	if _, ok := obj["data"]; ok {
		return "", fmt.Errorf("%w: untagged data section", ErrUnrecognized)
	}
	if isSingleCycle(obj) {
		return VersionSingleCycle, nil
	}
	if isCycleMap(obj) {
		return VersionCycleMap, nil
	}
	return "", ErrUnrecognized
}

func isCurrent(obj map[string]any) bool {
	if tag, _ := obj["schemaVersion"].(string); tag != models.SchemaVersion {
		return false
	}
	data, ok := obj["data"].(map[string]any)
	if !ok {
		return false
	}
	if _, ok := data["cycles"].(map[string]any); !ok {
		return false
	}
	_, ok = obj["appState"].(map[string]any)
	return ok
}

func isSingleCycle(obj map[string]any) bool {
	if _, ok := obj["tasks"].([]any); !ok {
		return false
	}
	_, ok := obj["title"].(string)
	return ok
}

func isCycleMap(obj map[string]any) bool {
	if len(obj) == 0 {
		return false
	}
	for _, v := range obj {
		c, ok := v.(map[string]any)
		if !ok {
			return false
		}
		if _, ok := c["tasks"].([]any); !ok {
			return false
		}
	}
	return true
}

// IsUnrecognized reports whether err came from shape detection.
func IsUnrecognized(err error) bool {
	return errors.Is(err, ErrUnrecognized)
}
