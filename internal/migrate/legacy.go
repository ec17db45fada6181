package migrate

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/starford/minicycle/internal/storage"
)

// legacySide carries the standalone keys older releases kept next to the
// cycle map. They are folded into the document during migration.
type legacySide struct {
	LastUsed        string
	Reminders       map[string]any
	Milestones      map[string]any
	DarkMode        bool
	Theme           string
	AlwaysRecurring bool
	ThreeDots       bool
	NotifPosition   map[string]any
}

// milestone unlock flag -> theme, feature and reward milestone it grants.
var milestoneGrants = []struct {
	flag, theme, feature, milestone string
}{
	{flag: "darkOcean", theme: "dark-ocean", milestone: "dark-ocean-5"},
	{flag: "goldenGlow", theme: "golden-glow", milestone: "golden-glow-50"},
	{flag: "taskOrderGame", feature: "task-order-game"},
}

func readLegacySide(p storage.Provider) (*legacySide, error) {
	side := &legacySide{}
	var err error
	if side.LastUsed, err = readString(p, storage.KeyLegacyLastUsed); err != nil {
		return nil, err
	}
	if side.Reminders, err = readObject(p, storage.KeyLegacyReminders); err != nil {
		return nil, err
	}
	if side.Milestones, err = readObject(p, storage.KeyLegacyMilestones); err != nil {
		return nil, err
	}
	if side.DarkMode, err = readBool(p, storage.KeyLegacyDarkMode); err != nil {
		return nil, err
	}
	if side.Theme, err = readString(p, storage.KeyLegacyTheme); err != nil {
		return nil, err
	}
	if side.AlwaysRecurring, err = readBool(p, storage.KeyLegacyAlwaysShowRec); err != nil {
		return nil, err
	}
	if side.ThreeDots, err = readBool(p, storage.KeyLegacyThreeDots); err != nil {
		return nil, err
	}
	if side.NotifPosition, err = readObject(p, storage.KeyLegacyNotifPosition); err != nil {
		return nil, err
	}
	return side, nil
}

// readString returns a plain or JSON-quoted string value.
func readString(p storage.Provider, key string) (string, error) {
	raw, err := p.Read(key)
	if err != nil {
		return "", fmt.Errorf("migrate: read %s: %w", key, err)
	}
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return "", nil
	}
	if strings.HasPrefix(s, `"`) {
		if unq, err := strconv.Unquote(s); err == nil {
			return unq, nil
		}
	}
	return s, nil
}

func readBool(p storage.Provider, key string) (bool, error) {
	s, err := readString(p, key)
	if err != nil {
		return false, err
	}
	return s == "true", nil
}

// readObject decodes a JSON object; malformed values count as absent.
func readObject(p storage.Provider, key string) (map[string]any, error) {
	raw, err := p.Read(key)
	if err != nil {
		return nil, fmt.Errorf("migrate: read %s: %w", key, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var obj map[string]any
	if json.Unmarshal(raw, &obj) != nil {
		return nil, nil
	}
	return obj, nil
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolean(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

// integer reads a JSON number, returning def when absent or not numeric.
func integer(m map[string]any, key string, def int) int {
	switch n := m[key].(type) {
	case float64:
		return int(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	}
	return def
}

func number(m map[string]any, key string) float64 {
	f, _ := m[key].(float64)
	return f
}
