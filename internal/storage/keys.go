package storage

import (
	"fmt"
	"regexp"
)

// Well-known keys.
const (
	KeyDocument      = "miniCycleData"
	KeyUndoHistory   = "miniCycleUndoHistory"
	KeyBackupIndex   = "miniCycleBackupIndex"
	KeyMigrationInfo = "miniCycleMigrationInfo"

	KeyLegacyCycles        = "miniCycleStorage"
	KeyLegacyLastUsed      = "lastUsedMiniCycle"
	KeyLegacyReminders     = "miniCycleReminders"
	KeyLegacyMilestones    = "milestoneUnlocks"
	KeyLegacyDarkMode      = "darkModeEnabled"
	KeyLegacyTheme         = "currentTheme"
	KeyLegacyAlwaysShowRec = "miniCycleAlwaysShowRecurring"
	KeyLegacyNotifPosition = "miniCycleNotificationPosition"
	KeyLegacyThreeDots     = "miniCycleThreeDots"
)

// LegacyKeys lists every key written by pre-versioned releases.
var LegacyKeys = []string{
	KeyLegacyCycles,
	KeyLegacyLastUsed,
	KeyLegacyReminders,
	KeyLegacyMilestones,
	KeyLegacyDarkMode,
	KeyLegacyTheme,
	KeyLegacyAlwaysShowRec,
	KeyLegacyNotifPosition,
	KeyLegacyThreeDots,
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ValidateKey rejects keys that cannot be stored portably by every backend.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("storage: invalid key %q", key)
	}
	return nil
}
