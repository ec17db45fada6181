// Package models defines the persisted document and its entities.
package models

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the schema tag every in-memory document carries.
const SchemaVersion = "2.5"

// Bounds enforced by validation and repair.
const (
	MaxTaskTextLen   = 500
	MaxCycleTitleLen = 100
)

// DueDateLayout is the calendar-date format of Task.DueDate.
const DueDateLayout = "2006-01-02"

// Document is the single root state object. JSON field names follow the
// persisted wire format, which keeps cycles under "data" and the active
// cycle pointer under "appState".
type Document struct {
	SchemaVersion string       `json:"schemaVersion"`
	Metadata      Metadata     `json:"metadata"`
	Settings      Settings     `json:"settings"`
	Collections   Collections  `json:"data"`
	ActiveState   ActiveState  `json:"appState"`
	UserProgress  UserProgress `json:"userProgress"`
	Reminders     Reminders    `json:"customReminders"`
}

// Metadata holds timestamps (epoch milliseconds) and aggregate counters.
type Metadata struct {
	CreatedAt           int64  `json:"createdAt"`
	LastModified        int64  `json:"lastModified"`
	MigratedFrom        string `json:"migratedFrom,omitempty"`
	MigrationDate       int64  `json:"migrationDate,omitempty"`
	TotalCyclesCreated  int    `json:"totalCyclesCreated"`
	TotalTasksCompleted int    `json:"totalTasksCompleted"`
	SchemaVersion       string `json:"schemaVersion"`
}

// Settings holds user preferences.
type Settings struct {
	Theme                        string            `json:"theme,omitempty"`
	DarkMode                     bool              `json:"darkMode"`
	AlwaysShowRecurring          bool              `json:"alwaysShowRecurring"`
	AutoSave                     bool              `json:"autoSave"`
	ShowThreeDots                bool              `json:"showThreeDots"`
	OnboardingCompleted          bool              `json:"onboardingCompleted"`
	DismissedEducationalTips     map[string]bool   `json:"dismissedEducationalTips"`
	DefaultRecurringSettings     RecurringSettings `json:"defaultRecurringSettings"`
	UnlockedThemes               []string          `json:"unlockedThemes"`
	UnlockedFeatures             []string          `json:"unlockedFeatures"`
	NotificationPosition         Position          `json:"notificationPosition"`
	NotificationPositionModified bool              `json:"notificationPositionModified"`
	Accessibility                Accessibility     `json:"accessibility"`
}

// Position is a screen coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Accessibility groups accessibility preferences.
type Accessibility struct {
	ReducedMotion     bool `json:"reducedMotion"`
	HighContrast      bool `json:"highContrast"`
	ScreenReaderHints bool `json:"screenReaderHints"`
}

// RecurringSettings configures how a task recurs.
type RecurringSettings struct {
	Frequency       string     `json:"frequency"`
	Indefinitely    bool       `json:"indefinitely"`
	RecurCount      int        `json:"recurCount,omitempty"`
	UseSpecificTime bool       `json:"useSpecificTime,omitempty"`
	Time            *TimeOfDay `json:"time"`
}

// TimeOfDay is a wall-clock time used by recurring tasks.
type TimeOfDay struct {
	Hour     int    `json:"hour"`
	Minute   int    `json:"minute"`
	Meridiem string `json:"meridiem,omitempty"`
}

// Collections holds the cycle records keyed by cycle id.
type Collections struct {
	Cycles map[string]*Cycle `json:"cycles"`
}

// ActiveState points into Collections.Cycles. An empty ActiveCycleID means
// no cycle is active.
type ActiveState struct {
	ActiveCycleID     string          `json:"activeCycleId"`
	OverdueTaskStates map[string]bool `json:"overdueTaskStates,omitempty"`
}

// UserProgress holds counters and the milestone set.
type UserProgress struct {
	CyclesCompleted  int      `json:"cyclesCompleted"`
	RewardMilestones []string `json:"rewardMilestones"`
}

// Reminders configures the custom reminder schedule.
type Reminders struct {
	Enabled           bool   `json:"enabled"`
	Indefinite        bool   `json:"indefinite"`
	DueDatesReminders bool   `json:"dueDatesReminders"`
	RepeatCount       int    `json:"repeatCount"`
	FrequencyValue    int    `json:"frequencyValue"`
	FrequencyUnit     string `json:"frequencyUnit"`
}

// Cycle is a named, ordered list of tasks that can reset and repeat.
type Cycle struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	Tasks              []Task `json:"tasks"`
	CycleCount         int    `json:"cycleCount"`
	AutoReset          bool   `json:"autoReset"`
	DeleteCheckedTasks bool   `json:"deleteCheckedTasks"`
	CreatedAt          int64  `json:"createdAt,omitempty"`
}

// Task is an individual item within a cycle.
type Task struct {
	ID                string            `json:"id"`
	Text              string            `json:"text"`
	Completed         bool              `json:"completed"`
	HighPriority      bool              `json:"highPriority"`
	DueDate           *string           `json:"dueDate"`
	Recurring         bool              `json:"recurring"`
	RecurringSettings RecurringSettings `json:"recurringSettings"`
	RemindersEnabled  bool              `json:"remindersEnabled"`
}

// DefaultRecurringSettings returns the recurrence applied to new tasks.
func DefaultRecurringSettings() RecurringSettings {
	return RecurringSettings{Frequency: "daily", Indefinitely: true}
}

// DefaultReminders returns the reminder configuration of a fresh document.
func DefaultReminders() Reminders {
	return Reminders{FrequencyValue: 30, FrequencyUnit: "minutes"}
}

// NewDocument returns a fresh current-schema document with no cycles.
func NewDocument(now time.Time) *Document {
	ms := now.UnixMilli()
	return &Document{
		SchemaVersion: SchemaVersion,
		Metadata: Metadata{
			CreatedAt:     ms,
			LastModified:  ms,
			SchemaVersion: SchemaVersion,
		},
		Settings: Settings{
			AutoSave:                 true,
			DismissedEducationalTips: map[string]bool{},
			DefaultRecurringSettings: DefaultRecurringSettings(),
			UnlockedThemes:           []string{},
			UnlockedFeatures:         []string{},
		},
		Collections:  Collections{Cycles: map[string]*Cycle{}},
		UserProgress: UserProgress{RewardMilestones: []string{}},
		Reminders:    DefaultReminders(),
	}
}

// NewCycle returns an empty cycle with a generated id.
func NewCycle(title string, now time.Time) *Cycle {
	return &Cycle{
		ID:        "cycle-" + uuid.NewString(),
		Title:     title,
		Tasks:     []Task{},
		AutoReset: true,
		CreatedAt: now.UnixMilli(),
	}
}

// NewTask returns an incomplete task with a generated id.
func NewTask(text string) Task {
	return Task{
		ID:                "task-" + uuid.NewString(),
		Text:              text,
		RecurringSettings: DefaultRecurringSettings(),
	}
}

// ActiveCycle returns the cycle ActiveState points at, or nil.
func (d *Document) ActiveCycle() *Cycle {
	if d.ActiveState.ActiveCycleID == "" {
		return nil
	}
	return d.Collections.Cycles[d.ActiveState.ActiveCycleID]
}

// TaskIndex returns the position of the task with id, or -1.
func (c *Cycle) TaskIndex(id string) int {
	for i := range c.Tasks {
		if c.Tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// HasMilestone reports whether the milestone set contains id.
func (p *UserProgress) HasMilestone(id string) bool {
	for _, m := range p.RewardMilestones {
		if m == id {
			return true
		}
	}
	return false
}

// AddMilestone inserts id unless it is already present.
func (p *UserProgress) AddMilestone(id string) bool {
	if p.HasMilestone(id) {
		return false
	}
	p.RewardMilestones = append(p.RewardMilestones, id)
	return true
}
