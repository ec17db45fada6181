package migrate

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/starford/minicycle/internal/models"
)

// stepEnv is the shared context of one migration run.
type stepEnv struct {
	side   *legacySide
	now    time.Time
	from   Version
	report *Report
}

// step transforms a tree of version from into a tree of version to. A step
// either returns a complete tree or an error; it never mutates its input.
type step struct {
	from, to Version
	apply    func(tree map[string]any, env *stepEnv) (map[string]any, error)
}

// chain lists the steps oldest first.
var chain = []step{
	{from: VersionSingleCycle, to: VersionCycleMap, apply: singleCycleToMap},
	{from: VersionCycleMap, to: VersionCurrent, apply: cycleMapToCurrent},
}

// run applies every step starting at from.
func run(tree map[string]any, env *stepEnv) (map[string]any, error) {
	started := false
	cur := tree
	for _, s := range chain {
		if s.from == env.from {
			started = true
		}
		if !started {
			continue
		}
		next, err := s.apply(cur, env)
		if err != nil {
			return nil, fmt.Errorf("migrate: step %s -> %s: %w", s.from, s.to, err)
		}
		env.report.add("migrated %s -> %s", s.from, s.to)
		cur = next
	}
	if !started {
		return nil, fmt.Errorf("migrate: no step from version %q", env.from)
	}
	return cur, nil
}

const untitledCycle = "Untitled Cycle"

func singleCycleToMap(tree map[string]any, env *stepEnv) (map[string]any, error) {
	name := strings.TrimSpace(str(tree, "title"))
	if name == "" {
		name = untitledCycle
	}
	cycle := make(map[string]any, len(tree))
	for k, v := range tree {
		cycle[k] = v
	}
	if env.side.LastUsed == "" {
		env.side.LastUsed = name
	}
	return map[string]any{name: cycle}, nil
}

func cycleMapToCurrent(tree map[string]any, env *stepEnv) (map[string]any, error) {
	now := env.now.UnixMilli()
	doc := models.NewDocument(env.now)
	doc.Metadata.MigratedFrom = string(env.from)
	doc.Metadata.MigrationDate = now

	names := make([]string, 0, len(tree))
	for name := range tree {
		names = append(names, name)
	}
	sort.Strings(names)

	completed := 0
	for _, name := range names {
		raw, ok := tree[name].(map[string]any)
		if !ok {
			env.report.add("dropped cycle %q: not an object", name)
			continue
		}
		c := legacyCycle(name, raw, env.report)
		completed += c.CycleCount
		doc.Collections.Cycles[c.ID] = c
	}
	doc.Metadata.TotalCyclesCreated = len(doc.Collections.Cycles)
	doc.Metadata.TotalTasksCompleted = completed
	doc.UserProgress.CyclesCompleted = completed

	side := env.side
	doc.ActiveState.ActiveCycleID = side.LastUsed
	doc.Settings.Theme = side.Theme
	doc.Settings.DarkMode = side.DarkMode
	doc.Settings.AlwaysShowRecurring = side.AlwaysRecurring
	doc.Settings.ShowThreeDots = side.ThreeDots

	for _, g := range milestoneGrants {
		if !boolean(side.Milestones, g.flag) {
			continue
		}
		if g.theme != "" {
			doc.Settings.UnlockedThemes = append(doc.Settings.UnlockedThemes, g.theme)
		}
		if g.feature != "" {
			doc.Settings.UnlockedFeatures = append(doc.Settings.UnlockedFeatures, g.feature)
		}
		if g.milestone != "" {
			doc.UserProgress.AddMilestone(g.milestone)
		}
	}

	if pos := side.NotifPosition; number(pos, "x") != 0 || number(pos, "y") != 0 {
		doc.Settings.NotificationPosition = models.Position{X: number(pos, "x"), Y: number(pos, "y")}
		doc.Settings.NotificationPositionModified = true
	}

	if r := side.Reminders; r != nil {
		doc.Reminders = models.Reminders{
			Enabled:           boolean(r, "enabled"),
			Indefinite:        boolean(r, "indefinite"),
			DueDatesReminders: boolean(r, "dueDatesReminders"),
			RepeatCount:       integer(r, "repeatCount", 0),
			FrequencyValue:    integer(r, "frequencyValue", 30),
			FrequencyUnit:     str(r, "frequencyUnit"),
		}
		if doc.Reminders.FrequencyUnit == "" {
			doc.Reminders.FrequencyUnit = "minutes"
		}
	}

	return toTree(doc)
}

// legacyCycle converts one legacy cycle object. Missing ids and texts are
// left empty for ValidateAndRepair to fill in.
func legacyCycle(name string, raw map[string]any, report *Report) *models.Cycle {
	c := &models.Cycle{
		ID:                 name,
		Title:              str(raw, "title"),
		Tasks:              []models.Task{},
		CycleCount:         integer(raw, "cycleCount", 0),
		AutoReset:          boolean(raw, "autoReset"),
		DeleteCheckedTasks: boolean(raw, "deleteCheckedTasks"),
	}
	if c.Title == "" {
		c.Title = name
	}
	tasks, _ := raw["tasks"].([]any)
	for i, item := range tasks {
		t, ok := item.(map[string]any)
		if !ok {
			report.add("cycle %q: dropped task %d: not an object", name, i+1)
			continue
		}
		c.Tasks = append(c.Tasks, legacyTask(t))
	}
	return c
}

func legacyTask(raw map[string]any) models.Task {
	t := models.Task{
		ID:                str(raw, "id"),
		Text:              str(raw, "text"),
		Completed:         boolean(raw, "completed"),
		HighPriority:      boolean(raw, "highPriority"),
		Recurring:         boolean(raw, "recurring"),
		RemindersEnabled:  boolean(raw, "remindersEnabled"),
		RecurringSettings: models.DefaultRecurringSettings(),
	}
	if t.Text == "" {
		t.Text = str(raw, "taskText")
	}
	if due := str(raw, "dueDate"); due != "" {
		t.DueDate = &due
	}
	if rs, ok := raw["recurringSettings"].(map[string]any); ok {
		var decoded models.RecurringSettings
		if b, err := json.Marshal(rs); err == nil && json.Unmarshal(b, &decoded) == nil {
			t.RecurringSettings = decoded
		}
	}
	return t
}

func toTree(doc *models.Document) (map[string]any, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := json.Unmarshal(b, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}
