package models

import (
	"fmt"
	"maps"
	"slices"
)

// Clone returns a deep copy of d. Mutating the copy never affects d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Settings.DismissedEducationalTips = maps.Clone(d.Settings.DismissedEducationalTips)
	out.Settings.DefaultRecurringSettings = d.Settings.DefaultRecurringSettings.clone()
	out.Settings.UnlockedThemes = slices.Clone(d.Settings.UnlockedThemes)
	out.Settings.UnlockedFeatures = slices.Clone(d.Settings.UnlockedFeatures)
	out.ActiveState.OverdueTaskStates = maps.Clone(d.ActiveState.OverdueTaskStates)
	out.UserProgress.RewardMilestones = slices.Clone(d.UserProgress.RewardMilestones)
	if d.Collections.Cycles != nil {
		out.Collections.Cycles = make(map[string]*Cycle, len(d.Collections.Cycles))
		for id, c := range d.Collections.Cycles {
			out.Collections.Cycles[id] = c.Clone()
		}
	}
	return &out
}

// Clone returns a deep copy of c.
func (c *Cycle) Clone() *Cycle {
	if c == nil {
		return nil
	}
	out := *c
	out.Tasks = CloneTasks(c.Tasks)
	return &out
}

// CloneTasks deep-copies a task list, preserving nil.
func CloneTasks(tasks []Task) []Task {
	if tasks == nil {
		return nil
	}
	out := make([]Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}

// Clone returns a deep copy of t.
func (t Task) Clone() Task {
	if t.DueDate != nil {
		d := *t.DueDate
		t.DueDate = &d
	}
	t.RecurringSettings = t.RecurringSettings.clone()
	return t
}

func (r RecurringSettings) clone() RecurringSettings {
	if r.Time != nil {
		tm := *r.Time
		r.Time = &tm
	}
	return r
}

// Normalize replaces nil collections left by decoding with empty ones.
func (d *Document) Normalize() {
	if d.Collections.Cycles == nil {
		d.Collections.Cycles = map[string]*Cycle{}
	}
	if d.Settings.DismissedEducationalTips == nil {
		d.Settings.DismissedEducationalTips = map[string]bool{}
	}
	if d.Settings.UnlockedThemes == nil {
		d.Settings.UnlockedThemes = []string{}
	}
	if d.Settings.UnlockedFeatures == nil {
		d.Settings.UnlockedFeatures = []string{}
	}
	if d.UserProgress.RewardMilestones == nil {
		d.UserProgress.RewardMilestones = []string{}
	}
	for _, c := range d.Collections.Cycles {
		if c != nil && c.Tasks == nil {
			c.Tasks = []Task{}
		}
	}
}

// EnforceInvariants fixes violations that any update could introduce: a
// dangling active cycle pointer, duplicate milestones and negative counters.
// It returns a description of every fix applied.
func (d *Document) EnforceInvariants() []string {
	var fixes []string
	if id := d.ActiveState.ActiveCycleID; id != "" {
		if _, ok := d.Collections.Cycles[id]; !ok {
			d.ActiveState.ActiveCycleID = ""
			fixes = append(fixes, fmt.Sprintf("cleared dangling active cycle %q", id))
		}
	}
	if ms := d.UserProgress.RewardMilestones; len(ms) > 0 {
		seen := make(map[string]struct{}, len(ms))
		kept := ms[:0:0]
		for _, m := range ms {
			if _, dup := seen[m]; dup {
				fixes = append(fixes, fmt.Sprintf("removed duplicate milestone %q", m))
				continue
			}
			seen[m] = struct{}{}
			kept = append(kept, m)
		}
		d.UserProgress.RewardMilestones = kept
	}
	if d.UserProgress.CyclesCompleted < 0 {
		d.UserProgress.CyclesCompleted = 0
		fixes = append(fixes, "reset negative cyclesCompleted")
	}
	for id, c := range d.Collections.Cycles {
		if c != nil && c.CycleCount < 0 {
			c.CycleCount = 0
			fixes = append(fixes, fmt.Sprintf("reset negative cycleCount on %q", id))
		}
	}
	return fixes
}
