package history

import (
	"fmt"
	"slices"

	"github.com/starford/minicycle/internal/models"
)

// Describe names the change that moving from one snapshot to another undoes
// or redoes, e.g. "Task added" or "Tasks reordered".
func Describe(from, to Snapshot) string {
	switch {
	case from.Title != to.Title:
		return "Cycle renamed"
	case from.AutoReset != to.AutoReset, from.DeleteCheckedTasks != to.DeleteCheckedTasks:
		return "Mode changed"
	}

	if diff := len(to.Tasks) - len(from.Tasks); diff > 0 {
		return plural(diff, "Task added", "tasks added")
	} else if diff < 0 {
		return plural(-diff, "Task deleted", "tasks deleted")
	}

	before := make(map[string]models.Task, len(from.Tasks))
	for _, t := range from.Tasks {
		before[t.ID] = t
	}

	var completed, uncompleted int
	for _, t := range to.Tasks {
		old, ok := before[t.ID]
		if !ok {
			continue
		}
		if old.Text != t.Text {
			return "Task edited"
		}
		switch {
		case !old.Completed && t.Completed:
			completed++
		case old.Completed && !t.Completed:
			uncompleted++
		}
	}
	if completed > 0 {
		return plural(completed, "Task completed", "tasks completed")
	}
	if uncompleted > 0 {
		return plural(uncompleted, "Task uncompleted", "tasks uncompleted")
	}

	if !slices.Equal(taskIDs(from.Tasks), taskIDs(to.Tasks)) {
		return "Tasks reordered"
	}
	for _, t := range to.Tasks {
		if old, ok := before[t.ID]; ok && old.HighPriority != t.HighPriority {
			return "Priority changed"
		}
	}
	return "Change"
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return fmt.Sprintf("%d %s", n, many)
}

func taskIDs(tasks []models.Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}

func stepsLeft(n int) string {
	switch n {
	case 0:
		return "no steps left"
	case 1:
		return "1 step left"
	default:
		return fmt.Sprintf("%d steps left", n)
	}
}
