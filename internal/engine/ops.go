package engine

import (
	"fmt"
	"strings"

	"github.com/starford/minicycle/internal/apperr"
	"github.com/starford/minicycle/internal/models"
)

// TaskInput describes a task to add.
type TaskInput struct {
	Text         string
	HighPriority bool
	DueDate      *string
}

// CreateCycle adds a cycle and makes it active.
func (e *Engine) CreateCycle(title string) (*models.Cycle, error) {
	c := models.NewCycle(strings.TrimSpace(title), e.now())
	err := e.update(func(doc *models.Document) error {
		doc.Collections.Cycles[c.ID] = c.Clone()
		doc.ActiveState.ActiveCycleID = c.ID
		doc.Metadata.TotalCyclesCreated++
		return nil
	}, true)
	if err != nil {
		return nil, fmt.Errorf("engine: create cycle: %w", err)
	}
	return c, nil
}

// SetActiveCycle switches the active cycle.
func (e *Engine) SetActiveCycle(id string) error {
	err := e.store.Update(func(doc *models.Document) error {
		if _, ok := doc.Collections.Cycles[id]; !ok {
			return fmt.Errorf("cycle %q: %w", id, apperr.ErrNotFound)
		}
		doc.ActiveState.ActiveCycleID = id
		return nil
	}, false)
	if err != nil {
		return fmt.Errorf("engine: set active cycle: %w", err)
	}
	return nil
}

// DeleteCycle removes a cycle. Deleting the active cycle leaves none active.
func (e *Engine) DeleteCycle(id string) error {
	err := e.store.Update(func(doc *models.Document) error {
		if _, ok := doc.Collections.Cycles[id]; !ok {
			return fmt.Errorf("cycle %q: %w", id, apperr.ErrNotFound)
		}
		delete(doc.Collections.Cycles, id)
		return nil
	}, true)
	if err != nil {
		return fmt.Errorf("engine: delete cycle: %w", err)
	}
	return nil
}

// AddTask appends a task to cycleID, or to the active cycle when cycleID
// is empty.
func (e *Engine) AddTask(cycleID string, in TaskInput) (*models.Task, error) {
	task := models.NewTask(strings.TrimSpace(in.Text))
	task.HighPriority = in.HighPriority
	task.DueDate = in.DueDate

	err := e.update(func(doc *models.Document) error {
		c, err := lookupCycle(doc, cycleID)
		if err != nil {
			return err
		}
		c.Tasks = append(c.Tasks, task.Clone())
		return nil
	}, false)
	if err != nil {
		return nil, fmt.Errorf("engine: add task: %w", err)
	}
	return &task, nil
}

// DeleteTask removes a task.
func (e *Engine) DeleteTask(cycleID, taskID string) error {
	err := e.update(func(doc *models.Document) error {
		c, err := lookupCycle(doc, cycleID)
		if err != nil {
			return err
		}
		i := c.TaskIndex(taskID)
		if i < 0 {
			return fmt.Errorf("task %q: %w", taskID, apperr.ErrNotFound)
		}
		c.Tasks = append(c.Tasks[:i], c.Tasks[i+1:]...)
		return nil
	}, false)
	if err != nil {
		return fmt.Errorf("engine: delete task: %w", err)
	}
	return nil
}

// ToggleTask flips a task's completion. When every task of an auto-reset
// cycle is complete the cycle is finished: its count goes up and its tasks
// are reset, or removed in to-do mode.
func (e *Engine) ToggleTask(cycleID, taskID string) (*models.Task, error) {
	var out models.Task
	err := e.update(func(doc *models.Document) error {
		c, err := lookupCycle(doc, cycleID)
		if err != nil {
			return err
		}
		i := c.TaskIndex(taskID)
		if i < 0 {
			return fmt.Errorf("task %q: %w", taskID, apperr.ErrNotFound)
		}
		c.Tasks[i].Completed = !c.Tasks[i].Completed
		if c.Tasks[i].Completed {
			doc.Metadata.TotalTasksCompleted++
		}
		out = c.Tasks[i].Clone()
		if c.AutoReset && allCompleted(c.Tasks) {
			completeCycle(doc, c)
		}
		return nil
	}, false)
	if err != nil {
		return nil, fmt.Errorf("engine: toggle task: %w", err)
	}
	return &out, nil
}

// Import replaces all cycles and settings with doc and drops undo history.
func (e *Engine) Import(doc *models.Document) error {
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("engine: import: %w: %w", apperr.ErrInvalidDocument, err)
	}
	incoming := doc.Clone()
	err := e.store.Update(func(cur *models.Document) error {
		meta := cur.Metadata
		*cur = *incoming
		cur.Metadata.CreatedAt = meta.CreatedAt
		return nil
	}, true)
	if err != nil {
		return fmt.Errorf("engine: import: %w", err)
	}
	e.history.Clear()
	return nil
}

// ImportCycle adds a copy of c under a new id and makes it active. Task
// ids are regenerated.
func (e *Engine) ImportCycle(c *models.Cycle) (*models.Cycle, error) {
	added := models.NewCycle(strings.TrimSpace(c.Title), e.now())
	added.CycleCount = c.CycleCount
	added.AutoReset = c.AutoReset
	added.DeleteCheckedTasks = c.DeleteCheckedTasks
	for _, t := range c.Tasks {
		nt := t.Clone()
		nt.ID = models.NewTask("").ID
		added.Tasks = append(added.Tasks, nt)
	}
	err := e.update(func(doc *models.Document) error {
		doc.Collections.Cycles[added.ID] = added.Clone()
		doc.ActiveState.ActiveCycleID = added.ID
		doc.Metadata.TotalCyclesCreated++
		return nil
	}, true)
	if err != nil {
		return nil, fmt.Errorf("engine: import cycle: %w", err)
	}
	return added, nil
}

func lookupCycle(doc *models.Document, id string) (*models.Cycle, error) {
	if id == "" {
		if c := doc.ActiveCycle(); c != nil {
			return c, nil
		}
		return nil, fmt.Errorf("no active cycle: %w", apperr.ErrNotFound)
	}
	c, ok := doc.Collections.Cycles[id]
	if !ok || c == nil {
		return nil, fmt.Errorf("cycle %q: %w", id, apperr.ErrNotFound)
	}
	return c, nil
}

func allCompleted(tasks []models.Task) bool {
	if len(tasks) == 0 {
		return false
	}
	for _, t := range tasks {
		if !t.Completed {
			return false
		}
	}
	return true
}

func completeCycle(doc *models.Document, c *models.Cycle) {
	c.CycleCount++
	doc.UserProgress.CyclesCompleted++
	if c.DeleteCheckedTasks {
		kept := c.Tasks[:0]
		for _, t := range c.Tasks {
			if t.Recurring {
				t.Completed = false
				kept = append(kept, t)
			}
		}
		c.Tasks = kept
		return
	}
	for i := range c.Tasks {
		c.Tasks[i].Completed = false
	}
}
