package history

import (
	"time"

	"github.com/starford/minicycle/internal/checksum"
	"github.com/starford/minicycle/internal/models"
)

// SnapshotVersion tags the layout of Snapshot.
const SnapshotVersion = 1

// Snapshot is an immutable copy of the undoable part of the document: the
// active cycle's tasks, title and mode flags.
type Snapshot struct {
	Version            int           `json:"version"`
	ActiveCycleID      string        `json:"activeCycleId"`
	Title              string        `json:"title"`
	Tasks              []models.Task `json:"tasks"`
	AutoReset          bool          `json:"autoReset"`
	DeleteCheckedTasks bool          `json:"deleteCheckedTasks"`
	CycleCount         int           `json:"cycleCount"`
	Signature          string        `json:"signature"`
	Timestamp          int64         `json:"timestamp"`
}

type sigTask struct {
	ID        string  `json:"id"`
	Text      string  `json:"txt"`
	Completed bool    `json:"c"`
	Priority  bool    `json:"p"`
	DueDate   *string `json:"d"`
}

type sigPayload struct {
	Cycle              string    `json:"c"`
	Tasks              []sigTask `json:"t"`
	Title              string    `json:"ti"`
	AutoReset          bool      `json:"ar"`
	DeleteCheckedTasks bool      `json:"dc"`
}

// signature hashes the fields that make two snapshots distinguishable to a
// user. cycleCount is restored but not compared.
func signature(s *Snapshot) string {
	p := sigPayload{
		Cycle:              s.ActiveCycleID,
		Tasks:              make([]sigTask, len(s.Tasks)),
		Title:              s.Title,
		AutoReset:          s.AutoReset,
		DeleteCheckedTasks: s.DeleteCheckedTasks,
	}
	for i, t := range s.Tasks {
		p.Tasks[i] = sigTask{ID: t.ID, Text: t.Text, Completed: t.Completed, Priority: t.HighPriority, DueDate: t.DueDate}
	}
	sum, err := checksum.SumJSON(p)
	if err != nil {
		// Only plain strings and bools go in; this cannot fail.
		panic(err)
	}
	return sum
}

func newSnapshot(cycleID string, c *models.Cycle, now time.Time) Snapshot {
	s := Snapshot{
		Version:            SnapshotVersion,
		ActiveCycleID:      cycleID,
		Title:              c.Title,
		Tasks:              models.CloneTasks(c.Tasks),
		AutoReset:          c.AutoReset,
		DeleteCheckedTasks: c.DeleteCheckedTasks,
		CycleCount:         c.CycleCount,
		Timestamp:          now.UnixMilli(),
	}
	if s.Tasks == nil {
		s.Tasks = []models.Task{}
	}
	s.Signature = signature(&s)
	return s
}

// snapshotOf captures doc's active cycle. ok is false when there is none.
func snapshotOf(doc *models.Document, now time.Time) (Snapshot, bool) {
	if doc == nil || doc.ActiveState.ActiveCycleID == "" {
		return Snapshot{}, false
	}
	id := doc.ActiveState.ActiveCycleID
	c, ok := doc.Collections.Cycles[id]
	if !ok || c == nil {
		return Snapshot{}, false
	}
	return newSnapshot(id, c, now), true
}

// restore writes the snapshot back into doc. It is used as a store mutator.
func (s Snapshot) restore(doc *models.Document) error {
	c, ok := doc.Collections.Cycles[s.ActiveCycleID]
	if !ok || c == nil {
		return errMissingCycle(s.ActiveCycleID)
	}
	doc.ActiveState.ActiveCycleID = s.ActiveCycleID
	c.Tasks = models.CloneTasks(s.Tasks)
	if s.Title != "" {
		c.Title = s.Title
	}
	c.AutoReset = s.AutoReset
	c.DeleteCheckedTasks = s.DeleteCheckedTasks
	c.CycleCount = s.CycleCount
	return nil
}
