package migrate

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/starford/minicycle/internal/models"
)

// Report lists every change made while migrating or repairing a document.
type Report struct {
	Entries []string `json:"entries"`
}

func (r *Report) add(format string, args ...any) {
	r.Entries = append(r.Entries, fmt.Sprintf(format, args...))
}

// Empty reports whether nothing was changed.
func (r Report) Empty() bool {
	return len(r.Entries) == 0
}

// sanitizeTree drops cycle and task entries of a current-schema tree that
// are not objects, so the tree can decode into a Document.
func sanitizeTree(tree map[string]any, report *Report) {
	data, _ := tree["data"].(map[string]any)
	cycles, _ := data["cycles"].(map[string]any)
	for id, v := range cycles {
		c, ok := v.(map[string]any)
		if !ok {
			delete(cycles, id)
			report.add("dropped cycle %q: not an object", id)
			continue
		}
		tasks, ok := c["tasks"].([]any)
		if !ok {
			if _, present := c["tasks"]; present {
				report.add("cycle %q: replaced non-list tasks", id)
			}
			c["tasks"] = []any{}
			continue
		}
		kept := make([]any, 0, len(tasks))
		for i, t := range tasks {
			if _, ok := t.(map[string]any); !ok {
				report.add("cycle %q: dropped task %d: not an object", id, i+1)
				continue
			}
			kept = append(kept, t)
		}
		c["tasks"] = kept
	}
}

// ValidateAndRepair returns a repaired copy of doc. Missing task ids get
// deterministic synthetic ids, missing texts a "[Task N]" placeholder, and
// overlong fields are truncated. doc itself is not modified.
func ValidateAndRepair(doc *models.Document) (*models.Document, Report) {
	var report Report
	out := doc.Clone()
	out.Normalize()

	if out.SchemaVersion != models.SchemaVersion {
		report.add("set schemaVersion %q -> %q", out.SchemaVersion, models.SchemaVersion)
		out.SchemaVersion = models.SchemaVersion
	}
	out.Metadata.SchemaVersion = models.SchemaVersion

	ids := make([]string, 0, len(out.Collections.Cycles))
	for id := range out.Collections.Cycles {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		c := out.Collections.Cycles[id]
		if c == nil {
			delete(out.Collections.Cycles, id)
			report.add("dropped null cycle %q", id)
			continue
		}
		repairCycle(id, c, &report)
	}

	for _, fix := range out.EnforceInvariants() {
		report.add("%s", fix)
	}
	return out, report
}

func repairCycle(id string, c *models.Cycle, report *Report) {
	if c.ID != id {
		report.add("cycle %q: id %q reset to its key", id, c.ID)
		c.ID = id
	}
	if truncated, ok := truncateRunes(c.Title, models.MaxCycleTitleLen); ok {
		c.Title = truncated
		report.add("cycle %q: truncated title", id)
	}

	// Explicit ids are reserved up front so a synthesized id never displaces one.
	explicit := make(map[string]struct{}, len(c.Tasks))
	for _, t := range c.Tasks {
		if t.ID != "" {
			explicit[t.ID] = struct{}{}
		}
	}
	seen := make(map[string]struct{}, len(c.Tasks))
	for i := range c.Tasks {
		t := &c.Tasks[i]
		n := i + 1

		if strings.TrimSpace(t.Text) == "" {
			t.Text = fmt.Sprintf("[Task %d]", n)
			report.add("cycle %q: task %d had no text", id, n)
		} else if truncated, ok := truncateRunes(t.Text, models.MaxTaskTextLen); ok {
			t.Text = truncated
			report.add("cycle %q: truncated text of task %d", id, n)
		}

		if t.ID == "" {
			t.ID = uniqueID(fmt.Sprintf("task-%s-%d", id, n), seen, explicit)
			report.add("cycle %q: task %d assigned id %q", id, n, t.ID)
		} else if _, dup := seen[t.ID]; dup {
			old := t.ID
			t.ID = uniqueID(old, seen, explicit)
			report.add("cycle %q: duplicate task id %q renamed %q", id, old, t.ID)
		}
		seen[t.ID] = struct{}{}

		if t.DueDate != nil {
			if _, err := time.Parse(models.DueDateLayout, *t.DueDate); err != nil {
				report.add("cycle %q: task %q dropped invalid due date %q", id, t.ID, *t.DueDate)
				t.DueDate = nil
			}
		}
	}
}

// uniqueID returns base, or base with the smallest numeric suffix that is
// in none of taken.
func uniqueID(base string, taken ...map[string]struct{}) string {
	free := func(id string) bool {
		for _, m := range taken {
			if _, ok := m[id]; ok {
				return false
			}
		}
		return true
	}
	if free(base) {
		return base
	}
	for i := 2; ; i++ {
		if candidate := fmt.Sprintf("%s-%d", base, i); free(candidate) {
			return candidate
		}
	}
}

func truncateRunes(s string, max int) (string, bool) {
	r := []rune(s)
	if len(r) <= max {
		return s, false
	}
	return string(r[:max]), true
}
