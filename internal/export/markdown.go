package export

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/minicycle/internal/apperr"
	"github.com/starford/minicycle/internal/models"
)

var (
	checkboxRe = regexp.MustCompile(`^\s*[-*+]\s+\[([ xX])\]\s+(.*)$`)
	dueRe      = regexp.MustCompile(`(?:^|\s)due:(\d{4}-\d{2}-\d{2})(?:\s|$)`)
	headingRe  = regexp.MustCompile(`^#\s+(.+)$`)
)

const priorityMarker = "!high"

// cycleMeta is the YAML frontmatter of a Markdown cycle.
type cycleMeta struct {
	Title              string `yaml:"title"`
	CycleCount         int    `yaml:"cycleCount"`
	AutoReset          bool   `yaml:"autoReset"`
	DeleteCheckedTasks bool   `yaml:"deleteCheckedTasks"`
}

// EncodeCycle renders c as a Markdown checklist with YAML frontmatter.
// High-priority tasks end with "!high" and due dates with "due:YYYY-MM-DD".
func EncodeCycle(c *models.Cycle) ([]byte, error) {
	head, err := yaml.Marshal(cycleMeta{
		Title:              c.Title,
		CycleCount:         c.CycleCount,
		AutoReset:          c.AutoReset,
		DeleteCheckedTasks: c.DeleteCheckedTasks,
	})
	if err != nil {
		return nil, fmt.Errorf("export: markdown: %w: %w", apperr.ErrSerialization, err)
	}

	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(head)
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "# %s\n\n", c.Title)
	for _, t := range c.Tasks {
		mark := " "
		if t.Completed {
			mark = "x"
		}
		fmt.Fprintf(&b, "- [%s] %s", mark, oneLine(t.Text))
		if t.HighPriority {
			b.WriteString(" " + priorityMarker)
		}
		if t.DueDate != nil {
			b.WriteString(" due:" + *t.DueDate)
		}
		b.WriteByte('\n')
	}
	return b.Bytes(), nil
}

// DecodeCycle parses a Markdown checklist into a cycle with fresh ids.
// Lines that are not checklist items are ignored. The title comes from the
// frontmatter, then the first H1 heading.
func DecodeCycle(raw []byte) (*models.Cycle, error) {
	meta, body := splitFrontmatter(raw)

	c := &models.Cycle{
		Title:              meta.Title,
		CycleCount:         meta.CycleCount,
		AutoReset:          meta.AutoReset,
		DeleteCheckedTasks: meta.DeleteCheckedTasks,
		Tasks:              []models.Task{},
	}

	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if c.Title == "" {
			if m := headingRe.FindStringSubmatch(line); m != nil {
				c.Title = strings.TrimSpace(m[1])
				continue
			}
		}
		m := checkboxRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		c.Tasks = append(c.Tasks, parseTask(m[2], m[1] != " "))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("export: markdown: %w: %w", apperr.ErrSerialization, err)
	}
	if c.Title == "" {
		c.Title = "Imported Cycle"
	}
	if len(c.Tasks) == 0 {
		return nil, fmt.Errorf("export: markdown: no checklist items: %w", apperr.ErrInvalidDocument)
	}
	return c, nil
}

func parseTask(text string, done bool) models.Task {
	text = strings.TrimSpace(text)
	var due *string
	if m := dueRe.FindStringSubmatchIndex(text); m != nil {
		d := text[m[2]:m[3]]
		due = &d
		text = strings.TrimSpace(text[:m[0]] + " " + text[m[1]:])
	}
	high := false
	if strings.HasSuffix(text, priorityMarker) {
		high = true
		text = strings.TrimSpace(strings.TrimSuffix(text, priorityMarker))
	}
	t := models.NewTask(text)
	t.Completed = done
	t.HighPriority = high
	t.DueDate = due
	return t
}

// splitFrontmatter separates leading YAML frontmatter from the body.
// Missing or invalid frontmatter leaves the whole input as body.
func splitFrontmatter(data []byte) (cycleMeta, string) {
	const delim = "---"
	var meta cycleMeta
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return meta, string(data)
	}
	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return meta, string(data)
	}
	block := rest[:idx]
	body := strings.TrimLeft(string(rest[idx+1+len(delim):]), "\n\r")
	if err := yaml.Unmarshal(block, &meta); err != nil {
		return cycleMeta{}, string(data)
	}
	return meta, body
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
