package models

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Validate checks every document invariant.
func (d *Document) Validate() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.SchemaVersion, validation.Required, validation.In(SchemaVersion)),
		validation.Field(&d.Collections),
		validation.Field(&d.ActiveState, validation.By(d.activeCycleExists)),
		validation.Field(&d.UserProgress),
	)
}

func (d *Document) activeCycleExists(value interface{}) error {
	st, _ := value.(ActiveState)
	if st.ActiveCycleID == "" {
		return nil
	}
	if _, ok := d.Collections.Cycles[st.ActiveCycleID]; !ok {
		return fmt.Errorf("active cycle %q does not exist", st.ActiveCycleID)
	}
	return nil
}

// Validate checks each cycle and that it is stored under its own id.
func (c Collections) Validate() error {
	errs := validation.Errors{}
	for key, cycle := range c.Cycles {
		if cycle == nil {
			errs[key] = errors.New("cycle is null")
			continue
		}
		if cycle.ID != key {
			errs[key] = fmt.Errorf("stored under %q but has id %q", key, cycle.ID)
			continue
		}
		if err := cycle.Validate(); err != nil {
			errs[key] = err
		}
	}
	return errs.Filter()
}

// Validate checks field bounds and task id uniqueness.
func (c *Cycle) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.ID, validation.Required),
		validation.Field(&c.Title, validation.RuneLength(0, MaxCycleTitleLen)),
		validation.Field(&c.CycleCount, validation.Min(0)),
		validation.Field(&c.Tasks),
	); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Tasks))
	for _, t := range c.Tasks {
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("tasks: duplicate id %q", t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}

// Validate checks a single task.
func (t Task) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.ID, validation.Required),
		validation.Field(&t.Text, validation.Required, validation.RuneLength(1, MaxTaskTextLen)),
		validation.Field(&t.DueDate, validation.NilOrNotEmpty, validation.Date(DueDateLayout)),
	)
}

// Validate enforces set semantics on milestones.
func (p UserProgress) Validate() error {
	if err := validation.ValidateStruct(&p,
		validation.Field(&p.CyclesCompleted, validation.Min(0)),
	); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(p.RewardMilestones))
	for _, m := range p.RewardMilestones {
		if _, dup := seen[m]; dup {
			return fmt.Errorf("rewardMilestones: duplicate %q", m)
		}
		seen[m] = struct{}{}
	}
	return nil
}
