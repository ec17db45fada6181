package api

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/minicycle/internal/engine"
	"github.com/starford/minicycle/internal/history"
	"github.com/starford/minicycle/internal/models"
)

// CreateCycleRequest is the request body for creating a cycle.
type CreateCycleRequest struct {
	Title string `json:"title" example:"Morning routine" validate:"required"`
}

func (r CreateCycleRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.By(notBlank), validation.RuneLength(1, models.MaxCycleTitleLen)),
	)
}

// AddTaskRequest is the request body for adding a task.
type AddTaskRequest struct {
	Text         string  `json:"text" example:"Stretch" validate:"required"`
	HighPriority bool    `json:"highPriority"`
	DueDate      *string `json:"dueDate,omitempty" example:"2024-07-10"`
}

func (r AddTaskRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Text, validation.By(notBlank), validation.RuneLength(1, models.MaxTaskTextLen)),
		validation.Field(&r.DueDate, validation.NilOrNotEmpty, validation.Date(models.DueDateLayout)),
	)
}

func (r AddTaskRequest) input() engine.TaskInput {
	return engine.TaskInput{Text: r.Text, HighPriority: r.HighPriority, DueDate: r.DueDate}
}

// SetActiveRequest is the request body for switching the active cycle.
type SetActiveRequest struct {
	CycleID string `json:"cycleId" example:"cycle-1b9d6bcd" validate:"required"`
}

func (r SetActiveRequest) Validate() error {
	return validation.ValidateStruct(&r, validation.Field(&r.CycleID, validation.Required))
}

// StepResponse reports the outcome of an undo or redo.
type StepResponse struct {
	Applied bool           `json:"applied"`
	History history.Status `json:"history"`
}

func notBlank(value interface{}) error {
	s, _ := value.(string)
	if strings.TrimSpace(s) == "" {
		return validation.ErrRequired
	}
	return nil
}
