// Package tasks holds the task model and the pure list logic: filtering,
// sorting and order-index recomputation.
package tasks

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var ErrEmptyTitle = errors.New("title cannot be empty")

type InvalidDueDateError struct {
	Value string
}

func (e InvalidDueDateError) Error() string {
	return fmt.Sprintf("invalid due date %q (want YYYY-MM-DD or RFC 3339)", e.Value)
}

// Task is one record of the store snapshot.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	DueDate     string    `json:"dueDate,omitempty"`
	Completed   bool      `json:"completed"`
	Order       int       `json:"order"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Draft is the user input for creating a task or editing its text fields.
type Draft struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	DueDate     string `json:"dueDate,omitempty"`
}

// Patch lists the fields an update touches. Nil fields are left alone.
type Patch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	DueDate     *string `json:"dueDate,omitempty"`
	Completed   *bool   `json:"completed,omitempty"`
}

func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.DueDate == nil && p.Completed == nil
}

type OrderUpdate struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
}

// NormalizeDraft trims the text fields and converts the due date to RFC 3339
// UTC. An empty description or due date means the field is absent.
func NormalizeDraft(d Draft) (Draft, error) {
	out := Draft{
		Title:       strings.TrimSpace(d.Title),
		Description: strings.TrimSpace(d.Description),
	}
	if out.Title == "" {
		return Draft{}, ErrEmptyTitle
	}
	due, err := NormalizeDueDate(d.DueDate)
	if err != nil {
		return Draft{}, err
	}
	out.DueDate = due
	return out, nil
}

func NormalizeDueDate(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", nil
	}
	if t, err := time.Parse(dateLayout, v); err == nil {
		return t.UTC().Format(time.RFC3339), nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC().Format(time.RFC3339), nil
	}
	return "", InvalidDueDateError{Value: v}
}

// EditPatch turns an edit form into a patch against the current task. Fields
// that did not change are omitted; a cleared field is sent as "".
func EditPatch(current Task, d Draft) (Patch, error) {
	// The form shows due dates as YYYY-MM-DD, so an untouched field must not
	// overwrite a stored time of day.
	dueUntouched := strings.TrimSpace(d.DueDate) == FormatDue(current.DueDate)
	d, err := NormalizeDraft(d)
	if err != nil {
		return Patch{}, err
	}
	var p Patch
	if d.Title != current.Title {
		p.Title = &d.Title
	}
	if d.Description != current.Description {
		p.Description = &d.Description
	}
	if !dueUntouched && d.DueDate != current.DueDate {
		p.DueDate = &d.DueDate
	}
	return p, nil
}

func TogglePatch(t Task) Patch {
	done := !t.Completed
	return Patch{Completed: &done}
}

// FormatDue renders a stored due date as YYYY-MM-DD, or "" when absent or
// unparsable.
func FormatDue(v string) string {
	if v == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return ""
	}
	return t.Format(dateLayout)
}

func NextOrder(snapshot []Task) int {
	max := 0
	for _, t := range snapshot {
		if t.Order > max {
			max = t.Order
		}
	}
	return max + 1
}
