package ui

import (
	"fmt"
	"strings"

	"taskdeck/internal/tasks"
)

const (
	fieldTitle = iota
	fieldDescription
	fieldDue
	fieldCount
)

var formLabels = [fieldCount]string{"title", "description", "due (YYYY-MM-DD)"}

// formState backs the add and edit forms. One text input is shared by all
// fields; values are swapped in and out as the focus moves.
type formState struct {
	editing *tasks.Task
	values  [fieldCount]string
	index   int
}

func newCreateForm() *formState {
	return &formState{}
}

func newEditForm(t tasks.Task) *formState {
	return &formState{
		editing: &t,
		values:  [fieldCount]string{t.Title, t.Description, tasks.FormatDue(t.DueDate)},
	}
}

func (f *formState) currentLabel() string     { return formLabels[f.index] }
func (f *formState) currentValue() string     { return f.values[f.index] }
func (f *formState) setCurrentValue(v string) { f.values[f.index] = v }

func (f *formState) move(delta int) {
	f.index = wrapIndex(f.index+delta, fieldCount)
}

func (f *formState) last() bool { return f.index == fieldCount-1 }

func (f *formState) draft() tasks.Draft {
	return tasks.Draft{
		Title:       f.values[fieldTitle],
		Description: f.values[fieldDescription],
		DueDate:     f.values[fieldDue],
	}
}

func (f *formState) heading() string {
	if f.editing != nil {
		return "Edit task"
	}
	return "New task"
}

func (f *formState) prompt() string {
	return fmt.Sprintf("Editing %s (field %d of %d). Enter to advance, Esc to cancel, tab to move.",
		f.currentLabel(), f.index+1, fieldCount)
}

func (f *formState) render(s styles) string {
	var b strings.Builder
	for i, name := range formLabels {
		prefix := " "
		if i == f.index {
			prefix = ">"
		}
		val := f.values[i]
		if strings.TrimSpace(val) == "" {
			val = "(empty)"
		}
		b.WriteString(fmt.Sprintf("%s %s %s\n", prefix, s.label.Render(name), val))
	}
	return b.String()
}

func wrapIndex(idx, n int) int {
	if n <= 0 {
		return 0
	}
	idx %= n
	if idx < 0 {
		idx += n
	}
	return idx
}
