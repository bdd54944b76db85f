package tasks

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

type Status string

const (
	StatusAll       Status = "all"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

type InvalidStatusError struct {
	Value string
}

func (e InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid filter %q (valid: all, active, completed)", e.Value)
}

func ParseStatus(v string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(v))) {
	case "", StatusAll:
		return StatusAll, nil
	case StatusActive:
		return StatusActive, nil
	case StatusCompleted:
		return StatusCompleted, nil
	default:
		return StatusAll, InvalidStatusError{Value: v}
	}
}

// Next cycles all -> active -> completed -> all.
func (s Status) Next() Status {
	switch s {
	case StatusAll:
		return StatusActive
	case StatusActive:
		return StatusCompleted
	default:
		return StatusAll
	}
}

func (s Status) Matches(t Task) bool {
	switch s {
	case StatusActive:
		return !t.Completed
	case StatusCompleted:
		return t.Completed
	default:
		return true
	}
}

// Query is the transient UI state the visible list depends on.
type Query struct {
	Search string
	Status Status
}

// MatchesSearch reports whether the search text is a case-insensitive
// substring of the title or the description. Empty search matches all.
func MatchesSearch(t Task, search string) bool {
	if search == "" {
		return true
	}
	needle := strings.ToLower(search)
	return strings.Contains(strings.ToLower(t.Title), needle) ||
		strings.Contains(strings.ToLower(t.Description), needle)
}

func (q Query) Matches(t Task) bool {
	return MatchesSearch(t, q.Search) && q.Status.Matches(t)
}

// Visible derives the displayed list from a snapshot: tasks passing both the
// search and the status predicate, highest order first. Equal orders keep
// their snapshot order. A nil snapshot (still loading) yields an empty list.
// The snapshot is never modified.
func Visible(snapshot []Task, q Query) []Task {
	out := make([]Task, 0, len(snapshot))
	for _, t := range snapshot {
		if q.Matches(t) {
			out = append(out, t)
		}
	}
	slices.SortStableFunc(out, func(a, b Task) int {
		return cmp.Compare(b.Order, a.Order)
	})
	return out
}

type Stats struct {
	Total     int
	Active    int
	Completed int
}

func Summarize(snapshot []Task) Stats {
	var s Stats
	for _, t := range snapshot {
		s.Total++
		if t.Completed {
			s.Completed++
		} else {
			s.Active++
		}
	}
	return s
}

func CompletedTasks(snapshot []Task) []Task {
	var out []Task
	for _, t := range snapshot {
		if t.Completed {
			out = append(out, t)
		}
	}
	return out
}
