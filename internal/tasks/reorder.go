package tasks

// Reorder assigns order N-i to the item at index i of a permuted visible
// list, so the first item ranks highest. Every item is renumbered. Lists of
// zero or one item need no update and yield nil.
func Reorder(permuted []Task) []OrderUpdate {
	n := len(permuted)
	if n < 2 {
		return nil
	}
	updates := make([]OrderUpdate, n)
	for i, t := range permuted {
		updates[i] = OrderUpdate{ID: t.ID, Order: n - i}
	}
	return updates
}

// Move returns a copy of visible with the item at from moved to index to, the
// keyboard equivalent of a drag. It returns nil when nothing would move.
func Move(visible []Task, from, to int) []Task {
	n := len(visible)
	if from == to || from < 0 || to < 0 || from >= n || to >= n {
		return nil
	}
	out := make([]Task, 0, n)
	moved := visible[from]
	for i, t := range visible {
		if i == from {
			continue
		}
		if i == to && to < from {
			out = append(out, moved)
		}
		out = append(out, t)
		if i == to && to > from {
			out = append(out, moved)
		}
	}
	return out
}

// Renormalize rewrites the whole snapshot to dense ranks N..1 in its current
// display order. Filtered drags only renumber the visible subset, which
// leaves the full list with gaps and repeated values over time; this brings
// it back to one contiguous scale. Only tasks whose order changes are
// returned, and nil means the snapshot is already dense.
func Renormalize(snapshot []Task) []OrderUpdate {
	ordered := Visible(snapshot, Query{Status: StatusAll})
	n := len(ordered)
	var updates []OrderUpdate
	for i, t := range ordered {
		if t.Order != n-i {
			updates = append(updates, OrderUpdate{ID: t.ID, Order: n - i})
		}
	}
	return updates
}
