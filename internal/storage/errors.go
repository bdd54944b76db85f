package storage

import "fmt"

// TaskNotFoundError indicates the id matches no stored task.
type TaskNotFoundError struct {
	ID string
}

func (e TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.ID)
}
