// Package repository is the typed layer between user intents and a task
// store. It validates input before anything reaches the store and wraps
// store failures with the operation that caused them.
package repository

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"taskdeck/internal/tasks"
)

// Backend is a task store: the local SQLite database or the sync server.
type Backend interface {
	List(ctx context.Context) ([]tasks.Task, error)
	Create(ctx context.Context, d tasks.Draft) (string, error)
	Update(ctx context.Context, id string, p tasks.Patch) error
	Remove(ctx context.Context, id string) error
	Reorder(ctx context.Context, updates []tasks.OrderUpdate) error
	Subscribe(ctx context.Context) (<-chan []tasks.Task, error)
}

type Repository struct {
	backend Backend
	log     *log.Entry
}

func New(backend Backend, logger *log.Entry) *Repository {
	return &Repository{backend: backend, log: logger}
}

func (r *Repository) List(ctx context.Context) ([]tasks.Task, error) {
	list, err := r.backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return list, nil
}

func (r *Repository) Create(ctx context.Context, d tasks.Draft) (string, error) {
	d, err := tasks.NormalizeDraft(d)
	if err != nil {
		return "", err
	}
	id, err := r.backend.Create(ctx, d)
	if err != nil {
		r.log.WithError(err).Warn("create failed")
		return "", fmt.Errorf("create task: %w", err)
	}
	r.log.WithField("id", id).Info("task created")
	return id, nil
}

// Update sends a partial patch. An empty patch is a no-op.
func (r *Repository) Update(ctx context.Context, id string, p tasks.Patch) error {
	if p.Empty() {
		return nil
	}
	if p.DueDate != nil {
		due, err := tasks.NormalizeDueDate(*p.DueDate)
		if err != nil {
			return err
		}
		p.DueDate = &due
	}
	if err := r.backend.Update(ctx, id, p); err != nil {
		r.log.WithError(err).WithField("id", id).Warn("update failed")
		return fmt.Errorf("update task: %w", err)
	}
	r.log.WithField("id", id).Info("task updated")
	return nil
}

func (r *Repository) Remove(ctx context.Context, id string) error {
	if err := r.backend.Remove(ctx, id); err != nil {
		r.log.WithError(err).WithField("id", id).Warn("delete failed")
		return fmt.Errorf("delete task: %w", err)
	}
	r.log.WithField("id", id).Info("task deleted")
	return nil
}

// Reorder persists a batch of order updates. An empty batch is a no-op.
func (r *Repository) Reorder(ctx context.Context, updates []tasks.OrderUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	if err := r.backend.Reorder(ctx, updates); err != nil {
		r.log.WithError(err).WithField("count", len(updates)).Warn("reorder failed")
		return fmt.Errorf("reorder tasks: %w", err)
	}
	r.log.WithField("count", len(updates)).Info("tasks reordered")
	return nil
}

func (r *Repository) Subscribe(ctx context.Context) (<-chan []tasks.Task, error) {
	ch, err := r.backend.Subscribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return ch, nil
}
