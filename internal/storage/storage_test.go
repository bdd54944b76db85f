package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"taskdeck/internal/logging"
	"taskdeck/internal/tasks"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	return openAt(t, filepath.Join(t.TempDir(), "tasks.db"))
}

func openAt(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path, logging.Discard())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	clock := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func mustCreate(t *testing.T, s *Store, title string) string {
	t.Helper()
	id, err := s.Create(context.Background(), tasks.Draft{Title: title})
	if err != nil {
		t.Fatalf("create %q: %v", title, err)
	}
	return id
}

func byID(t *testing.T, s *Store) map[string]tasks.Task {
	t.Helper()
	list, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	out := map[string]tasks.Task{}
	for _, task := range list {
		out[task.ID] = task
	}
	return out
}

func TestCreateAssignsTopOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := mustCreate(t, s, "first")
	second := mustCreate(t, s, "second")
	id, err := s.Create(ctx, tasks.Draft{Title: "  third  ", Description: "notes", DueDate: "2026-02-01"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got := byID(t, s)
	if got[first].Order != 1 || got[second].Order != 2 || got[id].Order != 3 {
		t.Fatalf("orders = %d %d %d", got[first].Order, got[second].Order, got[id].Order)
	}
	third := got[id]
	if third.Title != "third" || third.Description != "notes" || third.DueDate != "2026-02-01T00:00:00Z" {
		t.Fatalf("unexpected task %+v", third)
	}
	if third.Completed {
		t.Fatal("new task must start incomplete")
	}
	if third.CreatedAt.IsZero() {
		t.Fatal("createdAt not set")
	}

	list, _ := s.List(ctx)
	if list[0].ID != id || list[2].ID != first {
		t.Fatalf("list not newest first: %v", list)
	}
}

func TestCreateRejectsEmptyTitle(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Create(context.Background(), tasks.Draft{Title: "  "}); !errors.Is(err, tasks.ErrEmptyTitle) {
		t.Fatalf("expected ErrEmptyTitle, got %v", err)
	}
}

func TestUpdatePatchesOnlySuppliedFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.Create(ctx, tasks.Draft{Title: "Buy milk", Description: "2 litres"})
	if err != nil {
		t.Fatal(err)
	}

	done := true
	if err := s.Update(ctx, id, tasks.Patch{Completed: &done}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got := byID(t, s)[id]
	if !got.Completed || got.Title != "Buy milk" || got.Description != "2 litres" {
		t.Fatalf("unexpected task after toggle %+v", got)
	}

	empty := ""
	title := "Buy oat milk"
	if err := s.Update(ctx, id, tasks.Patch{Title: &title, Description: &empty}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got = byID(t, s)[id]
	if got.Title != title || got.Description != "" || !got.Completed {
		t.Fatalf("unexpected task after edit %+v", got)
	}
}

func TestUpdateErrors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	done := true
	err := s.Update(ctx, "missing", tasks.Patch{Completed: &done})
	var nf TaskNotFoundError
	if !errors.As(err, &nf) || nf.ID != "missing" {
		t.Fatalf("expected TaskNotFoundError, got %v", err)
	}

	id := mustCreate(t, s, "x")
	blank := "   "
	if err := s.Update(ctx, id, tasks.Patch{Title: &blank}); !errors.Is(err, tasks.ErrEmptyTitle) {
		t.Fatalf("expected ErrEmptyTitle, got %v", err)
	}
	if err := s.Update(ctx, id, tasks.Patch{}); err != nil {
		t.Fatalf("empty patch: %v", err)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := mustCreate(t, s, "x")
	if err := s.Remove(ctx, id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.Remove(ctx, id); err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if len(byID(t, s)) != 0 {
		t.Fatal("task still present")
	}
}

func TestReorderIsAtomic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a := mustCreate(t, s, "a")
	b := mustCreate(t, s, "b")

	if err := s.Reorder(ctx, []tasks.OrderUpdate{{ID: a, Order: 2}, {ID: b, Order: 1}}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	got := byID(t, s)
	if got[a].Order != 2 || got[b].Order != 1 {
		t.Fatalf("orders = %d %d", got[a].Order, got[b].Order)
	}

	err := s.Reorder(ctx, []tasks.OrderUpdate{{ID: a, Order: 10}, {ID: "ghost", Order: 9}})
	var nf TaskNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected TaskNotFoundError, got %v", err)
	}
	if byID(t, s)[a].Order != 2 {
		t.Fatal("failed batch was partially applied")
	}
}

func TestCreateAfterNegativeOrders(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a := mustCreate(t, s, "a")
	if err := s.Reorder(ctx, []tasks.OrderUpdate{{ID: a, Order: -5}}); err != nil {
		t.Fatal(err)
	}
	b := mustCreate(t, s, "b")
	if got := byID(t, s)[b].Order; got != 1 {
		t.Fatalf("order = %d, want 1", got)
	}
}

func receive(t *testing.T, ch <-chan []tasks.Task) []tasks.Task {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatal("subscription closed")
		}
		return snap
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot delivered")
	}
	return nil
}

func TestSubscribeDeliversSnapshots(t *testing.T) {
	s := openTestStore(t)
	mustCreate(t, s, "existing")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if snap := receive(t, ch); len(snap) != 1 {
		t.Fatalf("initial snapshot = %v", snap)
	}

	mustCreate(t, s, "new")
	for {
		snap := receive(t, ch)
		if len(snap) == 2 {
			break
		}
	}

	cancel()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription not closed after cancel")
		}
	}
}

func TestSubscribeSeesOtherProcessWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	reader := openAt(t, path)
	writer := openAt(t, path)
	if reader.watcher == nil {
		t.Skip("file watching unavailable")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := reader.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	receive(t, ch)

	mustCreate(t, writer, "from elsewhere")
	for {
		snap := receive(t, ch)
		if len(snap) == 1 && snap[0].Title == "from elsewhere" {
			return
		}
	}
}
