package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"taskdeck/internal/logging"
	"taskdeck/internal/storage"
	"taskdeck/internal/tasks"
)

func startServer(t *testing.T, token string) (*Client, *memStore) {
	t.Helper()
	s, store := newTestServer(token)
	ts := httptest.NewServer(s.Echo())
	t.Cleanup(ts.Close)
	c := NewClient(ts.URL+"/", token, logging.Discard())
	c.minBackoff = 10 * time.Millisecond
	return c, store
}

func nextSnapshot(t *testing.T, ch <-chan []tasks.Task) []tasks.Task {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatal("stream closed")
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot")
	}
	return nil
}

func TestClientRoundTrip(t *testing.T) {
	c, _ := startServer(t, "secret")
	ctx := context.Background()

	id, err := c.Create(ctx, tasks.Draft{Title: "Buy milk"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	other, err := c.Create(ctx, tasks.Draft{Title: "Walk dog"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	done := true
	if err := c.Update(ctx, id, tasks.Patch{Completed: &done}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := c.Reorder(ctx, []tasks.OrderUpdate{{ID: id, Order: 2}, {ID: other, Order: 1}}); err != nil {
		t.Fatalf("reorder: %v", err)
	}

	list, err := c.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := map[string]tasks.Task{}
	for _, task := range list {
		got[task.ID] = task
	}
	if !got[id].Completed || got[id].Order != 2 || got[other].Order != 1 {
		t.Fatalf("list = %+v", list)
	}

	if err := c.Remove(ctx, other); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if list, _ := c.List(ctx); len(list) != 1 {
		t.Fatalf("after remove = %+v", list)
	}
}

func TestClientErrors(t *testing.T) {
	c, _ := startServer(t, "")
	ctx := context.Background()
	done := true

	var notFound storage.TaskNotFoundError
	if err := c.Update(ctx, "missing", tasks.Patch{Completed: &done}); !errors.As(err, &notFound) || notFound.ID != "missing" {
		t.Fatalf("expected TaskNotFoundError, got %v", err)
	}
	var status StatusError
	if _, err := c.Create(ctx, tasks.Draft{Title: " "}); !errors.As(err, &status) || status.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}

	guarded, _ := startServer(t, "secret")
	unauthorized := NewClient(guarded.base, "nope", logging.Discard())
	if _, err := unauthorized.List(ctx); !errors.As(err, &status) || status.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestClientSubscribeFollowsChanges(t *testing.T) {
	c, _ := startServer(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := c.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first := nextSnapshot(t, ch); len(first) != 0 {
		t.Fatalf("initial snapshot = %+v", first)
	}
	if _, err := c.Create(context.Background(), tasks.Draft{Title: "Buy milk"}); err != nil {
		t.Fatal(err)
	}
	if next := nextSnapshot(t, ch); len(next) != 1 || next[0].Title != "Buy milk" {
		t.Fatalf("after create = %+v", next)
	}

	cancel()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("channel not closed after cancel")
		}
	}
}

func TestClientSubscribeReconnects(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: [{\"id\":\"a\",\"title\":\"x\",\"completed\":false,\"order\":1}]\n\n"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "", logging.Discard())
	c.minBackoff = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := c.Subscribe(ctx)
	snap := nextSnapshot(t, ch)
	if len(snap) != 1 || snap[0].ID != "a" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if attempts.Load() < 2 {
		t.Fatalf("expected a retry, got %d attempts", attempts.Load())
	}
}
