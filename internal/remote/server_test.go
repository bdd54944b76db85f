package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"taskdeck/internal/logging"
	"taskdeck/internal/storage"
	"taskdeck/internal/tasks"
)

type memStore struct {
	mu    sync.Mutex
	tasks []tasks.Task
	next  int
}

func (m *memStore) List(context.Context) ([]tasks.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]tasks.Task, len(m.tasks))
	copy(out, m.tasks)
	return out, nil
}

func (m *memStore) Create(_ context.Context, d tasks.Draft) (string, error) {
	d, err := tasks.NormalizeDraft(d)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	id := "t" + string(rune('0'+m.next))
	m.tasks = append([]tasks.Task{{ID: id, Title: d.Title, Order: tasks.NextOrder(m.tasks)}}, m.tasks...)
	return id, nil
}

func (m *memStore) find(id string) int {
	for i, t := range m.tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (m *memStore) Update(_ context.Context, id string, p tasks.Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.find(id)
	if i < 0 {
		return storage.TaskNotFoundError{ID: id}
	}
	if p.Title != nil {
		m.tasks[i].Title = *p.Title
	}
	if p.Completed != nil {
		m.tasks[i].Completed = *p.Completed
	}
	return nil
}

func (m *memStore) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.find(id); i >= 0 {
		m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
	}
	return nil
}

func (m *memStore) Reorder(_ context.Context, updates []tasks.OrderUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range updates {
		i := m.find(u.ID)
		if i < 0 {
			return storage.TaskNotFoundError{ID: u.ID}
		}
		m.tasks[i].Order = u.Order
	}
	return nil
}

type flushRecorder struct{ *httptest.ResponseRecorder }

func (flushRecorder) Flush() {}

func newTestServer(token string) (*Server, *memStore) {
	store := &memStore{}
	return NewServer(store, NewLocalFanout(), token, logging.Discard()), store
}

func serve(s *Server, method, target, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func TestTokenGuardsAPI(t *testing.T) {
	s, _ := newTestServer("secret")
	if rec := serve(s, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	if rec := serve(s, http.MethodGet, "/api/tasks", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token = %d", rec.Code)
	}
	if rec := serve(s, http.MethodGet, "/api/tasks", "", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d", rec.Code)
	}
	if rec := serve(s, http.MethodGet, "/api/tasks", "", "secret"); rec.Code != http.StatusOK {
		t.Fatalf("good token = %d", rec.Code)
	}
	if rec := serve(s, http.MethodGet, "/api/tasks?token=secret", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("query token = %d", rec.Code)
	}
}

func TestCreateAndList(t *testing.T) {
	s, _ := newTestServer("")
	rec := serve(s, http.MethodPost, "/api/tasks", `{"title":"Buy milk"}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rec.Code, rec.Body.String())
	}
	var created createResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &created); err != nil || created.ID == "" {
		t.Fatalf("create body %q: %v", rec.Body.String(), err)
	}

	rec = serve(s, http.MethodGet, "/api/tasks", "", "")
	var list []tasks.Task
	if err := sonic.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].Title != "Buy milk" || list[0].Order != 1 {
		t.Fatalf("list = %+v", list)
	}
}

func TestRequestErrors(t *testing.T) {
	s, _ := newTestServer("")
	cases := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"empty title", http.MethodPost, "/api/tasks", `{"title":"  "}`, http.StatusBadRequest},
		{"bad due date", http.MethodPost, "/api/tasks", `{"title":"x","dueDate":"soon"}`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/tasks", `{"title":"x","priority":1}`, http.StatusBadRequest},
		{"malformed", http.MethodPost, "/api/tasks", `{`, http.StatusBadRequest},
		{"update missing", http.MethodPatch, "/api/tasks/nope", `{"completed":true}`, http.StatusNotFound},
		{"reorder missing", http.MethodPost, "/api/tasks/reorder", `{"updates":[{"id":"nope","order":1}]}`, http.StatusNotFound},
		{"delete missing", http.MethodDelete, "/api/tasks/nope", "", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := serve(s, tc.method, tc.target, tc.body, ""); rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestStreamSendsSnapshotThenChanges(t *testing.T) {
	s, store := newTestServer("")
	if _, err := store.Create(context.Background(), tasks.Draft{Title: "first"}); err != nil {
		t.Fatal(err)
	}

	e := s.Echo()
	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil)
	ctx, cancel := context.WithCancel(context.Background())
	req = req.WithContext(ctx)
	rec := flushRecorder{httptest.NewRecorder()}
	c := e.NewContext(req, rec)

	errCh := make(chan error, 1)
	go func() { errCh <- s.stream(c) }()
	time.Sleep(100 * time.Millisecond)
	if _, err := store.Create(context.Background(), tasks.Draft{Title: "second"}); err != nil {
		t.Fatal(err)
	}
	s.fanout.Publish(context.Background())
	time.Sleep(100 * time.Millisecond)
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("stream error: %v", err)
	}

	frames := strings.Split(strings.TrimSuffix(rec.Body.String(), "\n\n"), "\n\n")
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %q", rec.Body.String())
	}
	var last []tasks.Task
	if err := sonic.Unmarshal([]byte(strings.TrimPrefix(frames[1], sseDataPrefix)), &last); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if len(last) != 2 || last[0].Title != "second" {
		t.Fatalf("second frame = %+v", last)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q", got)
	}
}
