package netstat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"taskdeck/internal/logging"
)

func TestStatusOnline(t *testing.T) {
	tests := []struct {
		s    Status
		want bool
	}{
		{Status{Connected: true, InternetReachable: true}, true},
		{Status{Connected: true}, false},
		{Status{InternetReachable: true}, false},
		{Status{}, false},
	}
	for _, tt := range tests {
		if got := tt.s.Online(); got != tt.want {
			t.Fatalf("%+v.Online() = %v, want %v", tt.s, got, tt.want)
		}
	}
	if !Static(Status{Connected: true, InternetReachable: true}).Status().Online() {
		t.Fatal("static online status not online")
	}
}

func TestMonitorReportsChanges(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := NewMonitor(srv.URL+"/healthz", 20*time.Millisecond, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	waitFor(t, m.Changes(), true)
	if !m.Status().Online() {
		t.Fatal("Status() not online after change")
	}

	healthy.Store(false)
	waitFor(t, m.Changes(), false)
	if m.Status().Online() {
		t.Fatal("Status() still online")
	}
}

func TestMonitorWithoutInterface(t *testing.T) {
	m := NewMonitor("https://example.invalid/healthz", time.Hour, logging.Discard())
	m.interfaces = func() bool { return false }
	m.Refresh(context.Background())
	st := m.Status()
	if st.Connected || st.InternetReachable {
		t.Fatalf("expected fully offline, got %+v", st)
	}
}

func TestIsLoopback(t *testing.T) {
	tests := map[string]bool{
		"http://localhost:8080/healthz": true,
		"http://127.0.0.1:8080":         true,
		"http://[::1]:8080":             true,
		"https://sync.example.com":      false,
		"":                              false,
	}
	for in, want := range tests {
		if got := isLoopback(in); got != want {
			t.Fatalf("isLoopback(%q) = %v, want %v", in, got, want)
		}
	}
}

func waitFor(t *testing.T, ch <-chan Status, online bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case st := <-ch:
			if st.Online() == online {
				return
			}
		case <-deadline:
			t.Fatalf("no status with online=%v", online)
		}
	}
}
