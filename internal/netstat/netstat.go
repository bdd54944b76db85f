// Package netstat reports whether the device can reach the task store.
package netstat

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Status is the pair of signals the mutation precheck and the offline banner
// use: a usable network interface and a reachable store endpoint.
type Status struct {
	Connected         bool
	InternetReachable bool
}

func (s Status) Online() bool {
	return s.Connected && s.InternetReachable
}

type Source interface {
	Status() Status
}

// Static is a fixed status, used for the local database where the store is
// always reachable.
type Static Status

func (s Static) Status() Status { return Status(s) }

// Monitor polls the network and publishes changes.
type Monitor struct {
	probeURL   string
	interval   time.Duration
	client     *http.Client
	interfaces func() bool
	log        *log.Entry

	mu      sync.RWMutex
	current Status
	changes chan Status
}

func NewMonitor(probeURL string, interval time.Duration, logger *log.Entry) *Monitor {
	m := &Monitor{
		probeURL:   probeURL,
		interval:   interval,
		client:     &http.Client{Timeout: 3 * time.Second},
		interfaces: hasUsableInterface,
		log:        logger,
		changes:    make(chan Status, 1),
	}
	// A server on this machine needs no network interface.
	if isLoopback(probeURL) {
		m.interfaces = func() bool { return true }
	}
	return m
}

func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Changes delivers a new Status whenever it differs from the previous one.
// Only the latest unread status is kept.
func (m *Monitor) Changes() <-chan Status {
	return m.changes
}

// Run probes immediately, then every interval, until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.Refresh(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Refresh(ctx)
		}
	}
}

// Refresh probes once and records the result.
func (m *Monitor) Refresh(ctx context.Context) {
	next := Status{Connected: m.interfaces()}
	if next.Connected {
		next.InternetReachable = m.probe(ctx)
	}
	m.mu.Lock()
	changed := next != m.current
	m.current = next
	m.mu.Unlock()
	if !changed {
		return
	}
	m.log.WithFields(log.Fields{"connected": next.Connected, "reachable": next.InternetReachable}).Info("connectivity changed")
	select {
	case <-m.changes:
	default:
	}
	select {
	case m.changes <- next:
	default:
	}
}

func (m *Monitor) probe(ctx context.Context) bool {
	if m.probeURL == "" {
		return true
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.log.WithError(err).Debug("probe failed")
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

func hasUsableInterface() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0 {
			return true
		}
	}
	return false
}

func isLoopback(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
