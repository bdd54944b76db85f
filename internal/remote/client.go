package remote

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"taskdeck/internal/storage"
	"taskdeck/internal/tasks"
)

// StatusError is a non-2xx reply from the sync server.
type StatusError struct {
	Code    int
	Message string
}

func (e StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Code)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// Client is a task store backed by a sync server.
type Client struct {
	base   string
	token  string
	http   *http.Client
	stream *http.Client
	log    *log.Entry

	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewClient(baseURL, token string, logger *log.Entry) *Client {
	return &Client{
		base:       strings.TrimRight(baseURL, "/"),
		token:      token,
		http:       &http.Client{Timeout: 15 * time.Second},
		stream:     &http.Client{},
		log:        logger,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
}

// HealthURL is the unauthenticated liveness endpoint of a sync server.
func HealthURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/healthz"
}

func (c *Client) List(ctx context.Context) ([]tasks.Task, error) {
	var list []tasks.Task
	if err := c.do(ctx, http.MethodGet, "/api/tasks", nil, &list); err != nil {
		return nil, err
	}
	if list == nil {
		list = []tasks.Task{}
	}
	return list, nil
}

func (c *Client) Create(ctx context.Context, d tasks.Draft) (string, error) {
	var resp createResponse
	if err := c.do(ctx, http.MethodPost, "/api/tasks", d, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) Update(ctx context.Context, id string, p tasks.Patch) error {
	err := c.do(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(id), p, nil)
	return notFound(err, id)
}

func (c *Client) Remove(ctx context.Context, id string) error {
	err := c.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil)
	return notFound(err, id)
}

func (c *Client) Reorder(ctx context.Context, updates []tasks.OrderUpdate) error {
	return c.do(ctx, http.MethodPost, "/api/tasks/reorder", reorderRequest{Updates: updates}, nil)
}

func notFound(err error, id string) error {
	var se StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return storage.TaskNotFoundError{ID: id}
	}
	return err
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return sonic.Unmarshal(data, out)
}

// Subscribe follows the server's event stream. The channel always holds the
// newest snapshot only. A dropped stream is reopened with exponential
// backoff until ctx is done, then the channel is closed.
func (c *Client) Subscribe(ctx context.Context) (<-chan []tasks.Task, error) {
	out := make(chan []tasks.Task, 1)
	go func() {
		defer close(out)
		backoff := c.minBackoff
		for {
			delivered, err := c.follow(ctx, out)
			if ctx.Err() != nil {
				return
			}
			if delivered {
				backoff = c.minBackoff
			}
			c.log.WithError(err).WithField("retry_in", backoff).Warn("task stream lost")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.maxBackoff)
		}
	}()
	return out, nil
}

// follow reads one stream connection to its end. It reports whether at
// least one snapshot came through.
func (c *Client) follow(ctx context.Context, out chan []tasks.Task) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/stream", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.stream.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	delivered := false
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64<<10), 16<<20)
	var data []byte
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			if payload, ok := strings.CutPrefix(line, sseDataPrefix); ok {
				data = append(data, payload...)
			}
			continue
		}
		if len(data) == 0 {
			continue
		}
		var snapshot []tasks.Task
		if err := sonic.Unmarshal(data, &snapshot); err != nil {
			c.log.WithError(err).Warn("bad stream event")
			data = nil
			continue
		}
		data = nil
		if snapshot == nil {
			snapshot = []tasks.Task{}
		}
		select {
		case <-out:
		default:
		}
		out <- snapshot
		delivered = true
	}
	if err := scanner.Err(); err != nil {
		return delivered, err
	}
	return delivered, io.ErrUnexpectedEOF
}
