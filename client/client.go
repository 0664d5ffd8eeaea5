// Package client talks to a hitcounter service over HTTP.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const defaultTimeout = 10 * time.Second

// StatusError is returned when the service answers with a non-200 status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d: %q", e.StatusCode, e.Body)
}

// Rejected reports whether err is an answer the service gave before
// touching the counter. Any other Hit failure, including a 503 or a
// timeout, may still have been counted.
func Rejected(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode >= 400 && se.StatusCode < 500
}

// Client calls /hit and /current of a single service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a client for the service at baseURL.
// A nil httpClient is replaced by one with a 10s timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Hit increments the counter and returns the new value.
func (c *Client) Hit(ctx context.Context) (int64, error) {
	return c.do(ctx, http.MethodPost, "/hit")
}

// Current returns the counter without changing it.
func (c *Client) Current(ctx context.Context) (int64, error) {
	return c.do(ctx, http.MethodGet, "/current")
}

// URL returns the absolute address of path on the service.
func (c *Client) URL(path string) string {
	return c.baseURL + path
}

func (c *Client) do(ctx context.Context, method, path string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("error while sending %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var v struct {
		Value *int64 `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return 0, fmt.Errorf("cannot decode response of %s %s: %w", method, path, err)
	}
	if v.Value == nil {
		return 0, fmt.Errorf("response of %s %s has no value", method, path)
	}
	return *v.Value, nil
}

// Session counts itself once: the first successful Visit increments,
// the following ones only read.
type Session struct {
	c *Client

	mu      sync.Mutex
	counted bool
}

func NewSession(c *Client) *Session {
	return &Session{c: c}
}

// Visit returns the counter value, incrementing it on the first visit.
// A failed first visit leaves the session uncounted, so the next Visit
// hits again. When the failure is not Rejected the increment may have
// committed anyway and a retry can count the session twice; callers
// that must not over-count should stop visiting on such errors.
func (s *Session) Visit(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.counted {
		return s.c.Current(ctx)
	}
	v, err := s.c.Hit(ctx)
	if err != nil {
		return 0, err
	}
	s.counted = true
	return v, nil
}

// Counted reports whether the session has already incremented the counter.
func (s *Session) Counted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counted
}
