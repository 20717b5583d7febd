// Package client is a Go client for a remote signoff HTTP API.
//
// Usage:
//
//	c, err := client.New("https://approvals.example.com",
//	    client.WithRetry(3, 200*time.Millisecond),
//	)
//
//	// Start an approval and decide it.
//	res, err := c.Trigger(ctx, approval.TriggerRequest{
//	    Type:         "purchase_approval",
//	    PurchaseData: map[string]any{"amount": 1000, "item": "AWS Credits"},
//	    Assignee:     "finance",
//	})
//	_, err = c.Decide(ctx, res.TaskID, task.DecisionApprove, "", "cfo")
//
//	// Follow the run as it resumes and completes.
//	events, err := c.Watch(ctx, res.RunID)
//	for evt := range events {
//	    fmt.Println(evt.Type)
//	}
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/backoff"
)

// Client talks to a signoff server over HTTP.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  *slog.Logger

	// Retries apply to idempotent reads and to stream reconnects.
	retries   int
	baseDelay time.Duration
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("signoff/client: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("signoff/client: unsupported scheme %q", u.Scheme)
	}

	c := &Client{
		baseURL:   u,
		http:      &http.Client{},
		logger:    slog.Default(),
		baseDelay: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// APIError is a non-2xx response. It unwraps to the signoff error kind the
// status code stands for, so errors.Is(err, signoff.ErrNotFound) works
// across the wire.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("signoff/client: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// Unwrap maps the status code back to a sentinel.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return signoff.ErrValidation
	case http.StatusNotFound:
		return signoff.ErrNotFound
	case http.StatusConflict:
		return signoff.ErrConflict
	case http.StatusServiceUnavailable:
		return signoff.ErrStoreFailure
	}
	return nil
}

// policy returns the retry policy for one call.
func (c *Client) policy() backoff.Policy {
	return backoff.Policy{
		Strategy:    backoff.NewExponentialWithJitter(c.baseDelay, 30*time.Second),
		MaxAttempts: c.retries + 1,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			c.logger.Warn("signoff client retrying",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
		},
	}
}

// get performs a GET with retries and decodes the body into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.policy().Do(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, path, query, nil, out)
	})
}

// do sends one request. A nil body sends none; a nil out discards the
// response body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("signoff/client: marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path, query), r)
	if err != nil {
		return fmt.Errorf("signoff/client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("signoff/client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("signoff/client: decode response: %w", err)
	}
	return nil
}

func (c *Client) url(path string, query url.Values) string {
	u := *c.baseURL
	u.Path += path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	switch {
	case err != nil:
		apiErr.Message = err.Error()
	case json.Unmarshal(data, &body) == nil && body.Error != "":
		apiErr.Message = body.Error
	default:
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

// Health checks server liveness, including its store.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/healthz", nil, nil)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	return errors.Is(err, signoff.ErrNotFound)
}
