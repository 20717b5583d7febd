package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/xraph/signoff/id"
	"github.com/xraph/signoff/stream"
)

// Subscribe opens the server's event stream on topics and returns a channel
// of events. With no topics the firehose is used. The channel is closed
// when ctx is done or the stream ends and cannot be reopened.
//
// Topics follow the stream package convention:
//   - "task:<taskID>", "group:<groupID>", "assignee:<name>", "workflow:<runID>"
//   - "tasks", "versions", "workflows" for a whole event class
//   - "firehose" for everything
//
// Events published while a dropped stream is reconnecting are not replayed.
func (c *Client) Subscribe(ctx context.Context, topics ...string) (<-chan *stream.Event, error) {
	q := url.Values{}
	for _, t := range topics {
		q.Add("topic", t)
	}

	body, err := c.openStream(ctx, q)
	if err != nil {
		return nil, err
	}

	ch := make(chan *stream.Event, 64)
	go c.pump(ctx, q, body, ch)
	return ch, nil
}

// Watch follows the lifecycle events of one workflow run.
func (c *Client) Watch(ctx context.Context, runID id.RunID) (<-chan *stream.Event, error) {
	return c.Subscribe(ctx, stream.WorkflowTopic(runID.String()))
}

func (c *Client) openStream(ctx context.Context, q url.Values) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/stream", q), nil)
	if err != nil {
		return nil, fmt.Errorf("signoff/client: build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("signoff/client: open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp.Body, nil
}

// pump reads body into ch, reopening the stream after transport failures.
func (c *Client) pump(ctx context.Context, q url.Values, body io.ReadCloser, ch chan<- *stream.Event) {
	defer close(ch)
	for {
		err := readEvents(ctx, body, ch)
		_ = body.Close()
		if ctx.Err() != nil || c.retries == 0 {
			return
		}
		c.logger.Warn("signoff event stream dropped", slog.Any("error", err))

		p := c.policy()
		p.Retryable = func(error) bool { return ctx.Err() == nil }
		err = p.Do(ctx, func(ctx context.Context) error {
			var openErr error
			body, openErr = c.openStream(ctx, q)
			return openErr
		})
		if err != nil {
			c.logger.Error("signoff event stream closed", slog.String("error", err.Error()))
			return
		}
	}
}

// readEvents parses server-sent event frames until body ends. Only the
// data field is used; it carries the whole envelope.
func readEvents(ctx context.Context, body io.Reader, ch chan<- *stream.Event) error {
	r := bufio.NewReader(body)
	var data strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var evt stream.Event
			raw := data.String()
			data.Reset()
			if err := json.Unmarshal([]byte(raw), &evt); err != nil {
				continue
			}
			select {
			case ch <- &evt:
			case <-ctx.Done():
				return ctx.Err()
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}
