package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xraph/signoff/stream"
)

// streamEvents serves GET /stream as server-sent events. Each topic query
// parameter adds a subscription; with none the firehose is used.
func (a *API) streamEvents(c echo.Context) error {
	topics := c.QueryParams()["topic"]
	if len(topics) == 0 {
		topics = []string{stream.TopicFirehose}
	}
	for _, topic := range topics {
		if err := stream.ValidateTopic(topic); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	sub := a.broker.Subscribe(topics...)
	defer a.broker.RemoveSubscriber(sub.ID())

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-sub.C():
			if !ok {
				return nil
			}
			data, err := json.Marshal(evt)
			if err != nil {
				a.logger.Warn("stream: marshal event", slog.String("error", err.Error()))
				continue
			}
			if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", evt.Type, data); err != nil {
				return nil
			}
			res.Flush()
			sub.AddCredits(1)
		}
	}
}
