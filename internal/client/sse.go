package client

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
)

// SSEEvent is one frame read off a run's event stream.
type SSEEvent struct {
	Event string
	Data  string
}

// StreamEvents opens GET /v1/runs/{id}/events with the given query string
// (already a "replay=...&follow=...&..." fragment, or empty) and invokes
// onEvent for every frame until the stream closes, the context is
// cancelled, or the server ends the connection. Framing follows the
// standard "event:"/"data:"/blank-line SSE contract.
func (c *Client) StreamEvents(ctx context.Context, id, query string, onEvent func(SSEEvent) error) error {
	url := fmt.Sprintf("%s/v1/runs/%s/events", c.BaseURL, id)
	if query != "" {
		url += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if h := c.authHeader(); h != "" {
		req.Header.Set("Authorization", h)
	}
	req.Header.Set("Accept", "text/event-stream")

	// SSE connections are long-lived; the default client timeout would
	// truncate a stream that legitimately runs for minutes, so a separate
	// client with no timeout is used here, bounded only by ctx.
	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream failed: HTTP %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var current SSEEvent
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			current.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			current.Data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			if current.Event == "" && current.Data == "" {
				continue
			}
			if err := onEvent(current); err != nil {
				return err
			}
			current = SSEEvent{}
		}
	}
	return scanner.Err()
}
