package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pulseboard/pulseboard/internal/progress"
)

// Poster delivers one event to the relay. The HTTP implementation is the
// production transport; tests substitute a recording fake.
type Poster interface {
	Post(ctx context.Context, evt progress.Event) error
}

// HTTPPoster posts events as JSON to the server's ingest endpoint.
type HTTPPoster struct {
	url    string
	token  string
	client *http.Client
}

// NewHTTPPoster builds the production transport. The timeout is a hard cap
// on one delivery attempt in addition to any context deadline.
func NewHTTPPoster(url, token string, timeout time.Duration) *HTTPPoster {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &HTTPPoster{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

// Post sends the event, treating any non-2xx response as a failure.
func (p *HTTPPoster) Post(ctx context.Context, evt progress.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return nil
}
