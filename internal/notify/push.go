package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PushGateway delivers events to an external push service over HTTP.
// The gateway resolves recipient ids to registered devices; a
// translator recipient with ID 0 fans out to every eligible
// translator.
type PushGateway struct {
	url        string
	httpClient *http.Client
}

func NewPushGateway(url string, timeout time.Duration) *PushGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PushGateway{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (g *PushGateway) Notify(ctx context.Context, event Event) error {
	if g.url == "" {
		return fmt.Errorf("push gateway url is not configured")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal push event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push gateway returned %d: %s", resp.StatusCode, string(snippet))
	}
	return nil
}
