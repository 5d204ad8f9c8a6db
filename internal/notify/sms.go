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

// SMSGateway delivers events as text messages through an external SMS
// provider. Phone number lookup happens provider-side from the
// recipient ids.
type SMSGateway struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

func NewSMSGateway(url, apiKey string, timeout time.Duration) *SMSGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SMSGateway{
		url:    url,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type smsRequest struct {
	JobID      int64          `json:"job_id"`
	Recipients []Recipient    `json:"recipients"`
	Payload    map[string]any `json:"payload,omitempty"`
}

func (g *SMSGateway) Notify(ctx context.Context, event Event) error {
	if g.url == "" {
		return fmt.Errorf("sms gateway url is not configured")
	}

	body, err := json.Marshal(smsRequest{
		JobID:      event.JobID,
		Recipients: event.Recipients,
		Payload:    event.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal sms request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode, string(snippet))
	}
	return nil
}
