package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Email is an outbound confirmation message
type Email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// Sender delivers confirmation emails. The HTTP client below talks to the
// transactional email API; tests substitute an in-memory fake.
type Sender interface {
	Send(ctx context.Context, email Email) error
}

// EmailClient posts messages to the outbound email delivery API
type EmailClient struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
}

func NewEmailClient(apiURL, apiKey string) *EmailClient {
	return &EmailClient{
		apiURL: apiURL,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *EmailClient) Send(ctx context.Context, email Email) error {
	body, err := json.Marshal(email)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("email delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("email API returned status %d", resp.StatusCode)
	}
	return nil
}
