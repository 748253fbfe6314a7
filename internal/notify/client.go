package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// EmailClient talks to the email delivery service over HTTP.
type EmailClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewEmailClient(baseURL string, client *http.Client) *EmailClient {
	return &EmailClient{baseURL: baseURL, httpClient: client}
}

func (c *EmailClient) Send(ctx context.Context, to, subject, body string) error {
	data, err := json.Marshal(map[string]string{
		"to":      to,
		"subject": subject,
		"body":    body,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
