package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Client is a minimal JSON-over-HTTP client for the provider API.
type Client struct {
	url     string
	headers map[string]string
	client  *http.Client
}

func New(config Config) (c *Client) {
	c = &Client{
		url:     config.Url,
		headers: config.CustomHeaders,
		client:  config.Client,
	}
	if c.client == nil {
		c.client = http.DefaultClient
	}
	return c
}

// Post sends request as JSON to path under the base URL and decodes the
// response body into response. Non-2xx statuses are returned as errors.
func (c *Client) Post(ctx context.Context, path string, request, response any) (err error) {
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to prepare request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		contents, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("gateway returned %s: %s", resp.Status, contents)
	}

	err = json.NewDecoder(resp.Body).Decode(response)
	if err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return nil
}
