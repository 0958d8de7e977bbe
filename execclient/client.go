// Package execclient talks to the external execution service that performs
// our side of an agreed exchange.
package execclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quailyquaily/negotiant/negotiation"
)

type Client struct {
	http      *http.Client
	baseURL   string
	authToken string
}

func New(httpClient *http.Client, baseURL, authToken string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL = strings.TrimSpace(strings.TrimRight(baseURL, "/"))
	return &Client{
		http:      httpClient,
		baseURL:   baseURL,
		authToken: strings.TrimSpace(authToken),
	}
}

// Perform implements negotiation.Executor against the service's
// POST /perform endpoint.
func (c *Client) Perform(ctx context.Context, resourceRef string, terms negotiation.Terms) (negotiation.ExecutionResults, error) {
	if c == nil || c.http == nil {
		return nil, fmt.Errorf("exec client is not initialized")
	}
	if strings.TrimSpace(c.baseURL) == "" {
		return nil, fmt.Errorf("exec service url is required")
	}
	resourceRef = strings.TrimSpace(resourceRef)
	if resourceRef == "" {
		return nil, fmt.Errorf("resource_ref is required")
	}

	type requestBody struct {
		ResourceRef string            `json:"resource_ref"`
		Terms       negotiation.Terms `json:"terms"`
	}
	type responseBody struct {
		OK      bool            `json:"ok"`
		Error   string          `json:"error,omitempty"`
		Results map[string]bool `json:"results,omitempty"`
	}

	bodyRaw, err := json.Marshal(requestBody{ResourceRef: resourceRef, Terms: terms})
	if err != nil {
		return nil, fmt.Errorf("marshal perform payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/perform", bytes.NewReader(bodyRaw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	respRaw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read perform response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("perform http %d", resp.StatusCode)
	}

	var out responseBody
	if err := json.Unmarshal(respRaw, &out); err != nil {
		return nil, fmt.Errorf("decode perform response: %w", err)
	}
	if !out.OK {
		code := strings.TrimSpace(out.Error)
		if code == "" {
			code = "unknown_error"
		}
		return nil, fmt.Errorf("perform failed: %s", code)
	}
	return negotiation.ExecutionResults(out.Results), nil
}
