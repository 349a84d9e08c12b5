package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// apiClient talks to the scourd HTTP API.
type apiClient struct {
	base   string
	token  string
	client *http.Client
}

func newAPIClient(addr, token string) *apiClient {
	base := strings.TrimSpace(addr)
	if base != "" && !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &apiClient{
		base:  strings.TrimRight(base, "/"),
		token: token,
		// Search submissions block on remote runs.
		client: &http.Client{Timeout: 10 * time.Minute},
	}
}

func (c *apiClient) get(path string, query url.Values, out any) error {
	return c.do(http.MethodGet, path, query, nil, out)
}

func (c *apiClient) post(path string, query url.Values, body, out any) error {
	return c.do(http.MethodPost, path, query, body, out)
}

func (c *apiClient) delete(path string, out any) error {
	return c.do(http.MethodDelete, path, nil, nil, out)
}

func (c *apiClient) do(method, path string, query url.Values, body, out any) error {
	if c.base == "" {
		return fmt.Errorf("no scourd API address configured")
	}
	endpoint := c.base + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("scourd API unreachable: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(payload, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("scourd API: %s", apiErr.Error)
		}
		return fmt.Errorf("scourd API returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
