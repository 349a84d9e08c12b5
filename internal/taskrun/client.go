package taskrun

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"scour/internal/config"
)

// Client talks HTTP to the task execution service.
type Client struct {
	baseURL      string
	token        string
	awaitTimeout time.Duration
	httpClient   *http.Client
}

var _ Runner = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient creates a task execution client from config.
func NewClient(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("taskrun: config is nil")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.Remote.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("taskrun: remote.base_url is not configured")
	}
	client := &Client{
		baseURL:      baseURL,
		token:        strings.TrimSpace(cfg.Remote.APIToken),
		awaitTimeout: time.Duration(cfg.Remote.AwaitTimeout) * time.Second,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Remote.RequestTimeout) * time.Second,
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type runEnvelope struct {
	Data struct {
		ID               string `json:"id"`
		Status           string `json:"status"`
		DefaultDatasetID string `json:"defaultDatasetId"`
	} `json:"data"`
}

type errorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// StartRun submits input to the named task without waiting for completion.
func (c *Client) StartRun(ctx context.Context, taskRef string, input map[string]any) (string, error) {
	taskRef = strings.TrimSpace(taskRef)
	if taskRef == "" {
		return "", errors.New("taskrun: task ref is empty")
	}
	endpoint := fmt.Sprintf("%s/v2/tasks/%s/runs", c.baseURL, url.PathEscape(taskRef))

	body, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("taskrun: encode input: %w", err)
	}

	var envelope runEnvelope
	if err := c.do(ctx, http.MethodPost, endpoint, bytes.NewReader(body), &envelope); err != nil {
		return "", err
	}
	if envelope.Data.ID == "" {
		return "", &RunError{Message: "service returned no run id"}
	}
	return envelope.Data.ID, nil
}

// AwaitItems blocks until the run finishes, then fetches its dataset items.
// The run id and dataset id are returned even when item retrieval fails so
// callers can recover the output later.
func (c *Client) AwaitItems(ctx context.Context, runID string) ([]Item, RunMeta, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, RunMeta{}, errors.New("taskrun: run id is empty")
	}

	waitSeconds := int(c.awaitTimeout / time.Second)
	if waitSeconds < 1 {
		waitSeconds = 1
	}
	endpoint := fmt.Sprintf("%s/v2/runs/%s?waitForFinish=%s", c.baseURL, url.PathEscape(runID), strconv.Itoa(waitSeconds))

	waitCtx := ctx
	if c.awaitTimeout > 0 {
		var cancel context.CancelFunc
		// Leave headroom beyond the server-side wait so the response can drain.
		waitCtx, cancel = context.WithTimeout(ctx, c.awaitTimeout+30*time.Second)
		defer cancel()
	}

	// The long-poll outlives the per-request timeout; keep the configured
	// transport and drop only the deadline.
	waitClient := *c.httpClient
	waitClient.Timeout = 0

	var envelope runEnvelope
	if err := c.doWithClient(waitCtx, &waitClient, http.MethodGet, endpoint, nil, &envelope); err != nil {
		return nil, RunMeta{}, err
	}
	meta := RunMeta{
		RunID:     envelope.Data.ID,
		DatasetID: envelope.Data.DefaultDatasetID,
		Status:    envelope.Data.Status,
	}
	if meta.RunID == "" {
		meta.RunID = runID
	}
	if meta.DatasetID == "" {
		return nil, meta, nil
	}

	itemsEndpoint := fmt.Sprintf("%s/v2/datasets/%s/items?clean=true", c.baseURL, url.PathEscape(meta.DatasetID))
	var items []Item
	if err := c.do(ctx, http.MethodGet, itemsEndpoint, nil, &items); err != nil {
		return nil, meta, err
	}
	return items, meta, nil
}

// AbortRun cancels an in-flight run. Errors are returned for logging only.
func (c *Client) AbortRun(ctx context.Context, runID string) error {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil
	}
	endpoint := fmt.Sprintf("%s/v2/runs/%s/abort", c.baseURL, url.PathEscape(runID))
	return c.do(ctx, http.MethodPost, endpoint, nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, out any) error {
	return c.doWithClient(ctx, c.httpClient, method, endpoint, body, out)
}

func (c *Client) doWithClient(ctx context.Context, httpClient *http.Client, method, endpoint string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("taskrun: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("taskrun: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("taskrun: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeRunError(resp.StatusCode, payload)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("taskrun: decode response: %w", err)
	}
	return nil
}

func decodeRunError(status int, payload []byte) error {
	var envelope errorEnvelope
	if err := json.Unmarshal(payload, &envelope); err == nil && (envelope.Error.Type != "" || envelope.Error.Message != "") {
		return &RunError{
			Kind:       envelope.Error.Type,
			Message:    envelope.Error.Message,
			StatusCode: status,
		}
	}
	message := strings.TrimSpace(string(payload))
	if message == "" {
		message = http.StatusText(status)
	}
	return &RunError{Message: message, StatusCode: status}
}
