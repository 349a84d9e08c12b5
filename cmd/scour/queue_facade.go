package main

import (
	"context"
	"net/url"

	"scour/internal/api"
	"scour/internal/logging"
	"scour/internal/queue"
	"scour/internal/session"
)

type queueAPI interface {
	Stats(ctx context.Context) (map[string]int, error)
	List(ctx context.Context, statuses []string) ([]api.QueueItem, error)
	Describe(ctx context.Context, id string) (*api.QueueItem, error)
	Retry(ctx context.Context, ids []string) (int64, error)
	Remove(ctx context.Context, id string) (bool, error)
	Clear(ctx context.Context, statuses []string) (int64, error)
}

// --- HTTP adapter ---

type queueHTTPAdapter struct {
	client *apiClient
}

func (a *queueHTTPAdapter) Stats(context.Context) (map[string]int, error) {
	var status api.DaemonStatus
	if err := a.client.get("/api/status", nil, &status); err != nil {
		return nil, err
	}
	return status.QueueStats, nil
}

func (a *queueHTTPAdapter) List(_ context.Context, statuses []string) ([]api.QueueItem, error) {
	query := url.Values{}
	for _, status := range statuses {
		query.Add("status", status)
	}
	var resp api.QueueListResponse
	if err := a.client.get("/api/queue", query, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (a *queueHTTPAdapter) Describe(_ context.Context, id string) (*api.QueueItem, error) {
	var resp api.QueueItemResponse
	if err := a.client.get("/api/queue/"+id, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Item, nil
}

func (a *queueHTTPAdapter) Retry(_ context.Context, ids []string) (int64, error) {
	body := map[string]any{"ids": ids}
	var resp api.QueueMutationResponse
	if err := a.client.post("/api/queue/retry", nil, body, &resp); err != nil {
		return 0, err
	}
	return resp.Affected, nil
}

func (a *queueHTTPAdapter) Remove(_ context.Context, id string) (bool, error) {
	var resp api.QueueMutationResponse
	if err := a.client.delete("/api/queue/"+id, &resp); err != nil {
		return false, err
	}
	return resp.Affected > 0, nil
}

func (a *queueHTTPAdapter) Clear(_ context.Context, statuses []string) (int64, error) {
	query := url.Values{}
	for _, status := range statuses {
		query.Add("status", status)
	}
	var resp api.QueueMutationResponse
	if err := a.client.post("/api/queue/clear", query, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Affected, nil
}

// --- direct store adapter, used when the daemon is not running ---

type queueStoreAdapter struct {
	svc   *api.QueueService
	close func()
}

func (a *queueStoreAdapter) Stats(ctx context.Context) (map[string]int, error) {
	return a.svc.Stats(ctx)
}

func (a *queueStoreAdapter) List(ctx context.Context, statuses []string) ([]api.QueueItem, error) {
	parsed, err := parseStatusNames(statuses)
	if err != nil {
		return nil, err
	}
	return a.svc.List(ctx, parsed...)
}

func (a *queueStoreAdapter) Describe(ctx context.Context, id string) (*api.QueueItem, error) {
	return a.svc.Describe(ctx, id)
}

func (a *queueStoreAdapter) Retry(ctx context.Context, ids []string) (int64, error) {
	return a.svc.RetryFailed(ctx, ids...)
}

func (a *queueStoreAdapter) Remove(ctx context.Context, id string) (bool, error) {
	return a.svc.Remove(ctx, id)
}

func (a *queueStoreAdapter) Clear(ctx context.Context, statuses []string) (int64, error) {
	parsed, err := parseStatusNames(statuses)
	if err != nil {
		return 0, err
	}
	return a.svc.Clear(ctx, parsed...)
}

func parseStatusNames(names []string) ([]queue.Status, error) {
	statuses := make([]queue.Status, 0, len(names))
	for _, name := range names {
		status, ok := queue.ParseStatus(name)
		if !ok {
			return nil, &unknownStatusError{name: name}
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

type unknownStatusError struct{ name string }

func (e *unknownStatusError) Error() string { return "unknown status " + e.name }

// resolveQueueAPI prefers the daemon API and falls back to opening the store
// directly when the daemon is unreachable. The returned cleanup closes the
// store in the fallback case.
func (c *commandContext) resolveQueueAPI(ctx context.Context) (queueAPI, func(), error) {
	client, err := c.apiClient()
	if err == nil {
		adapter := &queueHTTPAdapter{client: client}
		if _, statErr := adapter.Stats(ctx); statErr == nil {
			return adapter, func() {}, nil
		}
	}

	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	aggregator := session.NewAggregator(store, true, logging.NewNop())
	adapter := &queueStoreAdapter{
		svc:   api.NewQueueService(store, aggregator),
		close: func() { _ = store.Close() },
	}
	return adapter, adapter.close, nil
}
