package api

import (
	"context"
	"encoding/json"

	"scour/internal/queue"
	"scour/internal/services"
	"scour/internal/session"
)

// WaitEstimate maps a queue position to an estimated wait in minutes.
func WaitEstimate(position int) int {
	switch {
	case position <= 1:
		return 1
	case position <= 3:
		return 3
	case position <= 5:
		return 5
	default:
		return position * 2
	}
}

// QueueService exposes queue reads and operator mutations in API shapes.
type QueueService struct {
	store      *queue.Store
	aggregator *session.Aggregator
}

// NewQueueService creates a QueueService.
func NewQueueService(store *queue.Store, aggregator *session.Aggregator) *QueueService {
	return &QueueService{store: store, aggregator: aggregator}
}

// List returns queue items filtered to the given statuses.
func (s *QueueService) List(ctx context.Context, statuses ...queue.Status) ([]QueueItem, error) {
	items, err := s.store.List(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	out := make([]QueueItem, 0, len(items))
	for _, item := range items {
		out = append(out, FromQueueItem(item))
	}
	return out, nil
}

// Describe returns one queue item, or nil when it does not exist.
func (s *QueueService) Describe(ctx context.Context, id string) (*QueueItem, error) {
	item, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, nil
	}
	converted := FromQueueItem(item)
	return &converted, nil
}

// Stats returns per-status item counts keyed by status name.
func (s *QueueService) Stats(ctx context.Context) (map[string]int, error) {
	counts, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(counts))
	for status, count := range counts {
		out[string(status)] = count
	}
	return out, nil
}

// Poll reports the caller-visible state of an owned queue item. Ownership is
// part of the lookup: polling someone else's item is indistinguishable from
// polling a missing one. A completed stage-1 session item resolves through
// the aggregator, reporting "processing" until every stage is terminal so a
// partial merge is never surfaced as final.
func (s *QueueService) Poll(ctx context.Context, id, ownerID string) (*PollResponse, error) {
	if ownerID == "" {
		return nil, services.Wrap(services.ErrValidation, "api", "poll", "owner id is required", nil)
	}
	item, err := s.store.GetForOwner(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", "poll", "queue item not found", nil)
	}

	resp := &PollResponse{
		ID:        item.ID,
		Status:    string(item.Status),
		SessionID: item.SessionID,
	}

	switch item.Status {
	case queue.StatusPending:
		position, err := s.store.PendingPosition(ctx, item)
		if err != nil {
			return nil, err
		}
		resp.Position = position
		resp.EstimatedWait = WaitEstimate(position)
		resp.RetryCount = item.RetryCount
	case queue.StatusFailed:
		resp.ErrorKind = item.ErrorKind
		resp.ErrorMessage = item.ErrorMessage
	case queue.StatusCompleted:
		if item.SessionID != "" && item.SessionStep == 1 {
			return s.pollSession(ctx, item, ownerID, resp)
		}
		if item.ResultJSON != "" {
			resp.Result = json.RawMessage(item.ResultJSON)
		}
	}
	return resp, nil
}

func (s *QueueService) pollSession(ctx context.Context, item *queue.Item, ownerID string, resp *PollResponse) (*PollResponse, error) {
	result, err := s.aggregator.Aggregate(ctx, item.SessionID, ownerID)
	if err != nil {
		return nil, err
	}
	resp.TotalStages = result.StageCount
	switch result.State {
	case session.StateProcessing:
		resp.Status = string(queue.StatusProcessing)
		return resp, nil
	case session.StateFailed:
		resp.Status = string(queue.StatusFailed)
		resp.ErrorKind = result.ErrorKind
		resp.ErrorMessage = result.ErrorMessage
		resp.SessionPartial = result.Partial
		if result.Partial {
			resp.Result = marshalSessionResult(result)
		}
		return resp, nil
	default:
		resp.Status = string(queue.StatusCompleted)
		resp.SessionComplete = true
		resp.Result = marshalSessionResult(result)
		return resp, nil
	}
}

func marshalSessionResult(result *session.Result) json.RawMessage {
	payload := map[string]any{
		"success":         result.State == session.StateCompleted,
		"items":           result.Items,
		"runId":           result.RunID,
		"sessionId":       result.SessionID,
		"sessionComplete": result.State != session.StateProcessing,
		"totalStages":     result.StageCount,
		"fromQueue":       true,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return encoded
}

// RetryFailed requeues failed items, all of them when no ids are given.
func (s *QueueService) RetryFailed(ctx context.Context, ids ...string) (int64, error) {
	return s.store.RetryFailed(ctx, ids...)
}

// Remove deletes one item.
func (s *QueueService) Remove(ctx context.Context, id string) (bool, error) {
	return s.store.Remove(ctx, id)
}

// Clear deletes items in the given statuses, or everything when none given.
func (s *QueueService) Clear(ctx context.Context, statuses ...queue.Status) (int64, error) {
	return s.store.Clear(ctx, statuses...)
}
