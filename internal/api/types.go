package api

import (
	"encoding/json"
	"time"

	"scour/internal/queue"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// QueueItem describes a queue entry in a transport-friendly format.
type QueueItem struct {
	ID           string          `json:"id"`
	OwnerID      string          `json:"ownerId"`
	TaskRef      string          `json:"taskRef"`
	Status       string          `json:"status"`
	Priority     string          `json:"priority"`
	RetryCount   int             `json:"retryCount"`
	MaxRetries   int             `json:"maxRetries"`
	ErrorKind    string          `json:"errorKind,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	RemoteRunID  string          `json:"remoteRunId,omitempty"`
	SessionID    string          `json:"sessionId,omitempty"`
	SessionStep  int             `json:"sessionStep,omitempty"`
	CreatedAt    string          `json:"createdAt,omitempty"`
	UpdatedAt    string          `json:"updatedAt,omitempty"`
	ProcessedAt  string          `json:"processedAt,omitempty"`
	CompletedAt  string          `json:"completedAt,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
}

// FromQueueItem converts a store item into its API representation.
func FromQueueItem(item *queue.Item) QueueItem {
	out := QueueItem{
		ID:           item.ID,
		OwnerID:      item.OwnerID,
		TaskRef:      item.TaskRef,
		Status:       string(item.Status),
		Priority:     string(item.Priority),
		RetryCount:   item.RetryCount,
		MaxRetries:   item.MaxRetries,
		ErrorKind:    item.ErrorKind,
		ErrorMessage: item.ErrorMessage,
		RemoteRunID:  item.RemoteRunID,
		SessionID:    item.SessionID,
		SessionStep:  item.SessionStep,
		CreatedAt:    formatTime(&item.CreatedAt),
		UpdatedAt:    formatTime(&item.UpdatedAt),
		ProcessedAt:  formatTime(item.ProcessedAt),
		CompletedAt:  formatTime(item.CompletedAt),
	}
	if item.ResultJSON != "" {
		out.Result = json.RawMessage(item.ResultJSON)
	}
	return out
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// PollResponse reports the caller-visible state of a queue item. Pending
// items carry their position and estimated wait; completed session items
// resolve to the aggregated session result once every stage is terminal.
type PollResponse struct {
	ID              string          `json:"id"`
	Status          string          `json:"status"`
	Position        int             `json:"position,omitempty"`
	EstimatedWait   int             `json:"estimatedWaitMinutes,omitempty"`
	RetryCount      int             `json:"retryCount,omitempty"`
	ErrorKind       string          `json:"errorKind,omitempty"`
	ErrorMessage    string          `json:"errorMessage,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	SessionID       string          `json:"sessionId,omitempty"`
	SessionComplete bool            `json:"sessionComplete,omitempty"`
	SessionPartial  bool            `json:"sessionPartial,omitempty"`
	TotalStages     int             `json:"totalStages,omitempty"`
}

// SearchRequest is the submit payload for a new search.
type SearchRequest struct {
	OwnerID  string   `json:"ownerId"`
	Keywords []string `json:"keywords"`
	Limit    int      `json:"limit"`
}

// SearchResponse reports either inline results or the queued item to poll.
type SearchResponse struct {
	SessionID     string           `json:"sessionId"`
	Queued        bool             `json:"queued"`
	QueuedItemID  string           `json:"queuedItemId,omitempty"`
	QueuePosition int              `json:"queuePosition,omitempty"`
	EstimatedWait int              `json:"estimatedWaitMinutes,omitempty"`
	Items         []map[string]any `json:"items,omitempty"`
	Requested     int              `json:"requested"`
	Returned      int              `json:"returned"`
	RawDiscovered int              `json:"rawDiscovered"`
	Credits       CreditSummary    `json:"credits"`
}

// CreditSummary reports the credit accounting of a search.
type CreditSummary struct {
	Reserved int `json:"reserved"`
	Actual   int `json:"actual"`
	Refund   int `json:"refund"`
}

// DrainResponse summarizes one drain invocation.
type DrainResponse struct {
	Selected  int    `json:"selected"`
	Skipped   int    `json:"skipped"`
	Processed int    `json:"processed"`
	Requeued  int    `json:"requeued"`
	Failed    int    `json:"failed"`
	Reaped    int64  `json:"reaped"`
	Duration  string `json:"duration"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	QueueDBPath  string         `json:"queueDbPath"`
	LockFilePath string         `json:"lockFilePath"`
	QueueStats   map[string]int `json:"queueStats"`
}

// QueueListResponse wraps a collection of queue items for API responses.
type QueueListResponse struct {
	Items []QueueItem `json:"items"`
}

// QueueItemResponse wraps a single queue item.
type QueueItemResponse struct {
	Item QueueItem `json:"item"`
}

// QueueMutationResponse reports how many items a queue operation touched.
type QueueMutationResponse struct {
	Affected int64 `json:"affected"`
}
