package queue

import (
	"encoding/json"
	"strings"
	"time"

	"scour/internal/taskrun"
)

// Status represents the lifecycle of a queue item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// Priority orders unaffiliated pending items within a drain batch.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// ParsePriority converts a string into a known Priority, defaulting to normal.
func ParsePriority(value string) Priority {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(PriorityHigh):
		return PriorityHigh
	case string(PriorityLow):
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// IsTerminal reports whether a status cannot transition further.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Item represents a queue item persisted in SQLite.
type Item struct {
	ID                string
	OwnerID           string
	TaskRef           string
	TaskInputJSON     string
	Status            Status
	Priority          Priority
	RetryCount        int
	MaxRetries        int
	ErrorKind         string
	ErrorMessage      string
	RemoteRunID       string
	ResultJSON        string
	SessionID         string
	SessionStep       int // 0 when unaffiliated
	OriginEndpoint    string
	OriginPayloadJSON string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ProcessedAt       *time.Time
	CompletedAt       *time.Time
}

// IsTerminal reports whether the item reached a terminal state.
func (i *Item) IsTerminal() bool {
	return i.Status.IsTerminal()
}

// TaskInput decodes the stored task input payload.
func (i *Item) TaskInput() (map[string]any, error) {
	if strings.TrimSpace(i.TaskInputJSON) == "" {
		return map[string]any{}, nil
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(i.TaskInputJSON), &input); err != nil {
		return nil, err
	}
	return input, nil
}

// OriginPayload decodes the stored originating request payload, if any.
func (i *Item) OriginPayload() (map[string]any, error) {
	if strings.TrimSpace(i.OriginPayloadJSON) == "" {
		return nil, nil
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(i.OriginPayloadJSON), &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Result decodes the stored result envelope, if any.
func (i *Item) Result() (*ResultEnvelope, error) {
	if strings.TrimSpace(i.ResultJSON) == "" {
		return nil, nil
	}
	var envelope ResultEnvelope
	if err := json.Unmarshal([]byte(i.ResultJSON), &envelope); err != nil {
		return nil, err
	}
	return &envelope, nil
}

// ResultEnvelope is the payload stored on completed items. A run whose output
// retrieval failed still completes with Success=false and the run id kept for
// client-side recovery, because the remote side effect already happened.
type ResultEnvelope struct {
	Success     bool          `json:"success"`
	RunID       string        `json:"run_id,omitempty"`
	Items       []taskrun.Item `json:"items,omitempty"`
	Error       string        `json:"error,omitempty"`
	ErrorDetail string        `json:"error_detail,omitempty"`
	CompletedAt time.Time     `json:"completed_at"`
	FromQueue   bool          `json:"from_queue,omitempty"`
}

// NewItem carries the fields callers supply when enqueueing work.
type NewItem struct {
	OwnerID        string
	TaskRef        string
	TaskInput      map[string]any
	Priority       Priority
	MaxRetries     int
	SessionID      string
	SessionStep    int
	OriginEndpoint string
	OriginPayload  map[string]any
}

// HealthSummary describes aggregated queue counts per lifecycle state.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
}
