package session

import (
	"context"
	"log/slog"
	"time"

	"scour/internal/logging"
	"scour/internal/queue"
	"scour/internal/services"
	"scour/internal/taskrun"
)

// State describes where a session stands as a whole.
type State string

const (
	// StateProcessing means at least one session item is not yet terminal.
	StateProcessing State = "processing"
	// StateCompleted means every session item completed.
	StateCompleted State = "completed"
	// StateFailed means at least one session item failed terminally.
	StateFailed State = "failed"
)

// Result is the unified cross-stage view of a session.
type Result struct {
	SessionID   string
	State       State
	Items       []taskrun.Item
	RunID       string
	StageCount  int
	FailedItems int
	CompletedAt time.Time
	// ErrorKind and ErrorMessage describe the first terminal failure when
	// State is StateFailed.
	ErrorKind    string
	ErrorMessage string
	// Partial marks data assembled from an incompletely successful session.
	Partial bool
}

// Aggregator merges the per-stage result sets of a session.
type Aggregator struct {
	store *queue.Store
	// includePartial surfaces backbone data for failed sessions instead
	// of discarding it.
	includePartial bool
	logger         *slog.Logger
}

// NewAggregator creates an Aggregator. When includePartial is set, failed
// sessions still return their discovery backbone, annotated as partial.
func NewAggregator(store *queue.Store, includePartial bool, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		store:          store,
		includePartial: includePartial,
		logger:         logging.NewComponentLogger(logger, "session"),
	}
}

// Aggregate builds the unified result for a session. An empty ownerID skips
// ownership scoping (internal callers only). The merge uses the stage-1
// result list as the backbone: each backbone record absorbs the fields of
// its matching stage-2 record (by reference key) and stage-3 record (by
// owner key), with stage fields only overwriting when present. Until every
// item is terminal the session reports StateProcessing and no merge happens.
func (a *Aggregator) Aggregate(ctx context.Context, sessionID, ownerID string) (*Result, error) {
	items, err := a.store.SessionItems(ctx, sessionID, ownerID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, services.Wrap(services.ErrNotFound, "session", "aggregate", "unknown session "+sessionID, nil)
	}

	result := &Result{SessionID: sessionID, StageCount: len(items)}
	for _, item := range items {
		if !item.IsTerminal() {
			result.State = StateProcessing
			return result, nil
		}
		if item.Status == queue.StatusFailed {
			result.FailedItems++
			if result.ErrorKind == "" && result.ErrorMessage == "" {
				result.ErrorKind = item.ErrorKind
				result.ErrorMessage = item.ErrorMessage
			}
		}
	}

	var backbone, details, profiles []taskrun.Item
	var runID string
	var completedAt time.Time
	for _, item := range items {
		envelope, err := item.Result()
		if err != nil || envelope == nil {
			continue
		}
		switch item.SessionStep {
		case 1:
			backbone = append(backbone, envelope.Items...)
			runID = envelope.RunID
			if item.CompletedAt != nil {
				completedAt = *item.CompletedAt
			}
		case 2:
			details = append(details, envelope.Items...)
		case 3:
			profiles = append(profiles, envelope.Items...)
		}
	}

	result.RunID = runID
	result.CompletedAt = completedAt

	if result.FailedItems > 0 {
		result.State = StateFailed
		if a.includePartial {
			result.Items = Merge(backbone, details, profiles)
			result.Partial = true
		}
		a.logger.Warn("session failed",
			logging.String(logging.FieldSessionID, sessionID),
			logging.Int("failed_items", result.FailedItems),
			logging.Int("stage_count", result.StageCount))
		return result, nil
	}

	result.State = StateCompleted
	result.Items = Merge(backbone, details, profiles)

	a.logger.Info("session aggregated",
		logging.String(logging.FieldSessionID, sessionID),
		logging.Int("stage_count", result.StageCount),
		logging.Int("merged_items", len(result.Items)))

	return result, nil
}

// Merge joins the three stage result sets into one record set. Backbone
// records absorb matching detail fields (by reference key) and profile
// fields (by owner key); stage fields only overwrite when present.
func Merge(backbone, details, profiles []taskrun.Item) []taskrun.Item {
	detailsByRef := indexBy(details, RefKey)
	profilesByOwner := indexBy(profiles, OwnerKey)

	merged := make([]taskrun.Item, 0, len(backbone))
	for _, record := range backbone {
		out := make(taskrun.Item, len(record))
		for key, value := range record {
			out[key] = value
		}
		if detail, ok := detailsByRef[RefKey(record)]; ok {
			overlay(out, detail)
		}
		if profile, ok := profilesByOwner[OwnerKey(record)]; ok {
			overlay(out, profile)
		}
		merged = append(merged, out)
	}
	return merged
}

func indexBy(items []taskrun.Item, extract func(taskrun.Item) string) map[string]taskrun.Item {
	index := make(map[string]taskrun.Item, len(items))
	for _, item := range items {
		key := extract(item)
		if key == "" {
			continue
		}
		if _, seen := index[key]; !seen {
			index[key] = item
		}
	}
	return index
}

// overlay copies src fields into dst, skipping empty values so a sparse
// stage record never blanks out backbone data.
func overlay(dst, src taskrun.Item) {
	for key, value := range src {
		switch v := value.(type) {
		case nil:
			continue
		case string:
			if v == "" {
				continue
			}
		}
		dst[key] = value
	}
}
