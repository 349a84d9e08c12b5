package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Enqueue inserts a new pending item and returns it.
func (s *Store) Enqueue(ctx context.Context, params NewItem) (*Item, error) {
	if strings.TrimSpace(params.OwnerID) == "" {
		return nil, errors.New("owner id is required")
	}
	if strings.TrimSpace(params.TaskRef) == "" {
		return nil, errors.New("task ref is required")
	}
	if params.Priority == "" {
		params.Priority = PriorityNormal
	}
	if params.MaxRetries <= 0 {
		params.MaxRetries = 3
	}

	inputJSON, err := json.Marshal(params.TaskInput)
	if err != nil {
		return nil, fmt.Errorf("marshal task input: %w", err)
	}
	var payloadJSON any
	if params.OriginPayload != nil {
		encoded, err := json.Marshal(params.OriginPayload)
		if err != nil {
			return nil, fmt.Errorf("marshal origin payload: %w", err)
		}
		payloadJSON = string(encoded)
	}

	id := uuid.NewString()
	now := timestamp(time.Now())
	_, err = s.execWithRetry(
		ctx,
		`INSERT INTO queue_items (
            id, owner_id, task_ref, task_input, status, priority,
            retry_count, max_retries, session_id, session_step,
            origin_endpoint, origin_payload, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		params.OwnerID,
		params.TaskRef,
		string(inputJSON),
		StatusPending,
		params.Priority,
		params.MaxRetries,
		nullableString(params.SessionID),
		nullableInt(params.SessionStep),
		nullableString(params.OriginEndpoint),
		payloadJSON,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert queue item: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a queue item by identifier.
func (s *Store) GetByID(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM queue_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// GetForOwner fetches a queue item only when it belongs to the given owner.
// A missing row and a foreign row are indistinguishable to the caller.
func (s *Store) GetForOwner(ctx context.Context, id, ownerID string) (*Item, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+itemColumns+` FROM queue_items WHERE id = ? AND owner_id = ?`,
		id, ownerID,
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item for owner: %w", err)
	}
	return item, nil
}

// PendingPosition reports an item's 1-based place in the pending line.
func (s *Store) PendingPosition(ctx context.Context, item *Item) (int, error) {
	if item == nil {
		return 0, errors.New("item is nil")
	}
	var ahead int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM queue_items WHERE status = ? AND created_at < ?`,
		StatusPending,
		timestamp(item.CreatedAt),
	).Scan(&ahead)
	if err != nil {
		return 0, fmt.Errorf("pending position: %w", err)
	}
	return ahead + 1, nil
}

// List returns queue items filtered by status set (or all items when no
// status is provided), oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Item, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + itemColumns + ` FROM queue_items`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// SelectForDrain picks the items one drain invocation should attempt.
//
// Two tiers: continuation items of already-started sessions first
// (session_step > 1, lowest step then oldest), then fresh items
// (step 1 or unaffiliated) by priority then age, together capped at
// batchLimit. Fast-tracking continuations keeps half-finished pipelines from
// being starved by new arrivals and wasting their sunk stage-1 cost.
func (s *Store) SelectForDrain(ctx context.Context, sessionLimit, batchLimit int) ([]*Item, error) {
	if batchLimit <= 0 {
		return nil, nil
	}
	if sessionLimit < 0 {
		sessionLimit = 0
	}
	if sessionLimit > batchLimit {
		sessionLimit = batchLimit
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+itemColumns+` FROM queue_items
         WHERE status = ? AND session_step > 1
         ORDER BY session_step ASC, created_at ASC
         LIMIT ?`,
		StatusPending,
		sessionLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("select continuation items: %w", err)
	}
	continuations, err := collectItems(rows)
	if err != nil {
		return nil, err
	}

	remaining := batchLimit - len(continuations)
	if remaining <= 0 {
		return continuations, nil
	}

	rows, err = s.db.QueryContext(
		ctx,
		`SELECT `+itemColumns+` FROM queue_items
         WHERE status = ? AND (session_step IS NULL OR session_step <= 1)
         ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'normal' THEN 1 ELSE 2 END ASC,
                  created_at ASC
         LIMIT ?`,
		StatusPending,
		remaining,
	)
	if err != nil {
		return nil, fmt.Errorf("select fresh items: %w", err)
	}
	fresh, err := collectItems(rows)
	if err != nil {
		return nil, err
	}

	return append(continuations, fresh...), nil
}

// Stats returns a count of items grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM queue_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates queue state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusProcessing:
			health.Processing += count
		case StatusCompleted:
			health.Completed += count
		case StatusFailed:
			health.Failed += count
		}
	}
	return health, nil
}

func collectItems(rows *sql.Rows) ([]*Item, error) {
	defer rows.Close()
	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
