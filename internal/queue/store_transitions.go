package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ClaimPending atomically moves an item from pending to processing. The
// conditional update is what keeps concurrent drain invocations from both
// running the same item: zero rows matched means another worker owns it and
// the caller must skip, not retry.
func (s *Store) ClaimPending(ctx context.Context, id string) (bool, error) {
	now := timestamp(time.Now())
	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_items
         SET status = ?, processed_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusProcessing,
		now,
		now,
		id,
		StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("claim item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkRunStarted records the remote run id as soon as execution begins, so
// the run remains recoverable even if result retrieval later fails.
func (s *Store) MarkRunStarted(ctx context.Context, id, runID string) error {
	_, err := s.execWithRetry(
		ctx,
		`UPDATE queue_items SET remote_run_id = ?, updated_at = ? WHERE id = ?`,
		runID,
		timestamp(time.Now()),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark run started: %w", err)
	}
	return nil
}

// MarkCompleted finalizes a processing item with its result envelope.
func (s *Store) MarkCompleted(ctx context.Context, id string, envelope ResultEnvelope) error {
	if envelope.CompletedAt.IsZero() {
		envelope.CompletedAt = time.Now().UTC()
	}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal result envelope: %w", err)
	}
	now := timestamp(time.Now())
	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_items
         SET status = ?, result_data = ?, remote_run_id = ?, completed_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusCompleted,
		string(encoded),
		nullableString(envelope.RunID),
		now,
		now,
		id,
		StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("item %s is not processing", id)
	}
	return nil
}

// ReleaseToPending reverts a claimed item to pending without touching the
// retry budget. Used when the remote service is still out of capacity:
// waiting is not the item's fault.
func (s *Store) ReleaseToPending(ctx context.Context, id string) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_items
         SET status = ?, processed_at = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusPending,
		timestamp(time.Now()),
		id,
		StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("release item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("item %s is not processing", id)
	}
	return nil
}

// FailOrRequeue burns one retry on a processing item. Under budget the item
// returns to pending; at budget it finalizes as failed with the error
// recorded. The resulting status is returned.
func (s *Store) FailOrRequeue(ctx context.Context, id, errorKind, errorMessage string) (Status, error) {
	item, err := s.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if item == nil {
		return "", errors.New("item not found")
	}
	if item.Status != StatusProcessing {
		return "", fmt.Errorf("item %s is not processing", id)
	}

	retries := item.RetryCount + 1
	now := timestamp(time.Now())

	if retries >= item.MaxRetries {
		res, err := s.execWithRetry(
			ctx,
			`UPDATE queue_items
             SET status = ?, retry_count = ?, error_kind = ?, error_message = ?,
                 completed_at = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			StatusFailed,
			retries,
			nullableString(errorKind),
			nullableString(errorMessage),
			now,
			now,
			id,
			StatusProcessing,
		)
		if err != nil {
			return "", fmt.Errorf("finalize failed item: %w", err)
		}
		if affected, err := res.RowsAffected(); err != nil {
			return "", err
		} else if affected == 0 {
			return "", fmt.Errorf("item %s is not processing", id)
		}
		return StatusFailed, nil
	}

	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_items
         SET status = ?, retry_count = ?, processed_at = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusPending,
		retries,
		now,
		id,
		StatusProcessing,
	)
	if err != nil {
		return "", fmt.Errorf("requeue item: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return "", err
	} else if affected == 0 {
		return "", fmt.Errorf("item %s is not processing", id)
	}
	return StatusPending, nil
}

// ResetStuckProcessing reverts processing items claimed before the cutoff
// back to pending. Crash recovery: a claim that never produced an outcome
// would otherwise wedge the item forever.
func (s *Store) ResetStuckProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_items
         SET status = ?, processed_at = NULL, updated_at = ?
         WHERE status = ? AND processed_at IS NOT NULL AND processed_at < ?`,
		StatusPending,
		timestamp(time.Now()),
		StatusProcessing,
		timestamp(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck items: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed moves failed items back to pending for reprocessing, clearing
// their error state and retry count. With no ids, all failed items retry.
func (s *Store) RetryFailed(ctx context.Context, ids ...string) (int64, error) {
	now := timestamp(time.Now())
	if len(ids) == 0 {
		res, err := s.execWithRetry(
			ctx,
			`UPDATE queue_items
             SET status = ?, retry_count = 0, error_kind = NULL, error_message = NULL,
                 completed_at = NULL, processed_at = NULL, updated_at = ?
             WHERE status = ?`,
			StatusPending,
			now,
			StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed items: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+2)
	args = append(args, StatusPending, now)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE queue_items
        SET status = ?, retry_count = 0, error_kind = NULL, error_message = NULL,
            completed_at = NULL, processed_at = NULL, updated_at = ?
        WHERE id IN (` + placeholders + `) AND status = '` + string(StatusFailed) + `'`
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry selected items: %w", err)
	}
	return res.RowsAffected()
}
