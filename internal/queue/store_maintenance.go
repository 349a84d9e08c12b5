package queue

import (
	"context"
	"fmt"
	"time"
)

// ReapTerminal deletes completed and failed items whose results aged past
// the retention window, along with continuation markers for sessions that
// no longer have any items. Returns the number of items removed.
func (s *Store) ReapTerminal(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := timestamp(time.Now().Add(-retention))
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM queue_items
         WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		StatusCompleted,
		StatusFailed,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("reap terminal items: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		_, err = s.execWithRetry(
			ctx,
			`DELETE FROM session_continuations
             WHERE session_id NOT IN (SELECT DISTINCT session_id FROM queue_items WHERE session_id IS NOT NULL)`,
		)
		if err != nil {
			return removed, fmt.Errorf("reap continuations: %w", err)
		}
	}
	return removed, nil
}

// Remove deletes a single item regardless of state. Removing a pending item
// is the cancellation path: an item the drainer never claims never runs.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM queue_items WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("remove item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Clear deletes items in the given statuses, or every item when none are
// given.
func (s *Store) Clear(ctx context.Context, statuses ...Status) (int64, error) {
	if len(statuses) == 0 {
		_, err := s.execWithRetry(ctx, `DELETE FROM session_continuations`)
		if err != nil {
			return 0, fmt.Errorf("clear continuations: %w", err)
		}
		res, err := s.execWithRetry(ctx, `DELETE FROM queue_items`)
		if err != nil {
			return 0, fmt.Errorf("clear queue: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(statuses))
	args := make([]any, 0, len(statuses))
	for _, status := range statuses {
		args = append(args, status)
	}
	res, err := s.execWithRetry(ctx, `DELETE FROM queue_items WHERE status IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("clear items: %w", err)
	}
	return res.RowsAffected()
}

// ClearCompleted removes all completed items.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	return s.Clear(ctx, StatusCompleted)
}

// ClearFailed removes all failed items.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	return s.Clear(ctx, StatusFailed)
}
