package queue

import (
	"context"
	"fmt"
	"time"
)

// SessionItems returns every item belonging to a session, ordered by stage
// then enqueue time. An empty ownerID skips the ownership filter.
func (s *Store) SessionItems(ctx context.Context, sessionID, ownerID string) ([]*Item, error) {
	query := `SELECT ` + itemColumns + ` FROM queue_items WHERE session_id = ?`
	args := []any{sessionID}
	if ownerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY session_step ASC, created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query session items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// HasActiveSession reports whether the owner has any session item that is
// still pending or processing. Derived from item state rather than tracked
// separately, so a crash cannot leave a stale flag behind.
func (s *Store) HasActiveSession(ctx context.Context, ownerID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM queue_items
         WHERE owner_id = ? AND session_id IS NOT NULL AND status IN (?, ?)`,
		ownerID,
		StatusPending,
		StatusProcessing,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count active session items: %w", err)
	}
	return count > 0, nil
}

// ClaimContinuation records that follow-up stages were spawned for the given
// session and stage. Returns true exactly once per (session, stage) pair;
// later calls see the existing row and report false, which keeps retried
// stage completions from spawning duplicate batches.
func (s *Store) ClaimContinuation(ctx context.Context, sessionID string, fromStep int) (bool, error) {
	return s.claimSessionStep(ctx, sessionID, fromStep)
}

// ClaimSettlement records that the session's credit reservation was settled.
// Settlement shares the continuation table under step 0, which no stage
// occupies, so it inherits the same exactly-once semantics.
func (s *Store) ClaimSettlement(ctx context.Context, sessionID string) (bool, error) {
	return s.claimSessionStep(ctx, sessionID, 0)
}

func (s *Store) claimSessionStep(ctx context.Context, sessionID string, fromStep int) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`INSERT OR IGNORE INTO session_continuations (session_id, from_step, created_at) VALUES (?, ?, ?)`,
		sessionID,
		fromStep,
		timestamp(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("claim continuation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("continuation rows affected: %w", err)
	}
	return affected > 0, nil
}
