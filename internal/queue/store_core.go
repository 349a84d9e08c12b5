package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"scour/internal/config"
)

// Store manages queue persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open initializes or connects to the queue database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.DatabasePath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > busyRetryMaxBackoff {
			delay = busyRetryMaxBackoff
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

const itemColumns = "id, owner_id, task_ref, task_input, status, priority, retry_count, max_retries, error_kind, error_message, remote_run_id, result_data, session_id, session_step, origin_endpoint, origin_payload, created_at, updated_at, processed_at, completed_at"

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id             string
		ownerID        string
		taskRef        string
		taskInput      sql.NullString
		statusStr      string
		priorityStr    string
		retryCount     int
		maxRetries     int
		errorKind      sql.NullString
		errorMessage   sql.NullString
		remoteRunID    sql.NullString
		resultData     sql.NullString
		sessionID      sql.NullString
		sessionStep    sql.NullInt64
		originEndpoint sql.NullString
		originPayload  sql.NullString
		createdRaw     sql.NullString
		updatedRaw     sql.NullString
		processedRaw   sql.NullString
		completedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&ownerID,
		&taskRef,
		&taskInput,
		&statusStr,
		&priorityStr,
		&retryCount,
		&maxRetries,
		&errorKind,
		&errorMessage,
		&remoteRunID,
		&resultData,
		&sessionID,
		&sessionStep,
		&originEndpoint,
		&originPayload,
		&createdRaw,
		&updatedRaw,
		&processedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	item := &Item{
		ID:                id,
		OwnerID:           ownerID,
		TaskRef:           taskRef,
		TaskInputJSON:     taskInput.String,
		Status:            Status(statusStr),
		Priority:          Priority(priorityStr),
		RetryCount:        retryCount,
		MaxRetries:        maxRetries,
		ErrorKind:         errorKind.String,
		ErrorMessage:      errorMessage.String,
		RemoteRunID:       remoteRunID.String,
		ResultJSON:        resultData.String,
		SessionID:         sessionID.String,
		SessionStep:       int(sessionStep.Int64),
		OriginEndpoint:    originEndpoint.String,
		OriginPayloadJSON: originPayload.String,
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	if processedRaw.Valid {
		if processed, err := parseTimeString(processedRaw.String); err == nil {
			item.ProcessedAt = &processed
		}
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			item.CompletedAt = &completed
		}
	}
	return item, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt(value int) any {
	if value == 0 {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

// timestamp renders a fixed-width UTC string so lexical comparisons in
// SQL match chronological order.
func timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}
