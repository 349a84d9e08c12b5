// Package queue persists durable work items in SQLite and exposes helpers for
// driving their lifecycle.
//
// The Store is the system of record and the only shared mutable state: the
// daemon's request handlers, the drainer, and the CLI all coordinate through
// it using conditional updates. Claiming an item for processing is a single
// "UPDATE ... WHERE status = 'pending'"; zero rows updated means another
// worker won and the caller skips the item. Status only moves
// pending → processing → {completed, failed}, or processing → pending on
// requeue; terminal states are never left.
//
// Treat this package as the single source of truth for queue semantics; when
// you add new statuses or metadata fields, update schema.sql and bump
// schemaVersion.
package queue
