package testsupport

import (
	"context"
	"testing"

	"scour/internal/config"
	"scour/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// Enqueue creates a pending item for tests using the provided store.
func Enqueue(t testing.TB, store *queue.Store, params queue.NewItem) *queue.Item {
	t.Helper()

	if params.OwnerID == "" {
		params.OwnerID = "owner-test"
	}
	if params.TaskRef == "" {
		params.TaskRef = "tasks/discovery"
	}
	item, err := store.Enqueue(context.Background(), params)
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	return item
}
