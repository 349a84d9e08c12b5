package session_test

import (
	"context"
	"fmt"
	"testing"

	"scour/internal/queue"
	"scour/internal/session"
	"scour/internal/taskrun"
	"scour/internal/testsupport"
)

func discoveryResults(start, n int) []taskrun.Item {
	results := make([]taskrun.Item, 0, n)
	for i := start; i < start+n; i++ {
		results = append(results, taskrun.Item{
			"url":      fmt.Sprintf("https://example.com/p/%d/", i),
			"username": fmt.Sprintf("user-%d", i),
		})
	}
	return results
}

func TestContinueSkipsThinDiscovery(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	continuer := session.NewContinuer(store, cfg, nil)
	ctx := context.Background()

	item := testsupport.Enqueue(t, store, queue.NewItem{
		SessionID:   "sess-1",
		SessionStep: 1,
		TaskInput:   map[string]any{"keywords": []string{"obscure"}, "limit": 10},
	})
	results := discoveryResults(0, 2)
	completeItem(t, store, item.ID, queue.ResultEnvelope{Success: true, Items: results})

	item, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	created, err := continuer.Continue(ctx, item, results)
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if created != 0 {
		t.Fatalf("a sub-threshold result set must not continue, created %d", created)
	}

	items, err := store.SessionItems(ctx, "sess-1", "")
	if err != nil {
		t.Fatalf("SessionItems: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected the discovery item only, got %d items", len(items))
	}
}

func TestContinueWaitsForAllDiscoveryBatches(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	continuer := session.NewContinuer(store, cfg, nil)
	ctx := context.Background()

	first := testsupport.Enqueue(t, store, queue.NewItem{
		SessionID:   "sess-1",
		SessionStep: 1,
		TaskInput:   map[string]any{"keywords": []string{"coffee"}, "limit": 10},
	})
	second := testsupport.Enqueue(t, store, queue.NewItem{
		SessionID:   "sess-1",
		SessionStep: 1,
		TaskInput:   map[string]any{"keywords": []string{"espresso"}, "limit": 10},
	})

	firstResults := discoveryResults(0, 4)
	completeItem(t, store, first.ID, queue.ResultEnvelope{Success: true, Items: firstResults})

	first, err := store.GetByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	created, err := continuer.Continue(ctx, first, firstResults)
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if created != 0 {
		t.Fatalf("continuation must wait for the remaining discovery batch, created %d", created)
	}

	secondResults := discoveryResults(4, 4)
	completeItem(t, store, second.ID, queue.ResultEnvelope{Success: true, Items: secondResults})

	second, err = store.GetByID(ctx, second.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	created, err = continuer.Continue(ctx, second, secondResults)
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	// Eight combined references and eight owners each fit one page.
	if created != 2 {
		t.Fatalf("expected one detail and one profile batch, got %d", created)
	}

	items, err := store.SessionItems(ctx, "sess-1", "")
	if err != nil {
		t.Fatalf("SessionItems: %v", err)
	}
	for _, spawned := range items {
		if spawned.SessionStep != 2 {
			continue
		}
		input, err := spawned.TaskInput()
		if err != nil {
			t.Fatalf("TaskInput: %v", err)
		}
		urls, ok := input["urls"].([]any)
		if !ok || len(urls) != 8 {
			t.Fatalf("the detail batch must span both discovery batches, got %v", input["urls"])
		}
	}
}
