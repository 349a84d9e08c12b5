package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"scour/internal/config"
	"scour/internal/executor"
	"scour/internal/pipeline"
	"scour/internal/queue"
	"scour/internal/taskrun"
	"scour/internal/testsupport"
)

// recordingLedger captures reserve and settle calls for assertions.
type recordingLedger struct {
	mu       sync.Mutex
	reserved []int
	settled  [][2]int
}

func (l *recordingLedger) Reserve(_ context.Context, _ string, amount int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reserved = append(l.reserved, amount)
	return nil
}

func (l *recordingLedger) Settle(_ context.Context, _ string, reserved, actual int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.settled = append(l.settled, [2]int{reserved, actual})
	return nil
}

func newOrchestrator(t *testing.T, opts ...testsupport.ConfigOption) (*pipeline.Orchestrator, *queue.Store, *testsupport.FakeRunner, *recordingLedger, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	runner := testsupport.NewFakeRunner()
	ledger := &recordingLedger{}
	exec := executor.New(runner, store, nil)
	return pipeline.New(exec, runner, store, ledger, cfg, nil), store, runner, ledger, cfg
}

func discoveryItems(n int) []taskrun.Item {
	items := make([]taskrun.Item, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, taskrun.Item{
			"url":      fmt.Sprintf("https://example.com/p/%d/", i),
			"username": fmt.Sprintf("user-%d", i),
		})
	}
	return items
}

func TestSearchMergesStagesAndProratesCredits(t *testing.T) {
	orch, _, runner, ledger, _ := newOrchestrator(t)

	runner.Script("tasks/discovery", testsupport.RunnerResponse{Items: discoveryItems(5)})
	runner.Script("tasks/details", testsupport.RunnerResponse{Items: []taskrun.Item{
		{"url": "https://example.com/p/0/", "likes": 11},
	}})
	runner.Script("tasks/profiles", testsupport.RunnerResponse{Items: []taskrun.Item{
		{"username": "user-1", "followers": 99},
	}})

	result, err := orch.Search(context.Background(), pipeline.SearchRequest{
		OwnerID:  "owner-a",
		Keywords: []string{"coffee"},
		Limit:    10,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result.Queued {
		t.Fatal("expected an inline result")
	}
	if result.SessionID == "" {
		t.Fatal("expected a session id")
	}
	if result.RawDiscovered != 5 || result.Returned != 5 {
		t.Fatalf("expected 5 raw and 5 returned, got %+v", result)
	}
	if result.Items[0]["likes"] != 11 {
		t.Fatalf("detail fields should merge, got %v", result.Items[0])
	}
	if result.Items[1]["followers"] != 99 {
		t.Fatalf("profile fields should merge, got %v", result.Items[1])
	}

	// One page of 30 at 100 credits reserved; 5 of 10 delivered halves it.
	if result.Reserved != 100 || result.ActualCost != 50 || result.Refund != 50 {
		t.Fatalf("unexpected credit math %+v", result)
	}
	if len(ledger.reserved) != 1 || ledger.reserved[0] != 100 {
		t.Fatalf("expected one reservation of 100, got %v", ledger.reserved)
	}
	if len(ledger.settled) != 1 || ledger.settled[0] != [2]int{100, 50} {
		t.Fatalf("expected settlement (100, 50), got %v", ledger.settled)
	}
}

func TestSearchRejectsThinDiscovery(t *testing.T) {
	orch, _, runner, ledger, _ := newOrchestrator(t)

	runner.Script("tasks/discovery", testsupport.RunnerResponse{Items: discoveryItems(3)})

	_, err := orch.Search(context.Background(), pipeline.SearchRequest{
		OwnerID:  "owner-a",
		Keywords: []string{"obscure"},
		Limit:    10,
	})
	if !errors.Is(err, pipeline.ErrTooFewResults) {
		t.Fatalf("expected ErrTooFewResults, got %v", err)
	}

	// The raw count gates before dedup; nothing downstream ran, so the whole
	// reservation comes back.
	if len(ledger.settled) != 1 || ledger.settled[0] != [2]int{100, 0} {
		t.Fatalf("expected full refund settlement, got %v", ledger.settled)
	}
	if started := runner.Started(); len(started) != 1 {
		t.Fatalf("only discovery should have run, got %d runs", len(started))
	}
}

func TestSearchQueuesWhenCapacityExhausted(t *testing.T) {
	orch, store, runner, ledger, _ := newOrchestrator(t)

	runner.Script("tasks/discovery", testsupport.RunnerResponse{
		Err: &taskrun.RunError{Kind: "concurrent-runs-limit-exceeded", Message: "too many runs"},
	})

	result, err := orch.Search(context.Background(), pipeline.SearchRequest{
		OwnerID:  "owner-a",
		Keywords: []string{"coffee"},
		Limit:    10,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !result.Queued || result.QueuedItemID == "" {
		t.Fatalf("expected a queued result, got %+v", result)
	}
	if result.QueuePosition != 1 {
		t.Fatalf("expected position 1, got %d", result.QueuePosition)
	}

	item, err := store.GetByID(context.Background(), result.QueuedItemID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if item.SessionID != result.SessionID || item.SessionStep != 1 {
		t.Fatalf("queued item should carry the session, got %+v", item)
	}
	input, err := item.TaskInput()
	if err != nil {
		t.Fatalf("TaskInput: %v", err)
	}
	if _, ok := input["keywords"]; !ok {
		t.Fatal("queued discovery should keep its keyword input")
	}

	// The reservation stays held while the session sits in the queue.
	if len(ledger.settled) != 0 {
		t.Fatalf("queued searches must not settle, got %v", ledger.settled)
	}
}

func TestSearchRefundsOnFunctionalFailure(t *testing.T) {
	orch, store, runner, ledger, _ := newOrchestrator(t)

	runner.Script("tasks/discovery", testsupport.RunnerResponse{
		Err: &taskrun.RunError{Kind: "actor-not-found", Message: "no such task", StatusCode: 404},
	})

	_, err := orch.Search(context.Background(), pipeline.SearchRequest{
		OwnerID:  "owner-a",
		Keywords: []string{"coffee"},
		Limit:    10,
	})
	if err == nil {
		t.Fatal("expected the start failure to propagate")
	}
	if len(ledger.settled) != 1 || ledger.settled[0] != [2]int{100, 0} {
		t.Fatalf("expected full refund settlement, got %v", ledger.settled)
	}
	items, listErr := store.List(context.Background())
	if listErr != nil {
		t.Fatalf("List: %v", listErr)
	}
	if len(items) != 0 {
		t.Fatalf("functional failures must not queue, got %d items", len(items))
	}
}

func TestSearchDeduplicatesCrossKeywordResults(t *testing.T) {
	orch, _, runner, _, _ := newOrchestrator(t)

	shared := taskrun.Item{"url": "https://example.com/p/0/", "username": "user-0"}
	// Two keywords: each discovery batch returns the same record plus
	// distinct ones.
	runner.Script("tasks/discovery",
		testsupport.RunnerResponse{Items: []taskrun.Item{
			shared,
			{"url": "https://example.com/p/1/", "username": "user-1"},
			{"url": "https://example.com/p/2/", "username": "user-2"},
		}},
		testsupport.RunnerResponse{Items: []taskrun.Item{
			shared,
			{"url": "https://example.com/p/3/", "username": "user-3"},
		}},
	)
	runner.Script("tasks/details", testsupport.RunnerResponse{Items: nil})
	runner.Script("tasks/profiles", testsupport.RunnerResponse{Items: nil})

	result, err := orch.Search(context.Background(), pipeline.SearchRequest{
		OwnerID:  "owner-a",
		Keywords: []string{"coffee", "tea"},
		Limit:    10,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result.RawDiscovered != 5 {
		t.Fatalf("raw count includes duplicates, got %d", result.RawDiscovered)
	}
	if result.Returned != 4 {
		t.Fatalf("duplicates collapse in the backbone, got %d", result.Returned)
	}
}

func TestSearchAbortsTrackedRunsOnCancellation(t *testing.T) {
	orch, _, runner, _, _ := newOrchestrator(t)

	ctx, cancel := context.WithCancel(context.Background())
	runner.Script("tasks/discovery", testsupport.RunnerResponse{Items: discoveryItems(5)})
	// Cancel between stages by failing the details await after cancellation.
	runner.Script("tasks/details", testsupport.RunnerResponse{AwaitErr: context.Canceled})

	cancel()
	_, err := orch.Search(ctx, pipeline.SearchRequest{
		OwnerID:  "owner-a",
		Keywords: []string{"coffee"},
		Limit:    10,
	})
	if err == nil {
		t.Fatal("expected an error after cancellation")
	}
	if aborted := runner.Aborted(); len(aborted) == 0 {
		t.Fatal("tracked runs should be aborted after cancellation")
	}
}

func TestSearchBackfillsMissingProfiles(t *testing.T) {
	orch, _, runner, _, _ := newOrchestrator(t, testsupport.WithBackfillRounds(1))

	runner.Script("tasks/discovery", testsupport.RunnerResponse{Items: discoveryItems(5)})
	runner.Script("tasks/details", testsupport.RunnerResponse{Items: nil})
	// The first profile pass only covers two owners; one backfill round
	// recovers the rest.
	runner.Script("tasks/profiles",
		testsupport.RunnerResponse{Items: []taskrun.Item{
			{"username": "user-0", "followers": 1},
			{"username": "user-1", "followers": 2},
		}},
		testsupport.RunnerResponse{Items: []taskrun.Item{
			{"username": "user-2", "followers": 3},
			{"username": "user-3", "followers": 4},
			{"username": "user-4", "followers": 5},
		}},
	)

	result, err := orch.Search(context.Background(), pipeline.SearchRequest{
		OwnerID:  "owner-a",
		Keywords: []string{"coffee"},
		Limit:    10,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for i, item := range result.Items {
		if _, ok := item["followers"]; !ok {
			t.Fatalf("record %d missing backfilled profile data: %v", i, item)
		}
	}
	// Initial profile batch plus one backfill run.
	if started := runner.Started(); len(started) != 4 {
		t.Fatalf("expected discovery, details, profiles, backfill, got %d runs", len(started))
	}
}

func TestSearchValidatesOwner(t *testing.T) {
	orch, _, _, _, _ := newOrchestrator(t)

	_, err := orch.Search(context.Background(), pipeline.SearchRequest{
		Keywords: []string{"coffee"},
		Limit:    10,
	})
	if err == nil {
		t.Fatal("expected a validation error for the missing owner")
	}
}

func TestSearchPreservesProgressWhenQueuedMidDiscovery(t *testing.T) {
	orch, store, runner, ledger, _ := newOrchestrator(t)
	ctx := context.Background()

	// First keyword batch lands, the second hits the capacity wall, the
	// third is never attempted.
	runner.Script("tasks/discovery",
		testsupport.RunnerResponse{Items: discoveryItems(5)},
		testsupport.RunnerResponse{Err: &taskrun.RunError{Kind: "usage-limit-exceeded", Message: "usage limit"}},
	)

	result, err := orch.Search(ctx, pipeline.SearchRequest{
		OwnerID:  "owner-a",
		Keywords: []string{"coffee", "tea", "mocha"},
		Limit:    60,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !result.Queued {
		t.Fatalf("expected a queued result, got %+v", result)
	}

	items, err := store.SessionItems(ctx, result.SessionID, "")
	if err != nil {
		t.Fatalf("SessionItems: %v", err)
	}
	var completed, pending []*queue.Item
	for _, item := range items {
		if item.SessionStep != 1 {
			t.Fatalf("only discovery items expected, got step %d", item.SessionStep)
		}
		switch item.Status {
		case queue.StatusCompleted:
			completed = append(completed, item)
		case queue.StatusPending:
			pending = append(pending, item)
		default:
			t.Fatalf("unexpected status %s", item.Status)
		}
	}
	if len(completed) != 1 {
		t.Fatalf("fetched discovery results must persist, got %d completed items", len(completed))
	}
	envelope, err := completed[0].Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if !envelope.Success || len(envelope.Items) != 5 {
		t.Fatalf("expected the 5 fetched results stored, got %+v", envelope)
	}
	if len(pending) != 2 {
		t.Fatalf("the queued batch and the unattempted batch must both be pending, got %d", len(pending))
	}
	keywords := map[string]bool{}
	for _, item := range pending {
		input, err := item.TaskInput()
		if err != nil {
			t.Fatalf("TaskInput: %v", err)
		}
		kws, ok := input["keywords"].([]any)
		if !ok || len(kws) != 1 {
			t.Fatalf("expected a single keyword per batch, got %v", input["keywords"])
		}
		keywords[kws[0].(string)] = true
	}
	if !keywords["tea"] || !keywords["mocha"] {
		t.Fatalf("expected the tea and mocha batches queued, got %v", keywords)
	}

	// The reservation stays held until the drainer finishes the session.
	if len(ledger.settled) != 0 {
		t.Fatalf("queued searches must not settle, got %v", ledger.settled)
	}
}

func TestSearchPreservesBackboneWhenQueuedAtDetails(t *testing.T) {
	orch, store, runner, _, _ := newOrchestrator(t)
	ctx := context.Background()

	runner.Script("tasks/discovery", testsupport.RunnerResponse{Items: discoveryItems(5)})
	runner.Script("tasks/details", testsupport.RunnerResponse{
		Err: &taskrun.RunError{Kind: "concurrent-runs-limit-exceeded", Message: "too many runs"},
	})

	result, err := orch.Search(ctx, pipeline.SearchRequest{
		OwnerID:  "owner-a",
		Keywords: []string{"coffee"},
		Limit:    10,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !result.Queued {
		t.Fatalf("expected a queued result, got %+v", result)
	}

	items, err := store.SessionItems(ctx, result.SessionID, "")
	if err != nil {
		t.Fatalf("SessionItems: %v", err)
	}
	byStep := map[int][]*queue.Item{}
	for _, item := range items {
		byStep[item.SessionStep] = append(byStep[item.SessionStep], item)
	}
	if len(byStep[1]) != 1 || byStep[1][0].Status != queue.StatusCompleted {
		t.Fatalf("the discovery backbone must persist as completed, got %v", byStep[1])
	}
	envelope, err := byStep[1][0].Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if len(envelope.Items) != 5 {
		t.Fatalf("expected the backbone stored, got %d items", len(envelope.Items))
	}
	if len(byStep[2]) != 1 || byStep[2][0].Status != queue.StatusPending {
		t.Fatalf("the queued detail batch must be pending, got %v", byStep[2])
	}
	if len(byStep[3]) != 1 || byStep[3][0].Status != queue.StatusPending {
		t.Fatalf("the profile batch must be enqueued for the drainer, got %v", byStep[3])
	}
	input, err := byStep[3][0].TaskInput()
	if err != nil {
		t.Fatalf("TaskInput: %v", err)
	}
	usernames, ok := input["usernames"].([]any)
	if !ok || len(usernames) != 5 {
		t.Fatalf("expected 5 owners in the profile batch, got %v", input["usernames"])
	}

	// Downstream stages are already laid out; a discovery completion must
	// not spawn a second set.
	claimed, err := store.ClaimContinuation(ctx, result.SessionID, 1)
	if err != nil {
		t.Fatalf("ClaimContinuation: %v", err)
	}
	if claimed {
		t.Fatal("the continuation claim should already be taken")
	}
}
