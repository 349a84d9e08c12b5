package executor_test

import (
	"context"
	"errors"
	"testing"

	"scour/internal/executor"
	"scour/internal/queue"
	"scour/internal/services"
	"scour/internal/taskrun"
	"scour/internal/testsupport"
)

func newExecutor(t *testing.T) (*executor.Executor, *queue.Store, *testsupport.FakeRunner) {
	t.Helper()
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	runner := testsupport.NewFakeRunner()
	return executor.New(runner, store, nil), store, runner
}

func TestExecuteStartsImmediatelyWhenCapacityAllows(t *testing.T) {
	exec, store, runner := newExecutor(t)
	runner.Script("tasks/discovery", testsupport.RunnerResponse{RunID: "run-1"})

	outcome, err := exec.Execute(context.Background(), executor.Request{
		OwnerID:   "owner-a",
		TaskRef:   "tasks/discovery",
		TaskInput: map[string]any{"keywords": []string{"coffee"}},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !outcome.Started || outcome.RunID != "run-1" {
		t.Fatalf("expected started run-1, got %+v", outcome)
	}
	if outcome.ItemID != "" {
		t.Fatal("immediate start must not create a queue item")
	}

	items, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("queue should stay empty, got %d items", len(items))
	}
}

func TestExecuteQueuesOnCapacityFailure(t *testing.T) {
	exec, store, runner := newExecutor(t)
	runner.Script("tasks/discovery", testsupport.RunnerResponse{
		Err: &taskrun.RunError{Kind: "concurrent-runs-limit-exceeded", Message: "too many runs"},
	})

	outcome, err := exec.Execute(context.Background(), executor.Request{
		OwnerID:     "owner-a",
		TaskRef:     "tasks/discovery",
		TaskInput:   map[string]any{"limit": 30},
		Priority:    queue.PriorityHigh,
		SessionID:   "sess-1",
		SessionStep: 1,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Started {
		t.Fatal("capacity failure must not report a started run")
	}
	if outcome.ItemID == "" {
		t.Fatal("expected a queued item id")
	}
	if outcome.Position != 1 {
		t.Fatalf("expected queue position 1, got %d", outcome.Position)
	}

	item, err := store.GetByID(context.Background(), outcome.ItemID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if item == nil || item.Status != queue.StatusPending {
		t.Fatalf("expected a pending item, got %+v", item)
	}
	if item.Priority != queue.PriorityHigh {
		t.Fatalf("priority should carry through, got %s", item.Priority)
	}
	if item.SessionID != "sess-1" || item.SessionStep != 1 {
		t.Fatalf("session metadata should carry through, got %q step %d", item.SessionID, item.SessionStep)
	}
}

func TestExecutePropagatesFunctionalErrors(t *testing.T) {
	exec, store, runner := newExecutor(t)
	startErr := &taskrun.RunError{Kind: "validation-error", Message: "bad input", StatusCode: 400}
	runner.Script("tasks/discovery", testsupport.RunnerResponse{Err: startErr})

	_, err := exec.Execute(context.Background(), executor.Request{
		OwnerID:   "owner-a",
		TaskRef:   "tasks/discovery",
		TaskInput: map[string]any{},
	})
	if err == nil {
		t.Fatal("expected the start failure to propagate")
	}
	var runErr *taskrun.RunError
	if !errors.As(err, &runErr) || runErr.Kind != "validation-error" {
		t.Fatalf("expected the original run error, got %v", err)
	}

	items, listErr := store.List(context.Background())
	if listErr != nil {
		t.Fatalf("List: %v", listErr)
	}
	if len(items) != 0 {
		t.Fatalf("functional errors must not be queued, got %d items", len(items))
	}
}

func TestExecuteValidatesRequest(t *testing.T) {
	exec, _, _ := newExecutor(t)

	_, err := exec.Execute(context.Background(), executor.Request{TaskRef: "tasks/discovery"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for missing owner, got %v", err)
	}

	_, err = exec.Execute(context.Background(), executor.Request{OwnerID: "owner-a"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for missing task ref, got %v", err)
	}
}
