package taskrun

import (
	"context"
	"fmt"
)

// Item is one record produced by a run, kept schemaless: downstream stages
// pick out the reference fields they understand and pass the rest through.
type Item map[string]any

// RunMeta describes a finished or in-flight run.
type RunMeta struct {
	RunID     string `json:"run_id"`
	DatasetID string `json:"dataset_id,omitempty"`
	Status    string `json:"status,omitempty"`
}

// Runner starts, awaits, and aborts remote task runs.
type Runner interface {
	// StartRun submits input to the named task and returns the run id without
	// waiting for completion.
	StartRun(ctx context.Context, taskRef string, input map[string]any) (string, error)
	// AwaitItems blocks until the run finishes and returns its output items.
	AwaitItems(ctx context.Context, runID string) ([]Item, RunMeta, error)
	// AbortRun cancels an in-flight run. Best effort; errors are advisory.
	AbortRun(ctx context.Context, runID string) error
}

// RunError is the failure shape the execution service returns. Kind is the
// service's machine-readable error tag, StatusCode the HTTP status when one
// was observed (0 otherwise).
type RunError struct {
	Kind       string
	Message    string
	StatusCode int
}

func (e *RunError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Kind != "" && e.StatusCode != 0:
		return fmt.Sprintf("run error %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	case e.Kind != "":
		return fmt.Sprintf("run error %s: %s", e.Kind, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("run error (status %d): %s", e.StatusCode, e.Message)
	default:
		return "run error: " + e.Message
	}
}
