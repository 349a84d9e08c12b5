package testsupport

import (
	"context"
	"fmt"
	"sync"

	"scour/internal/taskrun"
)

// RunnerResponse scripts one StartRun outcome for the fake runner.
type RunnerResponse struct {
	RunID string
	Err   error
	Items []taskrun.Item
	// AwaitErr fails result retrieval after a successful start.
	AwaitErr error
}

// FakeRunner is a scripted taskrun.Runner for executor, drainer, and
// pipeline tests. Responses are consumed per task ref in FIFO order; when a
// ref's script is exhausted the last response repeats.
type FakeRunner struct {
	mu        sync.Mutex
	scripts   map[string][]RunnerResponse
	awaits    map[string]RunnerResponse
	started   []string
	aborted   []string
	runSerial int
}

// NewFakeRunner creates an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		scripts: make(map[string][]RunnerResponse),
		awaits:  make(map[string]RunnerResponse),
	}
}

// Script appends responses for a task ref.
func (f *FakeRunner) Script(taskRef string, responses ...RunnerResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[taskRef] = append(f.scripts[taskRef], responses...)
}

// StartRun consumes the next scripted response for the task ref.
func (f *FakeRunner) StartRun(_ context.Context, taskRef string, _ map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	script := f.scripts[taskRef]
	if len(script) == 0 {
		return "", fmt.Errorf("no scripted response for task %s", taskRef)
	}
	resp := script[0]
	if len(script) > 1 {
		f.scripts[taskRef] = script[1:]
	}
	if resp.Err != nil {
		return "", resp.Err
	}

	runID := resp.RunID
	if runID == "" {
		f.runSerial++
		runID = fmt.Sprintf("run-%d", f.runSerial)
	}
	f.started = append(f.started, runID)
	f.awaits[runID] = resp
	return runID, nil
}

// AwaitItems returns the items recorded for the run at start time.
func (f *FakeRunner) AwaitItems(_ context.Context, runID string) ([]taskrun.Item, taskrun.RunMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	resp, ok := f.awaits[runID]
	if !ok {
		return nil, taskrun.RunMeta{}, fmt.Errorf("unknown run %s", runID)
	}
	if resp.AwaitErr != nil {
		return nil, taskrun.RunMeta{RunID: runID, Status: "FAILED"}, resp.AwaitErr
	}
	return resp.Items, taskrun.RunMeta{RunID: runID, Status: "SUCCEEDED"}, nil
}

// AbortRun records the abort request.
func (f *FakeRunner) AbortRun(_ context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, runID)
	return nil
}

// Started returns every run id handed out, in order.
func (f *FakeRunner) Started() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

// Aborted returns every aborted run id, in order.
func (f *FakeRunner) Aborted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.aborted...)
}
