// Package executor implements the try-first execution policy: every remote
// run is attempted immediately, and only capacity-exhausted failures fall
// back to the durable queue. Functional errors never touch the queue.
package executor

import (
	"context"
	"log/slog"

	"scour/internal/logging"
	"scour/internal/queue"
	"scour/internal/services"
	"scour/internal/taskrun"
)

// Request describes one remote execution attempt plus the metadata persisted
// if the attempt has to be queued.
type Request struct {
	OwnerID        string
	TaskRef        string
	TaskInput      map[string]any
	Priority       queue.Priority
	MaxRetries     int
	SessionID      string
	SessionStep    int
	OriginEndpoint string
	OriginPayload  map[string]any
}

// Outcome is the result of a try-first attempt. Exactly one of RunID or
// ItemID is set: RunID when the run started immediately, ItemID (with the
// queue position) when the attempt was demoted to the queue.
type Outcome struct {
	Started  bool
	RunID    string
	ItemID   string
	Position int
}

// Executor attempts immediate execution and demotes capacity failures into
// the queue store.
type Executor struct {
	runner taskrun.Runner
	store  *queue.Store
	logger *slog.Logger
}

// New creates an Executor. A nil logger disables logging.
func New(runner taskrun.Runner, store *queue.Store, logger *slog.Logger) *Executor {
	return &Executor{
		runner: runner,
		store:  store,
		logger: logging.NewComponentLogger(logger, "executor"),
	}
}

// Execute starts the remote run now if capacity allows. A capacity-exhausted
// start failure creates exactly one pending queue item and reports its
// position; any other failure propagates synchronously without touching the
// queue, since backpressure cannot fix a request that is wrong.
func (e *Executor) Execute(ctx context.Context, req Request) (*Outcome, error) {
	if req.OwnerID == "" {
		return nil, services.Wrap(services.ErrValidation, "executor", "execute", "owner id is required", nil)
	}
	if req.TaskRef == "" {
		return nil, services.Wrap(services.ErrValidation, "executor", "execute", "task ref is required", nil)
	}

	runID, err := e.runner.StartRun(ctx, req.TaskRef, req.TaskInput)
	if err == nil {
		e.logger.Info("run started immediately",
			logging.String(logging.FieldTaskRef, req.TaskRef),
			logging.String(logging.FieldRunID, runID),
			logging.String(logging.FieldOwnerID, req.OwnerID))
		return &Outcome{Started: true, RunID: runID}, nil
	}

	if !taskrun.IsCapacityError(err) {
		return nil, err
	}

	item, enqueueErr := e.store.Enqueue(ctx, queue.NewItem{
		OwnerID:        req.OwnerID,
		TaskRef:        req.TaskRef,
		TaskInput:      req.TaskInput,
		Priority:       req.Priority,
		MaxRetries:     req.MaxRetries,
		SessionID:      req.SessionID,
		SessionStep:    req.SessionStep,
		OriginEndpoint: req.OriginEndpoint,
		OriginPayload:  req.OriginPayload,
	})
	if enqueueErr != nil {
		return nil, services.Wrap(services.ErrTransient, "executor", "execute", "enqueue after capacity failure", enqueueErr)
	}

	position, posErr := e.store.PendingPosition(ctx, item)
	if posErr != nil {
		// Position is advisory; the item itself is safely persisted.
		e.logger.Warn("queue position unavailable",
			logging.String(logging.FieldItemID, item.ID),
			logging.Error(posErr))
		position = 0
	}

	e.logger.Info("capacity exhausted, queued",
		logging.String(logging.FieldTaskRef, req.TaskRef),
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldOwnerID, req.OwnerID),
		logging.Int("position", position),
		logging.Error(err))

	return &Outcome{ItemID: item.ID, Position: position}, nil
}
