// Package drainer implements the periodic queue drain: claim eligible
// pending items, run them through the remote task client, and record
// outcomes. The drain entry point is idempotent and safe to invoke from
// multiple instances concurrently; the store's conditional claim is the only
// coordination.
package drainer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"scour/internal/config"
	"scour/internal/credits"
	"scour/internal/logging"
	"scour/internal/notifications"
	"scour/internal/queue"
	"scour/internal/session"
	"scour/internal/taskrun"
)

// Items claimed longer than this without an outcome are assumed orphaned by
// a crashed instance and returned to pending.
const stuckProcessingCutoff = 30 * time.Minute

// Summary reports what one drain invocation did.
type Summary struct {
	Selected  int
	Skipped   int
	Processed int
	Requeued  int
	Failed    int
	Reaped    int64
	Duration  time.Duration
}

// Drainer processes pending queue items in batches.
type Drainer struct {
	store      *queue.Store
	runner     taskrun.Runner
	continuer  *session.Continuer
	aggregator *session.Aggregator
	ledger     credits.Ledger
	notifier   notifications.Service
	cfg        *config.Config
	logger     *slog.Logger
}

// New creates a Drainer. A nil ledger disables credit accounting.
func New(store *queue.Store, runner taskrun.Runner, continuer *session.Continuer, aggregator *session.Aggregator, ledger credits.Ledger, notifier notifications.Service, cfg *config.Config, logger *slog.Logger) *Drainer {
	if ledger == nil {
		ledger = credits.NoopLedger{}
	}
	return &Drainer{
		store:      store,
		runner:     runner,
		continuer:  continuer,
		aggregator: aggregator,
		ledger:     ledger,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "drainer"),
	}
}

// Drain runs one batch. Selection is two-tier: items continuing an
// already-started session first, then fresh items by priority and age. Each
// item is claimed with a conditional update, so a concurrent drain never
// runs the same item twice; a lost claim is skipped, not retried.
func (d *Drainer) Drain(ctx context.Context) (*Summary, error) {
	start := time.Now()
	summary := &Summary{}

	if reset, err := d.store.ResetStuckProcessing(ctx, time.Now().Add(-stuckProcessingCutoff)); err != nil {
		d.logger.Warn("stuck item reset failed", logging.Error(err))
	} else if reset > 0 {
		d.logger.Warn("reset stuck processing items", logging.Int64("count", reset))
	}

	items, err := d.store.SelectForDrain(ctx, d.cfg.Queue.DrainSessionLimit, d.cfg.Queue.DrainBatchLimit)
	if err != nil {
		return nil, err
	}
	summary.Selected = len(items)

	if len(items) > 0 {
		if err := d.notifier.NotifyDrainStarted(ctx, len(items)); err != nil {
			d.logger.Warn("drain start notification failed", logging.Error(err))
		}
	}

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		d.processItem(ctx, item, summary)
	}

	retention := time.Duration(d.cfg.Queue.RetentionHours) * time.Hour
	if reaped, err := d.store.ReapTerminal(ctx, retention); err != nil {
		d.logger.Warn("retention reap failed", logging.Error(err))
	} else {
		summary.Reaped = reaped
	}

	summary.Duration = time.Since(start)

	if summary.Selected > 0 {
		if err := d.notifier.NotifyDrainCompleted(ctx, summary.Processed, summary.Requeued, summary.Failed, summary.Duration); err != nil {
			d.logger.Warn("drain completion notification failed", logging.Error(err))
		}
	}

	d.logger.Info("drain complete",
		logging.Int("selected", summary.Selected),
		logging.Int("skipped", summary.Skipped),
		logging.Int("processed", summary.Processed),
		logging.Int("requeued", summary.Requeued),
		logging.Int("failed", summary.Failed),
		logging.Int64("reaped", summary.Reaped),
		logging.Duration("duration", summary.Duration))

	return summary, nil
}

func (d *Drainer) processItem(ctx context.Context, item *queue.Item, summary *Summary) {
	logger := d.logger.With(
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldTaskRef, item.TaskRef))

	claimed, err := d.store.ClaimPending(ctx, item.ID)
	if err != nil {
		logger.Error("claim failed", logging.Error(err))
		return
	}
	if !claimed {
		summary.Skipped++
		return
	}

	input, err := item.TaskInput()
	if err != nil {
		d.failOrRequeue(ctx, item, "invalid-input", err.Error(), summary, logger)
		return
	}

	runID, err := d.runner.StartRun(ctx, item.TaskRef, input)
	if err != nil {
		if taskrun.IsCapacityError(err) {
			// Capacity exhaustion is not the item's fault: return it
			// untouched, retry budget included.
			if releaseErr := d.store.ReleaseToPending(ctx, item.ID); releaseErr != nil {
				logger.Error("capacity release failed", logging.Error(releaseErr))
				return
			}
			summary.Requeued++
			logger.Info("capacity still exhausted, released to pending")
			return
		}
		kind, message := describeRunError(err)
		d.failOrRequeue(ctx, item, kind, message, summary, logger)
		return
	}

	if err := d.store.MarkRunStarted(ctx, item.ID, runID); err != nil {
		logger.Error("mark run started failed", logging.Error(err))
	}
	logger = logger.With(logging.String(logging.FieldRunID, runID))

	results, _, err := d.runner.AwaitItems(ctx, runID)
	if err != nil {
		// The run started and its cost was incurred; record the run id in
		// a completed envelope so the caller can recover the output.
		envelope := queue.ResultEnvelope{
			Success:     false,
			RunID:       runID,
			Error:       "result retrieval failed",
			ErrorDetail: err.Error(),
			FromQueue:   true,
		}
		if markErr := d.store.MarkCompleted(ctx, item.ID, envelope); markErr != nil {
			logger.Error("soft-failure completion failed", logging.Error(markErr))
			return
		}
		summary.Processed++
		logger.Warn("run completed without retrievable results", logging.Error(err))
		return
	}

	envelope := queue.ResultEnvelope{
		Success:   true,
		RunID:     runID,
		Items:     results,
		FromQueue: true,
	}
	if err := d.store.MarkCompleted(ctx, item.ID, envelope); err != nil {
		logger.Error("completion failed", logging.Error(err))
		return
	}
	summary.Processed++
	logger.Info("item completed", logging.Int("result_count", len(results)))

	if item.SessionID != "" && item.SessionStep == 1 {
		if created, err := d.continuer.Continue(ctx, item, results); err != nil {
			logger.Error("session continuation failed",
				logging.String(logging.FieldSessionID, item.SessionID),
				logging.Error(err))
		} else if created > 0 {
			logger.Info("session continuation enqueued",
				logging.String(logging.FieldSessionID, item.SessionID),
				logging.Int("items_created", created))
		}
	}

	if item.SessionID != "" {
		d.finishSessionIfDone(ctx, item.SessionID, logger)
	}
}

func (d *Drainer) failOrRequeue(ctx context.Context, item *queue.Item, kind, message string, summary *Summary, logger *slog.Logger) {
	status, err := d.store.FailOrRequeue(ctx, item.ID, kind, message)
	if err != nil {
		logger.Error("failure bookkeeping failed", logging.Error(err))
		return
	}
	if status == queue.StatusFailed {
		summary.Failed++
		logger.Warn("item failed terminally",
			logging.String("error_kind", kind),
			logging.String("error_message", message))
		if err := d.notifier.NotifyItemFailed(ctx, item.ID, item.TaskRef, message); err != nil {
			logger.Warn("failure notification failed", logging.Error(err))
		}
		if item.SessionID != "" {
			d.finishSessionIfDone(ctx, item.SessionID, logger)
		}
		return
	}
	summary.Requeued++
	logger.Info("item requeued after failure",
		logging.String("error_kind", kind),
		logging.Int("retry_count", item.RetryCount+1))
}

// finishSessionIfDone runs the end-of-session bookkeeping once every item in
// the session is terminal: completion notification when nothing failed, and
// credit settlement against the originating request either way.
func (d *Drainer) finishSessionIfDone(ctx context.Context, sessionID string, logger *slog.Logger) {
	items, err := d.store.SessionItems(ctx, sessionID, "")
	if err != nil {
		logger.Warn("session status lookup failed", logging.Error(err))
		return
	}
	failed := 0
	for _, item := range items {
		if !item.IsTerminal() {
			return
		}
		if item.Status == queue.StatusFailed {
			failed++
		}
	}
	if failed == 0 {
		if err := d.notifier.NotifySessionCompleted(ctx, sessionID, len(items)); err != nil {
			logger.Warn("session notification failed", logging.Error(err))
		}
	}
	d.settleSession(ctx, sessionID, items, logger)
}

// settleSession releases the credit reservation a queued search has been
// holding since submission: the actual cost prorates against the delivered
// volume, and a failed session charges nothing. The store claim keeps
// settlement at exactly once per session, across retries and concurrent
// drains alike.
func (d *Drainer) settleSession(ctx context.Context, sessionID string, items []*queue.Item, logger *slog.Logger) {
	requested := originLimit(items)
	if requested <= 0 {
		return
	}

	claimed, err := d.store.ClaimSettlement(ctx, sessionID)
	if err != nil {
		logger.Warn("settlement claim failed", logging.Error(err))
		return
	}
	if !claimed {
		return
	}

	reserved := credits.Reservation(requested, d.cfg.Pipeline.PageSize, d.cfg.Credits.PerPage)

	returned := 0
	result, err := d.aggregator.Aggregate(ctx, sessionID, "")
	if err != nil {
		logger.Warn("session aggregation for settlement failed", logging.Error(err))
	} else if result.State == session.StateCompleted {
		returned = len(result.Items)
	}

	actual, refund := credits.Prorate(requested, returned, reserved)
	if err := d.ledger.Settle(ctx, items[0].OwnerID, reserved, actual); err != nil {
		logger.Warn("credit settlement failed",
			logging.Int("reserved", reserved),
			logging.Int("actual", actual),
			logging.Error(err))
		return
	}
	logger.Info("session credits settled",
		logging.String(logging.FieldSessionID, sessionID),
		logging.Int("reserved", reserved),
		logging.Int("actual", actual),
		logging.Int("refund", refund))
}

// originLimit recovers the requested result count from the session's stored
// origin payload. Zero means the session carries no credit context.
func originLimit(items []*queue.Item) int {
	for _, item := range items {
		payload, err := item.OriginPayload()
		if err != nil || payload == nil {
			continue
		}
		switch v := payload["limit"].(type) {
		case float64:
			return int(v)
		case int:
			return v
		}
	}
	return 0
}

func describeRunError(err error) (kind, message string) {
	var runErr *taskrun.RunError
	if errors.As(err, &runErr) {
		kind = runErr.Kind
		if kind == "" {
			kind = "run-error"
		}
		return kind, runErr.Message
	}
	return "run-error", err.Error()
}
