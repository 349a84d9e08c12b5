// Package pipeline decomposes a user search into keyword discovery batches,
// drives the try-first executor per batch, and merges stage outputs into the
// final record set with prorated credit accounting.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"scour/internal/config"
	"scour/internal/credits"
	"scour/internal/executor"
	"scour/internal/logging"
	"scour/internal/queue"
	"scour/internal/services"
	"scour/internal/session"
	"scour/internal/taskrun"
)

// ErrTooFewResults rejects a search whose raw discovery volume is at or
// below the minimum viable threshold. A hard product rule: the whole
// reservation is refunded and no downstream work runs.
var ErrTooFewResults = errors.New("too few discoverable results")

const searchEndpoint = "/v1/search"

// Profile backfill re-queries missing owners in smaller slices than the
// regular page size.
const backfillBatchSize = 20

// abortTimeout bounds the best-effort abort sweep after a disconnect.
const abortTimeout = 10 * time.Second

// SearchRequest is one user search.
type SearchRequest struct {
	OwnerID  string
	Keywords []string
	Limit    int
}

// SearchResult is the outcome of a search. When Queued is set the request
// was demoted to the durable queue and the caller polls the session instead
// of receiving records inline.
type SearchResult struct {
	SessionID     string
	Queued        bool
	QueuedItemID  string
	QueuePosition int
	Items         []taskrun.Item
	Requested     int
	Returned      int
	RawDiscovered int
	Reserved      int
	ActualCost    int
	Refund        int
}

// Orchestrator runs the synchronous multi-stage search pipeline.
type Orchestrator struct {
	exec   *executor.Executor
	runner taskrun.Runner
	store  *queue.Store
	ledger credits.Ledger
	cfg    *config.Config
	logger *slog.Logger
}

// New creates an Orchestrator. A nil ledger disables credit accounting.
func New(exec *executor.Executor, runner taskrun.Runner, store *queue.Store, ledger credits.Ledger, cfg *config.Config, logger *slog.Logger) *Orchestrator {
	if ledger == nil {
		ledger = credits.NoopLedger{}
	}
	return &Orchestrator{
		exec:   exec,
		runner: runner,
		store:  store,
		ledger: ledger,
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "pipeline"),
	}
}

// Search runs discovery, detail enrichment, and profile enrichment for the
// request. Every remote call goes through the try-first executor: the first
// capacity-exhausted attempt turns the whole request into a queued session
// and returns immediately with the queue position. Started runs are aborted
// best-effort when the caller disconnects mid-flight.
func (o *Orchestrator) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if req.OwnerID == "" {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "search", "owner id is required", nil)
	}

	pl := o.cfg.Pipeline
	plan, err := BuildPlan(req.Keywords, req.Limit, pl.MaxKeywords, pl.PageSize, pl.Oversample)
	if err != nil {
		return nil, err
	}

	reserved := credits.Reservation(req.Limit, pl.PageSize, o.cfg.Credits.PerPage)
	if err := o.ledger.Reserve(ctx, req.OwnerID, reserved); err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", "search", "credit reservation failed", err)
	}

	sessionID := uuid.NewString()
	logger := o.logger.With(
		logging.String(logging.FieldSessionID, sessionID),
		logging.String(logging.FieldOwnerID, req.OwnerID))
	logger.Info("search started",
		logging.Int("keywords", len(plan.Keywords)),
		logging.Int("requested", req.Limit),
		logging.Int("reserved_credits", reserved))

	tracker := newRunTracker()
	defer tracker.abortOnCancel(ctx, o.runner, logger)

	result := &SearchResult{SessionID: sessionID, Requested: req.Limit, Reserved: reserved}

	originPayload := map[string]any{
		"keywords": plan.Keywords,
		"limit":    req.Limit,
	}

	// Stage 1: discovery per keyword batch.
	var discovered []taskrun.Item
	for i, batch := range plan.Batches {
		outcome, err := o.exec.Execute(ctx, executor.Request{
			OwnerID: req.OwnerID,
			TaskRef: pl.DiscoveryTaskRef,
			TaskInput: map[string]any{
				"keywords": []string{batch.Keyword},
				"limit":    batch.Limit,
			},
			Priority:       queue.PriorityNormal,
			MaxRetries:     o.cfg.Queue.MaxRetries,
			SessionID:      sessionID,
			SessionStep:    1,
			OriginEndpoint: searchEndpoint,
			OriginPayload:  originPayload,
		})
		if err != nil {
			return nil, o.settleAndFail(ctx, req.OwnerID, reserved, err)
		}
		if !outcome.Started {
			result.Queued = true
			result.QueuedItemID = outcome.ItemID
			result.QueuePosition = outcome.Position
			if len(discovered) > 0 {
				o.preserveStageResults(ctx, req.OwnerID, sessionID, plan.Keywords, discovered, nil, nil, originPayload, logger)
			}
			remaining := make([]map[string]any, 0, len(plan.Batches)-i-1)
			for _, rest := range plan.Batches[i+1:] {
				remaining = append(remaining, map[string]any{
					"keywords": []string{rest.Keyword},
					"limit":    rest.Limit,
				})
			}
			o.enqueueStageBatches(ctx, req.OwnerID, sessionID, 1, pl.DiscoveryTaskRef, remaining, queue.PriorityNormal, originPayload, logger)
			logger.Info("search queued at discovery",
				logging.String(logging.FieldItemID, outcome.ItemID),
				logging.Int("position", outcome.Position),
				logging.Int("deferred_batches", len(remaining)))
			return result, nil
		}
		tracker.add(outcome.RunID)
		items, _, err := o.runner.AwaitItems(ctx, outcome.RunID)
		if err != nil {
			return nil, o.settleAndFail(ctx, req.OwnerID, reserved, err)
		}
		discovered = append(discovered, items...)
	}

	result.RawDiscovered = len(discovered)
	if len(discovered) <= pl.MinDiscovery {
		o.settle(ctx, req.OwnerID, reserved, 0, logger)
		logger.Info("search rejected, too few results",
			logging.Int("raw_discovered", len(discovered)),
			logging.Int("min_discovery", pl.MinDiscovery))
		return nil, ErrTooFewResults
	}

	backbone := dedupeByKey(discovered, session.RefKey, req.Limit)

	// Stage 2: detail enrichment in page-sized reference batches.
	refs := make([]string, 0, len(backbone))
	for _, record := range backbone {
		refs = append(refs, session.RefKey(record))
	}
	var details []taskrun.Item
	refBatches := chunkStrings(refs, pl.PageSize)
	for i, batch := range refBatches {
		items, outcome, err := o.runStage(ctx, req.OwnerID, sessionID, 2, pl.DetailsTaskRef, map[string]any{
			"urls":  batch,
			"limit": len(batch),
		}, queue.PriorityHigh, originPayload, tracker)
		if err != nil {
			return nil, o.settleAndFail(ctx, req.OwnerID, reserved, err)
		}
		if outcome != nil {
			result.Queued = true
			result.QueuedItemID = outcome.ItemID
			result.QueuePosition = outcome.Position
			o.preserveStageResults(ctx, req.OwnerID, sessionID, plan.Keywords, backbone, details, nil, originPayload, logger)
			o.enqueueStageBatches(ctx, req.OwnerID, sessionID, 2, pl.DetailsTaskRef,
				keyedInputs("urls", refBatches[i+1:]), queue.PriorityHigh, originPayload, logger)
			o.enqueueStageBatches(ctx, req.OwnerID, sessionID, 3, pl.ProfilesTaskRef,
				keyedInputs("usernames", chunkStrings(ownerKeys(backbone, details, pl.Stage3OwnerCap), pl.PageSize)),
				queue.PriorityNormal, originPayload, logger)
			o.claimContinuation(ctx, sessionID, logger)
			logger.Info("search queued at details",
				logging.String(logging.FieldItemID, outcome.ItemID))
			return result, nil
		}
		details = append(details, items...)
	}
	details = dedupeByKey(details, session.RefKey, req.Limit)

	// Stage 3: profiles for every distinct owner, sequentially.
	owners := ownerKeys(backbone, details, pl.Stage3OwnerCap)
	var profiles []taskrun.Item
	ownerBatches := chunkStrings(owners, pl.PageSize)
	for i, batch := range ownerBatches {
		items, outcome, err := o.runStage(ctx, req.OwnerID, sessionID, 3, pl.ProfilesTaskRef, map[string]any{
			"usernames": batch,
			"limit":     len(batch),
		}, queue.PriorityNormal, originPayload, tracker)
		if err != nil {
			return nil, o.settleAndFail(ctx, req.OwnerID, reserved, err)
		}
		if outcome != nil {
			result.Queued = true
			result.QueuedItemID = outcome.ItemID
			result.QueuePosition = outcome.Position
			o.preserveStageResults(ctx, req.OwnerID, sessionID, plan.Keywords, backbone, details, profiles, originPayload, logger)
			o.enqueueStageBatches(ctx, req.OwnerID, sessionID, 3, pl.ProfilesTaskRef,
				keyedInputs("usernames", ownerBatches[i+1:]), queue.PriorityNormal, originPayload, logger)
			o.claimContinuation(ctx, sessionID, logger)
			logger.Info("search queued at profiles",
				logging.String(logging.FieldItemID, outcome.ItemID))
			return result, nil
		}
		profiles = append(profiles, items...)
	}

	profiles = o.backfillProfiles(ctx, backbone, details, profiles, tracker, logger)

	result.Items = session.Merge(backbone, details, profiles)
	result.Returned = len(result.Items)

	actual, refund := credits.Prorate(req.Limit, result.Returned, reserved)
	result.ActualCost = actual
	result.Refund = refund
	o.settle(ctx, req.OwnerID, reserved, actual, logger)

	logger.Info("search complete",
		logging.Int("returned", result.Returned),
		logging.Int("raw_discovered", result.RawDiscovered),
		logging.Int("actual_credits", actual),
		logging.Int("refund_credits", refund))

	return result, nil
}

// runStage executes one enrichment batch through the try-first path. It
// returns the run output, or a non-nil outcome when the batch was queued.
func (o *Orchestrator) runStage(ctx context.Context, ownerID, sessionID string, step int, taskRef string, input map[string]any, priority queue.Priority, originPayload map[string]any, tracker *runTracker) ([]taskrun.Item, *executor.Outcome, error) {
	outcome, err := o.exec.Execute(ctx, executor.Request{
		OwnerID:        ownerID,
		TaskRef:        taskRef,
		TaskInput:      input,
		Priority:       priority,
		MaxRetries:     o.cfg.Queue.MaxRetries,
		SessionID:      sessionID,
		SessionStep:    step,
		OriginEndpoint: searchEndpoint,
		OriginPayload:  originPayload,
	})
	if err != nil {
		return nil, nil, err
	}
	if !outcome.Started {
		return nil, outcome, nil
	}
	tracker.add(outcome.RunID)
	items, _, err := o.runner.AwaitItems(ctx, outcome.RunID)
	if err != nil {
		return nil, nil, err
	}
	return items, nil, nil
}

// backfillProfiles re-queries owners still missing profile data, bounded by
// the configured round budget (zero disables backfill entirely).
func (o *Orchestrator) backfillProfiles(ctx context.Context, backbone, details, profiles []taskrun.Item, tracker *runTracker, logger *slog.Logger) []taskrun.Item {
	rounds := o.cfg.Pipeline.BackfillRounds
	for round := 0; round < rounds; round++ {
		covered := make(map[string]struct{}, len(profiles))
		for _, profile := range profiles {
			if key := session.OwnerKey(profile); key != "" {
				covered[key] = struct{}{}
			}
		}
		var missing []string
		for _, owner := range ownerKeys(backbone, details, o.cfg.Pipeline.Stage3OwnerCap) {
			if _, ok := covered[owner]; !ok {
				missing = append(missing, owner)
			}
		}
		if len(missing) == 0 {
			return profiles
		}
		if len(missing) > backfillBatchSize {
			missing = missing[:backfillBatchSize]
		}

		runID, err := o.runner.StartRun(ctx, o.cfg.Pipeline.ProfilesTaskRef, map[string]any{
			"usernames": missing,
			"limit":     len(missing),
		})
		if err != nil {
			logger.Warn("profile backfill start failed", logging.Error(err))
			return profiles
		}
		tracker.add(runID)
		items, _, err := o.runner.AwaitItems(ctx, runID)
		if err != nil {
			logger.Warn("profile backfill await failed", logging.Error(err))
			return profiles
		}
		profiles = append(profiles, items...)
		logger.Info("profile backfill round complete",
			logging.Int("round", round+1),
			logging.Int("requeried", len(missing)),
			logging.Int("recovered", len(items)))
	}
	return profiles
}

// preserveStageResults stores results already fetched by the synchronous
// pass as finished session items before the search falls back to the queue.
// Without this a mid-pipeline demotion would throw away stage output the
// caller already paid for.
func (o *Orchestrator) preserveStageResults(ctx context.Context, ownerID, sessionID string, keywords []string, backbone, details, profiles []taskrun.Item, originPayload map[string]any, logger *slog.Logger) {
	stages := []struct {
		step    int
		taskRef string
		input   map[string]any
		items   []taskrun.Item
	}{
		{1, o.cfg.Pipeline.DiscoveryTaskRef, map[string]any{"keywords": keywords, "limit": len(backbone)}, backbone},
		{2, o.cfg.Pipeline.DetailsTaskRef, map[string]any{"limit": len(details)}, details},
		{3, o.cfg.Pipeline.ProfilesTaskRef, map[string]any{"limit": len(profiles)}, profiles},
	}
	for _, stage := range stages {
		if len(stage.items) == 0 {
			continue
		}
		if err := o.recordFinishedStage(ctx, ownerID, sessionID, stage.step, stage.taskRef, stage.input, stage.items, originPayload); err != nil {
			logger.Warn("preserving fetched stage results failed",
				logging.Int(logging.FieldSessionStep, stage.step),
				logging.Error(err))
		}
	}
}

// recordFinishedStage inserts a session item that is already complete, with
// the given results as its envelope.
func (o *Orchestrator) recordFinishedStage(ctx context.Context, ownerID, sessionID string, step int, taskRef string, input map[string]any, items []taskrun.Item, originPayload map[string]any) error {
	stored, err := o.store.Enqueue(ctx, queue.NewItem{
		OwnerID:        ownerID,
		TaskRef:        taskRef,
		TaskInput:      input,
		Priority:       queue.PriorityHigh,
		MaxRetries:     o.cfg.Queue.MaxRetries,
		SessionID:      sessionID,
		SessionStep:    step,
		OriginEndpoint: searchEndpoint,
		OriginPayload:  originPayload,
	})
	if err != nil {
		return err
	}
	claimed, err := o.store.ClaimPending(ctx, stored.ID)
	if err != nil {
		return err
	}
	if !claimed {
		return fmt.Errorf("item %s claimed by another worker", stored.ID)
	}
	return o.store.MarkCompleted(ctx, stored.ID, queue.ResultEnvelope{Success: true, Items: items})
}

// enqueueStageBatches adds pending session items for batches the synchronous
// pass never attempted, so the drainer can finish the request.
func (o *Orchestrator) enqueueStageBatches(ctx context.Context, ownerID, sessionID string, step int, taskRef string, inputs []map[string]any, priority queue.Priority, originPayload map[string]any, logger *slog.Logger) {
	for _, input := range inputs {
		if _, err := o.store.Enqueue(ctx, queue.NewItem{
			OwnerID:        ownerID,
			TaskRef:        taskRef,
			TaskInput:      input,
			Priority:       priority,
			MaxRetries:     o.cfg.Queue.MaxRetries,
			SessionID:      sessionID,
			SessionStep:    step,
			OriginEndpoint: searchEndpoint,
			OriginPayload:  originPayload,
		}); err != nil {
			logger.Warn("deferred batch enqueue failed",
				logging.Int(logging.FieldSessionStep, step),
				logging.Error(err))
		}
	}
}

// claimContinuation marks the session's downstream stages as already spawned
// so a later discovery completion cannot mint a second set.
func (o *Orchestrator) claimContinuation(ctx context.Context, sessionID string, logger *slog.Logger) {
	if _, err := o.store.ClaimContinuation(ctx, sessionID, 1); err != nil {
		logger.Warn("continuation claim failed", logging.Error(err))
	}
}

func keyedInputs(key string, batches [][]string) []map[string]any {
	inputs := make([]map[string]any, 0, len(batches))
	for _, batch := range batches {
		inputs = append(inputs, map[string]any{
			key:     batch,
			"limit": len(batch),
		})
	}
	return inputs
}

func (o *Orchestrator) settle(ctx context.Context, ownerID string, reserved, actual int, logger *slog.Logger) {
	if err := o.ledger.Settle(ctx, ownerID, reserved, actual); err != nil {
		logger.Warn("credit settlement failed",
			logging.Int("reserved", reserved),
			logging.Int("actual", actual),
			logging.Error(err))
	}
}

// settleAndFail releases the full reservation before surfacing a pipeline
// error: no results delivered means nothing charged.
func (o *Orchestrator) settleAndFail(ctx context.Context, ownerID string, reserved int, err error) error {
	o.settle(ctx, ownerID, reserved, 0, o.logger)
	return err
}

func dedupeByKey(items []taskrun.Item, extract func(taskrun.Item) string, limit int) []taskrun.Item {
	seen := make(map[string]struct{}, len(items))
	out := make([]taskrun.Item, 0, len(items))
	for _, item := range items {
		key := extract(item)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func ownerKeys(backbone, details []taskrun.Item, limit int) []string {
	seen := make(map[string]struct{})
	owners := make([]string, 0, limit)
	for _, items := range [][]taskrun.Item{backbone, details} {
		for _, item := range items {
			key := session.OwnerKey(item)
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			owners = append(owners, key)
			if limit > 0 && len(owners) >= limit {
				return owners
			}
		}
	}
	return owners
}

func chunkStrings(values []string, size int) [][]string {
	if size <= 0 || len(values) == 0 {
		return nil
	}
	chunks := make([][]string, 0, (len(values)+size-1)/size)
	for start := 0; start < len(values); start += size {
		end := start + size
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[start:end])
	}
	return chunks
}

// runTracker remembers every remote run started for one request so they can
// all be aborted if the caller disconnects mid-pipeline.
type runTracker struct {
	mu   sync.Mutex
	runs []string
}

func newRunTracker() *runTracker {
	return &runTracker{}
}

func (t *runTracker) add(runID string) {
	if runID == "" {
		return
	}
	t.mu.Lock()
	t.runs = append(t.runs, runID)
	t.mu.Unlock()
}

// abortOnCancel aborts every tracked run when the request context was
// cancelled. Best-effort: abort failures are logged and dropped.
func (t *runTracker) abortOnCancel(ctx context.Context, runner taskrun.Runner, logger *slog.Logger) {
	if ctx.Err() == nil {
		return
	}
	t.mu.Lock()
	runs := append([]string(nil), t.runs...)
	t.mu.Unlock()
	if len(runs) == 0 {
		return
	}
	abortCtx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()
	for _, runID := range runs {
		if err := runner.AbortRun(abortCtx, runID); err != nil {
			logger.Warn("run abort failed",
				logging.String(logging.FieldRunID, runID),
				logging.Error(err))
		}
	}
	logger.Info("aborted in-flight runs after cancellation", logging.Int("count", len(runs)))
}
