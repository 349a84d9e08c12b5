package session

import (
	"context"
	"log/slog"

	"scour/internal/config"
	"scour/internal/logging"
	"scour/internal/queue"
	"scour/internal/taskrun"
)

// Continuer derives stage-2 and stage-3 queue items from a completed
// discovery item.
type Continuer struct {
	store  *queue.Store
	cfg    *config.Config
	logger *slog.Logger
}

// NewContinuer creates a Continuer.
func NewContinuer(store *queue.Store, cfg *config.Config, logger *slog.Logger) *Continuer {
	return &Continuer{
		store:  store,
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "session"),
	}
}

// Continue enqueues the follow-up stages for a completed stage-1 item. It
// returns the number of queue items created. Items outside a session, past
// stage 1, or whose task is not the discovery task are skipped. A session
// whose discovery was split across several queue items continues only after
// the last one lands, over the combined result set; a set at or below the
// minimum viable volume ends the session at discovery. The continuation
// claim in the store makes this safe to call twice for the same completion:
// only the first call enqueues anything.
func (c *Continuer) Continue(ctx context.Context, item *queue.Item, results []taskrun.Item) (int, error) {
	if item.SessionID == "" || item.SessionStep != 1 || item.TaskRef != c.cfg.Pipeline.DiscoveryTaskRef {
		return 0, nil
	}

	discovered, waiting, err := c.collectDiscovery(ctx, item, results)
	if err != nil {
		return 0, err
	}
	if waiting > 0 {
		c.logger.Info("discovery batches still in flight, continuation deferred",
			logging.String(logging.FieldSessionID, item.SessionID),
			logging.Int("waiting", waiting))
		return 0, nil
	}

	if len(discovered) <= c.cfg.Pipeline.MinDiscovery {
		c.logger.Info("discovery volume too thin, session ends at discovery",
			logging.String(logging.FieldSessionID, item.SessionID),
			logging.Int("raw_discovered", len(discovered)),
			logging.Int("min_discovery", c.cfg.Pipeline.MinDiscovery))
		return 0, nil
	}

	refs := uniqueKeys(discovered, RefKey, c.cfg.Pipeline.Stage2RefCap)
	if len(refs) == 0 {
		c.logger.Info("no continuation references, session ends at discovery",
			logging.String(logging.FieldSessionID, item.SessionID),
			logging.String(logging.FieldItemID, item.ID))
		return 0, nil
	}

	claimed, err := c.store.ClaimContinuation(ctx, item.SessionID, item.SessionStep)
	if err != nil {
		return 0, err
	}
	if !claimed {
		c.logger.Warn("continuation already claimed, skipping",
			logging.String(logging.FieldSessionID, item.SessionID),
			logging.Int(logging.FieldSessionStep, item.SessionStep))
		return 0, nil
	}

	created := 0

	// Continuation work outranks fresh requests: an abandoned session
	// wastes its already-paid discovery run.
	for _, batch := range batchKeys(refs, c.cfg.Pipeline.PageSize) {
		_, err := c.store.Enqueue(ctx, queue.NewItem{
			OwnerID: item.OwnerID,
			TaskRef: c.cfg.Pipeline.DetailsTaskRef,
			TaskInput: map[string]any{
				"urls":  batch,
				"limit": len(batch),
			},
			Priority:       queue.PriorityHigh,
			MaxRetries:     c.cfg.Queue.MaxRetries,
			SessionID:      item.SessionID,
			SessionStep:    2,
			OriginEndpoint: item.OriginEndpoint,
			OriginPayload:  mustDecodeOrigin(item),
		})
		if err != nil {
			return created, err
		}
		created++
	}

	owners := uniqueKeys(discovered, OwnerKey, c.cfg.Pipeline.Stage3OwnerCap)
	for _, batch := range batchKeys(owners, c.cfg.Pipeline.PageSize) {
		_, err := c.store.Enqueue(ctx, queue.NewItem{
			OwnerID: item.OwnerID,
			TaskRef: c.cfg.Pipeline.ProfilesTaskRef,
			TaskInput: map[string]any{
				"usernames": batch,
				"limit":     len(batch),
			},
			Priority:       queue.PriorityNormal,
			MaxRetries:     c.cfg.Queue.MaxRetries,
			SessionID:      item.SessionID,
			SessionStep:    3,
			OriginEndpoint: item.OriginEndpoint,
			OriginPayload:  mustDecodeOrigin(item),
		})
		if err != nil {
			return created, err
		}
		created++
	}

	c.logger.Info("session continuation enqueued",
		logging.String(logging.FieldSessionID, item.SessionID),
		logging.Int("reference_count", len(refs)),
		logging.Int("owner_count", len(owners)),
		logging.Int("items_created", created))

	return created, nil
}

// collectDiscovery unions the triggering item's results with every other
// terminal stage-1 result in the session, and counts the stage-1 items that
// have not finished yet.
func (c *Continuer) collectDiscovery(ctx context.Context, item *queue.Item, results []taskrun.Item) ([]taskrun.Item, int, error) {
	siblings, err := c.store.SessionItems(ctx, item.SessionID, "")
	if err != nil {
		return nil, 0, err
	}

	discovered := append([]taskrun.Item(nil), results...)
	waiting := 0
	for _, sibling := range siblings {
		if sibling.SessionStep != 1 || sibling.ID == item.ID {
			continue
		}
		if !sibling.IsTerminal() {
			waiting++
			continue
		}
		envelope, err := sibling.Result()
		if err != nil || envelope == nil {
			continue
		}
		discovered = append(discovered, envelope.Items...)
	}
	return discovered, waiting, nil
}

func mustDecodeOrigin(item *queue.Item) map[string]any {
	payload, err := item.OriginPayload()
	if err != nil {
		return nil
	}
	return payload
}
