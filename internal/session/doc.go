// Package session derives follow-up pipeline stages from completed discovery
// items and merges per-stage result sets into one session record set.
//
// Stage 2 and stage 3 items exist only because a stage 1 item of the same
// session completed. The continuation engine enforces that ordering and runs
// at most once per completed stage, guarded by the store's continuation
// claim. The aggregator is read-only: it reports "processing" until every
// session item is terminal and never returns a partial merge as final.
package session
