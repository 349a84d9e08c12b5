// Package credits holds the credit arithmetic for search requests: page
// based reservation up front and proration down to delivered volume after
// completion. Ledger persistence lives outside this system; only the
// arithmetic is owned here.
package credits

import "context"

// Prorate scales a reserved cost down to the actually delivered result
// volume. The actual cost is floored so rounding never favors the service,
// and the refund is the positive remainder of the reservation. A zero
// requested count settles at the full reservation.
func Prorate(requested, returned, reserved int) (actual, refund int) {
	if requested <= 0 || reserved <= 0 {
		if reserved < 0 {
			reserved = 0
		}
		return reserved, 0
	}
	if returned < 0 {
		returned = 0
	}
	if returned > requested {
		returned = requested
	}
	actual = returned * reserved / requested
	return actual, reserved - actual
}

// Reservation computes the up-front credit hold for a requested result
// count, charged per page of pageSize results.
func Reservation(requested, pageSize, perPage int) int {
	if requested <= 0 || pageSize <= 0 || perPage <= 0 {
		return 0
	}
	pages := (requested + pageSize - 1) / pageSize
	return pages * perPage
}

// Ledger is the external credit store boundary: reserve before submission,
// settle after the session resolves.
type Ledger interface {
	Reserve(ctx context.Context, ownerID string, amount int) error
	Settle(ctx context.Context, ownerID string, reserved, actual int) error
}

// NoopLedger satisfies Ledger without persisting anything. Used when no
// billing backend is wired up.
type NoopLedger struct{}

func (NoopLedger) Reserve(context.Context, string, int) error    { return nil }
func (NoopLedger) Settle(context.Context, string, int, int) error { return nil }
