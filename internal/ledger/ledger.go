// Package ledger tracks promotion usage against per-customer and
// global limits. Reservations are provisional claims made while a
// checkout is being priced; they convert to append-only usage records
// on commit, or are released/expired when the checkout never lands.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/storefront/pricing-service/internal/money"
)

// Unlimited is returned by Remaining when no limit is configured.
const Unlimited = -1

// ErrUnavailable wraps storage failures so callers can distinguish
// "ledger down" from "limit exhausted". Pricing aborts on it.
var ErrUnavailable = errors.New("usage ledger unavailable")

// ErrReservationNotFound is returned when committing or releasing a
// reservation that no longer exists (already converted or expired).
var ErrReservationNotFound = errors.New("reservation not found")

// Limits carries the usage limits of a promotion. A nil field means no
// limit on that dimension.
type Limits struct {
	PerCustomer *int
	Global      *int
}

// Unbounded reports whether neither dimension is limited.
func (l Limits) Unbounded() bool {
	return l.PerCustomer == nil && l.Global == nil
}

// Reservation is a provisional claim on one usage slot of a promotion.
type Reservation struct {
	ID          string
	PromotionID string
	CustomerID  string
	ExpiresAt   time.Time
}

// Record is one committed usage of a promotion: one row per
// (customer, promotion, order) triple, append-only.
type Record struct {
	PromotionID     string
	CustomerID      string
	OrderID         string
	DiscountApplied money.Money
	UsedAt          time.Time
}

// Ledger is the usage accounting contract. TryReserve must be atomic
// at the storage layer: two concurrent reservations for the last slot
// of a promotion must not both succeed.
type Ledger interface {
	// Remaining returns how many uses are left on each dimension for
	// the (promotion, customer) pair, counting committed records plus
	// live reservations. Unlimited means no limit configured.
	Remaining(ctx context.Context, promotionID, customerID string, limits Limits) (perCustomer, global int, err error)

	// TryReserve atomically checks the limits and claims a slot.
	// Returns (nil, false, nil) when the limits are exhausted.
	TryReserve(ctx context.Context, promotionID, customerID string, limits Limits) (*Reservation, bool, error)

	// Commit converts a reservation into a usage record once the order
	// is durably persisted.
	Commit(ctx context.Context, res *Reservation, orderID string, discount money.Money) error

	// Release returns an unconverted reservation to the pool.
	Release(ctx context.Context, res *Reservation) error

	// ExpireStale removes reservations past their deadline, returning
	// how many were expired.
	ExpireStale(ctx context.Context) (int, error)
}
