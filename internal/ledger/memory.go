package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storefront/pricing-service/internal/money"
)

// MemoryLedger is an in-process Ledger used by tests and by the CLI's
// offline quote mode. A single mutex makes check-and-increment atomic.
type MemoryLedger struct {
	mu           sync.Mutex
	ttl          time.Duration
	records      []Record
	reservations map[string]*Reservation
	now          func() time.Time
}

// NewMemoryLedger creates an empty in-memory ledger. Reservations
// expire after ttl.
func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	return &MemoryLedger{
		ttl:          ttl,
		reservations: make(map[string]*Reservation),
		now:          time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (l *MemoryLedger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// usedLocked counts committed records plus live reservations on both
// dimensions. Caller holds the mutex.
func (l *MemoryLedger) usedLocked(promotionID, customerID string) (perCustomer, global int) {
	now := l.now()
	for i := range l.records {
		if l.records[i].PromotionID != promotionID {
			continue
		}
		global++
		if l.records[i].CustomerID == customerID {
			perCustomer++
		}
	}
	for _, r := range l.reservations {
		if r.PromotionID != promotionID || !r.ExpiresAt.After(now) {
			continue
		}
		global++
		if r.CustomerID == customerID {
			perCustomer++
		}
	}
	return perCustomer, global
}

func (l *MemoryLedger) Remaining(ctx context.Context, promotionID, customerID string, limits Limits) (int, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	usedCustomer, usedGlobal := l.usedLocked(promotionID, customerID)

	perCustomer, global := Unlimited, Unlimited
	if limits.PerCustomer != nil {
		perCustomer = *limits.PerCustomer - usedCustomer
		if perCustomer < 0 {
			perCustomer = 0
		}
	}
	if limits.Global != nil {
		global = *limits.Global - usedGlobal
		if global < 0 {
			global = 0
		}
	}
	return perCustomer, global, nil
}

func (l *MemoryLedger) TryReserve(ctx context.Context, promotionID, customerID string, limits Limits) (*Reservation, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	usedCustomer, usedGlobal := l.usedLocked(promotionID, customerID)
	if limits.PerCustomer != nil && usedCustomer >= *limits.PerCustomer {
		return nil, false, nil
	}
	if limits.Global != nil && usedGlobal >= *limits.Global {
		return nil, false, nil
	}

	res := &Reservation{
		ID:          uuid.NewString(),
		PromotionID: promotionID,
		CustomerID:  customerID,
		ExpiresAt:   l.now().Add(l.ttl),
	}
	l.reservations[res.ID] = res
	return res, true, nil
}

func (l *MemoryLedger) Commit(ctx context.Context, res *Reservation, orderID string, discount money.Money) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	stored, ok := l.reservations[res.ID]
	if !ok || !stored.ExpiresAt.After(l.now()) {
		return ErrReservationNotFound
	}
	delete(l.reservations, res.ID)

	l.records = append(l.records, Record{
		PromotionID:     res.PromotionID,
		CustomerID:      res.CustomerID,
		OrderID:         orderID,
		DiscountApplied: discount,
		UsedAt:          l.now(),
	})
	return nil
}

func (l *MemoryLedger) Release(ctx context.Context, res *Reservation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.reservations[res.ID]; !ok {
		return ErrReservationNotFound
	}
	delete(l.reservations, res.ID)
	return nil
}

func (l *MemoryLedger) ExpireStale(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	expired := 0
	for id, r := range l.reservations {
		if !r.ExpiresAt.After(now) {
			delete(l.reservations, id)
			expired++
		}
	}
	return expired, nil
}

// Records returns a copy of the committed usage records. Test hook.
func (l *MemoryLedger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}
