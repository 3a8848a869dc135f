package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/storefront/pricing-service/internal/money"
)

// PGLedger is the Postgres-backed Ledger. Atomic check-and-increment
// lives in the try_reserve_promotion SQL function (see migrations),
// which serializes reservations per promotion with an advisory lock so
// two concurrent checkouts cannot both claim the last slot.
type PGLedger struct {
	pool   *pgxpool.Pool
	ttl    time.Duration
	logger zerolog.Logger
}

// NewPGLedger creates a ledger over the given pool. Reservations
// expire after ttl unless committed.
func NewPGLedger(pool *pgxpool.Pool, ttl time.Duration) *PGLedger {
	return &PGLedger{
		pool:   pool,
		ttl:    ttl,
		logger: log.With().Str("component", "usage_ledger").Logger(),
	}
}

func (l *PGLedger) Remaining(ctx context.Context, promotionID, customerID string, limits Limits) (int, int, error) {
	if limits.Unbounded() {
		return Unlimited, Unlimited, nil
	}

	var usedCustomer, usedGlobal int
	err := l.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM promotion_usage
			 WHERE promotion_id = $1 AND customer_id = $2)
		  + (SELECT COUNT(*) FROM promotion_reservations
			 WHERE promotion_id = $1 AND customer_id = $2 AND expires_at > NOW()),
			(SELECT COUNT(*) FROM promotion_usage
			 WHERE promotion_id = $1)
		  + (SELECT COUNT(*) FROM promotion_reservations
			 WHERE promotion_id = $1 AND expires_at > NOW())
	`, promotionID, customerID).Scan(&usedCustomer, &usedGlobal)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	perCustomer, global := Unlimited, Unlimited
	if limits.PerCustomer != nil {
		perCustomer = max(*limits.PerCustomer-usedCustomer, 0)
	}
	if limits.Global != nil {
		global = max(*limits.Global-usedGlobal, 0)
	}
	return perCustomer, global, nil
}

func (l *PGLedger) TryReserve(ctx context.Context, promotionID, customerID string, limits Limits) (*Reservation, bool, error) {
	id := uuid.NewString()
	expiresAt := time.Now().Add(l.ttl)

	var reserved bool
	err := l.pool.QueryRow(ctx, `
		SELECT try_reserve_promotion($1, $2, $3, $4, $5, $6)
	`, id, promotionID, customerID, limits.PerCustomer, limits.Global, expiresAt).Scan(&reserved)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !reserved {
		return nil, false, nil
	}

	return &Reservation{
		ID:          id,
		PromotionID: promotionID,
		CustomerID:  customerID,
		ExpiresAt:   expiresAt,
	}, true, nil
}

func (l *PGLedger) Commit(ctx context.Context, res *Reservation, orderID string, discount money.Money) error {
	var committed bool
	err := l.pool.QueryRow(ctx, `
		SELECT commit_promotion_reservation($1, $2, $3)
	`, res.ID, orderID, discount.Amount()).Scan(&committed)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !committed {
		return ErrReservationNotFound
	}
	return nil
}

func (l *PGLedger) Release(ctx context.Context, res *Reservation) error {
	tag, err := l.pool.Exec(ctx, `
		DELETE FROM promotion_reservations WHERE id = $1
	`, res.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrReservationNotFound
	}
	return nil
}

func (l *PGLedger) ExpireStale(ctx context.Context) (int, error) {
	tag, err := l.pool.Exec(ctx, `
		DELETE FROM promotion_reservations WHERE expires_at <= NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	expired := int(tag.RowsAffected())
	if expired > 0 {
		l.logger.Info().Int("expired", expired).Msg("Expired stale reservations")
	}
	return expired, nil
}
