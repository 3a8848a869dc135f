package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/storefront/pricing-service/internal/money"
)

// Store loads promotion catalog snapshots from Postgres.
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewStore creates a catalog store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:   pool,
		logger: log.With().Str("component", "catalog_store").Logger(),
	}
}

// LoadSnapshot reads all promotions and their scope memberships in a
// single read-only transaction, so the snapshot is internally
// consistent, then validates and assembles it.
func (s *Store) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin catalog transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	promos, err := s.loadPromotions(ctx, tx)
	if err != nil {
		return nil, err
	}

	if err := s.loadScopes(ctx, tx, promos); err != nil {
		return nil, err
	}

	list := make([]Promotion, 0, len(promos))
	for _, p := range promos {
		list = append(list, *p)
	}

	snapshot, err := NewSnapshot(list)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Int("promotions", snapshot.Len()).Msg("Loaded catalog snapshot")
	return snapshot, nil
}

func (s *Store) loadPromotions(ctx context.Context, tx pgx.Tx) (map[string]*Promotion, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, name, promo_type, discount_value, priority, stackable,
		       min_order_amount, max_discount_amount, min_quantity, currency,
		       starts_at, ends_at, active,
		       usage_limit_global, usage_limit_per_customer,
		       scope, requires_code, code
		FROM promotions
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query promotions: %w", err)
	}
	defer rows.Close()

	promos := make(map[string]*Promotion)
	for rows.Next() {
		var (
			p             Promotion
			discountValue decimal.Decimal
			minOrder      *int64
			maxDiscount   *int64
			currency      string
			scope         string
			code          *string
		)
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Type, &discountValue, &p.Priority, &p.Stackable,
			&minOrder, &maxDiscount, &p.MinQuantity, &currency,
			&p.StartsAt, &p.EndsAt, &p.Active,
			&p.UsageLimitGlobal, &p.UsageLimitPerCustomer,
			&scope, &p.RequiresCode, &code,
		); err != nil {
			return nil, fmt.Errorf("failed to scan promotion: %w", err)
		}

		p.DiscountValue = discountValue
		if minOrder != nil {
			m, err := money.New(*minOrder, currency)
			if err != nil {
				return nil, ErrInvalidPromotion{ID: p.ID, Reason: err.Error()}
			}
			p.MinOrderAmount = &m
		}
		if maxDiscount != nil {
			m, err := money.New(*maxDiscount, currency)
			if err != nil {
				return nil, ErrInvalidPromotion{ID: p.ID, Reason: err.Error()}
			}
			p.MaxDiscountAmount = &m
		}
		if code != nil {
			p.Code = *code
		}
		p.Scope = Scope{Kind: ScopeKind(scope)}
		switch p.Scope.Kind {
		case ScopeProducts:
			p.Scope.ProductIDs = make(map[string]struct{})
		case ScopeCategories:
			p.Scope.CategoryIDs = make(map[string]struct{})
		}

		promos[p.ID] = &p
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("error iterating promotions: %w", rows.Err())
	}
	return promos, nil
}

func (s *Store) loadScopes(ctx context.Context, tx pgx.Tx, promos map[string]*Promotion) error {
	rows, err := tx.Query(ctx, `
		SELECT promotion_id, product_id FROM promotion_products
	`)
	if err != nil {
		return fmt.Errorf("failed to query promotion products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var promoID, productID string
		if err := rows.Scan(&promoID, &productID); err != nil {
			return fmt.Errorf("failed to scan promotion product: %w", err)
		}
		if p, ok := promos[promoID]; ok && p.Scope.ProductIDs != nil {
			p.Scope.ProductIDs[productID] = struct{}{}
		}
	}
	if rows.Err() != nil {
		return fmt.Errorf("error iterating promotion products: %w", rows.Err())
	}
	rows.Close()

	catRows, err := tx.Query(ctx, `
		SELECT promotion_id, category_id FROM promotion_categories
	`)
	if err != nil {
		return fmt.Errorf("failed to query promotion categories: %w", err)
	}
	defer catRows.Close()

	for catRows.Next() {
		var promoID, categoryID string
		if err := catRows.Scan(&promoID, &categoryID); err != nil {
			return fmt.Errorf("failed to scan promotion category: %w", err)
		}
		if p, ok := promos[promoID]; ok && p.Scope.CategoryIDs != nil {
			p.Scope.CategoryIDs[categoryID] = struct{}{}
		}
	}
	if catRows.Err() != nil {
		return fmt.Errorf("error iterating promotion categories: %w", catRows.Err())
	}
	return nil
}
