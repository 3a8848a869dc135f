package importer

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storefront/pricing-service/internal/catalog"
)

// ImportStats summarizes one import run
type ImportStats struct {
	Upserted int
}

// Import upserts parsed promotions and their scope membership in a
// single transaction. The whole batch commits or none of it does.
func Import(ctx context.Context, pool *pgxpool.Pool, rows []PromotionRow) (*ImportStats, error) {
	if len(rows) == 0 {
		return &ImportStats{}, nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, row := range rows {
		p := row.Promotion
		var minOrder, maxDiscount *int64
		currency := "EUR"
		if p.MinOrderAmount != nil {
			v := p.MinOrderAmount.Amount()
			minOrder = &v
			currency = p.MinOrderAmount.Currency()
		}
		if p.MaxDiscountAmount != nil {
			v := p.MaxDiscountAmount.Amount()
			maxDiscount = &v
			currency = p.MaxDiscountAmount.Currency()
		}

		var code *string
		if p.Code != "" {
			code = &p.Code
		}

		batch.Queue(`
			INSERT INTO promotions (
				id, name, promo_type, discount_value, priority, stackable,
				min_order_amount, max_discount_amount, min_quantity, currency,
				starts_at, ends_at, active,
				usage_limit_global, usage_limit_per_customer,
				scope, requires_code, code
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				promo_type = EXCLUDED.promo_type,
				discount_value = EXCLUDED.discount_value,
				priority = EXCLUDED.priority,
				stackable = EXCLUDED.stackable,
				min_order_amount = EXCLUDED.min_order_amount,
				max_discount_amount = EXCLUDED.max_discount_amount,
				min_quantity = EXCLUDED.min_quantity,
				currency = EXCLUDED.currency,
				starts_at = EXCLUDED.starts_at,
				ends_at = EXCLUDED.ends_at,
				active = EXCLUDED.active,
				usage_limit_global = EXCLUDED.usage_limit_global,
				usage_limit_per_customer = EXCLUDED.usage_limit_per_customer,
				scope = EXCLUDED.scope,
				requires_code = EXCLUDED.requires_code,
				code = EXCLUDED.code
		`, p.ID, p.Name, string(p.Type), p.DiscountValue, p.Priority, p.Stackable,
			minOrder, maxDiscount, p.MinQuantity, currency,
			p.StartsAt, p.EndsAt, p.Active,
			p.UsageLimitGlobal, p.UsageLimitPerCustomer,
			string(p.Scope.Kind), p.RequiresCode, code)

		batch.Queue(`DELETE FROM promotion_products WHERE promotion_id = $1`, p.ID)
		batch.Queue(`DELETE FROM promotion_categories WHERE promotion_id = $1`, p.ID)
		if p.Scope.Kind == catalog.ScopeProducts {
			for _, productID := range row.ProductIDs {
				batch.Queue(`INSERT INTO promotion_products (promotion_id, product_id) VALUES ($1, $2)`, p.ID, productID)
			}
		}
		if p.Scope.Kind == catalog.ScopeCategories {
			for _, categoryID := range row.CategoryIDs {
				batch.Queue(`INSERT INTO promotion_categories (promotion_id, category_id) VALUES ($1, $2)`, p.ID, categoryID)
			}
		}
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return nil, fmt.Errorf("failed to upsert promotion batch: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("failed to close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &ImportStats{Upserted: len(rows)}, nil
}
