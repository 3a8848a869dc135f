package combos

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/storefront/pricing-service/internal/money"
)

// Store loads combo catalogs from Postgres.
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewStore creates a combo store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:   pool,
		logger: log.With().Str("component", "combo_store").Logger(),
	}
}

// LoadCatalog reads all combos and their items in one read-only
// transaction and returns a validated catalog.
func (s *Store) LoadCatalog(ctx context.Context) (*Catalog, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin combo transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, name, combo_price, original_price, currency,
		       min_quantity, max_quantity, requires_all_items,
		       starts_at, ends_at, active
		FROM combos
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query combos: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Combo)
	for rows.Next() {
		var (
			c             Combo
			comboPrice    int64
			originalPrice int64
			currency      string
		)
		if err := rows.Scan(
			&c.ID, &c.Name, &comboPrice, &originalPrice, &currency,
			&c.MinQuantity, &c.MaxQuantity, &c.RequiresAllItems,
			&c.StartsAt, &c.EndsAt, &c.Active,
		); err != nil {
			return nil, fmt.Errorf("failed to scan combo: %w", err)
		}
		if c.ComboPrice, err = money.New(comboPrice, currency); err != nil {
			return nil, ErrInvalidCombo{ID: c.ID, Reason: err.Error()}
		}
		if c.OriginalPrice, err = money.New(originalPrice, currency); err != nil {
			return nil, ErrInvalidCombo{ID: c.ID, Reason: err.Error()}
		}
		byID[c.ID] = &c
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("error iterating combos: %w", rows.Err())
	}
	rows.Close()

	itemRows, err := tx.Query(ctx, `
		SELECT combo_id, product_id, quantity, required
		FROM combo_items
		ORDER BY combo_id, product_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query combo items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var (
			comboID string
			item    ComboItem
		)
		if err := itemRows.Scan(&comboID, &item.ProductID, &item.Quantity, &item.Required); err != nil {
			return nil, fmt.Errorf("failed to scan combo item: %w", err)
		}
		if c, ok := byID[comboID]; ok {
			c.Items = append(c.Items, item)
		}
	}
	if itemRows.Err() != nil {
		return nil, fmt.Errorf("error iterating combo items: %w", itemRows.Err())
	}

	list := make([]Combo, 0, len(byID))
	for _, c := range byID {
		list = append(list, *c)
	}

	catalog, err := NewCatalog(list)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Int("combos", catalog.Len()).Msg("Loaded combo catalog")
	return catalog, nil
}
