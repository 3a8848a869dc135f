// Package combos expands bundle definitions into equivalent line-item
// discounts. A satisfied combo's savings are split pro-rata across the
// participating lines, proportional to each line's contribution to the
// bundle's original price.
package combos

import (
	"fmt"
	"sort"
	"time"

	"github.com/storefront/pricing-service/internal/money"
)

// ComboItem is a single product slot in a bundle.
type ComboItem struct {
	ProductID string
	Quantity  int
	Required  bool
}

// Combo is a bundle definition: buy the listed items together, pay the
// combo price instead of the original price.
type Combo struct {
	ID               string
	Name             string
	Items            []ComboItem
	ComboPrice       money.Money
	OriginalPrice    money.Money
	MinQuantity      int // minimum combo instances for the deal to apply
	MaxQuantity      int // cap on combo instances per checkout, 0 = uncapped
	RequiresAllItems bool
	StartsAt         time.Time
	EndsAt           *time.Time
	Active           bool
}

// SavingsAmount is always derived from the two price fields, never
// stored, so the three values cannot drift apart.
func (c *Combo) SavingsAmount() money.Money {
	return c.OriginalPrice.MustSub(c.ComboPrice)
}

// ActiveAt reports whether the combo is live at the given instant.
func (c *Combo) ActiveAt(asOf time.Time) bool {
	if !c.Active {
		return false
	}
	if c.StartsAt.After(asOf) {
		return false
	}
	if c.EndsAt != nil && !c.EndsAt.After(asOf) {
		return false
	}
	return true
}

// ErrInvalidCombo is returned when a combo fails catalog-time validation.
type ErrInvalidCombo struct {
	ID     string
	Reason string
}

func (e ErrInvalidCombo) Error() string {
	return fmt.Sprintf("invalid combo %s: %s", e.ID, e.Reason)
}

func (c *Combo) validate() error {
	if c.ID == "" {
		return ErrInvalidCombo{ID: "?", Reason: "missing id"}
	}
	if len(c.Items) == 0 {
		return ErrInvalidCombo{ID: c.ID, Reason: "no items"}
	}
	for _, item := range c.Items {
		if item.ProductID == "" {
			return ErrInvalidCombo{ID: c.ID, Reason: "item with empty product id"}
		}
		if item.Quantity <= 0 {
			return ErrInvalidCombo{ID: c.ID, Reason: fmt.Sprintf("item %s has non-positive quantity", item.ProductID)}
		}
	}
	if !c.ComboPrice.SameCurrency(c.OriginalPrice) {
		return ErrInvalidCombo{ID: c.ID, Reason: "combo and original price currencies differ"}
	}
	if cmp, _ := c.ComboPrice.Cmp(c.OriginalPrice); cmp >= 0 {
		return ErrInvalidCombo{ID: c.ID, Reason: "combo price must be below original price"}
	}
	if c.ComboPrice.IsNegative() {
		return ErrInvalidCombo{ID: c.ID, Reason: "combo price must not be negative"}
	}
	if c.MaxQuantity < 0 || c.MinQuantity < 0 {
		return ErrInvalidCombo{ID: c.ID, Reason: "quantity bounds must not be negative"}
	}
	if c.MaxQuantity > 0 && c.MinQuantity > c.MaxQuantity {
		return ErrInvalidCombo{ID: c.ID, Reason: "minQuantity exceeds maxQuantity"}
	}
	if c.EndsAt != nil && !c.EndsAt.After(c.StartsAt) {
		return ErrInvalidCombo{ID: c.ID, Reason: "endsAt must be after startsAt"}
	}
	return nil
}

// Catalog is a validated, read-only set of combos.
type Catalog struct {
	combos []Combo
}

// NewCatalog validates the combos and fixes their evaluation order
// (by id) so resolution is deterministic.
func NewCatalog(combos []Combo) (*Catalog, error) {
	seen := make(map[string]struct{}, len(combos))
	out := make([]Combo, len(combos))
	copy(out, combos)
	for i := range out {
		if err := out[i].validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[out[i].ID]; dup {
			return nil, ErrInvalidCombo{ID: out[i].ID, Reason: "duplicate id"}
		}
		seen[out[i].ID] = struct{}{}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return &Catalog{combos: out}, nil
}

// Combos returns the combos in evaluation order.
func (c *Catalog) Combos() []Combo { return c.combos }

// Len returns the number of combos in the catalog.
func (c *Catalog) Len() int { return len(c.combos) }
