// Package catalog provides read-only promotion catalog snapshots.
// A snapshot is validated once when built; evaluation never sees a
// malformed promotion.
package catalog

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storefront/pricing-service/internal/money"
)

// Type enumerates the supported promotion mechanics.
type Type string

const (
	TypePercentage   Type = "percentage"
	TypeFixedAmount  Type = "fixed_amount"
	TypeBuyXGetY     Type = "buy_x_get_y"
	TypeFreeShipping Type = "free_shipping"
)

// ScopeKind says which items a promotion applies to.
type ScopeKind string

const (
	ScopeAll        ScopeKind = "all"
	ScopeProducts   ScopeKind = "products"
	ScopeCategories ScopeKind = "categories"
)

// Scope is the applicability predicate of a promotion.
type Scope struct {
	Kind        ScopeKind
	ProductIDs  map[string]struct{} // populated for ScopeProducts
	CategoryIDs map[string]struct{} // populated for ScopeCategories
}

// ScopeAllItems returns a scope matching every item.
func ScopeAllItems() Scope {
	return Scope{Kind: ScopeAll}
}

// ScopeForProducts returns a scope matching the given product IDs.
func ScopeForProducts(ids ...string) Scope {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return Scope{Kind: ScopeProducts, ProductIDs: set}
}

// ScopeForCategories returns a scope matching the given category IDs.
func ScopeForCategories(ids ...string) Scope {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return Scope{Kind: ScopeCategories, CategoryIDs: set}
}

// Matches reports whether an item identified by product and category
// falls inside the scope.
func (s Scope) Matches(productID, categoryID string) bool {
	switch s.Kind {
	case ScopeAll:
		return true
	case ScopeProducts:
		_, ok := s.ProductIDs[productID]
		return ok
	case ScopeCategories:
		_, ok := s.CategoryIDs[categoryID]
		return ok
	default:
		return false
	}
}

// Promotion is a single discount rule. Promotions are created by admin
// tooling and are read-only here; active status is derived from the
// explicit flag plus the time window, never mutated by pricing.
type Promotion struct {
	ID            string
	Name          string
	Type          Type
	DiscountValue decimal.Decimal // percent for percentage, minor units for fixed_amount, free units for buy_x_get_y
	Priority      int
	Stackable     bool

	MinOrderAmount    *money.Money // gate on pre-discount cart subtotal
	MaxDiscountAmount *money.Money // cap on this promotion's cart-wide discount
	MinQuantity       int          // buy_x_get_y: the X; others: minimum line quantity

	StartsAt time.Time
	EndsAt   *time.Time
	Active   bool

	UsageLimitGlobal      *int
	UsageLimitPerCustomer *int

	Scope        Scope
	RequiresCode bool
	Code         string
}

// ActiveAt reports whether the promotion is live at the given instant.
func (p *Promotion) ActiveAt(asOf time.Time) bool {
	if !p.Active {
		return false
	}
	if p.StartsAt.After(asOf) {
		return false
	}
	if p.EndsAt != nil && !p.EndsAt.After(asOf) {
		return false
	}
	return true
}

// Limited reports whether the promotion carries any usage limit that
// needs a ledger reservation.
func (p *Promotion) Limited() bool {
	return p.UsageLimitGlobal != nil || p.UsageLimitPerCustomer != nil
}

// ErrInvalidPromotion is returned when a promotion fails snapshot-time
// validation.
type ErrInvalidPromotion struct {
	ID     string
	Reason string
}

func (e ErrInvalidPromotion) Error() string {
	return fmt.Sprintf("invalid promotion %s: %s", e.ID, e.Reason)
}

// Validate enforces the structural invariants a promotion must satisfy
// before it can enter a snapshot. The importer runs it per row so a
// bad workbook row never reaches the catalog tables.
func (p *Promotion) Validate() error {
	if p.ID == "" {
		return ErrInvalidPromotion{ID: "?", Reason: "missing id"}
	}
	switch p.Type {
	case TypePercentage:
		if p.DiscountValue.LessThanOrEqual(decimal.Zero) || p.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
			return ErrInvalidPromotion{ID: p.ID, Reason: "percentage discount must be in (0, 100]"}
		}
	case TypeFixedAmount:
		if p.DiscountValue.LessThanOrEqual(decimal.Zero) {
			return ErrInvalidPromotion{ID: p.ID, Reason: "fixed amount discount must be positive"}
		}
	case TypeBuyXGetY:
		if !p.DiscountValue.IsInteger() || p.DiscountValue.LessThanOrEqual(decimal.Zero) {
			return ErrInvalidPromotion{ID: p.ID, Reason: "buy_x_get_y free quantity must be a positive integer"}
		}
		if p.MinQuantity <= 0 {
			return ErrInvalidPromotion{ID: p.ID, Reason: "buy_x_get_y requires a positive buy quantity"}
		}
	case TypeFreeShipping:
		// No discount value required.
	default:
		return ErrInvalidPromotion{ID: p.ID, Reason: fmt.Sprintf("unknown type %q", p.Type)}
	}
	if p.EndsAt != nil && !p.EndsAt.After(p.StartsAt) {
		return ErrInvalidPromotion{ID: p.ID, Reason: "endsAt must be after startsAt"}
	}
	if p.RequiresCode && p.Code == "" {
		return ErrInvalidPromotion{ID: p.ID, Reason: "requiresCode set without a code"}
	}
	if p.UsageLimitGlobal != nil && *p.UsageLimitGlobal <= 0 {
		return ErrInvalidPromotion{ID: p.ID, Reason: "global usage limit must be positive"}
	}
	if p.UsageLimitPerCustomer != nil && *p.UsageLimitPerCustomer <= 0 {
		return ErrInvalidPromotion{ID: p.ID, Reason: "per-customer usage limit must be positive"}
	}
	switch p.Scope.Kind {
	case ScopeAll, ScopeProducts, ScopeCategories:
	default:
		return ErrInvalidPromotion{ID: p.ID, Reason: fmt.Sprintf("unknown scope %q", p.Scope.Kind)}
	}
	return nil
}
