package combos

import (
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/storefront/pricing-service/internal/money"
)

// Line is the cart view the resolver needs: what is in the cart and at
// what (already promotion-discounted) unit price.
type Line struct {
	ProductID string
	UnitPrice money.Money
	Quantity  int
}

// Applied is one satisfied combo with its savings split per line.
type Applied struct {
	ComboID       string
	Name          string
	Instances     int
	Discount      money.Money
	LineDiscounts map[string]money.Money // productID -> share of the savings
}

// Resolver identifies satisfied combos in a cart and emits synthetic
// per-line discounts equal to each combo's derived savings.
type Resolver struct {
	logger zerolog.Logger
}

// NewResolver creates a combo resolver.
func NewResolver() *Resolver {
	return &Resolver{
		logger: log.With().Str("component", "combo_resolver").Logger(),
	}
}

// Resolve returns the combos satisfied by the cart at asOf, in combo id
// order. Lines are consumed greedily: quantity claimed by one combo is
// not available to the next.
func (r *Resolver) Resolve(catalog *Catalog, lines []Line, asOf time.Time) []Applied {
	if catalog == nil || catalog.Len() == 0 || len(lines) == 0 {
		return nil
	}

	// Remaining quantity per product, consumed as combos claim lines.
	// A product can sit on several cart lines at different discounted
	// unit prices, so the pro-rata weighting tracks the total paid
	// value and quantity per product, not a single unit price.
	remaining := make(map[string]int, len(lines))
	cartValue := make(map[string]int64, len(lines))
	cartQty := make(map[string]int64, len(lines))
	for _, line := range lines {
		remaining[line.ProductID] += line.Quantity
		cartValue[line.ProductID] += line.UnitPrice.Amount() * int64(line.Quantity)
		cartQty[line.ProductID] += int64(line.Quantity)
	}

	var applied []Applied
	for _, combo := range catalog.Combos() {
		if !combo.ActiveAt(asOf) {
			continue
		}

		instances, present := r.matchCombo(&combo, remaining)
		if instances == 0 {
			continue
		}

		a := r.applyCombo(&combo, instances, present, cartValue, cartQty)
		if a == nil {
			continue
		}

		for _, item := range combo.Items {
			if _, ok := present[item.ProductID]; ok {
				remaining[item.ProductID] -= item.Quantity * instances
			}
		}
		applied = append(applied, *a)
	}
	return applied
}

// matchCombo computes how many instances of the combo the cart can
// satisfy and which combo items are present. Zero instances means the
// combo does not trigger (a missing required item, or fewer instances
// than the combo's minimum).
func (r *Resolver) matchCombo(combo *Combo, remaining map[string]int) (int, map[string]struct{}) {
	present := make(map[string]struct{})
	instances := -1

	for _, item := range combo.Items {
		avail := remaining[item.ProductID]
		n := avail / item.Quantity
		if n == 0 {
			if item.Required || combo.RequiresAllItems {
				return 0, nil
			}
			continue
		}
		present[item.ProductID] = struct{}{}
		if instances < 0 || n < instances {
			instances = n
		}
	}

	if instances <= 0 || len(present) == 0 {
		return 0, nil
	}
	if combo.MinQuantity > 0 && instances < combo.MinQuantity {
		return 0, nil
	}
	if combo.MaxQuantity > 0 && instances > combo.MaxQuantity {
		instances = combo.MaxQuantity
	}
	return instances, present
}

// applyCombo splits the combo's savings pro-rata across the present
// lines, proportional to each line's contribution to the original
// price. The split sums exactly to the total: floor each share, then
// hand leftover cents out by largest fractional remainder.
func (r *Resolver) applyCombo(combo *Combo, instances int, present map[string]struct{}, cartValue map[string]int64, cartQty map[string]int64) *Applied {
	total := combo.SavingsAmount().MulQuantity(instances)
	if total.IsZero() || total.IsNegative() {
		return nil
	}

	type share struct {
		productID    string
		contribution int64
		floor        int64
		remainder    int64 // fractional remainder scaled by the contribution base
	}

	var shares []share
	var base int64
	for _, item := range combo.Items {
		if _, ok := present[item.ProductID]; !ok {
			continue
		}
		// Average paid unit price across the product's cart lines,
		// scaled to the quantity this combo claims.
		claimed := int64(item.Quantity * instances)
		contribution := cartValue[item.ProductID] * claimed / cartQty[item.ProductID]
		if contribution < 0 {
			contribution = 0
		}
		shares = append(shares, share{productID: item.ProductID, contribution: contribution})
		base += contribution
	}
	if base == 0 {
		return nil
	}

	for i := range shares {
		exact := total.Amount() * shares[i].contribution
		shares[i].floor = exact / base
		shares[i].remainder = exact % base
	}

	distributed := int64(0)
	for i := range shares {
		distributed += shares[i].floor
	}
	leftover := total.Amount() - distributed

	// Deterministic remainder assignment: largest fractional part
	// first, then larger contribution, then product id.
	order := make([]int, len(shares))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		sa, sb := shares[order[a]], shares[order[b]]
		if sa.remainder != sb.remainder {
			return sa.remainder > sb.remainder
		}
		if sa.contribution != sb.contribution {
			return sa.contribution > sb.contribution
		}
		return sa.productID < sb.productID
	})
	for i := int64(0); i < leftover; i++ {
		shares[order[i%int64(len(order))]].floor++
	}

	lineDiscounts := make(map[string]money.Money, len(shares))
	currency := combo.ComboPrice.Currency()
	for _, s := range shares {
		m, err := money.New(s.floor, currency)
		if err != nil {
			r.logger.Error().Err(err).Str("combo", combo.ID).Msg("Failed to build combo line discount")
			return nil
		}
		lineDiscounts[s.productID] = m
	}

	r.logger.Debug().
		Str("combo", combo.ID).
		Int("instances", instances).
		Int64("savings", total.Amount()).
		Msg("Combo satisfied")

	return &Applied{
		ComboID:       combo.ID,
		Name:          combo.Name,
		Instances:     instances,
		Discount:      total,
		LineDiscounts: lineDiscounts,
	}
}
