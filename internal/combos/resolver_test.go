package combos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/pricing-service/internal/money"
)

var asOf = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func eur(cents int64) money.Money { return money.MustNew(cents, "EUR") }

func testCombo(id string, opts ...func(*Combo)) Combo {
	c := Combo{
		ID:   id,
		Name: "combo " + id,
		Items: []ComboItem{
			{ProductID: "prod-a", Quantity: 1, Required: true},
			{ProductID: "prod-b", Quantity: 1, Required: true},
		},
		ComboPrice:    eur(8000),
		OriginalPrice: eur(10000),
		StartsAt:      asOf.Add(-24 * time.Hour),
		Active:        true,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func mustCatalog(t *testing.T, combos ...Combo) *Catalog {
	t.Helper()
	cat, err := NewCatalog(combos)
	require.NoError(t, err)
	return cat
}

// The spec's pro-rata example: $30 + $70 items, $100 original, $80
// combo price. The $20 savings split $6 and $14.
func TestProRataSplit(t *testing.T) {
	cat := mustCatalog(t, testCombo("combo-1"))

	lines := []Line{
		{ProductID: "prod-a", UnitPrice: eur(3000), Quantity: 1},
		{ProductID: "prod-b", UnitPrice: eur(7000), Quantity: 1},
	}

	applied := NewResolver().Resolve(cat, lines, asOf)
	require.Len(t, applied, 1)

	a := applied[0]
	assert.Equal(t, "combo-1", a.ComboID)
	assert.Equal(t, 1, a.Instances)
	assert.Equal(t, int64(2000), a.Discount.Amount())
	assert.Equal(t, int64(600), a.LineDiscounts["prod-a"].Amount())
	assert.Equal(t, int64(1400), a.LineDiscounts["prod-b"].Amount())
}

func TestProRataSplitSumsExactly(t *testing.T) {
	// Three items at odd prices force fractional shares; the split
	// must still sum to the full savings.
	combo := testCombo("combo-1", func(c *Combo) {
		c.Items = []ComboItem{
			{ProductID: "prod-a", Quantity: 1, Required: true},
			{ProductID: "prod-b", Quantity: 1, Required: true},
			{ProductID: "prod-c", Quantity: 1, Required: true},
		}
		c.OriginalPrice = eur(1000)
		c.ComboPrice = eur(899)
	})
	cat := mustCatalog(t, combo)

	lines := []Line{
		{ProductID: "prod-a", UnitPrice: eur(333), Quantity: 1},
		{ProductID: "prod-b", UnitPrice: eur(333), Quantity: 1},
		{ProductID: "prod-c", UnitPrice: eur(334), Quantity: 1},
	}

	applied := NewResolver().Resolve(cat, lines, asOf)
	require.Len(t, applied, 1)

	var sum int64
	for _, share := range applied[0].LineDiscounts {
		sum += share.Amount()
	}
	assert.Equal(t, int64(101), sum)
}

func TestProRataAggregatesRepeatedProductLines(t *testing.T) {
	// prod-a sits on two cart lines at different discounted unit
	// prices; the pro-rata base must weight by the aggregate paid
	// value, not whichever line happened to come last.
	combo := testCombo("combo-1", func(c *Combo) {
		c.Items = []ComboItem{
			{ProductID: "prod-a", Quantity: 2, Required: true},
			{ProductID: "prod-b", Quantity: 1, Required: true},
		}
	})
	cat := mustCatalog(t, combo)

	lines := []Line{
		{ProductID: "prod-a", UnitPrice: eur(1000), Quantity: 1},
		{ProductID: "prod-a", UnitPrice: eur(3000), Quantity: 1},
		{ProductID: "prod-b", UnitPrice: eur(6000), Quantity: 1},
	}

	applied := NewResolver().Resolve(cat, lines, asOf)
	require.Len(t, applied, 1)

	// prod-a paid 40.00 total, prod-b 60.00; the 20.00 savings split
	// 8.00 and 12.00.
	a := applied[0]
	assert.Equal(t, int64(2000), a.Discount.Amount())
	assert.Equal(t, int64(800), a.LineDiscounts["prod-a"].Amount())
	assert.Equal(t, int64(1200), a.LineDiscounts["prod-b"].Amount())
}

func TestMissingRequiredItemNoTrigger(t *testing.T) {
	cat := mustCatalog(t, testCombo("combo-1"))

	lines := []Line{
		{ProductID: "prod-a", UnitPrice: eur(3000), Quantity: 1},
		// prod-b absent
	}

	assert.Empty(t, NewResolver().Resolve(cat, lines, asOf))
}

func TestOptionalItemSubset(t *testing.T) {
	combo := testCombo("combo-1", func(c *Combo) {
		c.Items = []ComboItem{
			{ProductID: "prod-a", Quantity: 1, Required: true},
			{ProductID: "prod-b", Quantity: 1, Required: false},
		}
		c.RequiresAllItems = false
	})
	cat := mustCatalog(t, combo)

	lines := []Line{
		{ProductID: "prod-a", UnitPrice: eur(3000), Quantity: 1},
	}

	applied := NewResolver().Resolve(cat, lines, asOf)
	require.Len(t, applied, 1)

	// Pro-rata over present items only: the single present line takes
	// the whole savings.
	assert.Equal(t, int64(2000), applied[0].LineDiscounts["prod-a"].Amount())
	_, hasB := applied[0].LineDiscounts["prod-b"]
	assert.False(t, hasB)
}

func TestRequiresAllItemsBlocksSubset(t *testing.T) {
	combo := testCombo("combo-1", func(c *Combo) {
		c.Items = []ComboItem{
			{ProductID: "prod-a", Quantity: 1, Required: true},
			{ProductID: "prod-b", Quantity: 1, Required: false},
		}
		c.RequiresAllItems = true
	})
	cat := mustCatalog(t, combo)

	lines := []Line{
		{ProductID: "prod-a", UnitPrice: eur(3000), Quantity: 1},
	}

	assert.Empty(t, NewResolver().Resolve(cat, lines, asOf))
}

func TestMaxQuantityCapsInstances(t *testing.T) {
	combo := testCombo("combo-1", func(c *Combo) { c.MaxQuantity = 2 })
	cat := mustCatalog(t, combo)

	lines := []Line{
		{ProductID: "prod-a", UnitPrice: eur(3000), Quantity: 5},
		{ProductID: "prod-b", UnitPrice: eur(7000), Quantity: 5},
	}

	applied := NewResolver().Resolve(cat, lines, asOf)
	require.Len(t, applied, 1)
	assert.Equal(t, 2, applied[0].Instances)
	assert.Equal(t, int64(4000), applied[0].Discount.Amount())
}

func TestMinQuantityGate(t *testing.T) {
	combo := testCombo("combo-1", func(c *Combo) { c.MinQuantity = 2 })
	cat := mustCatalog(t, combo)

	one := []Line{
		{ProductID: "prod-a", UnitPrice: eur(3000), Quantity: 1},
		{ProductID: "prod-b", UnitPrice: eur(7000), Quantity: 1},
	}
	assert.Empty(t, NewResolver().Resolve(cat, one, asOf))

	two := []Line{
		{ProductID: "prod-a", UnitPrice: eur(3000), Quantity: 2},
		{ProductID: "prod-b", UnitPrice: eur(7000), Quantity: 2},
	}
	applied := NewResolver().Resolve(cat, two, asOf)
	require.Len(t, applied, 1)
	assert.Equal(t, 2, applied[0].Instances)
}

func TestExpiredComboExcluded(t *testing.T) {
	past := asOf.Add(-time.Hour)
	combo := testCombo("combo-1", func(c *Combo) { c.EndsAt = &past })
	cat := mustCatalog(t, combo)

	lines := []Line{
		{ProductID: "prod-a", UnitPrice: eur(3000), Quantity: 1},
		{ProductID: "prod-b", UnitPrice: eur(7000), Quantity: 1},
	}

	assert.Empty(t, NewResolver().Resolve(cat, lines, asOf))
}

func TestCombosConsumeQuantityGreedily(t *testing.T) {
	// Two combos over the same product: the first (by id) claims the
	// quantity, leaving nothing for the second.
	first := testCombo("combo-a")
	second := testCombo("combo-b")
	cat := mustCatalog(t, first, second)

	lines := []Line{
		{ProductID: "prod-a", UnitPrice: eur(3000), Quantity: 1},
		{ProductID: "prod-b", UnitPrice: eur(7000), Quantity: 1},
	}

	applied := NewResolver().Resolve(cat, lines, asOf)
	require.Len(t, applied, 1)
	assert.Equal(t, "combo-a", applied[0].ComboID)
}

func TestSavingsAmountDerived(t *testing.T) {
	c := testCombo("combo-1")
	assert.Equal(t, int64(2000), c.SavingsAmount().Amount())

	c.ComboPrice = eur(7500)
	assert.Equal(t, int64(2500), c.SavingsAmount().Amount())
}

func TestCatalogValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Combo)
		errMsg string
	}{
		{"no items", func(c *Combo) { c.Items = nil }, "no items"},
		{"combo price above original", func(c *Combo) { c.ComboPrice = eur(12000) }, "below original"},
		{"zero quantity item", func(c *Combo) { c.Items[0].Quantity = 0 }, "non-positive quantity"},
		{"currency mismatch", func(c *Combo) { c.ComboPrice = money.MustNew(8000, "USD") }, "currencies differ"},
		{"min above max", func(c *Combo) { c.MinQuantity = 3; c.MaxQuantity = 2 }, "exceeds maxQuantity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testCombo("combo-1")
			tt.mutate(&c)
			_, err := NewCatalog([]Combo{c})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
