package importer

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/storefront/pricing-service/internal/catalog"
)

func buildWorkbook(t *testing.T, rows [][]string) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		for j, cell := range row {
			name, err := excelize.CoordinatesToCellName(j+1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, name, cell))
		}
	}

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

var header = []string{
	"id", "name", "type", "discount_value", "priority", "stackable",
	"min_order_amount", "max_discount_amount", "min_quantity", "currency",
	"starts_at", "ends_at", "active",
	"usage_limit_global", "usage_limit_per_customer",
	"scope", "product_ids", "category_ids", "requires_code", "code",
}

func TestParsePromotionsFullRow(t *testing.T) {
	content := buildWorkbook(t, [][]string{
		header,
		{"promo-1", "Summer Sale", "percentage", "10", "5", "true",
			"50,00", "1.234,56", "0", "EUR",
			"2025-06-01", "2025-06-30", "true",
			"100", "1",
			"products", "prod-a, prod-b", "", "true", "SUMMER10"},
	})

	result, err := ParsePromotions(content)
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	require.Len(t, result.Promotions, 1)

	p := result.Promotions[0].Promotion
	assert.Equal(t, "promo-1", p.ID)
	assert.Equal(t, catalog.TypePercentage, p.Type)
	assert.Equal(t, "10", p.DiscountValue.String())
	assert.Equal(t, 5, p.Priority)
	assert.True(t, p.Stackable)
	require.NotNil(t, p.MinOrderAmount)
	assert.Equal(t, int64(5000), p.MinOrderAmount.Amount())
	require.NotNil(t, p.MaxDiscountAmount)
	assert.Equal(t, int64(123456), p.MaxDiscountAmount.Amount())
	assert.Equal(t, "EUR", p.MinOrderAmount.Currency())
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), p.StartsAt)
	require.NotNil(t, p.EndsAt)
	require.NotNil(t, p.UsageLimitGlobal)
	assert.Equal(t, 100, *p.UsageLimitGlobal)
	assert.True(t, p.RequiresCode)
	assert.Equal(t, "SUMMER10", p.Code)
	assert.Equal(t, catalog.ScopeProducts, p.Scope.Kind)
	assert.Equal(t, []string{"prod-a", "prod-b"}, result.Promotions[0].ProductIDs)
}

func TestParsePromotionsDefaults(t *testing.T) {
	content := buildWorkbook(t, [][]string{
		header,
		{"promo-2", "Flat", "fixed_amount", "500", "", "",
			"", "", "", "EUR",
			"01.06.2025", "", "",
			"", "",
			"", "", "", "", ""},
	})

	result, err := ParsePromotions(content)
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	require.Len(t, result.Promotions, 1)

	p := result.Promotions[0].Promotion
	assert.True(t, p.Active)
	assert.False(t, p.Stackable)
	assert.Nil(t, p.EndsAt)
	assert.Nil(t, p.UsageLimitGlobal)
	assert.Equal(t, catalog.ScopeAll, p.Scope.Kind)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), p.StartsAt)
}

func TestParsePromotionsRejectsBadRows(t *testing.T) {
	content := buildWorkbook(t, [][]string{
		header,
		{"", "No ID", "percentage", "10", "", "", "", "", "", "EUR", "2025-06-01", "", "", "", "", "", "", "", "", ""},
		{"promo-3", "Good", "percentage", "10", "", "", "", "", "", "EUR", "2025-06-01", "", "", "", "", "", "", "", "", ""},
		{"promo-4", "Bad date", "percentage", "10", "", "", "", "", "", "EUR", "soon", "", "", "", "", "", "", "", "", ""},
	})

	result, err := ParsePromotions(content)
	require.NoError(t, err)

	require.Len(t, result.Promotions, 1)
	assert.Equal(t, "promo-3", result.Promotions[0].Promotion.ID)

	require.Len(t, result.Errors, 2)
	assert.Equal(t, 2, result.Errors[0].RowNumber)
	assert.Equal(t, "id", result.Errors[0].Field)
	assert.Equal(t, 4, result.Errors[1].RowNumber)
	assert.Equal(t, "starts_at", result.Errors[1].Field)
}

func TestParsePromotionsMissingColumn(t *testing.T) {
	content := buildWorkbook(t, [][]string{
		{"id", "name", "type"},
		{"promo-5", "x", "percentage"},
	})

	_, err := ParsePromotions(content)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "currency")
}

func TestParsePromotionsSkipsEmptyRows(t *testing.T) {
	content := buildWorkbook(t, [][]string{
		header,
		{"", "", ""},
		{"promo-6", "Sale", "percentage", "15", "", "", "", "", "", "EUR", "2025-06-01", "", "", "", "", "", "", "", "", ""},
	})

	result, err := ParsePromotions(content)
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	require.Len(t, result.Promotions, 1)
}
