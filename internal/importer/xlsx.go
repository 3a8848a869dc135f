// Package importer loads promotion definitions from admin-authored
// XLSX workbooks and writes them to the catalog tables.
package importer

import (
	"bytes"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/storefront/pricing-service/internal/catalog"
	"github.com/storefront/pricing-service/internal/money"
)

// RowError describes one rejected workbook row
type RowError struct {
	RowNumber int
	Field     string
	Message   string
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s: %s", e.RowNumber, e.Field, e.Message)
}

// ParseResult holds the parsed promotions plus per-row rejections
type ParseResult struct {
	Promotions []PromotionRow
	Errors     []RowError
	TotalRows  int
}

// PromotionRow is one promotion parsed from the workbook, plus its
// scope membership lists.
type PromotionRow struct {
	Promotion   catalog.Promotion
	ProductIDs  []string
	CategoryIDs []string
}

// requiredColumns must appear in the header row; the remaining columns
// (discount_value, priority, stackable, min_order_amount,
// max_discount_amount, min_quantity, ends_at, active, usage limits,
// scope, product_ids, category_ids, requires_code, code) are optional.
var requiredColumns = []string{"id", "name", "type", "currency", "starts_at"}

// ParsePromotions reads promotion rows from the first worksheet.
// The first row must be a header naming the columns; rows that fail
// validation are reported in ParseResult.Errors and skipped, never
// aborting the whole import.
func ParsePromotions(content []byte) (*ParseResult, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read worksheet: %w", err)
	}
	if len(rows) == 0 {
		return &ParseResult{}, nil
	}

	indices, err := buildColumnIndices(rows[0])
	if err != nil {
		return nil, err
	}

	result := &ParseResult{TotalRows: len(rows) - 1}
	for i := 1; i < len(rows); i++ {
		if isEmptyRow(rows[i]) {
			continue
		}
		row, errs := parseRow(rows[i], i+1, indices)
		if len(errs) > 0 {
			result.Errors = append(result.Errors, errs...)
			continue
		}
		result.Promotions = append(result.Promotions, *row)
	}
	return result, nil
}

func buildColumnIndices(header []string) (map[string]int, error) {
	indices := make(map[string]int, len(header))
	for i, cell := range header {
		indices[strings.ToLower(strings.TrimSpace(cell))] = i
	}
	for _, required := range requiredColumns {
		if _, ok := indices[required]; !ok {
			return nil, fmt.Errorf("workbook missing required column %q", required)
		}
	}
	return indices, nil
}

func parseRow(raw []string, rowNumber int, indices map[string]int) (*PromotionRow, []RowError) {
	var errs []RowError

	get := func(col string) string {
		idx, ok := indices[col]
		if !ok || idx >= len(raw) {
			return ""
		}
		return strings.TrimSpace(raw[idx])
	}

	fail := func(field, message string) {
		errs = append(errs, RowError{RowNumber: rowNumber, Field: field, Message: message})
	}

	p := catalog.Promotion{
		ID:   get("id"),
		Name: get("name"),
		Type: catalog.Type(strings.ToLower(get("type"))),
	}
	if p.ID == "" {
		fail("id", "missing")
	}
	if p.Name == "" {
		fail("name", "missing")
	}
	switch p.Type {
	case catalog.TypePercentage, catalog.TypeFixedAmount, catalog.TypeBuyXGetY, catalog.TypeFreeShipping:
	default:
		fail("type", fmt.Sprintf("unknown type %q", get("type")))
	}

	if v := get("discount_value"); v != "" {
		dv, err := decimal.NewFromString(v)
		if err != nil {
			fail("discount_value", "not a decimal")
		} else {
			p.DiscountValue = dv
		}
	}

	p.Priority = parseIntDefault(get("priority"), 0, "priority", fail)
	p.MinQuantity = parseIntDefault(get("min_quantity"), 0, "min_quantity", fail)
	p.Stackable = parseBool(get("stackable"))
	p.Active = get("active") == "" || parseBool(get("active"))

	currency := strings.ToUpper(get("currency"))
	if currency == "" {
		fail("currency", "missing")
	}
	if v := get("min_order_amount"); v != "" {
		if minor, ok := parsePrice(v, "min_order_amount", fail); ok {
			m, err := money.New(minor, currency)
			if err != nil {
				fail("currency", err.Error())
			} else {
				p.MinOrderAmount = &m
			}
		}
	}
	if v := get("max_discount_amount"); v != "" {
		if minor, ok := parsePrice(v, "max_discount_amount", fail); ok {
			m, err := money.New(minor, currency)
			if err != nil {
				fail("currency", err.Error())
			} else {
				p.MaxDiscountAmount = &m
			}
		}
	}

	if startsAt := parseDate(get("starts_at")); startsAt != nil {
		p.StartsAt = *startsAt
	} else {
		fail("starts_at", "missing or unparseable date")
	}
	p.EndsAt = parseDate(get("ends_at"))

	if v := get("usage_limit_global"); v != "" {
		n := parseIntDefault(v, 0, "usage_limit_global", fail)
		p.UsageLimitGlobal = &n
	}
	if v := get("usage_limit_per_customer"); v != "" {
		n := parseIntDefault(v, 0, "usage_limit_per_customer", fail)
		p.UsageLimitPerCustomer = &n
	}

	p.RequiresCode = parseBool(get("requires_code"))
	p.Code = get("code")

	row := &PromotionRow{
		ProductIDs:  splitList(get("product_ids")),
		CategoryIDs: splitList(get("category_ids")),
	}

	switch strings.ToLower(get("scope")) {
	case "", "all":
		p.Scope = catalog.ScopeAllItems()
	case "products":
		p.Scope = catalog.ScopeForProducts(row.ProductIDs...)
	case "categories":
		p.Scope = catalog.ScopeForCategories(row.CategoryIDs...)
	default:
		fail("scope", fmt.Sprintf("unknown scope %q", get("scope")))
	}

	if len(errs) > 0 {
		return nil, errs
	}

	// Catalog-level validation last, so a row that would poison the
	// snapshot never reaches the database.
	if err := p.Validate(); err != nil {
		fail("promotion", err.Error())
		return nil, errs
	}

	row.Promotion = p
	return row, nil
}

func parseIntDefault(value string, def int, field string, fail func(string, string)) int {
	if value == "" {
		return def
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		fail(field, "not an integer")
		return def
	}
	return n
}

func parseBool(value string) bool {
	switch strings.ToLower(value) {
	case "true", "yes", "1", "y":
		return true
	default:
		return false
	}
}

// parsePrice parses a price string to minor units.
// Handles "12.99", "12,99" and "1.299,00" formats.
func parsePrice(value, field string, fail func(string, string)) (int64, bool) {
	cleaned := regexp.MustCompile(`[€$£\s]`).ReplaceAllString(value, "")

	lastDot := strings.LastIndex(cleaned, ".")
	lastComma := strings.LastIndex(cleaned, ",")
	if lastComma > lastDot {
		// European format: 1.234,56 -> comma is decimal
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	} else if lastDot > lastComma {
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}

	parsed, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		fail(field, "not a price")
		return 0, false
	}
	return int64(math.Round(parsed * 100)), true
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := regexp.MustCompile(`[,;|]`).Split(value, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// parseDate parses YYYY-MM-DD, DD.MM.YYYY, DD/MM/YYYY, or an Excel
// serial date.
func parseDate(value string) *time.Time {
	if value == "" {
		return nil
	}

	if serial, err := strconv.ParseFloat(value, 64); err == nil && serial > 0 {
		if date := excelDateToGo(serial); date != nil {
			return date
		}
	}

	isoPattern := regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})`)
	if match := isoPattern.FindStringSubmatch(value); len(match) == 4 {
		year, _ := strconv.Atoi(match[1])
		month, _ := strconv.Atoi(match[2])
		day, _ := strconv.Atoi(match[3])
		date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		return &date
	}

	euPattern := regexp.MustCompile(`^(\d{1,2})[./](\d{1,2})[./](\d{4})`)
	if match := euPattern.FindStringSubmatch(value); len(match) == 4 {
		day, _ := strconv.Atoi(match[1])
		month, _ := strconv.Atoi(match[2])
		year, _ := strconv.Atoi(match[3])
		date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		return &date
	}

	return nil
}

// excelDateToGo converts an Excel serial date. Excel incorrectly
// treats 1900 as a leap year, so serials past Feb 28, 1900 shift by
// one day.
func excelDateToGo(serial float64) *time.Time {
	if serial < 1 {
		return nil
	}

	adjustedSerial := serial
	if serial > 59 {
		adjustedSerial = serial - 1
	}

	excelEpoch := time.Date(1899, 12, 31, 0, 0, 0, 0, time.UTC)
	duration := time.Duration(adjustedSerial * 24 * float64(time.Hour))
	date := excelEpoch.Add(duration)

	return &date
}
