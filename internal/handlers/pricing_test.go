package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/pricing-service/internal/catalog"
	"github.com/storefront/pricing-service/internal/ledger"
	"github.com/storefront/pricing-service/internal/pricer"
)

type staticLoader struct {
	snapshot *catalog.Snapshot
}

func (l *staticLoader) LoadSnapshot(ctx context.Context) (*catalog.Snapshot, error) {
	return l.snapshot, nil
}

func setupPricingRouter(t *testing.T, promotions []catalog.Promotion) *gin.Engine {
	t.Helper()

	snapshot, err := catalog.NewSnapshot(promotions)
	require.NoError(t, err)

	cache := catalog.NewCache(&staticLoader{snapshot: snapshot}, time.Minute)
	require.NoError(t, cache.Warmup(context.Background()))

	ml := ledger.NewMemoryLedger(time.Minute)
	InitPricing(pricer.New(ml), cache, nil, ml)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/v1/cart/quote", Quote)
	router.GET("/v1/promotions", ListPromotions)
	router.POST("/internal/cart/commit", Commit)
	router.POST("/internal/cart/release", Release)
	return router
}

func postJSON(t *testing.T, router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	jsonBody, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest("POST", path, bytes.NewBuffer(jsonBody))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func tenPercentOff(id string) catalog.Promotion {
	return catalog.Promotion{
		ID:            id,
		Name:          "Ten Percent Off",
		Type:          catalog.TypePercentage,
		DiscountValue: decimal.NewFromInt(10),
		Stackable:     true,
		StartsAt:      time.Now().Add(-time.Hour),
		Active:        true,
		Scope:         catalog.ScopeAllItems(),
	}
}

func TestQuoteHappyPath(t *testing.T) {
	router := setupPricingRouter(t, []catalog.Promotion{tenPercentOff("promo-10")})

	w := postJSON(t, router, "/v1/cart/quote", QuoteRequest{
		CustomerID: "cust-1",
		Currency:   "EUR",
		LineItems: []QuoteLineItem{
			{ProductID: "prod-a", UnitPrice: 5000, Quantity: 2, TaxRate: "0.15"},
		},
	})

	assert.Equal(t, http.StatusOK, w.Code)

	var resp QuoteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(10000), resp.Subtotal)
	assert.Equal(t, int64(1000), resp.DiscountAmount)
	assert.Equal(t, int64(1350), resp.TaxAmount)
	assert.Equal(t, int64(10350), resp.TotalAmount)
	assert.Equal(t, "EUR", resp.Currency)
	require.Len(t, resp.AppliedPromotions, 1)
	assert.Equal(t, "promo-10", resp.AppliedPromotions[0].PromotionID)
	// Unlimited promotions never hold reservations
	assert.Empty(t, resp.Reservations)
}

func TestQuoteRejectsMalformedRequest(t *testing.T) {
	router := setupPricingRouter(t, nil)

	w := postJSON(t, router, "/v1/cart/quote", QuoteRequest{
		// Missing customerId
		Currency: "EUR",
		LineItems: []QuoteLineItem{
			{ProductID: "prod-a", UnitPrice: 100, Quantity: 1},
		},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQuoteUnknownPromoCode(t *testing.T) {
	router := setupPricingRouter(t, []catalog.Promotion{tenPercentOff("promo-10")})

	w := postJSON(t, router, "/v1/cart/quote", QuoteRequest{
		CustomerID: "cust-1",
		Currency:   "EUR",
		PromoCode:  "NOSUCHCODE",
		LineItems: []QuoteLineItem{
			{ProductID: "prod-a", UnitPrice: 100, Quantity: 1},
		},
	})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCommitThenDoubleCommitConflicts(t *testing.T) {
	limit := 5
	promo := tenPercentOff("promo-limited")
	promo.UsageLimitPerCustomer = &limit

	router := setupPricingRouter(t, []catalog.Promotion{promo})

	w := postJSON(t, router, "/v1/cart/quote", QuoteRequest{
		CustomerID: "cust-1",
		Currency:   "EUR",
		LineItems: []QuoteLineItem{
			{ProductID: "prod-a", UnitPrice: 5000, Quantity: 1},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var quote QuoteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &quote))
	require.Len(t, quote.Reservations, 1)

	commitReq := CommitRequest{
		OrderID:  "order-1",
		Currency: "EUR",
		Reservations: []CommitReservation{{
			ID:          quote.Reservations[0].ID,
			PromotionID: quote.Reservations[0].PromotionID,
			CustomerID:  quote.Reservations[0].CustomerID,
			Discount:    quote.DiscountAmount,
		}},
	}

	w = postJSON(t, router, "/internal/cart/commit", commitReq)
	assert.Equal(t, http.StatusOK, w.Code)

	// The reservation is gone after the first commit
	w = postJSON(t, router, "/internal/cart/commit", commitReq)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestReleaseToleratesUnknownReservations(t *testing.T) {
	router := setupPricingRouter(t, nil)

	w := postJSON(t, router, "/internal/cart/release", map[string]any{
		"reservations": []map[string]string{{"id": "already-gone"}},
	})

	assert.Equal(t, http.StatusOK, w.Code)
}
