package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/storefront/pricing-service/internal/catalog"
	"github.com/storefront/pricing-service/internal/combos"
	"github.com/storefront/pricing-service/internal/ledger"
	"github.com/storefront/pricing-service/internal/money"
	"github.com/storefront/pricing-service/internal/pricer"
)

// ============================================================================
// Cart Pricing Endpoints
// ============================================================================

// QuoteLineItem represents one cart line in a quote request. Amounts
// are integer minor units; taxRate is a decimal string like "0.15".
type QuoteLineItem struct {
	ProductID  string `json:"productId" binding:"required"`
	SKU        string `json:"sku,omitempty"`
	CategoryID string `json:"categoryId,omitempty"`
	UnitPrice  int64  `json:"unitPrice" binding:"min=0"`
	Quantity   int    `json:"quantity" binding:"required,min=1"`
	TaxRate    string `json:"taxRate,omitempty"`
}

// QuoteRequest represents a cart pricing request
type QuoteRequest struct {
	CustomerID     string          `json:"customerId" binding:"required"`
	Currency       string          `json:"currency" binding:"required,len=3"`
	LineItems      []QuoteLineItem `json:"lineItems" binding:"required,min=1,max=200"`
	ShippingAmount int64           `json:"shippingAmount,omitempty" binding:"min=0"`
	PromoCode      string          `json:"promoCode,omitempty"`
}

// AppliedPromotionDTO is one promotion that contributed to a quote
type AppliedPromotionDTO struct {
	PromotionID string `json:"promotionId"`
	Name        string `json:"name"`
	Code        string `json:"code,omitempty"`
	Discount    int64  `json:"discount"`
}

// AppliedComboDTO is one combo deal that contributed to a quote
type AppliedComboDTO struct {
	ComboID   string `json:"comboId"`
	Name      string `json:"name"`
	Instances int    `json:"instances"`
	Discount  int64  `json:"discount"`
}

// ReservationDTO identifies a usage slot held for this quote. The
// caller must commit or release it; unreleased slots expire on their
// own after the reservation TTL.
type ReservationDTO struct {
	ID          string    `json:"id"`
	PromotionID string    `json:"promotionId"`
	CustomerID  string    `json:"customerId"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// QuoteResponse represents a finalized quote
type QuoteResponse struct {
	Subtotal          int64                 `json:"subtotal"`
	DiscountAmount    int64                 `json:"discountAmount"`
	TaxAmount         int64                 `json:"taxAmount"`
	ShippingAmount    int64                 `json:"shippingAmount"`
	TotalAmount       int64                 `json:"totalAmount"`
	Currency          string                `json:"currency"`
	AppliedPromotions []AppliedPromotionDTO `json:"appliedPromotions"`
	AppliedCombos     []AppliedComboDTO     `json:"appliedCombos"`
	Reservations      []ReservationDTO      `json:"reservations"`
}

// CommitReservation is one reservation to convert into a usage record
type CommitReservation struct {
	ID          string `json:"id" binding:"required"`
	PromotionID string `json:"promotionId" binding:"required"`
	CustomerID  string `json:"customerId" binding:"required"`
	Discount    int64  `json:"discount" binding:"min=0"`
}

// CommitRequest commits a quote's reservations after the order is
// durably persisted
type CommitRequest struct {
	OrderID      string              `json:"orderId" binding:"required"`
	Currency     string              `json:"currency" binding:"required,len=3"`
	Reservations []CommitReservation `json:"reservations" binding:"required,min=1"`
}

// ReleaseRequest returns a quote's reservations when the checkout is
// abandoned
type ReleaseRequest struct {
	Reservations []struct {
		ID string `json:"id" binding:"required"`
	} `json:"reservations" binding:"required,min=1"`
}

// Global pricing instances (initialized by the application)
var (
	cartPricer   *pricer.Pricer
	catalogCache *catalog.Cache
	comboCache   *combos.Cache
	usageLedger  ledger.Ledger
)

// InitPricing initializes the pricing instances.
// This should be called during application startup.
func InitPricing(p *pricer.Pricer, cc *catalog.Cache, cmb *combos.Cache, l ledger.Ledger) {
	cartPricer = p
	catalogCache = cc
	comboCache = cmb
	usageLedger = l
}

// Quote handles cart pricing
// POST /v1/cart/quote
func Quote(c *gin.Context) {
	var req QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cart, err := req.toCart()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	snapshot, err := catalogCache.Snapshot(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "promotion catalog unavailable"})
		return
	}

	snaps := pricer.Snapshots{Promotions: snapshot}
	if comboCache != nil {
		snaps.Combos = comboCache.Catalog(ctx)
	}

	order, err := cartPricer.Price(ctx, cart, snaps, time.Now())
	if err != nil {
		respondPricingError(c, err)
		return
	}

	c.JSON(http.StatusOK, toQuoteResponse(order))
}

// Commit converts a quote's reservations into usage records
// POST /internal/cart/commit
func Commit(c *gin.Context) {
	var req CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	for _, r := range req.Reservations {
		discount, err := money.New(r.Discount, req.Currency)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res := &ledger.Reservation{ID: r.ID, PromotionID: r.PromotionID, CustomerID: r.CustomerID}
		if err := usageLedger.Commit(ctx, res, req.OrderID, discount); err != nil {
			respondLedgerError(c, r.ID, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "committed", "orderId": req.OrderID})
}

// Release returns a quote's reservations to the pool
// POST /internal/cart/release
func Release(c *gin.Context) {
	var req ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	for _, r := range req.Reservations {
		err := usageLedger.Release(ctx, &ledger.Reservation{ID: r.ID})
		if err != nil && !errors.Is(err, ledger.ErrReservationNotFound) {
			respondLedgerError(c, r.ID, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "released"})
}

func (req *QuoteRequest) toCart() (*pricer.Cart, error) {
	cart := &pricer.Cart{
		CustomerID: req.CustomerID,
		PromoCode:  req.PromoCode,
		LineItems:  make([]pricer.LineItem, len(req.LineItems)),
	}

	shipping, err := money.New(req.ShippingAmount, req.Currency)
	if err != nil {
		return nil, err
	}
	cart.ShippingAmount = shipping

	for i, line := range req.LineItems {
		unitPrice, err := money.New(line.UnitPrice, req.Currency)
		if err != nil {
			return nil, err
		}

		taxRate := decimal.Zero
		if line.TaxRate != "" {
			taxRate, err = decimal.NewFromString(line.TaxRate)
			if err != nil {
				return nil, err
			}
		}

		cart.LineItems[i] = pricer.LineItem{
			ProductID:  line.ProductID,
			SKU:        line.SKU,
			CategoryID: line.CategoryID,
			UnitPrice:  unitPrice,
			Quantity:   line.Quantity,
			TaxRate:    taxRate,
		}
	}
	return cart, nil
}

func toQuoteResponse(order *pricer.PricedOrder) QuoteResponse {
	resp := QuoteResponse{
		Subtotal:          order.Subtotal.Amount(),
		DiscountAmount:    order.DiscountAmount.Amount(),
		TaxAmount:         order.TaxAmount.Amount(),
		ShippingAmount:    order.ShippingAmount.Amount(),
		TotalAmount:       order.TotalAmount.Amount(),
		Currency:          order.Subtotal.Currency(),
		AppliedPromotions: make([]AppliedPromotionDTO, 0, len(order.AppliedPromotions)),
		AppliedCombos:     make([]AppliedComboDTO, 0, len(order.AppliedCombos)),
		Reservations:      make([]ReservationDTO, 0, len(order.Reservations)),
	}

	for _, ap := range order.AppliedPromotions {
		resp.AppliedPromotions = append(resp.AppliedPromotions, AppliedPromotionDTO{
			PromotionID: ap.PromotionID,
			Name:        ap.Name,
			Code:        ap.Code,
			Discount:    ap.Discount.Amount(),
		})
	}
	for _, ac := range order.AppliedCombos {
		resp.AppliedCombos = append(resp.AppliedCombos, AppliedComboDTO{
			ComboID:   ac.ComboID,
			Name:      ac.Name,
			Instances: ac.Instances,
			Discount:  ac.Discount.Amount(),
		})
	}
	for _, res := range order.Reservations {
		resp.Reservations = append(resp.Reservations, ReservationDTO{
			ID:          res.ID,
			PromotionID: res.PromotionID,
			CustomerID:  res.CustomerID,
			ExpiresAt:   res.ExpiresAt,
		})
	}
	return resp
}

func respondPricingError(c *gin.Context, err error) {
	var (
		invalidCart    pricer.InvalidCartError
		invalidCoupon  pricer.InvalidCouponError
		limitExceeded  pricer.UsageLimitExceededError
		unavailableErr pricer.PricingUnavailableError
	)
	switch {
	case errors.As(err, &invalidCart):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "field": invalidCart.Field})
	case errors.As(err, &invalidCoupon):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "code": invalidCoupon.Code})
	case errors.As(err, &limitExceeded):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": limitExceeded.Code})
	case errors.As(err, &unavailableErr):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pricing temporarily unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func respondLedgerError(c *gin.Context, reservationID string, err error) {
	if errors.Is(err, ledger.ErrReservationNotFound) {
		c.JSON(http.StatusConflict, gin.H{
			"error":         "reservation expired or already committed",
			"reservationId": reservationID,
		})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "usage ledger unavailable"})
}
