package pricer

import (
	"github.com/shopspring/decimal"

	"github.com/storefront/pricing-service/internal/ledger"
	"github.com/storefront/pricing-service/internal/money"
)

// LineItem is one cart row. TaxRate is a fraction in [0, 1]; 0.15 means
// fifteen percent.
type LineItem struct {
	ProductID  string          `json:"productId"`
	SKU        string          `json:"sku,omitempty"`
	CategoryID string          `json:"categoryId,omitempty"`
	UnitPrice  money.Money     `json:"unitPrice"`
	Quantity   int             `json:"quantity"`
	TaxRate    decimal.Decimal `json:"taxRate"`
}

// Cart is the pricing input. PromoCode, when set, is the code the
// customer typed at checkout; code-gated promotions apply only when it
// matches. ShippingAmount is the shipping quote before any
// free-shipping promotion.
type Cart struct {
	CustomerID     string      `json:"customerId"`
	LineItems      []LineItem  `json:"lineItems"`
	ShippingAmount money.Money `json:"shippingAmount"`
	PromoCode      string      `json:"promoCode,omitempty"`
}

// AppliedPromotion records one promotion that contributed to the quote.
// For free-shipping promotions Discount is the shipping saved and is
// not part of PricedOrder.DiscountAmount.
type AppliedPromotion struct {
	PromotionID string      `json:"promotionId"`
	Name        string      `json:"name"`
	Code        string      `json:"code,omitempty"`
	Discount    money.Money `json:"discount"`
}

// AppliedCombo records one combo deal, possibly applied more than once.
type AppliedCombo struct {
	ComboID   string      `json:"comboId"`
	Name      string      `json:"name"`
	Instances int         `json:"instances"`
	Discount  money.Money `json:"discount"`
}

// PricedOrder is the finalized quote.
//
//	TotalAmount = Subtotal - DiscountAmount + TaxAmount + ShippingAmount
//
// Reservations holds the usage slots claimed while pricing. The caller
// must CommitOrder after persisting the order or ReleaseOrder when the
// checkout is abandoned; unreleased reservations expire on their own.
type PricedOrder struct {
	Subtotal          money.Money        `json:"subtotal"`
	DiscountAmount    money.Money        `json:"discountAmount"`
	TaxAmount         money.Money        `json:"taxAmount"`
	ShippingAmount    money.Money        `json:"shippingAmount"`
	TotalAmount       money.Money        `json:"totalAmount"`
	AppliedPromotions []AppliedPromotion `json:"appliedPromotions"`
	AppliedCombos     []AppliedCombo     `json:"appliedCombos"`

	Reservations []*ledger.Reservation `json:"-"`
}
