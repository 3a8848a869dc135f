// Package pricer computes final cart prices from a promotion snapshot,
// a combo catalog and the usage ledger. A pricing pass is synchronous
// and side-effect-free except for ledger reservations; the caller
// converts those with CommitOrder or returns them with ReleaseOrder.
package pricer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/storefront/pricing-service/internal/catalog"
	"github.com/storefront/pricing-service/internal/combos"
	"github.com/storefront/pricing-service/internal/ledger"
	"github.com/storefront/pricing-service/internal/money"
)

// Snapshots bundles the read-only catalog views a pricing pass runs
// against. Both are immutable; a pass never observes a catalog change.
type Snapshots struct {
	Promotions *catalog.Snapshot
	Combos     *combos.Catalog
}

// Pricer prices carts. It holds no per-cart state; a single Pricer is
// safe for concurrent use.
type Pricer struct {
	usage    ledger.Ledger
	resolver *combos.Resolver
	metrics  *MetricsRecorder
	logger   zerolog.Logger
}

// New creates a cart pricer backed by the given usage ledger.
func New(usage ledger.Ledger) *Pricer {
	return &Pricer{
		usage:    usage,
		resolver: combos.NewResolver(),
		metrics:  NewMetricsRecorder(),
		logger:   log.With().Str("component", "pricer").Logger(),
	}
}

// lineState tracks one cart line through the discounting stages.
// unit is the current per-unit price after compounding promotions;
// extra holds line-level discounts that do not reduce the unit price
// (free units, capped remainders); combo holds the combo share.
type lineState struct {
	item  *LineItem
	unit  int64
	extra int64
	combo int64
}

// total returns the line value after promotion discounts, before combos.
func (ls *lineState) total() int64 {
	v := ls.unit*int64(ls.item.Quantity) - ls.extra
	if v < 0 {
		return 0
	}
	return v
}

// Price evaluates the cart against the snapshots at asOf and returns a
// finalized quote. Limited promotions are reserved in the ledger while
// pricing; on any error all reservations made during the pass are
// released before returning.
func (p *Pricer) Price(ctx context.Context, cart *Cart, snaps Snapshots, asOf time.Time) (*PricedOrder, error) {
	start := time.Now()
	order, err := p.price(ctx, cart, snaps, asOf)
	p.metrics.RecordPricing(outcomeLabel(err), time.Since(start))
	return order, err
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &InvalidCartError{}):
		return "invalid_cart"
	case errors.As(err, &UsageLimitExceededError{}):
		return "usage_limit"
	case errors.As(err, &InvalidCouponError{}):
		return "invalid_coupon"
	default:
		return "unavailable"
	}
}

func (p *Pricer) price(ctx context.Context, cart *Cart, snaps Snapshots, asOf time.Time) (*PricedOrder, error) {
	currency, err := validateCart(cart)
	if err != nil {
		return nil, err
	}
	if snaps.Promotions == nil {
		return nil, PricingUnavailableError{Cause: errors.New("no promotion snapshot")}
	}
	p.metrics.RecordCartSize(len(cart.LineItems))

	// An explicitly requested code must resolve to a live promotion
	// before any evaluation happens.
	var codePromo *catalog.Promotion
	if cart.PromoCode != "" {
		cp, ok := snaps.Promotions.ByCode(cart.PromoCode)
		if !ok || !cp.ActiveAt(asOf) {
			return nil, InvalidCouponError{Code: cart.PromoCode}
		}
		codePromo = cp
	}

	lines := make([]*lineState, len(cart.LineItems))
	var subtotal int64
	for i := range cart.LineItems {
		item := &cart.LineItems[i]
		lines[i] = &lineState{item: item, unit: item.UnitPrice.Amount()}
		subtotal += item.UnitPrice.Amount() * int64(item.Quantity)
	}

	pass := &pricingPass{
		pricer:   p,
		cart:     cart,
		currency: currency,
		subtotal: subtotal,
		asOf:     asOf,
		snaps:    snaps,
		applied:  make(map[string]int64),
		reserved: make(map[string]*ledger.Reservation),
	}

	for _, ls := range lines {
		if err := pass.discountLine(ctx, ls); err != nil {
			pass.releaseAll(ctx)
			return nil, err
		}
	}

	shipping, err := pass.resolveShipping(ctx)
	if err != nil {
		pass.releaseAll(ctx)
		return nil, err
	}

	// A requested code that survived lookup but lost its last usage
	// slot is an error the customer must see; silently pricing without
	// it would charge more than the checkout screen promised. Shipping
	// promotions only reserve inside resolveShipping, so the check
	// must run after it.
	if codePromo != nil && pass.applied[codePromo.ID] == 0 && pass.exhausted(codePromo.ID) {
		pass.releaseAll(ctx)
		return nil, UsageLimitExceededError{Code: cart.PromoCode, PromotionID: codePromo.ID}
	}

	appliedCombos := pass.resolveCombos(lines)

	var tax int64
	for _, ls := range lines {
		base := ls.total() - ls.combo
		if base < 0 {
			base = 0
		}
		if !ls.item.TaxRate.IsZero() {
			tax += mustMoney(base, currency).MulRate(ls.item.TaxRate).Amount()
		}
	}

	discount := pass.promoDiscount + pass.comboDiscount
	total := subtotal - discount + tax + shipping
	if total < 0 {
		// Line-level caps keep each line non-negative, so this only
		// trips if discounts outgrow the cart through a bug. Clamp and
		// flag rather than emit a negative charge.
		p.logger.Warn().
			Str("customer_id", cart.CustomerID).
			Int64("subtotal", subtotal).
			Int64("discount", discount).
			Msg("discounts exceed payable amount, clamping total to zero")
		p.metrics.RecordNegativeTotalClamp()
		discount = subtotal + tax + shipping
		total = 0
	}

	p.metrics.RecordPromotionsApplied(len(pass.appliedOrder))
	p.metrics.RecordDiscountRatio(discount, subtotal)

	order := &PricedOrder{
		Subtotal:          mustMoney(subtotal, currency),
		DiscountAmount:    mustMoney(discount, currency),
		TaxAmount:         mustMoney(tax, currency),
		ShippingAmount:    mustMoney(shipping, currency),
		TotalAmount:       mustMoney(total, currency),
		AppliedPromotions: pass.appliedPromotions(currency),
		AppliedCombos:     appliedCombos,
		Reservations:      pass.reservations(),
	}
	return order, nil
}

// pricingPass carries the mutable state of one Price call.
type pricingPass struct {
	pricer   *Pricer
	cart     *Cart
	currency string
	subtotal int64
	asOf     time.Time
	snaps    Snapshots

	applied       map[string]int64 // promotion id -> cart-wide discount so far
	appliedOrder  []*catalog.Promotion
	reserved      map[string]*ledger.Reservation
	exhaustedIDs  map[string]bool
	shippingIDs   []string // free-shipping candidates in evaluation order
	shippingSeen  map[string]bool
	promoDiscount int64
	comboDiscount int64
	freeShipping  *catalog.Promotion
	shippingSaved int64
}

func (pp *pricingPass) exhausted(id string) bool { return pp.exhaustedIDs[id] }

// discountLine runs the promotion chain for one line: highest priority
// first, compounding on the discounted unit price, stopping at the
// first non-stackable promotion that lands.
func (pp *pricingPass) discountLine(ctx context.Context, ls *lineState) error {
	item := ls.item
	promos := pp.snaps.Promotions.ActivePromotionsFor(catalog.Item{
		ProductID:  item.ProductID,
		CategoryID: item.CategoryID,
	}, pp.asOf)

	for _, promo := range promos {
		if promo.Type == catalog.TypeFreeShipping {
			pp.noteShippingCandidate(promo)
			continue
		}
		if !pp.eligible(promo, item) {
			continue
		}

		reduction, lineDiscount := proposeDiscount(promo, ls)
		if avail := ls.total(); lineDiscount > avail {
			lineDiscount = avail
			reduction = 0
		}
		if lineDiscount <= 0 {
			continue
		}

		// The cap bounds this promotion's discount across the whole
		// cart. Capped remainders go to the line level so the unit
		// price other promotions compound on stays exact.
		capped := false
		if promo.MaxDiscountAmount != nil {
			remaining := promo.MaxDiscountAmount.Amount() - pp.applied[promo.ID]
			if remaining <= 0 {
				continue
			}
			if lineDiscount > remaining {
				lineDiscount = remaining
				capped = true
			}
		}

		ok, err := pp.reserve(ctx, promo)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		if pp.applied[promo.ID] == 0 {
			pp.appliedOrder = append(pp.appliedOrder, promo)
		}
		pp.applied[promo.ID] += lineDiscount
		pp.promoDiscount += lineDiscount
		if reduction > 0 && !capped {
			ls.unit -= reduction
		} else {
			ls.extra += lineDiscount
		}

		if !promo.Stackable {
			break
		}
	}
	return nil
}

// eligible applies the gates shared by every promotion type. The
// minimum order gate reads the pre-discount subtotal; discounts applied
// earlier in the pass never disqualify a later promotion.
func (pp *pricingPass) eligible(promo *catalog.Promotion, item *LineItem) bool {
	if promo.RequiresCode && promo.Code != pp.cart.PromoCode {
		return false
	}
	if promo.Type != catalog.TypeBuyXGetY && promo.MinQuantity > 0 && item.Quantity < promo.MinQuantity {
		return false
	}
	if promo.MinOrderAmount != nil {
		if promo.MinOrderAmount.Currency() != pp.currency {
			return false
		}
		if pp.subtotal < promo.MinOrderAmount.Amount() {
			return false
		}
	}
	// A cap in another currency cannot bound discounts in this one.
	if promo.MaxDiscountAmount != nil && promo.MaxDiscountAmount.Currency() != pp.currency {
		return false
	}
	return true
}

// proposeDiscount computes the uncapped discount of one promotion on
// one line. reduction is the per-unit amount subsequent stackable
// promotions compound on; zero for quantity-based mechanics.
func proposeDiscount(promo *catalog.Promotion, ls *lineState) (reduction, lineDiscount int64) {
	qty := int64(ls.item.Quantity)
	switch promo.Type {
	case catalog.TypePercentage:
		perUnit := mustMoney(ls.unit, ls.item.UnitPrice.Currency()).PercentageOf(promo.DiscountValue).Amount()
		return perUnit, perUnit * qty
	case catalog.TypeFixedAmount:
		r := promo.DiscountValue.IntPart()
		if r > ls.unit {
			r = ls.unit
		}
		return r, r * qty
	case catalog.TypeBuyXGetY:
		free := (qty / int64(promo.MinQuantity)) * promo.DiscountValue.IntPart()
		if free > qty {
			free = qty
		}
		return 0, free * ls.unit
	default:
		return 0, 0
	}
}

// reserve claims a usage slot for a limited promotion, once per pass.
// Returns false when the slots are exhausted; the chain falls through
// to the next promotion.
func (pp *pricingPass) reserve(ctx context.Context, promo *catalog.Promotion) (bool, error) {
	if !promo.Limited() {
		return true, nil
	}
	if pp.exhaustedIDs[promo.ID] {
		return false, nil
	}
	if _, have := pp.reserved[promo.ID]; have {
		return true, nil
	}

	res, ok, err := pp.pricer.usage.TryReserve(ctx, promo.ID, pp.cart.CustomerID, ledger.Limits{
		PerCustomer: promo.UsageLimitPerCustomer,
		Global:      promo.UsageLimitGlobal,
	})
	if err != nil {
		return false, PricingUnavailableError{Cause: err}
	}
	if !ok {
		if pp.exhaustedIDs == nil {
			pp.exhaustedIDs = make(map[string]bool)
		}
		pp.exhaustedIDs[promo.ID] = true
		pp.pricer.metrics.RecordReservationConflict(promo.ID)
		pp.pricer.logger.Debug().
			Str("promotion_id", promo.ID).
			Str("customer_id", pp.cart.CustomerID).
			Msg("usage slots exhausted, falling through")
		return false, nil
	}
	pp.reserved[promo.ID] = res
	return true, nil
}

func (pp *pricingPass) noteShippingCandidate(promo *catalog.Promotion) {
	if pp.shippingSeen[promo.ID] {
		return
	}
	if pp.shippingSeen == nil {
		pp.shippingSeen = make(map[string]bool)
	}
	pp.shippingSeen[promo.ID] = true
	pp.shippingIDs = append(pp.shippingIDs, promo.ID)
}

// resolveShipping applies the first eligible free-shipping promotion.
// Shipping promotions sit outside the per-line stacking chain; they
// zero the shipping component and never touch item prices or tax.
func (pp *pricingPass) resolveShipping(ctx context.Context) (int64, error) {
	shipping := pp.cart.ShippingAmount.Amount()
	if shipping <= 0 {
		return shipping, nil
	}
	for _, id := range pp.shippingIDs {
		promo, ok := pp.snaps.Promotions.ByID(id)
		if !ok {
			continue
		}
		if promo.RequiresCode && promo.Code != pp.cart.PromoCode {
			continue
		}
		if promo.MinOrderAmount != nil && pp.subtotal < promo.MinOrderAmount.Amount() {
			continue
		}
		ok, err := pp.reserve(ctx, promo)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		if pp.applied[promo.ID] == 0 {
			pp.appliedOrder = append(pp.appliedOrder, promo)
		}
		pp.freeShipping = promo
		pp.shippingSaved = shipping
		return 0, nil
	}
	return shipping, nil
}

// resolveCombos runs the combo resolver over the promotion-discounted
// lines and folds each combo's pro-rata shares back into the cart.
// Combos never consume promotion usage slots.
func (pp *pricingPass) resolveCombos(lines []*lineState) []AppliedCombo {
	if pp.snaps.Combos == nil || pp.snaps.Combos.Len() == 0 {
		return nil
	}

	comboLines := make([]combos.Line, len(lines))
	for i, ls := range lines {
		comboLines[i] = combos.Line{
			ProductID: ls.item.ProductID,
			UnitPrice: mustMoney(ls.unit, pp.currency),
			Quantity:  ls.item.Quantity,
		}
	}

	resolved := pp.pricer.resolver.Resolve(pp.snaps.Combos, comboLines, pp.asOf)
	if len(resolved) == 0 {
		return nil
	}

	out := make([]AppliedCombo, 0, len(resolved))
	for _, ac := range resolved {
		var landed int64
		for productID, share := range ac.LineDiscounts {
			landed += pp.spreadComboShare(lines, productID, share.Amount())
		}
		if landed <= 0 {
			continue
		}
		pp.comboDiscount += landed
		out = append(out, AppliedCombo{
			ComboID:   ac.ComboID,
			Name:      ac.Name,
			Instances: ac.Instances,
			Discount:  mustMoney(landed, pp.currency),
		})
	}
	return out
}

// spreadComboShare distributes one product's combo share across the
// cart lines carrying that product, never pushing a line negative.
// Returns the amount that actually landed.
func (pp *pricingPass) spreadComboShare(lines []*lineState, productID string, share int64) int64 {
	var landed int64
	for _, ls := range lines {
		if share <= 0 {
			break
		}
		if ls.item.ProductID != productID {
			continue
		}
		room := ls.total() - ls.combo
		if room <= 0 {
			continue
		}
		take := share
		if take > room {
			take = room
		}
		ls.combo += take
		landed += take
		share -= take
	}
	return landed
}

func (pp *pricingPass) appliedPromotions(currency string) []AppliedPromotion {
	if len(pp.appliedOrder) == 0 {
		return nil
	}
	out := make([]AppliedPromotion, 0, len(pp.appliedOrder))
	for _, promo := range pp.appliedOrder {
		discount := pp.applied[promo.ID]
		if pp.freeShipping != nil && promo.ID == pp.freeShipping.ID {
			discount = pp.shippingSaved
		}
		out = append(out, AppliedPromotion{
			PromotionID: promo.ID,
			Name:        promo.Name,
			Code:        promo.Code,
			Discount:    mustMoney(discount, currency),
		})
	}
	return out
}

func (pp *pricingPass) reservations() []*ledger.Reservation {
	if len(pp.reserved) == 0 {
		return nil
	}
	// Emit in application order so quotes are byte-for-byte stable.
	out := make([]*ledger.Reservation, 0, len(pp.reserved))
	for _, promo := range pp.appliedOrder {
		if res, ok := pp.reserved[promo.ID]; ok {
			out = append(out, res)
		}
	}
	return out
}

func (pp *pricingPass) releaseAll(ctx context.Context) {
	for id, res := range pp.reserved {
		if err := pp.pricer.usage.Release(ctx, res); err != nil {
			pp.pricer.logger.Warn().Err(err).
				Str("promotion_id", id).
				Str("reservation_id", res.ID).
				Msg("failed to release reservation")
		}
	}
}

// CommitOrder converts the quote's reservations into usage records
// after the order has been durably persisted. Every reservation is
// attempted; errors are collected rather than aborting the batch.
func (p *Pricer) CommitOrder(ctx context.Context, order *PricedOrder, orderID string) error {
	var errs []error
	for _, res := range order.Reservations {
		discount := money.Zero(order.Subtotal.Currency())
		for _, ap := range order.AppliedPromotions {
			if ap.PromotionID == res.PromotionID {
				discount = ap.Discount
				break
			}
		}
		if err := p.usage.Commit(ctx, res, orderID, discount); err != nil {
			errs = append(errs, fmt.Errorf("commit promotion %s: %w", res.PromotionID, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ReleaseOrder returns the quote's reservations when the checkout is
// abandoned. Reservations that already expired are not an error.
func (p *Pricer) ReleaseOrder(ctx context.Context, order *PricedOrder) error {
	var errs []error
	for _, res := range order.Reservations {
		err := p.usage.Release(ctx, res)
		if err != nil && !errors.Is(err, ledger.ErrReservationNotFound) {
			errs = append(errs, fmt.Errorf("release promotion %s: %w", res.PromotionID, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateCart(cart *Cart) (string, error) {
	if cart == nil {
		return "", InvalidCartError{Field: "cart", Reason: "missing"}
	}
	if cart.CustomerID == "" {
		return "", InvalidCartError{Field: "customerId", Reason: "required"}
	}
	if len(cart.LineItems) == 0 {
		return "", InvalidCartError{Field: "lineItems", Reason: "cart is empty"}
	}

	currency := cart.LineItems[0].UnitPrice.Currency()
	if currency == "" {
		return "", InvalidCartError{Field: "lineItems[0].unitPrice", Reason: "missing currency"}
	}
	one := decimal.NewFromInt(1)
	for i := range cart.LineItems {
		item := &cart.LineItems[i]
		field := fmt.Sprintf("lineItems[%d]", i)
		if item.ProductID == "" {
			return "", InvalidCartError{Field: field + ".productId", Reason: "required"}
		}
		if item.Quantity <= 0 {
			return "", InvalidCartError{Field: field + ".quantity", Reason: "must be positive"}
		}
		if item.UnitPrice.IsNegative() {
			return "", InvalidCartError{Field: field + ".unitPrice", Reason: "must not be negative"}
		}
		if item.UnitPrice.Currency() != currency {
			return "", InvalidCartError{Field: field + ".unitPrice", Reason: "currency differs from other lines"}
		}
		if item.TaxRate.IsNegative() || item.TaxRate.GreaterThan(one) {
			return "", InvalidCartError{Field: field + ".taxRate", Reason: "must be between 0 and 1"}
		}
	}
	if !cart.ShippingAmount.IsZero() && cart.ShippingAmount.Currency() != currency {
		return "", InvalidCartError{Field: "shippingAmount", Reason: "currency differs from line items"}
	}
	if cart.ShippingAmount.IsNegative() {
		return "", InvalidCartError{Field: "shippingAmount", Reason: "must not be negative"}
	}
	return currency, nil
}

// mustMoney wraps an amount already validated to carry this currency.
func mustMoney(amount int64, currency string) money.Money {
	m, err := money.New(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}
