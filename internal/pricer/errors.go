package pricer

import "fmt"

// InvalidCartError reports a malformed cart. The caller must fix the
// input; retrying does not help.
type InvalidCartError struct {
	Field  string
	Reason string
}

func (e InvalidCartError) Error() string {
	return fmt.Sprintf("invalid cart: %s: %s", e.Field, e.Reason)
}

// PricingUnavailableError means a collaborator (catalog or ledger) was
// unreachable. The whole pricing call aborts; the engine never prices
// with partial promotion data. Callers may retry with backoff.
type PricingUnavailableError struct {
	Cause error
}

func (e PricingUnavailableError) Error() string {
	return fmt.Sprintf("pricing unavailable: %v", e.Cause)
}

func (e PricingUnavailableError) Unwrap() error { return e.Cause }

// UsageLimitExceededError is surfaced only when the customer explicitly
// requested a promo code whose usage slots turned out exhausted.
// Exhaustion of promotions the customer never asked for is handled by
// falling through to the next promotion, never raised.
type UsageLimitExceededError struct {
	Code        string
	PromotionID string
}

func (e UsageLimitExceededError) Error() string {
	return fmt.Sprintf("promo code %q is no longer available", e.Code)
}

// InvalidCouponError is returned when an explicitly requested promo
// code does not match any active promotion.
type InvalidCouponError struct {
	Code string
}

func (e InvalidCouponError) Error() string {
	return fmt.Sprintf("unknown promo code %q", e.Code)
}
