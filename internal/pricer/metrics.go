package pricer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// pricingDuration tracks the time taken to price carts by outcome.
	pricingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pricer_cart_duration_seconds",
		Help:    "Time taken to price a cart by outcome",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
	}, []string{"outcome"}) // outcome: ok, invalid_cart, unavailable, usage_limit, invalid_coupon

	// cartSize tracks the distribution of cart line counts.
	cartSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pricer_cart_lines_count",
		Help:    "Number of line items in priced carts",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
	})

	// promotionsApplied tracks how many promotions land per cart.
	promotionsApplied = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pricer_promotions_applied_count",
		Help:    "Number of promotions applied per cart",
		Buckets: []float64{0, 1, 2, 3, 5, 10},
	})

	// reservationConflicts tracks exhausted usage slots hit while pricing.
	reservationConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricer_reservation_conflicts_total",
		Help: "Promotion reservations refused because usage slots were exhausted",
	}, []string{"promotion_id"})

	// negativeTotalClamps tracks carts whose total had to be clamped to zero.
	negativeTotalClamps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricer_negative_total_clamps_total",
		Help: "Carts whose combined discounts exceeded the payable amount",
	})

	// discountRatio tracks discount as a fraction of the pre-discount subtotal.
	discountRatio = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pricer_discount_ratio",
		Help:    "Discount amount as a fraction of cart subtotal",
		Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1.0},
	})
)

// MetricsRecorder provides methods to record pricing metrics.
type MetricsRecorder struct{}

// NewMetricsRecorder creates a new metrics recorder.
func NewMetricsRecorder() *MetricsRecorder {
	return &MetricsRecorder{}
}

// RecordPricing records one pricing call and its outcome.
func (m *MetricsRecorder) RecordPricing(outcome string, duration time.Duration) {
	pricingDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordCartSize records the number of lines in a cart.
func (m *MetricsRecorder) RecordCartSize(lines int) {
	cartSize.Observe(float64(lines))
}

// RecordPromotionsApplied records how many promotions landed on a cart.
func (m *MetricsRecorder) RecordPromotionsApplied(count int) {
	promotionsApplied.Observe(float64(count))
}

// RecordReservationConflict records an exhausted usage slot.
func (m *MetricsRecorder) RecordReservationConflict(promotionID string) {
	reservationConflicts.WithLabelValues(promotionID).Inc()
}

// RecordNegativeTotalClamp records a cart clamped to a zero total.
func (m *MetricsRecorder) RecordNegativeTotalClamp() {
	negativeTotalClamps.Inc()
}

// RecordDiscountRatio records discount as a fraction of subtotal.
func (m *MetricsRecorder) RecordDiscountRatio(discount, subtotal int64) {
	if subtotal <= 0 {
		return
	}
	discountRatio.Observe(float64(discount) / float64(subtotal))
}
