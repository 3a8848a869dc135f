package sweepers

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/storefront/pricing-service/internal/ledger"
)

// ReservationSweeper periodically expires stale promotion reservations
// so abandoned checkouts return their usage slots to the pool.
type ReservationSweeper struct {
	ledger   ledger.Ledger
	logger   *zerolog.Logger
	interval time.Duration
	stopChan chan struct{}
}

// NewReservationSweeper creates a new sweeper over the usage ledger
func NewReservationSweeper(l ledger.Ledger, logger *zerolog.Logger, interval time.Duration) *ReservationSweeper {
	return &ReservationSweeper{
		ledger:   l,
		logger:   logger,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the periodic expiry sweep
func (s *ReservationSweeper) Start(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.interval).
		Msg("Starting reservation sweeper")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Reservation sweeper stopping (context cancelled)")
			return
		case <-s.stopChan:
			s.logger.Info().Msg("Reservation sweeper stopping (stop signal)")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Failed to expire stale reservations")
			}
		}
	}
}

// Stop signals the sweeper to stop
func (s *ReservationSweeper) Stop() {
	close(s.stopChan)
}

// Sweep expires reservations past their deadline
func (s *ReservationSweeper) Sweep(ctx context.Context) error {
	s.logger.Debug().Msg("Running reservation expiry sweep")

	expired, err := s.ledger.ExpireStale(ctx)
	if err != nil {
		return err
	}

	if expired > 0 {
		s.logger.Info().
			Int("expired", expired).
			Msg("Expired stale reservations")
	}

	return nil
}
