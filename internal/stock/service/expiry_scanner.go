package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/events"
	"github.com/pharmaflow/pharmaflow-backend/internal/stock/repository"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
)

// ExpiryScanner periodically scans active lots approaching their expiry date
// and publishes an expiring event for each. Lots already past expiry are
// deactivated so the allocator no longer considers them.
type ExpiryScanner struct {
	lotRepo    *repository.LotRepository
	publisher  *events.StockEventPublisher
	windowDays int
	interval   time.Duration
	logger     *logger.Logger
	cancel     context.CancelFunc
}

// NewExpiryScanner creates a new expiry scanner. windowDays is how many days
// ahead of the expiry date a lot is considered expiring.
func NewExpiryScanner(lotRepo *repository.LotRepository, publisher *events.StockEventPublisher, windowDays int, interval time.Duration, log *logger.Logger) *ExpiryScanner {
	return &ExpiryScanner{
		lotRepo:    lotRepo,
		publisher:  publisher,
		windowDays: windowDays,
		interval:   interval,
		logger:     log,
	}
}

// Start starts the scanner in a background goroutine
func (s *ExpiryScanner) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		s.logger.Info().Dur("interval", s.interval).Msg("expiry scanner started")

		// Run an initial scan immediately
		if err := s.Scan(ctx); err != nil {
			s.logger.Error().Err(err).Msg("expiry scan failed")
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("expiry scanner stopped")
				return
			case <-ticker.C:
				if err := s.Scan(ctx); err != nil {
					s.logger.Error().Err(err).Msg("expiry scan failed")
				}
			}
		}
	}()
}

// Stop stops the scanner goroutine
func (s *ExpiryScanner) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Scan runs a single scan cycle
func (s *ExpiryScanner) Scan(ctx context.Context) error {
	start := time.Now()

	lots, err := s.lotRepo.GetExpiringLots(ctx, s.windowDays)
	if err != nil {
		return fmt.Errorf("expiry scan: get expiring lots: %w", err)
	}

	now := time.Now()
	var expired, expiring int

	for _, lot := range lots {
		if lot.ExpiryDate == nil {
			continue
		}

		if lot.ExpiryDate.Before(now) {
			if err := s.lotRepo.Deactivate(ctx, lot.ID); err != nil {
				s.logger.Error().Err(err).Str("lot_id", lot.ID).Msg("failed to deactivate expired lot")
				continue
			}
			expired++
			continue
		}

		s.publisher.PublishLotExpiring(ctx, lot)
		expiring++
	}

	s.logger.Info().
		Dur("duration", time.Since(start)).
		Int("expiring", expiring).
		Int("expired", expired).
		Msg("expiry scan completed")

	return nil
}
