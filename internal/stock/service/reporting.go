package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/repository"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
)

// ReportingService is the read-only reconciliation façade over the lot
// ledger. Every query is a single aggregate statement, so readers see the
// same snapshot consistency the writers commit.
type ReportingService struct {
	lotRepo *repository.LotRepository
	logger  *logger.Logger
}

// NewReportingService creates a new reporting service
func NewReportingService(lotRepo *repository.LotRepository, log *logger.Logger) *ReportingService {
	return &ReportingService{
		lotRepo: lotRepo,
		logger:  log.WithComponent("reporting"),
	}
}

// ProductValuation is the valuation breakdown for one product.
type ProductValuation struct {
	ProductID     string          `json:"product_id"`
	OnHand        decimal.Decimal `json:"on_hand"`
	OrganicValue  decimal.Decimal `json:"organic_value"`
	ReturnedValue decimal.Decimal `json:"returned_value"`
	TotalValue    decimal.Decimal `json:"total_value"`
}

// OnHand returns the total remaining quantity across a product's active lots.
func (s *ReportingService) OnHand(ctx context.Context, productID string) (decimal.Decimal, error) {
	return s.lotRepo.OnHand(ctx, productID)
}

// Valuation values a product's remaining stock at each lot's receipt price,
// reporting stock that re-entered through returns separately from organic
// receipts.
func (s *ReportingService) Valuation(ctx context.Context, productID string) (*ProductValuation, error) {
	onHand, err := s.lotRepo.OnHand(ctx, productID)
	if err != nil {
		return nil, err
	}

	organic, returned, err := s.lotRepo.Valuation(ctx, productID)
	if err != nil {
		return nil, err
	}

	return &ProductValuation{
		ProductID:     productID,
		OnHand:        onHand,
		OrganicValue:  organic,
		ReturnedValue: returned,
		TotalValue:    organic.Add(returned),
	}, nil
}

// StockSummary returns per-product on-hand quantity, valuation and nearest
// expiry across the whole ledger.
func (s *ReportingService) StockSummary(ctx context.Context) ([]*repository.ProductStock, error) {
	return s.lotRepo.StockSummary(ctx)
}

// LotHistory lists every lot for a product in receipt order, exhausted lots
// included.
func (s *ReportingService) LotHistory(ctx context.Context, productID string) ([]*repository.Lot, error) {
	return s.lotRepo.ListByProduct(ctx, productID)
}
