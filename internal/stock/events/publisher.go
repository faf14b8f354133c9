package events

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/repository"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
	"github.com/pharmaflow/pharmaflow-backend/pkg/messaging"
)

// StockEventPublisher publishes stock ledger events
type StockEventPublisher struct {
	publisher *messaging.Publisher
	logger    *logger.Logger
}

// NewStockEventPublisher creates a new stock event publisher
func NewStockEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*StockEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeStockEvents, "stock-service", log)
	if err != nil {
		return nil, err
	}

	return &StockEventPublisher{
		publisher: publisher,
		logger:    log,
	}, nil
}

// PublishLotCreated publishes a lot created event
func (p *StockEventPublisher) PublishLotCreated(ctx context.Context, lot *repository.Lot) {
	if p == nil {
		return
	}

	data := messaging.LotCreatedEvent{
		LotID:     lot.ID,
		ProductID: lot.ProductID,
		Source:    lot.Source,
		Quantity:  lot.OriginalQuantity.String(),
		UnitPrice: lot.UnitPrice.String(),
	}

	if err := p.publisher.Publish(ctx, messaging.EventLotCreated, data); err != nil {
		p.logger.Error().Err(err).Str("lot_id", lot.ID).Msg("failed to publish lot created event")
	}
}

// PublishStockAllocated publishes a stock allocated event
func (p *StockEventPublisher) PublishStockAllocated(ctx context.Context, productID, billingItemID string, qty decimal.Decimal, lotsTouched int) {
	if p == nil {
		return
	}

	data := messaging.StockAllocatedEvent{
		ProductID:     productID,
		BillingItemID: billingItemID,
		Quantity:      qty.String(),
		LotsTouched:   lotsTouched,
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockAllocated, data); err != nil {
		p.logger.Error().Err(err).Str("product_id", productID).Msg("failed to publish stock allocated event")
	}
}

// PublishStockReversed publishes a stock reversed event
func (p *StockEventPublisher) PublishStockReversed(ctx context.Context, productID, lotID, returnID string, qty decimal.Decimal) {
	if p == nil {
		return
	}

	data := messaging.StockReversedEvent{
		ProductID: productID,
		LotID:     lotID,
		Quantity:  qty.String(),
		ReturnID:  returnID,
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockReversed, data); err != nil {
		p.logger.Error().Err(err).Str("lot_id", lotID).Msg("failed to publish stock reversed event")
	}
}

// PublishLotExpiring publishes a lot expiring event
func (p *StockEventPublisher) PublishLotExpiring(ctx context.Context, lot *repository.Lot) {
	if p == nil || lot.ExpiryDate == nil {
		return
	}

	data := messaging.LotExpiringEvent{
		LotID:      lot.ID,
		ProductID:  lot.ProductID,
		ExpiryDate: *lot.ExpiryDate,
		Remaining:  lot.RemainingQuantity.String(),
	}

	if err := p.publisher.Publish(ctx, messaging.EventLotExpiring, data); err != nil {
		p.logger.Error().Err(err).Str("lot_id", lot.ID).Msg("failed to publish lot expiring event")
	}
}
