package events

import (
	"context"

	"github.com/pharmaflow/pharmaflow-backend/internal/billing/repository"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
	"github.com/pharmaflow/pharmaflow-backend/pkg/messaging"
)

// BillingEventPublisher publishes billing events
type BillingEventPublisher struct {
	publisher *messaging.Publisher
	logger    *logger.Logger
}

// NewBillingEventPublisher creates a new billing event publisher
func NewBillingEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*BillingEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeBillingEvents, "stock-service", log)
	if err != nil {
		return nil, err
	}

	return &BillingEventPublisher{
		publisher: publisher,
		logger:    log,
	}, nil
}

// PublishBillingFinalized publishes a billing finalized event
func (p *BillingEventPublisher) PublishBillingFinalized(ctx context.Context, doc *repository.BillingDocument, allocationCount int) {
	if p == nil {
		return
	}

	data := messaging.BillingFinalizedEvent{
		BillingID:       doc.ID,
		BillNo:          doc.BillNo,
		TotalAmount:     doc.TotalAmount.String(),
		AllocationCount: allocationCount,
	}

	if err := p.publisher.Publish(ctx, messaging.EventBillingFinalized, data); err != nil {
		p.logger.Error().Err(err).Str("billing_id", doc.ID).Msg("failed to publish billing finalized event")
	}
}
