package events

import (
	"context"

	"github.com/pharmaflow/pharmaflow-backend/internal/returns/repository"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
	"github.com/pharmaflow/pharmaflow-backend/pkg/messaging"
)

// ReturnEventPublisher publishes return lifecycle events
type ReturnEventPublisher struct {
	publisher *messaging.Publisher
	logger    *logger.Logger
}

// NewReturnEventPublisher creates a new return event publisher
func NewReturnEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*ReturnEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeReturnEvents, "stock-service", log)
	if err != nil {
		return nil, err
	}

	return &ReturnEventPublisher{
		publisher: publisher,
		logger:    log,
	}, nil
}

// Publish publishes a return lifecycle event. lotIDs carries the lots the
// processed return touched; empty for created and cancelled events.
func (p *ReturnEventPublisher) Publish(ctx context.Context, eventType string, ret *repository.Return, lotIDs []string) {
	if p == nil {
		return
	}

	data := messaging.ReturnProcessedEvent{
		ReturnID:   ret.ID,
		ReturnNo:   ret.ReturnNo,
		ReturnType: ret.ReturnType,
		BillingID:  ret.BillingID,
		LotIDs:     lotIDs,
	}

	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("return_id", ret.ID).Str("event", eventType).Msg("failed to publish return event")
	}
}
