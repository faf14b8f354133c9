package events

import (
	"context"

	"github.com/pharmaflow/pharmaflow-backend/internal/procurement/repository"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
	"github.com/pharmaflow/pharmaflow-backend/pkg/messaging"
)

// ProcurementEventPublisher publishes purchase order and inward receipt events
type ProcurementEventPublisher struct {
	publisher *messaging.Publisher
	logger    *logger.Logger
}

// NewProcurementEventPublisher creates a new procurement event publisher
func NewProcurementEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*ProcurementEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeProcurementEvents, "stock-service", log)
	if err != nil {
		return nil, err
	}

	return &ProcurementEventPublisher{
		publisher: publisher,
		logger:    log,
	}, nil
}

// PublishOrderCreated publishes an order created event
func (p *ProcurementEventPublisher) PublishOrderCreated(ctx context.Context, order *repository.PurchaseOrder) {
	if p == nil {
		return
	}

	data := messaging.OrderCreatedEvent{
		OrderID:       order.ID,
		PONo:          order.PONo,
		VendorID:      order.VendorID,
		TotalAmount:   order.TotalAmount.String(),
		TotalQuantity: order.TotalQuantity.String(),
		ItemCount:     len(order.Items),
	}

	if err := p.publisher.Publish(ctx, messaging.EventOrderCreated, data); err != nil {
		p.logger.Error().Err(err).Str("order_id", order.ID).Msg("failed to publish order created event")
	}
}

// PublishOrderStatus publishes an order lifecycle event
func (p *ProcurementEventPublisher) PublishOrderStatus(ctx context.Context, eventType string, order *repository.PurchaseOrder) {
	if p == nil {
		return
	}

	data := messaging.OrderStatusEvent{
		OrderID: order.ID,
		PONo:    order.PONo,
		Status:  order.Status,
	}

	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("order_id", order.ID).Str("event", eventType).Msg("failed to publish order status event")
	}
}

// PublishInwardCompleted publishes an inward completed event with the lots it created
func (p *ProcurementEventPublisher) PublishInwardCompleted(ctx context.Context, inward *repository.InwardReceipt, lotIDs []string) {
	if p == nil {
		return
	}

	data := messaging.InwardCompletedEvent{
		InwardID:  inward.ID,
		InwardNo:  inward.InwardNo,
		OrderID:   inward.OrderID,
		LotIDs:    lotIDs,
		ItemCount: len(inward.Items),
	}

	if err := p.publisher.Publish(ctx, messaging.EventInwardCompleted, data); err != nil {
		p.logger.Error().Err(err).Str("inward_id", inward.ID).Msg("failed to publish inward completed event")
	}
}

// PublishInwardStatus publishes a received or cancelled inward event
func (p *ProcurementEventPublisher) PublishInwardStatus(ctx context.Context, eventType string, inward *repository.InwardReceipt) {
	if p == nil {
		return
	}

	data := messaging.InwardCompletedEvent{
		InwardID:  inward.ID,
		InwardNo:  inward.InwardNo,
		OrderID:   inward.OrderID,
		ItemCount: len(inward.Items),
	}

	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("inward_id", inward.ID).Str("event", eventType).Msg("failed to publish inward status event")
	}
}
