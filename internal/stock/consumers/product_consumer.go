package consumers

import (
	"context"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/repository"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
	"github.com/pharmaflow/pharmaflow-backend/pkg/messaging"
)

// ProductEventConsumer keeps the local product cache in sync with the
// catalog service's product events.
type ProductEventConsumer struct {
	consumer  *messaging.Consumer
	cacheRepo *repository.ProductCacheRepository
	logger    *logger.Logger
}

// NewProductEventConsumer creates a new product event consumer
func NewProductEventConsumer(rmq *messaging.RabbitMQ, cacheRepo *repository.ProductCacheRepository, log *logger.Logger) (*ProductEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, "stock-service.catalog-events", log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeCatalogEvents, "catalog.product.#"); err != nil {
		return nil, err
	}

	c := &ProductEventConsumer{
		consumer:  consumer,
		cacheRepo: cacheRepo,
		logger:    log,
	}

	consumer.RegisterHandler(messaging.EventProductCreated, c.handleProductCreated)
	consumer.RegisterHandler(messaging.EventProductUpdated, c.handleProductUpdated)
	consumer.RegisterHandler(messaging.EventProductDeleted, c.handleProductDeleted)

	return c, nil
}

// Start starts consuming messages
func (c *ProductEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

func (c *ProductEventConsumer) handleProductCreated(ctx context.Context, event *messaging.Event) error {
	var data messaging.ProductCreatedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	c.logger.Info().
		Str("product_id", data.ProductID).
		Str("name", data.Name).
		Msg("received product created event")

	return c.cacheRepo.Set(ctx, &repository.CachedProduct{
		ProductID: data.ProductID,
		Name:      data.Name,
		Unit:      data.Unit,
		HSNCode:   data.HSNCode,
	})
}

func (c *ProductEventConsumer) handleProductUpdated(ctx context.Context, event *messaging.Event) error {
	var data messaging.ProductUpdatedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	c.logger.Info().
		Str("product_id", data.ProductID).
		Msg("received product updated event")

	existing, err := c.cacheRepo.Get(ctx, data.ProductID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}

	if field, ok := data.Fields["name"].(map[string]interface{}); ok {
		if name, ok := field["to"].(string); ok {
			existing.Name = name
		}
	}
	if field, ok := data.Fields["unit"].(map[string]interface{}); ok {
		if unit, ok := field["to"].(string); ok {
			existing.Unit = unit
		}
	}

	return c.cacheRepo.Set(ctx, existing)
}

func (c *ProductEventConsumer) handleProductDeleted(ctx context.Context, event *messaging.Event) error {
	var data messaging.ProductDeletedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	c.logger.Info().
		Str("product_id", data.ProductID).
		Msg("received product deleted event")

	return c.cacheRepo.Delete(ctx, data.ProductID)
}
