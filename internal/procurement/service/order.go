package service

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/pharmaflow/pharmaflow-backend/internal/procurement/events"
	"github.com/pharmaflow/pharmaflow-backend/internal/procurement/repository"
	"github.com/pharmaflow/pharmaflow-backend/pkg/database"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
	"github.com/pharmaflow/pharmaflow-backend/pkg/messaging"
)

// OrderService manages the purchase order lifecycle
type OrderService struct {
	db        *database.DB
	orderRepo *repository.OrderRepository
	seqRepo   *repository.SequenceRepository
	publisher *events.ProcurementEventPublisher
	tolerance decimal.Decimal
	logger    *logger.Logger
}

// NewOrderService creates a new order service. tolerance is the maximum
// absolute difference allowed between header totals and the item sums.
func NewOrderService(
	db *database.DB,
	orderRepo *repository.OrderRepository,
	seqRepo *repository.SequenceRepository,
	publisher *events.ProcurementEventPublisher,
	tolerance decimal.Decimal,
	log *logger.Logger,
) *OrderService {
	return &OrderService{
		db:        db,
		orderRepo: orderRepo,
		seqRepo:   seqRepo,
		publisher: publisher,
		tolerance: tolerance,
		logger:    log,
	}
}

// validateOrderTotals checks item quantities and reconciles the header totals
// against the item sums within the configured tolerance
func validateOrderTotals(order *repository.PurchaseOrder, tolerance decimal.Decimal) error {
	if len(order.Items) == 0 {
		return errors.BadRequest("order must have at least one item")
	}

	sumAmount := decimal.Zero
	sumQuantity := decimal.Zero
	for _, item := range order.Items {
		if item.Quantity.LessThanOrEqual(decimal.Zero) {
			return errors.InvalidQuantity(fmt.Sprintf("item quantity for product %s must be positive", item.ProductID))
		}
		sumAmount = sumAmount.Add(item.TotalPrice)
		sumQuantity = sumQuantity.Add(item.Quantity)
	}

	if order.TotalAmount.Sub(sumAmount).Abs().GreaterThan(tolerance) {
		return errors.TotalMismatch(fmt.Sprintf("total amount %s does not match item sum %s", order.TotalAmount, sumAmount))
	}
	if order.TotalQuantity.Sub(sumQuantity).Abs().GreaterThan(tolerance) {
		return errors.TotalMismatch(fmt.Sprintf("total quantity %s does not match item sum %s", order.TotalQuantity, sumQuantity))
	}

	return nil
}

// Create validates and persists a new purchase order as pending
func (s *OrderService) Create(ctx context.Context, order *repository.PurchaseOrder) error {
	if err := validateOrderTotals(order, s.tolerance); err != nil {
		return err
	}

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		poNo, err := s.seqRepo.NextTx(ctx, tx, repository.SeqPurchaseOrder)
		if err != nil {
			return err
		}
		order.PONo = poNo

		return s.orderRepo.CreateTx(ctx, tx, order)
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("order_id", order.ID).Str("po_no", order.PONo).Msg("purchase order created")
	s.publisher.PublishOrderCreated(ctx, order)

	return nil
}

// GetByID gets an order with its items
func (s *OrderService) GetByID(ctx context.Context, id string) (*repository.PurchaseOrder, error) {
	return s.orderRepo.GetByID(ctx, id)
}

// GetAll lists orders, optionally filtered by status
func (s *OrderService) GetAll(ctx context.Context, status string) ([]*repository.PurchaseOrder, error) {
	return s.orderRepo.GetAll(ctx, status)
}

// Update replaces the header and items of a pending order. Orders that have
// started receiving stock are immutable.
func (s *OrderService) Update(ctx context.Context, order *repository.PurchaseOrder) error {
	if err := validateOrderTotals(order, s.tolerance); err != nil {
		return err
	}

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		existing, err := s.orderRepo.GetByIDTx(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if existing.Status != repository.OrderStatusPending {
			return errors.InvalidState(fmt.Sprintf("order %s is %s and cannot be updated", existing.PONo, existing.Status))
		}

		order.PONo = existing.PONo
		if err := s.orderRepo.UpdateHeader(ctx, tx, order); err != nil {
			return err
		}
		return s.orderRepo.ReplaceItems(ctx, tx, order.ID, order.Items)
	})
	if err != nil {
		return err
	}

	order.Status = repository.OrderStatusPending
	s.publisher.PublishOrderStatus(ctx, messaging.EventOrderUpdated, order)

	return nil
}

// Cancel cancels an order. An order with a completed inward receipt against
// it has already produced stock and cannot be cancelled.
func (s *OrderService) Cancel(ctx context.Context, id string) error {
	var order *repository.PurchaseOrder

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		existing, err := s.orderRepo.GetByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}

		switch existing.Status {
		case repository.OrderStatusCancelled:
			return errors.AlreadyProcessed("order cancellation")
		case repository.OrderStatusCompleted:
			return errors.InvalidState(fmt.Sprintf("order %s is completed and cannot be cancelled", existing.PONo))
		}

		completed, err := s.orderRepo.CountCompletedInwardsTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if completed > 0 {
			return errors.InvalidState(fmt.Sprintf("order %s has completed inward receipts and cannot be cancelled", existing.PONo))
		}

		if err := s.orderRepo.UpdateStatus(ctx, tx, id, repository.OrderStatusCancelled); err != nil {
			return err
		}

		existing.Status = repository.OrderStatusCancelled
		order = existing
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("order_id", id).Str("po_no", order.PONo).Msg("purchase order cancelled")
	s.publisher.PublishOrderStatus(ctx, messaging.EventOrderCancelled, order)

	return nil
}
