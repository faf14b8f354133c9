package service

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/pharmaflow/pharmaflow-backend/internal/procurement/events"
	"github.com/pharmaflow/pharmaflow-backend/internal/procurement/repository"
	stockevents "github.com/pharmaflow/pharmaflow-backend/internal/stock/events"
	stockrepo "github.com/pharmaflow/pharmaflow-backend/internal/stock/repository"
	"github.com/pharmaflow/pharmaflow-backend/pkg/database"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
	"github.com/pharmaflow/pharmaflow-backend/pkg/messaging"
)

// InwardService manages goods receipts. Completing a receipt is the only
// organic way stock enters the ledger: one lot per received item.
type InwardService struct {
	db             *database.DB
	inwardRepo     *repository.InwardRepository
	orderRepo      *repository.OrderRepository
	seqRepo        *repository.SequenceRepository
	lotRepo        *stockrepo.LotRepository
	publisher      *events.ProcurementEventPublisher
	stockPublisher *stockevents.StockEventPublisher
	tolerance      decimal.Decimal
	logger         *logger.Logger
}

// NewInwardService creates a new inward service
func NewInwardService(
	db *database.DB,
	inwardRepo *repository.InwardRepository,
	orderRepo *repository.OrderRepository,
	seqRepo *repository.SequenceRepository,
	lotRepo *stockrepo.LotRepository,
	publisher *events.ProcurementEventPublisher,
	stockPublisher *stockevents.StockEventPublisher,
	tolerance decimal.Decimal,
	log *logger.Logger,
) *InwardService {
	return &InwardService{
		db:             db,
		inwardRepo:     inwardRepo,
		orderRepo:      orderRepo,
		seqRepo:        seqRepo,
		lotRepo:        lotRepo,
		publisher:      publisher,
		stockPublisher: stockPublisher,
		tolerance:      tolerance,
		logger:         log,
	}
}

// validateInwardTotals checks item quantities and reconciles the header
// totals against the item sums within the configured tolerance
func validateInwardTotals(inward *repository.InwardReceipt, tolerance decimal.Decimal) error {
	if len(inward.Items) == 0 {
		return errors.BadRequest("inward receipt must have at least one item")
	}

	sumAmount := decimal.Zero
	sumQuantity := decimal.Zero
	for _, item := range inward.Items {
		if item.Quantity.LessThanOrEqual(decimal.Zero) {
			return errors.InvalidQuantity(fmt.Sprintf("item quantity for product %s must be positive", item.ProductID))
		}
		sumAmount = sumAmount.Add(item.TotalPrice)
		sumQuantity = sumQuantity.Add(item.Quantity)
	}

	if inward.TotalAmount.Sub(sumAmount).Abs().GreaterThan(tolerance) {
		return errors.TotalMismatch(fmt.Sprintf("total amount %s does not match item sum %s", inward.TotalAmount, sumAmount))
	}
	if inward.TotalQuantity.Sub(sumQuantity).Abs().GreaterThan(tolerance) {
		return errors.TotalMismatch(fmt.Sprintf("total quantity %s does not match item sum %s", inward.TotalQuantity, sumQuantity))
	}

	return nil
}

// Receive validates and persists a goods receipt as pending. No stock moves
// until Complete.
func (s *InwardService) Receive(ctx context.Context, inward *repository.InwardReceipt) error {
	if err := validateInwardTotals(inward, s.tolerance); err != nil {
		return err
	}

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if inward.OrderID != nil {
			order, err := s.orderRepo.GetByIDTx(ctx, tx, *inward.OrderID)
			if err != nil {
				return err
			}
			if order.Status == repository.OrderStatusCancelled {
				return errors.InvalidState(fmt.Sprintf("order %s is cancelled", order.PONo))
			}
		}

		inwardNo, err := s.seqRepo.NextTx(ctx, tx, repository.SeqInwardReceipt)
		if err != nil {
			return err
		}
		inward.InwardNo = inwardNo

		return s.inwardRepo.CreateTx(ctx, tx, inward)
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("inward_id", inward.ID).Str("inward_no", inward.InwardNo).Msg("inward receipt recorded")
	s.publisher.PublishInwardStatus(ctx, messaging.EventInwardReceived, inward)

	return nil
}

// Complete turns a pending receipt into stock: one lot per item, order
// fulfillment counters updated when the receipt references an order. The
// whole transition is one transaction; a second invocation fails with
// AlreadyProcessed and moves no stock.
func (s *InwardService) Complete(ctx context.Context, id string) (*repository.InwardReceipt, error) {
	var inward *repository.InwardReceipt
	var lots []*stockrepo.Lot

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		existing, err := s.inwardRepo.GetByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}

		switch existing.Status {
		case repository.InwardStatusCompleted:
			return errors.AlreadyProcessed("inward receipt")
		case repository.InwardStatusCancelled:
			return errors.InvalidState(fmt.Sprintf("inward receipt %s is cancelled", existing.InwardNo))
		}

		for _, item := range existing.Items {
			lot := &stockrepo.Lot{
				ProductID:        item.ProductID,
				SourceInwardID:   &existing.ID,
				Source:           stockrepo.LotSourceInward,
				BatchNumber:      item.BatchNumber,
				UnitPrice:        item.UnitPrice,
				ExpiryDate:       item.ExpiryDate,
				ReceivedAt:       existing.ReceivedAt,
				OriginalQuantity: item.Quantity,
			}
			if err := s.lotRepo.CreateTx(ctx, tx, lot); err != nil {
				return err
			}
			lots = append(lots, lot)
		}

		if existing.OrderID != nil {
			if err := s.applyOrderFulfillment(ctx, tx, *existing.OrderID, existing.Items); err != nil {
				return err
			}
		}

		if err := s.inwardRepo.UpdateStatus(ctx, tx, id, repository.InwardStatusCompleted); err != nil {
			return err
		}

		existing.Status = repository.InwardStatusCompleted
		inward = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	lotIDs := make([]string, 0, len(lots))
	for _, lot := range lots {
		lotIDs = append(lotIDs, lot.ID)
		s.stockPublisher.PublishLotCreated(ctx, lot)
	}

	s.logger.Info().
		Str("inward_id", id).
		Str("inward_no", inward.InwardNo).
		Int("lots", len(lots)).
		Msg("inward receipt completed")
	s.publisher.PublishInwardCompleted(ctx, inward, lotIDs)

	return inward, nil
}

// applyOrderFulfillment bumps the order items' received counters for this
// receipt, recomputes unused and excess (both clamped at zero) and rolls the
// order status forward: approved while partially received, completed once
// every line is fully received.
func (s *InwardService) applyOrderFulfillment(ctx context.Context, tx *sqlx.Tx, orderID string, items []*repository.InwardItem) error {
	order, err := s.orderRepo.GetByIDTx(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if order.Status == repository.OrderStatusCancelled {
		return errors.InvalidState(fmt.Sprintf("order %s is cancelled", order.PONo))
	}

	byProduct := make(map[string]*repository.PurchaseOrderItem, len(order.Items))
	for _, item := range order.Items {
		byProduct[item.ProductID] = item
	}

	for _, received := range items {
		orderItem, ok := byProduct[received.ProductID]
		if !ok {
			// Product not on the order: the whole receipt line is excess
			received.ExcessQuantity = received.Quantity
			if err := s.inwardRepo.UpdateItemCounters(ctx, tx, received); err != nil {
				return err
			}
			continue
		}

		orderItem.ReceivedQuantity = orderItem.ReceivedQuantity.Add(received.Quantity)
		orderItem.UnusedQuantity = clampZero(orderItem.Quantity.Sub(orderItem.ReceivedQuantity))
		orderItem.ExcessQuantity = clampZero(orderItem.ReceivedQuantity.Sub(orderItem.Quantity))
		if orderItem.ReceivedQuantity.GreaterThanOrEqual(orderItem.Quantity) {
			orderItem.Status = repository.OrderItemStatusReceived
		} else {
			orderItem.Status = repository.OrderItemStatusPartial
		}

		if err := s.orderRepo.UpdateItemFulfillment(ctx, tx, orderItem); err != nil {
			return err
		}
	}

	allReceived := true
	for _, item := range order.Items {
		if item.ReceivedQuantity.LessThan(item.Quantity) {
			allReceived = false
			break
		}
	}

	status := repository.OrderStatusApproved
	if allReceived {
		status = repository.OrderStatusCompleted
	}
	if status != order.Status {
		if err := s.orderRepo.UpdateStatus(ctx, tx, orderID, status); err != nil {
			return err
		}
		if status == repository.OrderStatusCompleted {
			order.Status = status
			s.publisher.PublishOrderStatus(ctx, messaging.EventOrderCompleted, order)
		}
	}

	return nil
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Cancel cancels a pending receipt. Completed receipts have produced lots
// and cannot be cancelled.
func (s *InwardService) Cancel(ctx context.Context, id string) error {
	var inward *repository.InwardReceipt

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		existing, err := s.inwardRepo.GetByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}

		switch existing.Status {
		case repository.InwardStatusCancelled:
			return errors.AlreadyProcessed("inward cancellation")
		case repository.InwardStatusCompleted:
			return errors.InvalidState(fmt.Sprintf("inward receipt %s is completed and cannot be cancelled", existing.InwardNo))
		}

		if err := s.inwardRepo.UpdateStatus(ctx, tx, id, repository.InwardStatusCancelled); err != nil {
			return err
		}

		existing.Status = repository.InwardStatusCancelled
		inward = existing
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("inward_id", id).Str("inward_no", inward.InwardNo).Msg("inward receipt cancelled")
	s.publisher.PublishInwardStatus(ctx, messaging.EventInwardCancelled, inward)

	return nil
}

// GetByID gets a receipt with its items
func (s *InwardService) GetByID(ctx context.Context, id string) (*repository.InwardReceipt, error) {
	return s.inwardRepo.GetByID(ctx, id)
}

// GetAll lists receipts, optionally filtered by status
func (s *InwardService) GetAll(ctx context.Context, status string) ([]*repository.InwardReceipt, error) {
	return s.inwardRepo.GetAll(ctx, status)
}
