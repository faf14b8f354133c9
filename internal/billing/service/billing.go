package service

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/pharmaflow/pharmaflow-backend/internal/billing/events"
	"github.com/pharmaflow/pharmaflow-backend/internal/billing/repository"
	procrepo "github.com/pharmaflow/pharmaflow-backend/internal/procurement/repository"
	stockevents "github.com/pharmaflow/pharmaflow-backend/internal/stock/events"
	stockservice "github.com/pharmaflow/pharmaflow-backend/internal/stock/service"
	"github.com/pharmaflow/pharmaflow-backend/pkg/database"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
)

// BillingService finalizes consumption documents against stock. A finalize
// is all-or-nothing: every line item allocates inside one transaction, and
// any failure rolls back every lot mutation the document made.
type BillingService struct {
	db             *database.DB
	billingRepo    *repository.BillingRepository
	seqRepo        *procrepo.SequenceRepository
	allocator      *stockservice.Allocator
	publisher      *events.BillingEventPublisher
	stockPublisher *stockevents.StockEventPublisher
	tolerance      decimal.Decimal
	logger         *logger.Logger
}

// NewBillingService creates a new billing service
func NewBillingService(
	db *database.DB,
	billingRepo *repository.BillingRepository,
	seqRepo *procrepo.SequenceRepository,
	allocator *stockservice.Allocator,
	publisher *events.BillingEventPublisher,
	stockPublisher *stockevents.StockEventPublisher,
	tolerance decimal.Decimal,
	log *logger.Logger,
) *BillingService {
	return &BillingService{
		db:             db,
		billingRepo:    billingRepo,
		seqRepo:        seqRepo,
		allocator:      allocator,
		publisher:      publisher,
		stockPublisher: stockPublisher,
		tolerance:      tolerance,
		logger:         log,
	}
}

func (s *BillingService) validateTotals(doc *repository.BillingDocument) error {
	if len(doc.Items) == 0 {
		return errors.BadRequest("billing document must have at least one item")
	}

	sum := decimal.Zero
	for _, item := range doc.Items {
		if item.Quantity.LessThanOrEqual(decimal.Zero) {
			return errors.InvalidQuantity(fmt.Sprintf("item quantity for product %s must be positive", item.ProductID))
		}
		sum = sum.Add(item.TotalPrice)
	}

	if doc.TotalAmount.Sub(sum).Abs().GreaterThan(s.tolerance) {
		return errors.TotalMismatch(fmt.Sprintf("total amount %s does not match item sum %s", doc.TotalAmount, sum))
	}

	return nil
}

func paymentStatus(total, paid decimal.Decimal) string {
	switch {
	case paid.LessThanOrEqual(decimal.Zero):
		return repository.PaymentStatusUnpaid
	case paid.GreaterThanOrEqual(total):
		return repository.PaymentStatusPaid
	default:
		return repository.PaymentStatusPartial
	}
}

// Finalize validates the document, assigns a bill number and allocates
// stock for every line item inside one transaction. On InsufficientStock
// for any item the whole document rolls back and no lot is touched. The
// per-item cost of goods is the sum over its allocations of quantity times
// the lot price at allocation time.
func (s *BillingService) Finalize(ctx context.Context, doc *repository.BillingDocument, paidAmount decimal.Decimal) (*repository.BillingDocument, error) {
	if err := s.validateTotals(doc); err != nil {
		return nil, err
	}

	productIDs := make([]string, 0, len(doc.Items))
	for _, item := range doc.Items {
		productIDs = append(productIDs, item.ProductID)
	}

	release, err := s.allocator.LockProducts(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	defer release()

	type itemAllocation struct {
		item        *repository.BillingItem
		allocations int
	}
	var allocated []itemAllocation
	totalAllocations := 0

	err = s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		billNo, err := s.seqRepo.NextTx(ctx, tx, procrepo.SeqBilling)
		if err != nil {
			return err
		}
		doc.BillNo = billNo
		doc.Status = repository.BillingStatusFinalized
		doc.PaymentStatus = paymentStatus(doc.TotalAmount, paidAmount)

		if err := s.billingRepo.CreateTx(ctx, tx, doc); err != nil {
			return err
		}

		for _, item := range doc.Items {
			allocs, err := s.allocator.AllocateTx(ctx, tx, item.ProductID, item.ID, item.Quantity)
			if err != nil {
				return err
			}

			cost := decimal.Zero
			for _, alloc := range allocs {
				cost = cost.Add(alloc.CostOfGoods())
			}
			item.CostOfGoods = cost
			if err := s.billingRepo.UpdateItemCostOfGoods(ctx, tx, item.ID, cost); err != nil {
				return err
			}

			allocated = append(allocated, itemAllocation{item: item, allocations: len(allocs)})
			totalAllocations += len(allocs)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, ia := range allocated {
		s.stockPublisher.PublishStockAllocated(ctx, ia.item.ProductID, ia.item.ID, ia.item.Quantity, ia.allocations)
	}

	s.logger.Info().
		Str("billing_id", doc.ID).
		Str("bill_no", doc.BillNo).
		Int("allocations", totalAllocations).
		Msg("billing document finalized")
	s.publisher.PublishBillingFinalized(ctx, doc, totalAllocations)

	return doc, nil
}

// GetByID gets a billing document with its items
func (s *BillingService) GetByID(ctx context.Context, id string) (*repository.BillingDocument, error) {
	return s.billingRepo.GetByID(ctx, id)
}

// GetAll lists billing documents, optionally filtered by status
func (s *BillingService) GetAll(ctx context.Context, status string) ([]*repository.BillingDocument, error) {
	return s.billingRepo.GetAll(ctx, status)
}
