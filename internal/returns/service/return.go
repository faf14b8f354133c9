package service

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	procrepo "github.com/pharmaflow/pharmaflow-backend/internal/procurement/repository"
	"github.com/pharmaflow/pharmaflow-backend/internal/returns/events"
	"github.com/pharmaflow/pharmaflow-backend/internal/returns/repository"
	stockevents "github.com/pharmaflow/pharmaflow-backend/internal/stock/events"
	stockrepo "github.com/pharmaflow/pharmaflow-backend/internal/stock/repository"
	stockservice "github.com/pharmaflow/pharmaflow-backend/internal/stock/service"
	"github.com/pharmaflow/pharmaflow-backend/pkg/database"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
	"github.com/pharmaflow/pharmaflow-backend/pkg/messaging"
)

// ReturnService manages return documents. Processing a return credits
// lot-linked items back to their originating lots and turns customer items
// into fresh lots; both happen in one transaction with the status
// transition, so a return can never half-apply.
type ReturnService struct {
	db             *database.DB
	returnRepo     *repository.ReturnRepository
	allocRepo      *stockrepo.AllocationRepository
	lotRepo        *stockrepo.LotRepository
	seqRepo        *procrepo.SequenceRepository
	allocator      *stockservice.Allocator
	publisher      *events.ReturnEventPublisher
	stockPublisher *stockevents.StockEventPublisher
	logger         *logger.Logger
}

// NewReturnService creates a new return service
func NewReturnService(
	db *database.DB,
	returnRepo *repository.ReturnRepository,
	allocRepo *stockrepo.AllocationRepository,
	lotRepo *stockrepo.LotRepository,
	seqRepo *procrepo.SequenceRepository,
	allocator *stockservice.Allocator,
	publisher *events.ReturnEventPublisher,
	stockPublisher *stockevents.StockEventPublisher,
	log *logger.Logger,
) *ReturnService {
	return &ReturnService{
		db:             db,
		returnRepo:     returnRepo,
		allocRepo:      allocRepo,
		lotRepo:        lotRepo,
		seqRepo:        seqRepo,
		allocator:      allocator,
		publisher:      publisher,
		stockPublisher: stockPublisher,
		logger:         log,
	}
}

func (s *ReturnService) validate(ctx context.Context, ret *repository.Return) error {
	if len(ret.Items) == 0 {
		return errors.BadRequest("return must have at least one item")
	}

	switch ret.ReturnType {
	case repository.ReturnTypeCustomer, repository.ReturnTypePartial:
	default:
		return errors.BadRequest(fmt.Sprintf("unknown return type %q", ret.ReturnType))
	}

	if ret.ReturnType == repository.ReturnTypePartial && ret.BillingID == nil {
		return errors.BadRequest("partial return requires a billing document reference")
	}

	for _, item := range ret.Items {
		if item.Quantity.LessThanOrEqual(decimal.Zero) {
			return errors.InvalidQuantity(fmt.Sprintf("item quantity for product %s must be positive", item.ProductID))
		}

		if ret.ReturnType == repository.ReturnTypePartial {
			if len(item.LotIDs) == 0 {
				return errors.BadRequest(fmt.Sprintf("partial return item for product %s must reference lots", item.ProductID))
			}
			outstanding, err := s.allocRepo.SumOutstandingForLots(ctx, item.LotIDs, ret.BillingID)
			if err != nil {
				return err
			}
			if item.Quantity.GreaterThan(outstanding) {
				return errors.OverReturn(fmt.Sprintf(
					"requested %s of product %s exceeds the %s still allocated from the referenced lots",
					item.Quantity, item.ProductID, outstanding,
				))
			}
		}
	}

	return nil
}

// Create validates and persists a new return as pending. Partial returns
// are checked against the unreversed allocation quantity of their lots; the
// authoritative check runs again with row locks at process time.
func (s *ReturnService) Create(ctx context.Context, ret *repository.Return) error {
	if err := s.validate(ctx, ret); err != nil {
		return err
	}

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		returnNo, err := s.seqRepo.NextTx(ctx, tx, procrepo.SeqReturn)
		if err != nil {
			return err
		}
		ret.ReturnNo = returnNo

		return s.returnRepo.CreateTx(ctx, tx, ret)
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("return_id", ret.ID).Str("return_no", ret.ReturnNo).Msg("return created")
	s.publisher.Publish(ctx, messaging.EventReturnCreated, ret, nil)

	return nil
}

// Update replaces the header and items of a pending return
func (s *ReturnService) Update(ctx context.Context, ret *repository.Return) error {
	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		existing, err := s.returnRepo.GetByIDTx(ctx, tx, ret.ID)
		if err != nil {
			return err
		}
		if existing.Status != repository.ReturnStatusPending {
			return errors.InvalidState(fmt.Sprintf("return %s is %s and cannot be updated", existing.ReturnNo, existing.Status))
		}

		ret.ReturnNo = existing.ReturnNo
		ret.ReturnType = existing.ReturnType
		if err := s.validate(ctx, ret); err != nil {
			return err
		}

		if err := s.returnRepo.UpdateHeader(ctx, tx, ret); err != nil {
			return err
		}
		return s.returnRepo.ReplaceItems(ctx, tx, ret.ID, ret.Items)
	})
	if err != nil {
		return err
	}

	ret.Status = repository.ReturnStatusPending
	return nil
}

// lotCredit records one lot-level stock credit for post-commit events
type lotCredit struct {
	productID string
	lotID     string
	quantity  decimal.Decimal
}

// Process transitions a pending return to processed and applies its stock
// effect: lot-linked items credit their lots in the listed order through the
// originating allocations, other items create fresh lots with
// source='return'. A processed return fails with AlreadyProcessed and moves
// no stock; cancelled and deleted returns fail with InvalidState.
func (s *ReturnService) Process(ctx context.Context, id string) (*repository.Return, error) {
	pending, err := s.returnRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	productIDs := make([]string, 0, len(pending.Items))
	for _, item := range pending.Items {
		productIDs = append(productIDs, item.ProductID)
	}

	release, err := s.allocator.LockProducts(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	defer release()

	var ret *repository.Return
	var credits []lotCredit
	var created []*stockrepo.Lot

	err = s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		existing, err := s.returnRepo.GetByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}

		switch existing.Status {
		case repository.ReturnStatusProcessed:
			return errors.AlreadyProcessed("return")
		case repository.ReturnStatusCancelled, repository.ReturnStatusDeleted:
			return errors.InvalidState(fmt.Sprintf("return %s is %s and cannot be processed", existing.ReturnNo, existing.Status))
		}

		for _, item := range existing.Items {
			if len(item.LotIDs) > 0 {
				itemCredits, err := s.creditLots(ctx, tx, existing, item)
				if err != nil {
					return err
				}
				credits = append(credits, itemCredits...)
				continue
			}

			lot := &stockrepo.Lot{
				ProductID:        item.ProductID,
				Source:           stockrepo.LotSourceReturn,
				UnitPrice:        item.UnitPrice,
				OriginalQuantity: item.Quantity,
			}
			if err := s.lotRepo.CreateTx(ctx, tx, lot); err != nil {
				return err
			}
			created = append(created, lot)
		}

		if err := s.returnRepo.UpdateStatus(ctx, tx, id, repository.ReturnStatusProcessed); err != nil {
			return err
		}

		existing.Status = repository.ReturnStatusProcessed
		ret = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	lotIDs := make([]string, 0, len(credits)+len(created))
	for _, credit := range credits {
		lotIDs = append(lotIDs, credit.lotID)
		s.stockPublisher.PublishStockReversed(ctx, credit.productID, credit.lotID, ret.ID, credit.quantity)
	}
	for _, lot := range created {
		lotIDs = append(lotIDs, lot.ID)
		s.stockPublisher.PublishLotCreated(ctx, lot)
	}

	s.logger.Info().
		Str("return_id", id).
		Str("return_no", ret.ReturnNo).
		Int("lots", len(lotIDs)).
		Msg("return processed")
	s.publisher.Publish(ctx, messaging.EventReturnProcessed, ret, lotIDs)

	return ret, nil
}

// creditLots walks the item's lots in the listed order and reverses the
// originating allocations until the item quantity is covered. Running out
// of unreversed allocation before that is an OverReturn; the transaction
// rolls the partial credits back.
func (s *ReturnService) creditLots(ctx context.Context, tx *sqlx.Tx, ret *repository.Return, item *repository.ReturnItem) ([]lotCredit, error) {
	allocs, err := s.allocRepo.ListForLotsTx(ctx, tx, item.LotIDs, ret.BillingID)
	if err != nil {
		return nil, err
	}

	byLot := make(map[string][]*stockrepo.Allocation, len(item.LotIDs))
	for _, alloc := range allocs {
		byLot[alloc.LotID] = append(byLot[alloc.LotID], alloc)
	}

	needed := item.Quantity
	var credits []lotCredit

	for _, lotID := range item.LotIDs {
		for _, alloc := range byLot[lotID] {
			if needed.IsZero() {
				break
			}
			outstanding := alloc.Outstanding()
			if outstanding.LessThanOrEqual(decimal.Zero) {
				continue
			}

			credit := decimal.Min(outstanding, needed)
			if err := s.allocator.ReverseTx(ctx, tx, alloc, credit); err != nil {
				return nil, err
			}

			credits = append(credits, lotCredit{
				productID: alloc.ProductID,
				lotID:     lotID,
				quantity:  credit,
			})
			needed = needed.Sub(credit)
		}
	}

	if needed.GreaterThan(decimal.Zero) {
		return nil, errors.OverReturn(fmt.Sprintf(
			"return %s: %s of product %s exceeds the unreversed allocation of the referenced lots",
			ret.ReturnNo, item.Quantity, item.ProductID,
		))
	}

	return credits, nil
}

// Cancel cancels a pending return. No stock moves.
func (s *ReturnService) Cancel(ctx context.Context, id string) error {
	var ret *repository.Return

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		existing, err := s.returnRepo.GetByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}

		switch existing.Status {
		case repository.ReturnStatusCancelled:
			return errors.AlreadyProcessed("return cancellation")
		case repository.ReturnStatusProcessed, repository.ReturnStatusDeleted:
			return errors.InvalidState(fmt.Sprintf("return %s is %s and cannot be cancelled", existing.ReturnNo, existing.Status))
		}

		if err := s.returnRepo.UpdateStatus(ctx, tx, id, repository.ReturnStatusCancelled); err != nil {
			return err
		}

		existing.Status = repository.ReturnStatusCancelled
		ret = existing
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("return_id", id).Str("return_no", ret.ReturnNo).Msg("return cancelled")
	s.publisher.Publish(ctx, messaging.EventReturnCancelled, ret, nil)

	return nil
}

// Delete marks a return deleted. This is a visibility change only: deleting
// a processed return does not reverse the stock credit it applied.
func (s *ReturnService) Delete(ctx context.Context, id string) error {
	return s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		existing, err := s.returnRepo.GetByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if existing.Status == repository.ReturnStatusDeleted {
			return errors.NotFound("return")
		}

		return s.returnRepo.UpdateStatus(ctx, tx, id, repository.ReturnStatusDeleted)
	})
}

// GetByID gets a return with its items
func (s *ReturnService) GetByID(ctx context.Context, id string) (*repository.Return, error) {
	return s.returnRepo.GetByID(ctx, id)
}

// GetAll lists returns, optionally filtered by status
func (s *ReturnService) GetAll(ctx context.Context, status string) ([]*repository.Return, error) {
	return s.returnRepo.GetAll(ctx, status)
}
