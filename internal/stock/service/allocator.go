package service

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/events"
	"github.com/pharmaflow/pharmaflow-backend/internal/stock/repository"
	"github.com/pharmaflow/pharmaflow-backend/pkg/database"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
	"github.com/pharmaflow/pharmaflow-backend/pkg/locking"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
)

// Allocator is the FIFO allocation engine. It is the only component that
// debits lot quantities; the return processor credits them back through
// ReverseTx. All mutations for one product are serialized by the per-product
// lock and by row locks on the lots themselves.
type Allocator struct {
	db        *database.DB
	lotRepo   *repository.LotRepository
	allocRepo *repository.AllocationRepository
	locks     *locking.KeyedMutex
	publisher *events.StockEventPublisher
	logger    *logger.Logger
}

// NewAllocator creates a new allocation engine
func NewAllocator(
	db *database.DB,
	lotRepo *repository.LotRepository,
	allocRepo *repository.AllocationRepository,
	locks *locking.KeyedMutex,
	publisher *events.StockEventPublisher,
	log *logger.Logger,
) *Allocator {
	return &Allocator{
		db:        db,
		lotRepo:   lotRepo,
		allocRepo: allocRepo,
		locks:     locks,
		publisher: publisher,
		logger:    log.WithComponent("allocator"),
	}
}

// LockProduct acquires the per-product stock lock. The wait is bounded by
// the configured lock timeout; contention surfaces as Busy rather than an
// indefinite hang.
func (a *Allocator) LockProduct(ctx context.Context, productID string) (release func(), err error) {
	release, err = a.locks.Acquire(ctx, productID)
	if err != nil {
		return nil, lockErr(err, productID)
	}
	return release, nil
}

// LockProducts acquires the stock locks for a set of products in sorted
// order, so documents touching overlapping product sets cannot deadlock.
func (a *Allocator) LockProducts(ctx context.Context, productIDs []string) (release func(), err error) {
	release, err = a.locks.AcquireAll(ctx, productIDs)
	if err != nil {
		return nil, lockErr(err, "product stock")
	}
	return release, nil
}

func lockErr(err error, resource string) error {
	if err == locking.ErrTimeout {
		return errors.Busy(resource)
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return err
	}
	return errors.Busy(resource)
}

// Allocate debits qty of productID from eligible lots in FIFO order inside
// its own transaction. On any failure no lot is left partially debited.
func (a *Allocator) Allocate(ctx context.Context, productID, billingItemID string, qty decimal.Decimal) ([]*repository.Allocation, error) {
	if qty.LessThanOrEqual(decimal.Zero) {
		return nil, errors.InvalidQuantity("allocation quantity must be positive")
	}

	release, err := a.LockProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	defer release()

	var allocs []*repository.Allocation
	err = a.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var txErr error
		allocs, txErr = a.AllocateTx(ctx, tx, productID, billingItemID, qty)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	a.publisher.PublishStockAllocated(ctx, productID, billingItemID, qty, len(allocs))
	return allocs, nil
}

// AllocateTx walks the product's eligible lots in FIFO order, drawing
// min(remaining, still needed) from each until the requested quantity is
// covered. Exhausting the lots first fails with InsufficientStock; the
// caller's transaction rollback undoes every decrement already applied, so
// the engine never leaves partially-debited lots behind.
//
// The caller must hold the product's stock lock.
func (a *Allocator) AllocateTx(ctx context.Context, tx *sqlx.Tx, productID, billingItemID string, qty decimal.Decimal) ([]*repository.Allocation, error) {
	if qty.LessThanOrEqual(decimal.Zero) {
		return nil, errors.InvalidQuantity("allocation quantity must be positive")
	}

	lots, err := a.lotRepo.GetEligibleForUpdate(ctx, tx, productID)
	if err != nil {
		return nil, err
	}

	needed := qty
	allocs := make([]*repository.Allocation, 0, 1)

	for _, lot := range lots {
		if !needed.IsPositive() {
			break
		}

		take := decimal.Min(lot.RemainingQuantity, needed)
		if !take.IsPositive() {
			continue
		}

		if _, err := a.lotRepo.AdjustRemaining(ctx, tx, lot.ID, take.Neg()); err != nil {
			return nil, err
		}

		alloc := &repository.Allocation{
			BillingItemID:         billingItemID,
			LotID:                 lot.ID,
			ProductID:             productID,
			Quantity:              take,
			UnitPriceAtAllocation: lot.UnitPrice,
			ReversedQuantity:      decimal.Zero,
		}
		if err := a.allocRepo.CreateTx(ctx, tx, alloc); err != nil {
			return nil, err
		}

		allocs = append(allocs, alloc)
		needed = needed.Sub(take)
	}

	if needed.IsPositive() {
		a.logger.Debug().
			Str("product_id", productID).
			Str("requested", qty.String()).
			Str("short_by", needed.String()).
			Msg("allocation failed, insufficient stock")
		return nil, errors.InsufficientStock("product " + productID + " is short by " + needed.String())
	}

	return allocs, nil
}

// ReverseTx credits qty of a previous allocation back onto its lot and
// records the reversal on the allocation itself. Crediting more than the
// allocation's outstanding quantity fails with OverReturn and mutates
// nothing.
//
// The caller must hold the product's stock lock and run inside a transaction.
func (a *Allocator) ReverseTx(ctx context.Context, tx *sqlx.Tx, alloc *repository.Allocation, qty decimal.Decimal) error {
	if qty.LessThanOrEqual(decimal.Zero) {
		return errors.InvalidQuantity("reversal quantity must be positive")
	}

	if err := a.allocRepo.AddReversedTx(ctx, tx, alloc.ID, qty); err != nil {
		return err
	}
	if _, err := a.lotRepo.AdjustRemaining(ctx, tx, alloc.LotID, qty); err != nil {
		return err
	}
	return nil
}
