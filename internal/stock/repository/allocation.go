package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/pharmaflow/pharmaflow-backend/pkg/database"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
)

// Allocation records how much quantity one billing line item drew from one
// lot, at the unit price the lot carried when it was consumed. The reversed
// quantity grows as linked returns credit stock back; it can never exceed
// the allocated quantity.
type Allocation struct {
	ID                    string          `db:"id" json:"id"`
	BillingItemID         string          `db:"billing_item_id" json:"billing_item_id"`
	LotID                 string          `db:"lot_id" json:"lot_id"`
	ProductID             string          `db:"product_id" json:"product_id"`
	Quantity              decimal.Decimal `db:"quantity" json:"quantity"`
	UnitPriceAtAllocation decimal.Decimal `db:"unit_price_at_allocation" json:"unit_price_at_allocation"`
	ReversedQuantity      decimal.Decimal `db:"reversed_quantity" json:"reversed_quantity"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
}

// Outstanding returns the allocated quantity not yet credited back by returns.
func (a *Allocation) Outstanding() decimal.Decimal {
	return a.Quantity.Sub(a.ReversedQuantity)
}

// CostOfGoods returns the realized cost of this allocation.
func (a *Allocation) CostOfGoods() decimal.Decimal {
	return a.Quantity.Mul(a.UnitPriceAtAllocation)
}

// AllocationRepository handles allocation persistence
type AllocationRepository struct {
	db *database.DB
}

// NewAllocationRepository creates a new allocation repository
func NewAllocationRepository(db *database.DB) *AllocationRepository {
	return &AllocationRepository{db: db}
}

// CreateTx persists an allocation row inside the caller's transaction.
func (r *AllocationRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, alloc *Allocation) error {
	if alloc.ID == "" {
		alloc.ID = uuid.New().String()
	}

	query := `
		INSERT INTO allocations (
			id, billing_item_id, lot_id, product_id, quantity,
			unit_price_at_allocation, reversed_quantity
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err := tx.QueryRowxContext(ctx, query,
		alloc.ID, alloc.BillingItemID, alloc.LotID, alloc.ProductID,
		alloc.Quantity, alloc.UnitPriceAtAllocation, alloc.ReversedQuantity,
	).Scan(&alloc.CreatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByID gets an allocation by ID
func (r *AllocationRepository) GetByID(ctx context.Context, id string) (*Allocation, error) {
	var alloc Allocation
	query := `SELECT * FROM allocations WHERE id = $1`
	if err := r.db.GetContext(ctx, &alloc, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("allocation")
		}
		return nil, err
	}
	return &alloc, nil
}

// ListByBillingItem lists the allocations made for one billing line item
func (r *AllocationRepository) ListByBillingItem(ctx context.Context, billingItemID string) ([]*Allocation, error) {
	var allocs []*Allocation
	query := `
		SELECT * FROM allocations
		WHERE billing_item_id = $1
		ORDER BY created_at, id
	`
	if err := r.db.SelectContext(ctx, &allocs, query, billingItemID); err != nil {
		return nil, err
	}
	return allocs, nil
}

// ListForLots returns the allocations that previously debited any of the
// given lots, oldest first. When billingID is set, only allocations belonging
// to that billing document are considered; this scopes a return's credit to
// the sale it reverses.
func (r *AllocationRepository) ListForLots(ctx context.Context, lotIDs []string, billingID *string) ([]*Allocation, error) {
	return r.listForLots(ctx, r.db, lotIDs, billingID, false)
}

// ListForLotsTx is ListForLots inside a transaction, locking the matched
// allocation rows so concurrent return processing cannot double-credit them.
func (r *AllocationRepository) ListForLotsTx(ctx context.Context, tx *sqlx.Tx, lotIDs []string, billingID *string) ([]*Allocation, error) {
	return r.listForLots(ctx, tx, lotIDs, billingID, true)
}

func (r *AllocationRepository) listForLots(ctx context.Context, q sqlx.QueryerContext, lotIDs []string, billingID *string, forUpdate bool) ([]*Allocation, error) {
	var allocs []*Allocation

	query := `
		SELECT a.* FROM allocations a
		WHERE a.lot_id = ANY($1)
	`
	args := []interface{}{pq.Array(lotIDs)}

	if billingID != nil {
		query += ` AND a.billing_item_id IN (SELECT id FROM billing_items WHERE billing_id = $2)`
		args = append(args, *billingID)
	}
	query += ` ORDER BY a.created_at, a.id`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	if err := sqlx.SelectContext(ctx, q, &allocs, query, args...); err != nil {
		return nil, err
	}
	return allocs, nil
}

// AddReversedTx bumps an allocation's reversed quantity. The guard keeps
// reversed_quantity within [0, quantity]; exceeding it means the return asks
// for more than was ever debited and fails with OverReturn.
func (r *AllocationRepository) AddReversedTx(ctx context.Context, tx *sqlx.Tx, allocationID string, qty decimal.Decimal) error {
	query := `
		UPDATE allocations SET
			reversed_quantity = reversed_quantity + $2
		WHERE id = $1
		  AND reversed_quantity + $2 <= quantity
	`
	result, err := tx.ExecContext(ctx, query, allocationID, qty)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.OverReturn("reversal of " + qty.String() + " exceeds outstanding quantity for allocation " + allocationID)
	}
	return nil
}

// SumOutstandingForLots returns the total quantity debited from the given
// lots and not yet reversed. Used to validate return items before accepting
// them.
func (r *AllocationRepository) SumOutstandingForLots(ctx context.Context, lotIDs []string, billingID *string) (decimal.Decimal, error) {
	allocs, err := r.ListForLots(ctx, lotIDs, billingID)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, alloc := range allocs {
		total = total.Add(alloc.Outstanding())
	}
	return total, nil
}
