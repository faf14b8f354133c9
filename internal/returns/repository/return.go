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

// Return types
const (
	ReturnTypeCustomer = "customer"
	ReturnTypePartial  = "partial"
)

// Return statuses. The state machine is pending -> processed | cancelled;
// processed, cancelled and deleted are terminal. Deletion is a status, not
// a row removal, so the document history stays append-only.
const (
	ReturnStatusPending   = "pending"
	ReturnStatusProcessed = "processed"
	ReturnStatusCancelled = "cancelled"
	ReturnStatusDeleted   = "deleted"
)

// Return is a return document. Partial returns reference the billing
// document whose allocations they credit; customer returns bring goods in
// from outside and create fresh lots when processed.
type Return struct {
	ID         string    `db:"id" json:"id"`
	ReturnNo   string    `db:"return_no" json:"return_no"`
	ReturnType string    `db:"return_type" json:"return_type"`
	BillingID  *string   `db:"billing_id" json:"billing_id,omitempty"`
	VendorID   *string   `db:"vendor_id" json:"vendor_id,omitempty"`
	Status     string    `db:"status" json:"status"`
	Reason     *string   `db:"reason" json:"reason,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`

	Items []*ReturnItem `db:"-" json:"items,omitempty"`
}

// ReturnItem is one returned product line. LotIDs names the lots the credit
// goes back to, in order; an item without lot linkage creates a new lot
// when the return is processed.
type ReturnItem struct {
	ID         string          `db:"id" json:"id"`
	ReturnID   string          `db:"return_id" json:"return_id"`
	ProductID  string          `db:"product_id" json:"product_id"`
	Quantity   decimal.Decimal `db:"quantity" json:"quantity"`
	UnitPrice  decimal.Decimal `db:"unit_price" json:"unit_price"`
	TaxAmount  decimal.Decimal `db:"tax_amount" json:"tax_amount"`
	TotalPrice decimal.Decimal `db:"total_price" json:"total_price"`
	Reason     *string         `db:"reason" json:"reason,omitempty"`
	LotIDs     pq.StringArray  `db:"lot_ids" json:"lot_ids"`
}

// ReturnRepository handles return persistence
type ReturnRepository struct {
	db *database.DB
}

// NewReturnRepository creates a new return repository
func NewReturnRepository(db *database.DB) *ReturnRepository {
	return &ReturnRepository{db: db}
}

const returnInsert = `
	INSERT INTO returns (
		id, return_no, return_type, billing_id, vendor_id, status, reason
	) VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING created_at, updated_at
`

const returnItemInsert = `
	INSERT INTO return_items (
		id, return_id, product_id, quantity, unit_price, tax_amount,
		total_price, reason, lot_ids
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

// CreateTx creates a return and its items inside the given transaction
func (r *ReturnRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, ret *Return) error {
	if ret.ID == "" {
		ret.ID = uuid.New().String()
	}
	ret.Status = ReturnStatusPending

	err := tx.QueryRowxContext(ctx, returnInsert,
		ret.ID, ret.ReturnNo, ret.ReturnType, ret.BillingID, ret.VendorID,
		ret.Status, ret.Reason,
	).Scan(&ret.CreatedAt, &ret.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	return r.insertItems(ctx, tx, ret.ID, ret.Items)
}

func (r *ReturnRepository) insertItems(ctx context.Context, tx *sqlx.Tx, returnID string, items []*ReturnItem) error {
	for _, item := range items {
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		item.ReturnID = returnID
		if item.LotIDs == nil {
			item.LotIDs = pq.StringArray{}
		}

		_, err := tx.ExecContext(ctx, returnItemInsert,
			item.ID, item.ReturnID, item.ProductID, item.Quantity,
			item.UnitPrice, item.TaxAmount, item.TotalPrice, item.Reason,
			item.LotIDs,
		)
		if err != nil {
			if appErr := database.MapPQError(err); appErr != nil {
				return appErr
			}
			return err
		}
	}
	return nil
}

// GetByID gets a return with its items
func (r *ReturnRepository) GetByID(ctx context.Context, id string) (*Return, error) {
	var ret Return
	query := `SELECT * FROM returns WHERE id = $1`
	if err := r.db.GetContext(ctx, &ret, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("return")
		}
		return nil, err
	}

	items, err := r.listItems(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	ret.Items = items

	return &ret, nil
}

// GetByIDTx gets a return with its items, row-locked for update. The lock
// makes the process transition single-winner under concurrency.
func (r *ReturnRepository) GetByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*Return, error) {
	var ret Return
	query := `SELECT * FROM returns WHERE id = $1 FOR UPDATE`
	if err := sqlx.GetContext(ctx, tx, &ret, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("return")
		}
		return nil, err
	}

	items, err := r.listItems(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	ret.Items = items

	return &ret, nil
}

func (r *ReturnRepository) listItems(ctx context.Context, q sqlx.QueryerContext, returnID string) ([]*ReturnItem, error) {
	var items []*ReturnItem
	query := `SELECT * FROM return_items WHERE return_id = $1 ORDER BY id`
	if err := sqlx.SelectContext(ctx, q, &items, query, returnID); err != nil {
		return nil, err
	}
	return items, nil
}

// GetAll lists returns, newest first, deleted returns excluded. Items are
// not loaded.
func (r *ReturnRepository) GetAll(ctx context.Context, status string) ([]*Return, error) {
	var rets []*Return

	query := `SELECT * FROM returns WHERE status <> 'deleted' ORDER BY created_at DESC`
	args := []interface{}{}
	if status != "" {
		query = `SELECT * FROM returns WHERE status = $1 ORDER BY created_at DESC`
		args = append(args, status)
	}

	if err := r.db.SelectContext(ctx, &rets, query, args...); err != nil {
		return nil, err
	}
	return rets, nil
}

// UpdateHeader updates the mutable header fields of a pending return
func (r *ReturnRepository) UpdateHeader(ctx context.Context, tx *sqlx.Tx, ret *Return) error {
	query := `
		UPDATE returns
		SET billing_id = $2, vendor_id = $3, reason = $4, updated_at = NOW()
		WHERE id = $1
	`
	result, err := tx.ExecContext(ctx, query, ret.ID, ret.BillingID, ret.VendorID, ret.Reason)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.NotFound("return")
	}
	return nil
}

// ReplaceItems deletes and reinserts a return's items
func (r *ReturnRepository) ReplaceItems(ctx context.Context, tx *sqlx.Tx, returnID string, items []*ReturnItem) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM return_items WHERE return_id = $1`, returnID); err != nil {
		return err
	}
	return r.insertItems(ctx, tx, returnID, items)
}

// UpdateStatus sets a return's status
func (r *ReturnRepository) UpdateStatus(ctx context.Context, tx *sqlx.Tx, id, status string) error {
	query := `UPDATE returns SET status = $2, updated_at = NOW() WHERE id = $1`
	result, err := tx.ExecContext(ctx, query, id, status)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.NotFound("return")
	}
	return nil
}
