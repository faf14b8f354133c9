package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/pharmaflow/pharmaflow-backend/pkg/database"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
)

// Inward receipt statuses
const (
	InwardStatusPending   = "pending"
	InwardStatusCompleted = "completed"
	InwardStatusCancelled = "cancelled"
)

// InwardReceipt is a goods receipt. Completing it is what creates stock:
// one lot per item.
type InwardReceipt struct {
	ID            string          `db:"id" json:"id"`
	InwardNo      string          `db:"inward_no" json:"inward_no"`
	OrderID       *string         `db:"order_id" json:"order_id,omitempty"`
	VendorID      *string         `db:"vendor_id" json:"vendor_id,omitempty"`
	ReceivedAt    time.Time       `db:"received_at" json:"received_at"`
	TotalAmount   decimal.Decimal `db:"total_amount" json:"total_amount"`
	TotalQuantity decimal.Decimal `db:"total_quantity" json:"total_quantity"`
	Status        string          `db:"status" json:"status"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`

	Items []*InwardItem `db:"-" json:"items,omitempty"`
}

// InwardItem is one received product line
type InwardItem struct {
	ID             string          `db:"id" json:"id"`
	InwardID       string          `db:"inward_id" json:"inward_id"`
	ProductID      string          `db:"product_id" json:"product_id"`
	Quantity       decimal.Decimal `db:"quantity" json:"quantity"`
	UnitPrice      decimal.Decimal `db:"unit_price" json:"unit_price"`
	TotalPrice     decimal.Decimal `db:"total_price" json:"total_price"`
	BatchNumber    *string         `db:"batch_number" json:"batch_number,omitempty"`
	ExpiryDate     *time.Time      `db:"expiry_date" json:"expiry_date,omitempty"`
	UnusedQuantity decimal.Decimal `db:"unused_quantity" json:"unused_quantity"`
	ExcessQuantity decimal.Decimal `db:"excess_quantity" json:"excess_quantity"`
}

// InwardRepository handles inward receipt persistence
type InwardRepository struct {
	db *database.DB
}

// NewInwardRepository creates a new inward repository
func NewInwardRepository(db *database.DB) *InwardRepository {
	return &InwardRepository{db: db}
}

const inwardInsert = `
	INSERT INTO inward_receipts (
		id, inward_no, order_id, vendor_id, received_at,
		total_amount, total_quantity, status
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING created_at, updated_at
`

const inwardItemInsert = `
	INSERT INTO inward_items (
		id, inward_id, product_id, quantity, unit_price, total_price,
		batch_number, expiry_date, unused_quantity, excess_quantity
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

// CreateTx creates a receipt and its items inside the given transaction
func (r *InwardRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, inward *InwardReceipt) error {
	if inward.ID == "" {
		inward.ID = uuid.New().String()
	}
	if inward.ReceivedAt.IsZero() {
		inward.ReceivedAt = time.Now().UTC()
	}
	inward.Status = InwardStatusPending

	err := tx.QueryRowxContext(ctx, inwardInsert,
		inward.ID, inward.InwardNo, inward.OrderID, inward.VendorID,
		inward.ReceivedAt, inward.TotalAmount, inward.TotalQuantity,
		inward.Status,
	).Scan(&inward.CreatedAt, &inward.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	for _, item := range inward.Items {
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		item.InwardID = inward.ID

		_, err := tx.ExecContext(ctx, inwardItemInsert,
			item.ID, item.InwardID, item.ProductID, item.Quantity,
			item.UnitPrice, item.TotalPrice, item.BatchNumber,
			item.ExpiryDate, item.UnusedQuantity, item.ExcessQuantity,
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

// GetByID gets a receipt with its items
func (r *InwardRepository) GetByID(ctx context.Context, id string) (*InwardReceipt, error) {
	var inward InwardReceipt
	query := `SELECT * FROM inward_receipts WHERE id = $1`
	if err := r.db.GetContext(ctx, &inward, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("inward receipt")
		}
		return nil, err
	}

	items, err := r.listItems(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	inward.Items = items

	return &inward, nil
}

// GetByIDTx gets a receipt with its items, row-locked for update. The row
// lock makes the complete transition single-winner under concurrency.
func (r *InwardRepository) GetByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*InwardReceipt, error) {
	var inward InwardReceipt
	query := `SELECT * FROM inward_receipts WHERE id = $1 FOR UPDATE`
	if err := sqlx.GetContext(ctx, tx, &inward, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("inward receipt")
		}
		return nil, err
	}

	items, err := r.listItems(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	inward.Items = items

	return &inward, nil
}

func (r *InwardRepository) listItems(ctx context.Context, q sqlx.QueryerContext, inwardID string) ([]*InwardItem, error) {
	var items []*InwardItem
	query := `SELECT * FROM inward_items WHERE inward_id = $1 ORDER BY id`
	if err := sqlx.SelectContext(ctx, q, &items, query, inwardID); err != nil {
		return nil, err
	}
	return items, nil
}

// GetAll lists receipts, newest first. Items are not loaded.
func (r *InwardRepository) GetAll(ctx context.Context, status string) ([]*InwardReceipt, error) {
	var inwards []*InwardReceipt

	query := `SELECT * FROM inward_receipts ORDER BY created_at DESC`
	args := []interface{}{}
	if status != "" {
		query = `SELECT * FROM inward_receipts WHERE status = $1 ORDER BY created_at DESC`
		args = append(args, status)
	}

	if err := r.db.SelectContext(ctx, &inwards, query, args...); err != nil {
		return nil, err
	}
	return inwards, nil
}

// ListByOrder lists receipts referencing a purchase order
func (r *InwardRepository) ListByOrder(ctx context.Context, orderID string) ([]*InwardReceipt, error) {
	var inwards []*InwardReceipt
	query := `SELECT * FROM inward_receipts WHERE order_id = $1 ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &inwards, query, orderID); err != nil {
		return nil, err
	}
	return inwards, nil
}

// UpdateStatus sets a receipt's status
func (r *InwardRepository) UpdateStatus(ctx context.Context, tx *sqlx.Tx, id, status string) error {
	query := `UPDATE inward_receipts SET status = $2, updated_at = NOW() WHERE id = $1`
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
		return errors.NotFound("inward receipt")
	}
	return nil
}

// UpdateItemCounters writes the unused and excess quantities on an item
func (r *InwardRepository) UpdateItemCounters(ctx context.Context, tx *sqlx.Tx, item *InwardItem) error {
	query := `
		UPDATE inward_items
		SET unused_quantity = $2, excess_quantity = $3
		WHERE id = $1
	`
	result, err := tx.ExecContext(ctx, query, item.ID, item.UnusedQuantity, item.ExcessQuantity)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.NotFound("inward item")
	}
	return nil
}
