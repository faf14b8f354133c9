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

// Billing document statuses
const (
	BillingStatusDraft     = "draft"
	BillingStatusFinalized = "finalized"
	BillingStatusCancelled = "cancelled"
)

// Payment statuses
const (
	PaymentStatusUnpaid  = "unpaid"
	PaymentStatusPartial = "partial"
	PaymentStatusPaid    = "paid"
)

// BillingDocument is a consumption document. Finalizing it allocates stock
// for every line item; after that it is immutable except through returns.
type BillingDocument struct {
	ID            string          `db:"id" json:"id"`
	BillNo        string          `db:"bill_no" json:"bill_no"`
	TotalAmount   decimal.Decimal `db:"total_amount" json:"total_amount"`
	PaymentStatus string          `db:"payment_status" json:"payment_status"`
	Status        string          `db:"status" json:"status"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`

	Items []*BillingItem `db:"-" json:"items,omitempty"`
}

// BillingItem is one consumed product line. CostOfGoods is the FIFO cost of
// the stock allocated for it, written at finalize time.
type BillingItem struct {
	ID          string          `db:"id" json:"id"`
	BillingID   string          `db:"billing_id" json:"billing_id"`
	ProductID   string          `db:"product_id" json:"product_id"`
	Quantity    decimal.Decimal `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	TotalPrice  decimal.Decimal `db:"total_price" json:"total_price"`
	Discount    decimal.Decimal `db:"discount" json:"discount"`
	Tax         decimal.Decimal `db:"tax" json:"tax"`
	CostOfGoods decimal.Decimal `db:"cost_of_goods" json:"cost_of_goods"`
}

// BillingRepository handles billing document persistence
type BillingRepository struct {
	db *database.DB
}

// NewBillingRepository creates a new billing repository
func NewBillingRepository(db *database.DB) *BillingRepository {
	return &BillingRepository{db: db}
}

const billingInsert = `
	INSERT INTO billing_documents (
		id, bill_no, total_amount, payment_status, status
	) VALUES ($1, $2, $3, $4, $5)
	RETURNING created_at, updated_at
`

const billingItemInsert = `
	INSERT INTO billing_items (
		id, billing_id, product_id, quantity, unit_price, total_price,
		discount, tax, cost_of_goods
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

// CreateTx creates a billing document and its items inside the given transaction
func (r *BillingRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, doc *BillingDocument) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.PaymentStatus == "" {
		doc.PaymentStatus = PaymentStatusUnpaid
	}
	if doc.Status == "" {
		doc.Status = BillingStatusDraft
	}

	err := tx.QueryRowxContext(ctx, billingInsert,
		doc.ID, doc.BillNo, doc.TotalAmount, doc.PaymentStatus, doc.Status,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	for _, item := range doc.Items {
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		item.BillingID = doc.ID

		_, err := tx.ExecContext(ctx, billingItemInsert,
			item.ID, item.BillingID, item.ProductID, item.Quantity,
			item.UnitPrice, item.TotalPrice, item.Discount, item.Tax,
			item.CostOfGoods,
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

// GetByID gets a billing document with its items
func (r *BillingRepository) GetByID(ctx context.Context, id string) (*BillingDocument, error) {
	var doc BillingDocument
	query := `SELECT * FROM billing_documents WHERE id = $1`
	if err := r.db.GetContext(ctx, &doc, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("billing document")
		}
		return nil, err
	}

	items, err := r.listItems(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	doc.Items = items

	return &doc, nil
}

func (r *BillingRepository) listItems(ctx context.Context, q sqlx.QueryerContext, billingID string) ([]*BillingItem, error) {
	var items []*BillingItem
	query := `SELECT * FROM billing_items WHERE billing_id = $1 ORDER BY id`
	if err := sqlx.SelectContext(ctx, q, &items, query, billingID); err != nil {
		return nil, err
	}
	return items, nil
}

// GetAll lists billing documents, newest first. Items are not loaded.
func (r *BillingRepository) GetAll(ctx context.Context, status string) ([]*BillingDocument, error) {
	var docs []*BillingDocument

	query := `SELECT * FROM billing_documents ORDER BY created_at DESC`
	args := []interface{}{}
	if status != "" {
		query = `SELECT * FROM billing_documents WHERE status = $1 ORDER BY created_at DESC`
		args = append(args, status)
	}

	if err := r.db.SelectContext(ctx, &docs, query, args...); err != nil {
		return nil, err
	}
	return docs, nil
}

// UpdateItemCostOfGoods writes the FIFO cost computed at finalize time
func (r *BillingRepository) UpdateItemCostOfGoods(ctx context.Context, tx *sqlx.Tx, itemID string, cost decimal.Decimal) error {
	query := `UPDATE billing_items SET cost_of_goods = $2 WHERE id = $1`
	result, err := tx.ExecContext(ctx, query, itemID, cost)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.NotFound("billing item")
	}
	return nil
}
