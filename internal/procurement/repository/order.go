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

// Purchase order statuses
const (
	OrderStatusPending   = "pending"
	OrderStatusApproved  = "approved"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

// Order item statuses
const (
	OrderItemStatusPending  = "pending"
	OrderItemStatusPartial  = "partial"
	OrderItemStatusReceived = "received"
)

// PurchaseOrder represents a vendor purchase order
type PurchaseOrder struct {
	ID            string          `db:"id" json:"id"`
	PONo          string          `db:"po_no" json:"po_no"`
	VendorID      string          `db:"vendor_id" json:"vendor_id"`
	TotalAmount   decimal.Decimal `db:"total_amount" json:"total_amount"`
	TotalQuantity decimal.Decimal `db:"total_quantity" json:"total_quantity"`
	Status        string          `db:"status" json:"status"`
	IsActive      bool            `db:"is_active" json:"is_active"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`

	Items []*PurchaseOrderItem `db:"-" json:"items,omitempty"`
}

// PurchaseOrderItem is one product line on a purchase order. The received,
// unused and excess counters track fulfillment against inward receipts.
type PurchaseOrderItem struct {
	ID               string          `db:"id" json:"id"`
	OrderID          string          `db:"order_id" json:"order_id"`
	ProductID        string          `db:"product_id" json:"product_id"`
	Quantity         decimal.Decimal `db:"quantity" json:"quantity"`
	UnitPrice        decimal.Decimal `db:"unit_price" json:"unit_price"`
	TotalPrice       decimal.Decimal `db:"total_price" json:"total_price"`
	TaxAmount        decimal.Decimal `db:"tax_amount" json:"tax_amount"`
	ReceivedQuantity decimal.Decimal `db:"received_quantity" json:"received_quantity"`
	UnusedQuantity   decimal.Decimal `db:"unused_quantity" json:"unused_quantity"`
	ExcessQuantity   decimal.Decimal `db:"excess_quantity" json:"excess_quantity"`
	Status           string          `db:"status" json:"status"`
}

// OrderRepository handles purchase order persistence
type OrderRepository struct {
	db *database.DB
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *database.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderInsert = `
	INSERT INTO purchase_orders (
		id, po_no, vendor_id, total_amount, total_quantity, status, is_active
	) VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING created_at, updated_at
`

const orderItemInsert = `
	INSERT INTO purchase_order_items (
		id, order_id, product_id, quantity, unit_price, total_price,
		tax_amount, received_quantity, unused_quantity, excess_quantity, status
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

// CreateTx creates an order and its items inside the given transaction
func (r *OrderRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, order *PurchaseOrder) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	order.Status = OrderStatusPending
	order.IsActive = true

	err := tx.QueryRowxContext(ctx, orderInsert,
		order.ID, order.PONo, order.VendorID, order.TotalAmount,
		order.TotalQuantity, order.Status, order.IsActive,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	for _, item := range order.Items {
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		item.OrderID = order.ID
		item.Status = OrderItemStatusPending

		_, err := tx.ExecContext(ctx, orderItemInsert,
			item.ID, item.OrderID, item.ProductID, item.Quantity,
			item.UnitPrice, item.TotalPrice, item.TaxAmount,
			item.ReceivedQuantity, item.UnusedQuantity, item.ExcessQuantity,
			item.Status,
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

// GetByID gets an order with its items
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*PurchaseOrder, error) {
	var order PurchaseOrder
	query := `SELECT * FROM purchase_orders WHERE id = $1 AND is_active = TRUE`
	if err := r.db.GetContext(ctx, &order, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("purchase order")
		}
		return nil, err
	}

	items, err := r.listItems(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return &order, nil
}

// GetByIDTx gets an order with its items, row-locked for update
func (r *OrderRepository) GetByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*PurchaseOrder, error) {
	var order PurchaseOrder
	query := `SELECT * FROM purchase_orders WHERE id = $1 AND is_active = TRUE FOR UPDATE`
	if err := sqlx.GetContext(ctx, tx, &order, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("purchase order")
		}
		return nil, err
	}

	items, err := r.listItems(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return &order, nil
}

func (r *OrderRepository) listItems(ctx context.Context, q sqlx.QueryerContext, orderID string) ([]*PurchaseOrderItem, error) {
	var items []*PurchaseOrderItem
	query := `SELECT * FROM purchase_order_items WHERE order_id = $1 ORDER BY id`
	if err := sqlx.SelectContext(ctx, q, &items, query, orderID); err != nil {
		return nil, err
	}
	return items, nil
}

// GetAll lists orders, newest first. Items are not loaded.
func (r *OrderRepository) GetAll(ctx context.Context, status string) ([]*PurchaseOrder, error) {
	var orders []*PurchaseOrder

	query := `SELECT * FROM purchase_orders WHERE is_active = TRUE ORDER BY created_at DESC`
	args := []interface{}{}
	if status != "" {
		query = `SELECT * FROM purchase_orders WHERE is_active = TRUE AND status = $1 ORDER BY created_at DESC`
		args = append(args, status)
	}

	if err := r.db.SelectContext(ctx, &orders, query, args...); err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateHeader updates the mutable header fields of a pending order
func (r *OrderRepository) UpdateHeader(ctx context.Context, tx *sqlx.Tx, order *PurchaseOrder) error {
	query := `
		UPDATE purchase_orders
		SET vendor_id = $2, total_amount = $3, total_quantity = $4, updated_at = NOW()
		WHERE id = $1 AND is_active = TRUE
	`
	result, err := tx.ExecContext(ctx, query, order.ID, order.VendorID, order.TotalAmount, order.TotalQuantity)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.NotFound("purchase order")
	}
	return nil
}

// ReplaceItems deletes and reinserts an order's items
func (r *OrderRepository) ReplaceItems(ctx context.Context, tx *sqlx.Tx, orderID string, items []*PurchaseOrderItem) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM purchase_order_items WHERE order_id = $1`, orderID); err != nil {
		return err
	}

	for _, item := range items {
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		item.OrderID = orderID
		item.Status = OrderItemStatusPending

		_, err := tx.ExecContext(ctx, orderItemInsert,
			item.ID, item.OrderID, item.ProductID, item.Quantity,
			item.UnitPrice, item.TotalPrice, item.TaxAmount,
			item.ReceivedQuantity, item.UnusedQuantity, item.ExcessQuantity,
			item.Status,
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

// UpdateStatus sets an order's status
func (r *OrderRepository) UpdateStatus(ctx context.Context, tx *sqlx.Tx, id, status string) error {
	query := `UPDATE purchase_orders SET status = $2, updated_at = NOW() WHERE id = $1 AND is_active = TRUE`
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
		return errors.NotFound("purchase order")
	}
	return nil
}

// UpdateItemFulfillment writes the received, unused and excess counters and
// the derived item status after an inward receipt completes
func (r *OrderRepository) UpdateItemFulfillment(ctx context.Context, tx *sqlx.Tx, item *PurchaseOrderItem) error {
	query := `
		UPDATE purchase_order_items
		SET received_quantity = $2, unused_quantity = $3, excess_quantity = $4, status = $5
		WHERE id = $1
	`
	result, err := tx.ExecContext(ctx, query,
		item.ID, item.ReceivedQuantity, item.UnusedQuantity, item.ExcessQuantity, item.Status,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.NotFound("purchase order item")
	}
	return nil
}

// CountCompletedInwards counts completed inward receipts referencing an order
func (r *OrderRepository) CountCompletedInwards(ctx context.Context, orderID string) (int, error) {
	return r.countCompletedInwards(ctx, r.db, orderID)
}

// CountCompletedInwardsTx is the transaction-scoped variant
func (r *OrderRepository) CountCompletedInwardsTx(ctx context.Context, tx *sqlx.Tx, orderID string) (int, error) {
	return r.countCompletedInwards(ctx, tx, orderID)
}

func (r *OrderRepository) countCompletedInwards(ctx context.Context, q sqlx.QueryerContext, orderID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM inward_receipts WHERE order_id = $1 AND status = 'completed'`
	if err := sqlx.GetContext(ctx, q, &count, query, orderID); err != nil {
		return 0, err
	}
	return count, nil
}
