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

// Lot sources
const (
	LotSourceInward = "inward"
	LotSourceReturn = "return"
)

// Lot represents one physical receipt of a product: a dated, priced batch
// whose remaining quantity is drawn down by allocation and credited back by
// returns. Lots are never deleted; exhausted or cancelled lots stay on the
// ledger as history.
type Lot struct {
	ID                string          `db:"id" json:"id"`
	ProductID         string          `db:"product_id" json:"product_id"`
	SourceInwardID    *string         `db:"source_inward_id" json:"source_inward_id,omitempty"`
	Source            string          `db:"source" json:"source"`
	BatchNumber       *string         `db:"batch_number" json:"batch_number,omitempty"`
	UnitPrice         decimal.Decimal `db:"unit_price" json:"unit_price"`
	ExpiryDate        *time.Time      `db:"expiry_date" json:"expiry_date,omitempty"`
	ReceivedAt        time.Time       `db:"received_at" json:"received_at"`
	OriginalQuantity  decimal.Decimal `db:"original_quantity" json:"original_quantity"`
	RemainingQuantity decimal.Decimal `db:"remaining_quantity" json:"remaining_quantity"`
	IsActive          bool            `db:"is_active" json:"is_active"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// ProductStock is an aggregated on-hand row for reporting.
type ProductStock struct {
	ProductID     string          `db:"product_id" json:"product_id"`
	OnHand        decimal.Decimal `db:"on_hand" json:"on_hand"`
	Valuation     decimal.Decimal `db:"valuation" json:"valuation"`
	NearestExpiry *time.Time      `db:"nearest_expiry" json:"nearest_expiry,omitempty"`
}

// LotRepository handles lot persistence
type LotRepository struct {
	db *database.DB
}

// NewLotRepository creates a new lot repository
func NewLotRepository(db *database.DB) *LotRepository {
	return &LotRepository{db: db}
}

const lotInsert = `
	INSERT INTO lots (
		id, product_id, source_inward_id, source, batch_number, unit_price,
		expiry_date, received_at, original_quantity, remaining_quantity, is_active
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	RETURNING created_at, updated_at
`

// Create creates a new lot. The remaining quantity always starts at the
// original quantity; only the allocation engine and the return processor
// move it afterwards.
func (r *LotRepository) Create(ctx context.Context, lot *Lot) error {
	return r.create(ctx, r.db, lot)
}

// CreateTx creates a new lot inside the given transaction.
func (r *LotRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, lot *Lot) error {
	return r.create(ctx, tx, lot)
}

func (r *LotRepository) create(ctx context.Context, q sqlx.QueryerContext, lot *Lot) error {
	if lot.OriginalQuantity.LessThanOrEqual(decimal.Zero) {
		return errors.InvalidQuantity("lot quantity must be positive")
	}
	if lot.ID == "" {
		lot.ID = uuid.New().String()
	}
	if lot.Source == "" {
		lot.Source = LotSourceInward
	}
	if lot.ReceivedAt.IsZero() {
		lot.ReceivedAt = time.Now().UTC()
	}
	lot.RemainingQuantity = lot.OriginalQuantity
	lot.IsActive = true

	err := sqlx.GetContext(ctx, q, lot, lotInsert,
		lot.ID, lot.ProductID, lot.SourceInwardID, lot.Source, lot.BatchNumber,
		lot.UnitPrice, lot.ExpiryDate, lot.ReceivedAt,
		lot.OriginalQuantity, lot.RemainingQuantity, lot.IsActive,
	)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByID gets a lot by ID
func (r *LotRepository) GetByID(ctx context.Context, id string) (*Lot, error) {
	var lot Lot
	query := `SELECT * FROM lots WHERE id = $1`
	if err := r.db.GetContext(ctx, &lot, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("lot")
		}
		return nil, err
	}
	return &lot, nil
}

// ListByProduct lists all lots for a product, ledger order
func (r *LotRepository) ListByProduct(ctx context.Context, productID string) ([]*Lot, error) {
	var lots []*Lot
	query := `
		SELECT * FROM lots
		WHERE product_id = $1
		ORDER BY received_at, id
	`
	if err := r.db.SelectContext(ctx, &lots, query, productID); err != nil {
		return nil, err
	}
	return lots, nil
}

// GetEligibleForUpdate returns the lots an allocation may draw from, in
// consumption order: earliest expiry first (lots without an expiry date
// last), then receipt time, then id as the final tie-break. The rows are
// locked for the duration of the transaction, so concurrent allocations of
// the same product serialize on the database as well as on the per-product
// lock.
func (r *LotRepository) GetEligibleForUpdate(ctx context.Context, tx *sqlx.Tx, productID string) ([]*Lot, error) {
	var lots []*Lot
	query := `
		SELECT * FROM lots
		WHERE product_id = $1 AND is_active = true AND remaining_quantity > 0
		ORDER BY expiry_date ASC NULLS LAST, received_at ASC, id ASC
		FOR UPDATE
	`
	if err := tx.SelectContext(ctx, &lots, query, productID); err != nil {
		return nil, err
	}

	for _, lot := range lots {
		if lot.RemainingQuantity.IsNegative() {
			return nil, errors.CorruptState("lot " + lot.ID + " has negative remaining quantity")
		}
	}
	return lots, nil
}

// AdjustRemaining atomically applies delta to a lot's remaining quantity.
// Positive deltas are credits (returns), negative deltas are debits
// (consumption). The guard clause keeps the result inside
// [0, original_quantity]; an adjustment that would leave the range fails
// with StockInvariantViolation and changes nothing.
func (r *LotRepository) AdjustRemaining(ctx context.Context, tx *sqlx.Tx, lotID string, delta decimal.Decimal) (*Lot, error) {
	var lot Lot
	query := `
		UPDATE lots SET
			remaining_quantity = remaining_quantity + $2,
			updated_at = NOW()
		WHERE id = $1
		  AND remaining_quantity + $2 >= 0
		  AND remaining_quantity + $2 <= original_quantity
		RETURNING *
	`
	err := tx.GetContext(ctx, &lot, query, lotID, delta)
	if err == nil {
		return &lot, nil
	}
	if err != sql.ErrNoRows {
		if appErr := database.MapPQError(err); appErr != nil {
			return nil, appErr
		}
		return nil, err
	}

	// No row updated: distinguish a missing lot from a bounds violation.
	var exists bool
	if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM lots WHERE id = $1)`, lotID); err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.NotFound("lot")
	}
	return nil, errors.StockInvariantViolation("adjustment of " + delta.String() + " would leave lot " + lotID + " outside its quantity bounds")
}

// Deactivate marks a lot inactive without touching its quantities. History
// is retained; the lot simply stops being eligible for allocation.
func (r *LotRepository) Deactivate(ctx context.Context, id string) error {
	query := `UPDATE lots SET is_active = false, updated_at = NOW() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("lot")
	}
	return nil
}

// OnHand returns the total remaining quantity across a product's active lots
func (r *LotRepository) OnHand(ctx context.Context, productID string) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	query := `
		SELECT SUM(remaining_quantity) FROM lots
		WHERE product_id = $1 AND is_active = true
	`
	if err := r.db.GetContext(ctx, &total, query, productID); err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

// Valuation returns the value of a product's remaining stock at the unit
// price each lot was received at, split by lot source so returned stock can
// be reported separately from organic receipts.
func (r *LotRepository) Valuation(ctx context.Context, productID string) (organic, returned decimal.Decimal, err error) {
	rows := []struct {
		Source string          `db:"source"`
		Value  decimal.Decimal `db:"value"`
	}{}
	query := `
		SELECT source, SUM(remaining_quantity * unit_price) AS value
		FROM lots
		WHERE product_id = $1 AND is_active = true
		GROUP BY source
	`
	if err := r.db.SelectContext(ctx, &rows, query, productID); err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	for _, row := range rows {
		if row.Source == LotSourceReturn {
			returned = returned.Add(row.Value)
		} else {
			organic = organic.Add(row.Value)
		}
	}
	return organic, returned, nil
}

// StockSummary returns on-hand quantity, valuation and nearest expiry per
// product across all active lots.
func (r *LotRepository) StockSummary(ctx context.Context) ([]*ProductStock, error) {
	var summary []*ProductStock
	query := `
		SELECT
			product_id,
			SUM(remaining_quantity) AS on_hand,
			SUM(remaining_quantity * unit_price) AS valuation,
			MIN(expiry_date) FILTER (WHERE remaining_quantity > 0) AS nearest_expiry
		FROM lots
		WHERE is_active = true
		GROUP BY product_id
		ORDER BY product_id
	`
	if err := r.db.SelectContext(ctx, &summary, query); err != nil {
		return nil, err
	}
	return summary, nil
}

// GetExpiringLots returns active lots with remaining stock expiring within the
// given number of days.
func (r *LotRepository) GetExpiringLots(ctx context.Context, withinDays int) ([]*Lot, error) {
	var lots []*Lot
	query := `
		SELECT * FROM lots
		WHERE is_active = true AND remaining_quantity > 0
		AND expiry_date IS NOT NULL
		AND expiry_date <= NOW() + INTERVAL '1 day' * $1
		ORDER BY expiry_date
	`
	if err := r.db.SelectContext(ctx, &lots, query, withinDays); err != nil {
		return nil, err
	}
	return lots, nil
}
