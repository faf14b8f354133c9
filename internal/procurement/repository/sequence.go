package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/pharmaflow/pharmaflow-backend/pkg/database"
)

// Sequence names
const (
	SeqPurchaseOrder = "purchase_order"
	SeqInwardReceipt = "inward_receipt"
	SeqBilling       = "billing"
	SeqReturn        = "return"
)

var seqPrefixes = map[string]string{
	SeqPurchaseOrder: "PO",
	SeqInwardReceipt: "IN",
	SeqBilling:       "INV",
	SeqReturn:        "RT",
}

// SequenceRepository hands out document numbers from a per-name counter
// table. The increment is a single upsert, so two concurrent callers can
// never draw the same number.
type SequenceRepository struct {
	db *database.DB
}

// NewSequenceRepository creates a new sequence repository
func NewSequenceRepository(db *database.DB) *SequenceRepository {
	return &SequenceRepository{db: db}
}

const sequenceNext = `
	INSERT INTO document_sequences (name, last_value)
	VALUES ($1, 1)
	ON CONFLICT (name)
	DO UPDATE SET last_value = document_sequences.last_value + 1
	RETURNING last_value
`

// Next returns the next document number for the given sequence, formatted
// with its prefix (PO00001, IN00001, INV00001, RT00001).
func (r *SequenceRepository) Next(ctx context.Context, name string) (string, error) {
	return r.next(ctx, r.db, name)
}

// NextTx returns the next document number inside the given transaction.
func (r *SequenceRepository) NextTx(ctx context.Context, tx *sqlx.Tx, name string) (string, error) {
	return r.next(ctx, tx, name)
}

func (r *SequenceRepository) next(ctx context.Context, q sqlx.QueryerContext, name string) (string, error) {
	var value int64
	if err := sqlx.GetContext(ctx, q, &value, sequenceNext, name); err != nil {
		return "", fmt.Errorf("next sequence value for %s: %w", name, err)
	}

	prefix, ok := seqPrefixes[name]
	if !ok {
		prefix = name
	}
	return fmt.Sprintf("%s%05d", prefix, value), nil
}
