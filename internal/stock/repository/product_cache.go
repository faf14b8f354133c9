package repository

import (
	"context"
	"database/sql"

	"github.com/pharmaflow/pharmaflow-backend/pkg/database"
)

// CachedProduct is the locally cached slice of the catalog service's product
// record. The stock ledger keys everything by product id; the cache only
// exists so reports and logs can show names without a cross-service call.
type CachedProduct struct {
	ProductID string  `db:"product_id" json:"product_id"`
	Name      string  `db:"name" json:"name"`
	Unit      string  `db:"unit" json:"unit"`
	HSNCode   *string `db:"hsn_code" json:"hsn_code,omitempty"`
}

// ProductCacheRepository handles product cache persistence
type ProductCacheRepository struct {
	db *database.DB
}

// NewProductCacheRepository creates a new product cache repository
func NewProductCacheRepository(db *database.DB) *ProductCacheRepository {
	return &ProductCacheRepository{db: db}
}

// Set creates or updates a cached product
func (r *ProductCacheRepository) Set(ctx context.Context, product *CachedProduct) error {
	query := `
		INSERT INTO product_cache (product_id, name, unit, hsn_code, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (product_id)
		DO UPDATE SET name = $2, unit = $3, hsn_code = $4, updated_at = NOW()
	`
	_, err := r.db.ExecContext(ctx, query, product.ProductID, product.Name, product.Unit, product.HSNCode)
	return err
}

// Get gets a cached product by ID. A miss returns nil without error; the
// cache is advisory.
func (r *ProductCacheRepository) Get(ctx context.Context, productID string) (*CachedProduct, error) {
	var product CachedProduct
	query := `SELECT product_id, name, unit, hsn_code FROM product_cache WHERE product_id = $1`
	if err := r.db.GetContext(ctx, &product, query, productID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &product, nil
}

// Delete removes a cached product
func (r *ProductCacheRepository) Delete(ctx context.Context, productID string) error {
	query := `DELETE FROM product_cache WHERE product_id = $1`
	_, err := r.db.ExecContext(ctx, query, productID)
	return err
}
