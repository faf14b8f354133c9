package testutil

// StockMigrations returns the DDL for the stock ledger schema: lots and
// allocations, the procurement, billing and return documents, and the
// document number sequences. Tests apply these against a fresh database.
func StockMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS lots (
			id UUID PRIMARY KEY,
			product_id UUID NOT NULL,
			source_inward_id UUID,
			source TEXT NOT NULL CHECK (source IN ('inward', 'return')),
			batch_number TEXT,
			unit_price NUMERIC(18,4) NOT NULL DEFAULT 0,
			expiry_date TIMESTAMPTZ,
			received_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			original_quantity NUMERIC(18,4) NOT NULL,
			remaining_quantity NUMERIC(18,4) NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT lots_quantity_positive CHECK (original_quantity > 0),
			CONSTRAINT lots_remaining_quantity_bounds
				CHECK (remaining_quantity >= 0 AND remaining_quantity <= original_quantity)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_lots_product_eligible
			ON lots (product_id, expiry_date, received_at, id)
			WHERE is_active AND remaining_quantity > 0`,

		`CREATE TABLE IF NOT EXISTS billing_documents (
			id UUID PRIMARY KEY,
			bill_no TEXT UNIQUE NOT NULL,
			total_amount NUMERIC(18,4) NOT NULL DEFAULT 0,
			payment_status TEXT NOT NULL DEFAULT 'unpaid'
				CONSTRAINT billing_payment_status_valid CHECK (payment_status IN ('unpaid', 'partial', 'paid')),
			status TEXT NOT NULL DEFAULT 'draft'
				CONSTRAINT billing_status_valid CHECK (status IN ('draft', 'finalized', 'cancelled')),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS billing_items (
			id UUID PRIMARY KEY,
			billing_id UUID NOT NULL REFERENCES billing_documents(id),
			product_id UUID NOT NULL,
			quantity NUMERIC(18,4) NOT NULL CONSTRAINT billing_items_quantity_positive CHECK (quantity > 0),
			unit_price NUMERIC(18,4) NOT NULL DEFAULT 0,
			total_price NUMERIC(18,4) NOT NULL DEFAULT 0,
			discount NUMERIC(18,4) NOT NULL DEFAULT 0,
			tax NUMERIC(18,4) NOT NULL DEFAULT 0,
			cost_of_goods NUMERIC(18,4) NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS allocations (
			id UUID PRIMARY KEY,
			billing_item_id UUID NOT NULL REFERENCES billing_items(id),
			lot_id UUID NOT NULL REFERENCES lots(id),
			product_id UUID NOT NULL,
			quantity NUMERIC(18,4) NOT NULL CONSTRAINT allocations_quantity_positive CHECK (quantity > 0),
			unit_price_at_allocation NUMERIC(18,4) NOT NULL DEFAULT 0,
			reversed_quantity NUMERIC(18,4) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT allocations_reversed_quantity_bounds
				CHECK (reversed_quantity >= 0 AND reversed_quantity <= quantity)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_allocations_lot ON allocations (lot_id, created_at, id)`,
		`CREATE INDEX IF NOT EXISTS idx_allocations_billing_item ON allocations (billing_item_id)`,

		`CREATE TABLE IF NOT EXISTS purchase_orders (
			id UUID PRIMARY KEY,
			po_no TEXT UNIQUE NOT NULL,
			vendor_id UUID NOT NULL,
			total_amount NUMERIC(18,4) NOT NULL DEFAULT 0,
			total_quantity NUMERIC(18,4) NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending'
				CONSTRAINT orders_status_valid CHECK (status IN ('pending', 'approved', 'completed', 'cancelled')),
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS purchase_order_items (
			id UUID PRIMARY KEY,
			order_id UUID NOT NULL REFERENCES purchase_orders(id) ON DELETE CASCADE,
			product_id UUID NOT NULL,
			quantity NUMERIC(18,4) NOT NULL CONSTRAINT order_items_quantity_positive CHECK (quantity > 0),
			unit_price NUMERIC(18,4) NOT NULL DEFAULT 0,
			total_price NUMERIC(18,4) NOT NULL DEFAULT 0,
			tax_amount NUMERIC(18,4) NOT NULL DEFAULT 0,
			received_quantity NUMERIC(18,4) NOT NULL DEFAULT 0,
			unused_quantity NUMERIC(18,4) NOT NULL DEFAULT 0,
			excess_quantity NUMERIC(18,4) NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending'
				CONSTRAINT order_items_status_valid CHECK (status IN ('pending', 'partial', 'received'))
		)`,

		`CREATE TABLE IF NOT EXISTS inward_receipts (
			id UUID PRIMARY KEY,
			inward_no TEXT UNIQUE NOT NULL,
			order_id UUID REFERENCES purchase_orders(id),
			vendor_id UUID,
			received_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			total_amount NUMERIC(18,4) NOT NULL DEFAULT 0,
			total_quantity NUMERIC(18,4) NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending'
				CONSTRAINT inwards_status_valid CHECK (status IN ('pending', 'completed', 'cancelled')),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS inward_items (
			id UUID PRIMARY KEY,
			inward_id UUID NOT NULL REFERENCES inward_receipts(id) ON DELETE CASCADE,
			product_id UUID NOT NULL,
			quantity NUMERIC(18,4) NOT NULL CONSTRAINT inward_items_quantity_positive CHECK (quantity > 0),
			unit_price NUMERIC(18,4) NOT NULL DEFAULT 0,
			total_price NUMERIC(18,4) NOT NULL DEFAULT 0,
			batch_number TEXT,
			expiry_date TIMESTAMPTZ,
			unused_quantity NUMERIC(18,4) NOT NULL DEFAULT 0,
			excess_quantity NUMERIC(18,4) NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS returns (
			id UUID PRIMARY KEY,
			return_no TEXT UNIQUE NOT NULL,
			return_type TEXT NOT NULL CHECK (return_type IN ('customer', 'partial')),
			billing_id UUID REFERENCES billing_documents(id),
			vendor_id UUID,
			status TEXT NOT NULL DEFAULT 'pending'
				CONSTRAINT returns_status_valid CHECK (status IN ('pending', 'processed', 'cancelled', 'deleted')),
			reason TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS return_items (
			id UUID PRIMARY KEY,
			return_id UUID NOT NULL REFERENCES returns(id) ON DELETE CASCADE,
			product_id UUID NOT NULL,
			quantity NUMERIC(18,4) NOT NULL CONSTRAINT return_items_quantity_positive CHECK (quantity > 0),
			unit_price NUMERIC(18,4) NOT NULL DEFAULT 0,
			tax_amount NUMERIC(18,4) NOT NULL DEFAULT 0,
			total_price NUMERIC(18,4) NOT NULL DEFAULT 0,
			reason TEXT,
			lot_ids UUID[] NOT NULL DEFAULT '{}'
		)`,

		`CREATE TABLE IF NOT EXISTS document_sequences (
			name TEXT PRIMARY KEY,
			last_value BIGINT NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS product_cache (
			product_id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			unit TEXT NOT NULL DEFAULT '',
			hsn_code TEXT,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}
}

// StockTables lists every table of the stock schema in an order safe for
// TRUNCATE ... CASCADE between tests.
func StockTables() []string {
	return []string{
		"allocations",
		"return_items",
		"returns",
		"billing_items",
		"billing_documents",
		"inward_items",
		"inward_receipts",
		"purchase_order_items",
		"purchase_orders",
		"lots",
		"document_sequences",
		"product_cache",
	}
}
