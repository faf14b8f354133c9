package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LotFixture represents test lot data
type LotFixture struct {
	ID         string
	ProductID  string
	Source     string
	UnitPrice  decimal.Decimal
	ExpiryDate *time.Time
	ReceivedAt time.Time
	Quantity   decimal.Decimal
}

// OrderItemFixture represents one purchase order line of test data
type OrderItemFixture struct {
	ProductID  string
	Quantity   decimal.Decimal
	UnitPrice  decimal.Decimal
	TotalPrice decimal.Decimal
}

// OrderFixture represents test purchase order data
type OrderFixture struct {
	VendorID      string
	TotalAmount   decimal.Decimal
	TotalQuantity decimal.Decimal
	Items         []OrderItemFixture
}

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	sequence int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{sequence: 0}
}

// nextSeq returns the next sequence number for unique values
func (f *FixtureFactory) nextSeq() int {
	f.sequence++
	return f.sequence
}

// ProductID returns a fresh product identifier
func (f *FixtureFactory) ProductID() string {
	return uuid.New().String()
}

// VendorID returns a fresh vendor identifier
func (f *FixtureFactory) VendorID() string {
	return uuid.New().String()
}

// Lot creates a lot fixture with defaults: 100 units at 2.50, received now,
// no expiry
func (f *FixtureFactory) Lot(opts ...func(*LotFixture)) LotFixture {
	seq := f.nextSeq()

	lot := LotFixture{
		ID:         uuid.New().String(),
		ProductID:  uuid.New().String(),
		Source:     "inward",
		UnitPrice:  decimal.RequireFromString("2.50"),
		ReceivedAt: time.Now().UTC().Add(time.Duration(seq) * time.Second),
		Quantity:   decimal.NewFromInt(100),
	}

	for _, opt := range opts {
		opt(&lot)
	}

	return lot
}

// WithProduct sets the lot's product
func WithProduct(productID string) func(*LotFixture) {
	return func(l *LotFixture) {
		l.ProductID = productID
	}
}

// WithQuantity sets the lot quantity
func WithQuantity(qty int64) func(*LotFixture) {
	return func(l *LotFixture) {
		l.Quantity = decimal.NewFromInt(qty)
	}
}

// WithUnitPrice sets the lot unit price
func WithUnitPrice(price string) func(*LotFixture) {
	return func(l *LotFixture) {
		l.UnitPrice = decimal.RequireFromString(price)
	}
}

// WithExpiry sets the lot expiry date
func WithExpiry(expiry time.Time) func(*LotFixture) {
	return func(l *LotFixture) {
		l.ExpiryDate = &expiry
	}
}

// WithReceivedAt sets when the lot was received
func WithReceivedAt(receivedAt time.Time) func(*LotFixture) {
	return func(l *LotFixture) {
		l.ReceivedAt = receivedAt
	}
}

// WithSource sets the lot source
func WithSource(source string) func(*LotFixture) {
	return func(l *LotFixture) {
		l.Source = source
	}
}

// Order creates a purchase order fixture with one consistent line item
func (f *FixtureFactory) Order(opts ...func(*OrderFixture)) OrderFixture {
	item := OrderItemFixture{
		ProductID:  uuid.New().String(),
		Quantity:   decimal.NewFromInt(10),
		UnitPrice:  decimal.RequireFromString("5.00"),
		TotalPrice: decimal.RequireFromString("50.00"),
	}

	order := OrderFixture{
		VendorID:      uuid.New().String(),
		TotalAmount:   item.TotalPrice,
		TotalQuantity: item.Quantity,
		Items:         []OrderItemFixture{item},
	}

	for _, opt := range opts {
		opt(&order)
	}

	return order
}

// WithOrderItems replaces the order's items and recomputes the header totals
func WithOrderItems(items ...OrderItemFixture) func(*OrderFixture) {
	return func(o *OrderFixture) {
		o.Items = items
		o.TotalAmount = decimal.Zero
		o.TotalQuantity = decimal.Zero
		for _, item := range items {
			o.TotalAmount = o.TotalAmount.Add(item.TotalPrice)
			o.TotalQuantity = o.TotalQuantity.Add(item.Quantity)
		}
	}
}

// OrderItem builds an order line with a consistent total price
func OrderItem(productID string, qty int64, unitPrice string) OrderItemFixture {
	price := decimal.RequireFromString(unitPrice)
	quantity := decimal.NewFromInt(qty)
	return OrderItemFixture{
		ProductID:  productID,
		Quantity:   quantity,
		UnitPrice:  price,
		TotalPrice: price.Mul(quantity),
	}
}

// DocumentNo formats a document number the way the sequence repository does
func DocumentNo(prefix string, n int) string {
	return fmt.Sprintf("%s%05d", prefix, n)
}
