package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// Procurement events
	EventOrderCreated   = "procurement.order.created"
	EventOrderUpdated   = "procurement.order.updated"
	EventOrderCancelled = "procurement.order.cancelled"
	EventOrderCompleted = "procurement.order.completed"

	// Inward receipt events
	EventInwardReceived  = "procurement.inward.received"
	EventInwardCompleted = "procurement.inward.completed"
	EventInwardCancelled = "procurement.inward.cancelled"

	// Billing events
	EventBillingFinalized = "billing.finalized"

	// Return events
	EventReturnCreated   = "returns.created"
	EventReturnProcessed = "returns.processed"
	EventReturnCancelled = "returns.cancelled"

	// Stock ledger events
	EventLotCreated     = "stock.lot.created"
	EventStockAllocated = "stock.allocated"
	EventStockReversed  = "stock.reversed"
	EventLotExpiring    = "stock.lot.expiring"

	// Catalog events (consumed from the catalog service)
	EventProductCreated = "catalog.product.created"
	EventProductUpdated = "catalog.product.updated"
	EventProductDeleted = "catalog.product.deleted"
)

// Exchange names
const (
	ExchangeProcurementEvents = "procurement.events"
	ExchangeBillingEvents     = "billing.events"
	ExchangeReturnEvents      = "returns.events"
	ExchangeStockEvents       = "stock.events"
	ExchangeCatalogEvents     = "catalog.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return uuid.New().String()
}

// Procurement events

// OrderCreatedEvent is published when a purchase order is created
type OrderCreatedEvent struct {
	OrderID       string `json:"order_id"`
	PONo          string `json:"po_no"`
	VendorID      string `json:"vendor_id"`
	TotalAmount   string `json:"total_amount"`
	TotalQuantity string `json:"total_quantity"`
	ItemCount     int    `json:"item_count"`
}

// OrderStatusEvent is published on order lifecycle transitions
type OrderStatusEvent struct {
	OrderID string `json:"order_id"`
	PONo    string `json:"po_no"`
	Status  string `json:"status"`
}

// InwardCompletedEvent is published when a goods receipt is completed and
// its lots have been created
type InwardCompletedEvent struct {
	InwardID  string   `json:"inward_id"`
	InwardNo  string   `json:"inward_no"`
	OrderID   *string  `json:"order_id,omitempty"`
	LotIDs    []string `json:"lot_ids"`
	ItemCount int      `json:"item_count"`
}

// Billing events

// BillingFinalizedEvent is published once every line item of a billing
// document has been allocated against stock
type BillingFinalizedEvent struct {
	BillingID       string `json:"billing_id"`
	BillNo          string `json:"bill_no"`
	TotalAmount     string `json:"total_amount"`
	AllocationCount int    `json:"allocation_count"`
}

// Return events

// ReturnProcessedEvent is published when a return transitions to processed
type ReturnProcessedEvent struct {
	ReturnID   string   `json:"return_id"`
	ReturnNo   string   `json:"return_no"`
	ReturnType string   `json:"return_type"`
	BillingID  *string  `json:"billing_id,omitempty"`
	LotIDs     []string `json:"lot_ids"`
}

// Stock ledger events

// LotCreatedEvent is published when a lot enters the stock ledger
type LotCreatedEvent struct {
	LotID     string `json:"lot_id"`
	ProductID string `json:"product_id"`
	Source    string `json:"source"`
	Quantity  string `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

// StockAllocatedEvent is published after a successful FIFO allocation
type StockAllocatedEvent struct {
	ProductID     string `json:"product_id"`
	BillingItemID string `json:"billing_item_id"`
	Quantity      string `json:"quantity"`
	LotsTouched   int    `json:"lots_touched"`
}

// StockReversedEvent is published when allocated stock is credited back
type StockReversedEvent struct {
	ProductID string `json:"product_id"`
	LotID     string `json:"lot_id"`
	Quantity  string `json:"quantity"`
	ReturnID  string `json:"return_id"`
}

// LotExpiringEvent is published by the expiry scanner for lots nearing expiry
type LotExpiringEvent struct {
	LotID      string    `json:"lot_id"`
	ProductID  string    `json:"product_id"`
	ExpiryDate time.Time `json:"expiry_date"`
	Remaining  string    `json:"remaining_quantity"`
}

// ProductCreatedEvent is consumed when the catalog service adds a product
type ProductCreatedEvent struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Unit      string  `json:"unit"`
	HSNCode   *string `json:"hsn_code,omitempty"`
}

// ProductUpdatedEvent is consumed when the catalog service changes a product
type ProductUpdatedEvent struct {
	ProductID string                 `json:"product_id"`
	Fields    map[string]interface{} `json:"fields"`
}

// ProductDeletedEvent is consumed when the catalog service removes a product
type ProductDeletedEvent struct {
	ProductID string `json:"product_id"`
}
