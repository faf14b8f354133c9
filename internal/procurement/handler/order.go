package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/pharmaflow/pharmaflow-backend/internal/procurement/repository"
	"github.com/pharmaflow/pharmaflow-backend/internal/procurement/service"
	"github.com/pharmaflow/pharmaflow-backend/pkg/httputil"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
)

// OrderHandler handles purchase order endpoints
type OrderHandler struct {
	service *service.OrderService
	logger  *logger.Logger
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(svc *service.OrderService, log *logger.Logger) *OrderHandler {
	return &OrderHandler{
		service: svc,
		logger:  log,
	}
}

type orderItemRequest struct {
	ProductID  string          `json:"product_id" validate:"required,uuid"`
	Quantity   decimal.Decimal `json:"quantity" validate:"required"`
	UnitPrice  decimal.Decimal `json:"unit_price" validate:"required"`
	TotalPrice decimal.Decimal `json:"total_price" validate:"required"`
	TaxAmount  decimal.Decimal `json:"tax_amount"`
}

type orderRequest struct {
	VendorID      string             `json:"vendor_id" validate:"required,uuid"`
	TotalAmount   decimal.Decimal    `json:"total_amount" validate:"required"`
	TotalQuantity decimal.Decimal    `json:"total_quantity" validate:"required"`
	Items         []orderItemRequest `json:"items" validate:"required,min=1,dive"`
}

func (req *orderRequest) toOrder() *repository.PurchaseOrder {
	order := &repository.PurchaseOrder{
		VendorID:      req.VendorID,
		TotalAmount:   req.TotalAmount,
		TotalQuantity: req.TotalQuantity,
	}
	for _, item := range req.Items {
		order.Items = append(order.Items, &repository.PurchaseOrderItem{
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: item.TotalPrice,
			TaxAmount:  item.TaxAmount,
		})
	}
	return order
}

// Create creates a new purchase order
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	order := req.toOrder()
	if err := h.service.Create(r.Context(), order); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, order)
}

// List lists purchase orders
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	orders, err := h.service.GetAll(r.Context(), status)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, orders)
}

// Get gets a purchase order by ID
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	order, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, order)
}

// Update replaces a pending purchase order
func (h *OrderHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req orderRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	order := req.toOrder()
	order.ID = id
	if err := h.service.Update(r.Context(), order); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, order)
}

// Cancel cancels a purchase order
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Cancel(r.Context(), id); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"id":           id,
		"status":       repository.OrderStatusCancelled,
		"cancelled_at": time.Now().UTC(),
	})
}
