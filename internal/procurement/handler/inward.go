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

// InwardHandler handles goods receipt endpoints
type InwardHandler struct {
	service *service.InwardService
	logger  *logger.Logger
}

// NewInwardHandler creates a new inward handler
func NewInwardHandler(svc *service.InwardService, log *logger.Logger) *InwardHandler {
	return &InwardHandler{
		service: svc,
		logger:  log,
	}
}

type inwardItemRequest struct {
	ProductID   string          `json:"product_id" validate:"required,uuid"`
	Quantity    decimal.Decimal `json:"quantity" validate:"required"`
	UnitPrice   decimal.Decimal `json:"unit_price" validate:"required"`
	TotalPrice  decimal.Decimal `json:"total_price" validate:"required"`
	BatchNumber *string         `json:"batch_number,omitempty"`
	ExpiryDate  *time.Time      `json:"expiry_date,omitempty"`
}

type inwardRequest struct {
	OrderID       *string             `json:"order_id,omitempty" validate:"omitempty,uuid"`
	VendorID      *string             `json:"vendor_id,omitempty" validate:"omitempty,uuid"`
	ReceivedAt    *time.Time          `json:"received_at,omitempty"`
	TotalAmount   decimal.Decimal     `json:"total_amount" validate:"required"`
	TotalQuantity decimal.Decimal     `json:"total_quantity" validate:"required"`
	Items         []inwardItemRequest `json:"items" validate:"required,min=1,dive"`
}

func (req *inwardRequest) toInward() *repository.InwardReceipt {
	inward := &repository.InwardReceipt{
		OrderID:       req.OrderID,
		VendorID:      req.VendorID,
		TotalAmount:   req.TotalAmount,
		TotalQuantity: req.TotalQuantity,
	}
	if req.ReceivedAt != nil {
		inward.ReceivedAt = *req.ReceivedAt
	}
	for _, item := range req.Items {
		inward.Items = append(inward.Items, &repository.InwardItem{
			ProductID:   item.ProductID,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.TotalPrice,
			BatchNumber: item.BatchNumber,
			ExpiryDate:  item.ExpiryDate,
		})
	}
	return inward
}

// Receive records a new goods receipt as pending
func (h *InwardHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var req inwardRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	inward := req.toInward()
	if err := h.service.Receive(r.Context(), inward); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, inward)
}

// List lists goods receipts
func (h *InwardHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	inwards, err := h.service.GetAll(r.Context(), status)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, inwards)
}

// Get gets a goods receipt by ID
func (h *InwardHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	inward, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, inward)
}

// Complete completes a goods receipt, creating its lots
func (h *InwardHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	inward, err := h.service.Complete(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, inward)
}

// Cancel cancels a pending goods receipt
func (h *InwardHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Cancel(r.Context(), id); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"status": repository.InwardStatusCancelled,
	})
}
