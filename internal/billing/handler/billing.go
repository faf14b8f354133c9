package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/pharmaflow/pharmaflow-backend/internal/billing/repository"
	"github.com/pharmaflow/pharmaflow-backend/internal/billing/service"
	"github.com/pharmaflow/pharmaflow-backend/pkg/httputil"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
)

// BillingHandler handles billing endpoints
type BillingHandler struct {
	service *service.BillingService
	logger  *logger.Logger
}

// NewBillingHandler creates a new billing handler
func NewBillingHandler(svc *service.BillingService, log *logger.Logger) *BillingHandler {
	return &BillingHandler{
		service: svc,
		logger:  log,
	}
}

type billingItemRequest struct {
	ProductID  string          `json:"product_id" validate:"required,uuid"`
	Quantity   decimal.Decimal `json:"quantity" validate:"required"`
	UnitPrice  decimal.Decimal `json:"unit_price" validate:"required"`
	TotalPrice decimal.Decimal `json:"total_price" validate:"required"`
	Discount   decimal.Decimal `json:"discount"`
	Tax        decimal.Decimal `json:"tax"`
}

type finalizeRequest struct {
	TotalAmount decimal.Decimal      `json:"total_amount" validate:"required"`
	PaidAmount  decimal.Decimal      `json:"paid_amount"`
	Items       []billingItemRequest `json:"items" validate:"required,min=1,dive"`
}

// Finalize finalizes a billing document, allocating stock for every item
func (h *BillingHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	doc := &repository.BillingDocument{
		TotalAmount: req.TotalAmount,
	}
	for _, item := range req.Items {
		doc.Items = append(doc.Items, &repository.BillingItem{
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: item.TotalPrice,
			Discount:   item.Discount,
			Tax:        item.Tax,
		})
	}

	finalized, err := h.service.Finalize(r.Context(), doc, req.PaidAmount)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, finalized)
}

// List lists billing documents
func (h *BillingHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	docs, err := h.service.GetAll(r.Context(), status)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, docs)
}

// Get gets a billing document by ID
func (h *BillingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	doc, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, doc)
}
