package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/pharmaflow/pharmaflow-backend/internal/returns/repository"
	"github.com/pharmaflow/pharmaflow-backend/internal/returns/service"
	"github.com/pharmaflow/pharmaflow-backend/pkg/httputil"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
)

// ReturnHandler handles return endpoints
type ReturnHandler struct {
	service *service.ReturnService
	logger  *logger.Logger
}

// NewReturnHandler creates a new return handler
func NewReturnHandler(svc *service.ReturnService, log *logger.Logger) *ReturnHandler {
	return &ReturnHandler{
		service: svc,
		logger:  log,
	}
}

type returnItemRequest struct {
	ProductID  string          `json:"product_id" validate:"required,uuid"`
	Quantity   decimal.Decimal `json:"quantity" validate:"required"`
	UnitPrice  decimal.Decimal `json:"unit_price" validate:"required"`
	TaxAmount  decimal.Decimal `json:"tax_amount"`
	TotalPrice decimal.Decimal `json:"total_price" validate:"required"`
	Reason     *string         `json:"reason,omitempty"`
	LotIDs     []string        `json:"lot_ids" validate:"omitempty,dive,uuid"`
}

type returnRequest struct {
	ReturnType string              `json:"return_type" validate:"required,oneof=customer partial"`
	BillingID  *string             `json:"billing_id,omitempty" validate:"omitempty,uuid"`
	VendorID   *string             `json:"vendor_id,omitempty" validate:"omitempty,uuid"`
	Reason     *string             `json:"reason,omitempty"`
	Items      []returnItemRequest `json:"items" validate:"required,min=1,dive"`
}

func (req *returnRequest) toReturn() *repository.Return {
	ret := &repository.Return{
		ReturnType: req.ReturnType,
		BillingID:  req.BillingID,
		VendorID:   req.VendorID,
		Reason:     req.Reason,
	}
	for _, item := range req.Items {
		ret.Items = append(ret.Items, &repository.ReturnItem{
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TaxAmount:  item.TaxAmount,
			TotalPrice: item.TotalPrice,
			Reason:     item.Reason,
			LotIDs:     pq.StringArray(item.LotIDs),
		})
	}
	return ret
}

// Create creates a new return
func (h *ReturnHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	ret := req.toReturn()
	if err := h.service.Create(r.Context(), ret); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, ret)
}

// List lists returns
func (h *ReturnHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	rets, err := h.service.GetAll(r.Context(), status)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, rets)
}

// Get gets a return by ID
func (h *ReturnHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ret, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, ret)
}

// Update replaces a pending return
func (h *ReturnHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req returnRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	ret := req.toReturn()
	ret.ID = id
	if err := h.service.Update(r.Context(), ret); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, ret)
}

// Process processes a pending return, applying its stock effect
func (h *ReturnHandler) Process(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ret, err := h.service.Process(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, ret)
}

// Cancel cancels a pending return
func (h *ReturnHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Cancel(r.Context(), id); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"status": repository.ReturnStatusCancelled,
	})
}

// Delete marks a return deleted. Processed returns keep their stock effect.
func (h *ReturnHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), id); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}
