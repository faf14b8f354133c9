package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/service"
	"github.com/pharmaflow/pharmaflow-backend/pkg/httputil"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
)

// StockHandler handles stock reporting endpoints
type StockHandler struct {
	reporting *service.ReportingService
	logger    *logger.Logger
}

// NewStockHandler creates a new stock handler
func NewStockHandler(reporting *service.ReportingService, log *logger.Logger) *StockHandler {
	return &StockHandler{
		reporting: reporting,
		logger:    log,
	}
}

// OnHand returns the on-hand quantity for a product
func (h *StockHandler) OnHand(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")

	onHand, err := h.reporting.OnHand(r.Context(), productID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"product_id": productID,
		"on_hand":    onHand,
	})
}

// Valuation returns the stock valuation for a product split by lot source
func (h *StockHandler) Valuation(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")

	valuation, err := h.reporting.Valuation(r.Context(), productID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, valuation)
}

// Summary returns per-product stock totals across all active lots
func (h *StockHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.reporting.StockSummary(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, summary)
}

// LotHistory lists all lots for a product, including consumed ones
func (h *StockHandler) LotHistory(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")

	lots, err := h.reporting.LotHistory(r.Context(), productID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lots)
}
