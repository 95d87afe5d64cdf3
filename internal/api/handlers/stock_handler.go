package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nbrembilla/scorte/internal/config"
	"github.com/nbrembilla/scorte/internal/workflow"
)

type StockHandler struct {
	svc    *workflow.Service
	alerts config.ExpiryAlertConfig
}

func NewStockHandler(svc *workflow.Service, alerts config.ExpiryAlertConfig) *StockHandler {
	return &StockHandler{svc: svc, alerts: alerts}
}

// GetStock returns the ledger reduction for one SKU as of a date.
func (h *StockHandler) GetStock(c *gin.Context) {
	asof, ok := parseDate(c, "asof")
	if !ok {
		return
	}
	pos, err := h.svc.StockAsOf(c.Request.Context(), c.Param("sku"), asof)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pos)
}

// GetInventoryPosition returns the planning position for one SKU.
func (h *StockHandler) GetInventoryPosition(c *gin.Context) {
	asof, ok := parseDate(c, "asof")
	if !ok {
		return
	}
	position, err := h.svc.InventoryPosition(c.Request.Context(), c.Param("sku"), asof)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sku": c.Param("sku"), "inventory_position": position})
}

// GetOnOrder returns net pending order quantities grouped by receipt date.
func (h *StockHandler) GetOnOrder(c *gin.Context) {
	cutoff, ok := parseDate(c, "cutoff")
	if !ok {
		return
	}
	byDate, err := h.svc.OnOrderByDate(c.Request.Context(), c.Param("sku"), cutoff)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, byDate)
}

// GetUsableStock returns the lot usability breakdown for one SKU.
func (h *StockHandler) GetUsableStock(c *gin.Context) {
	check, ok := parseDate(c, "check_date")
	if !ok {
		return
	}
	breakdown, err := h.svc.UsableStock(c.Request.Context(), c.Param("sku"), check)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, breakdown)
}

// GetExpiryAlerts returns lots approaching expiry across the whole store.
func (h *StockHandler) GetExpiryAlerts(c *gin.Context) {
	asof, ok := parseDate(c, "asof")
	if !ok {
		return
	}
	alerts, err := h.svc.ExpiryAlerts(c.Request.Context(), asof, h.alerts.CriticalDays, h.alerts.WarningDays)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, alerts)
}
