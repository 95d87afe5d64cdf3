package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nbrembilla/scorte/internal/calendar"
	"github.com/nbrembilla/scorte/internal/domain"
	"github.com/nbrembilla/scorte/internal/workflow"
)

type OrderHandler struct {
	svc *workflow.Service
}

func NewOrderHandler(svc *workflow.Service) *OrderHandler {
	return &OrderHandler{svc: svc}
}

// GetProposal computes an order proposal for one SKU.
func (h *OrderHandler) GetProposal(c *gin.Context) {
	today, ok := parseDate(c, "date")
	if !ok {
		return
	}
	lane := calendar.Lane(c.DefaultQuery("lane", string(calendar.LaneStandard)))

	proposal, err := h.svc.ProposeOrder(c.Request.Context(), c.Param("sku"), today, lane)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, proposal)
}

type confirmRequest struct {
	Date      string                 `json:"date"`
	Proposals []domain.OrderProposal `json:"proposals" binding:"required"`
}

// ConfirmOrders appends ORDER events and order-log records for the given
// proposals.
func (h *OrderHandler) ConfirmOrders(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	today := domain.Day(time.Now())
	if req.Date != "" {
		d, err := time.Parse(domain.DateLayout, req.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date: " + req.Date})
			return
		}
		today = d
	}

	orders, err := h.svc.ConfirmOrders(c.Request.Context(), req.Proposals, today)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"orders": orders, "count": len(orders)})
}
