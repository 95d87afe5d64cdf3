package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nbrembilla/scorte/internal/domain"
	"github.com/nbrembilla/scorte/internal/workflow"
)

type ReceiptHandler struct {
	svc *workflow.Service
}

func NewReceiptHandler(svc *workflow.Service) *ReceiptHandler {
	return &ReceiptHandler{svc: svc}
}

type closeReceiptRequest struct {
	DocumentID  string                 `json:"document_id" binding:"required"`
	ReceiptDate string                 `json:"receipt_date"`
	Items       []workflow.ReceiptItem `json:"items" binding:"required"`
	Notes       string                 `json:"notes"`
}

// CloseReceipt reconciles one delivery document. A replayed document id
// returns 200 with already_processed=true and no effects.
func (h *ReceiptHandler) CloseReceipt(c *gin.Context) {
	var req closeReceiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	receiptDate := domain.Day(time.Now())
	if req.ReceiptDate != "" {
		d, err := time.Parse(domain.DateLayout, req.ReceiptDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid receipt_date: " + req.ReceiptDate})
			return
		}
		receiptDate = d
	}

	res, err := h.svc.CloseReceiptByDocument(c.Request.Context(), req.DocumentID, receiptDate, req.Items, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	if res.AlreadyProcessed {
		c.JSON(http.StatusOK, res)
		return
	}
	c.JSON(http.StatusCreated, res)
}
