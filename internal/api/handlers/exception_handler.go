package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nbrembilla/scorte/internal/domain"
	"github.com/nbrembilla/scorte/internal/workflow"
)

type ExceptionHandler struct {
	svc *workflow.Service
}

func NewExceptionHandler(svc *workflow.Service) *ExceptionHandler {
	return &ExceptionHandler{svc: svc}
}

type exceptionRequest struct {
	Kind string `json:"kind" binding:"required"`
	SKU  string `json:"sku" binding:"required"`
	Qty  int    `json:"qty"`
	Date string `json:"date"`
	Note string `json:"note"`
}

// RecordException writes one WASTE, ADJUST or UNFULFILLED event. A
// duplicate (date, sku, kind) returns 200 with already_recorded=true.
func (h *ExceptionHandler) RecordException(c *gin.Context) {
	var req exceptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	var date time.Time
	if req.Date != "" {
		d, err := time.Parse(domain.DateLayout, req.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date: " + req.Date})
			return
		}
		date = d
	}

	tx, already, err := h.svc.RecordException(c.Request.Context(),
		domain.EventKind(req.Kind), req.SKU, req.Qty, date, req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusCreated
	if already {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"transaction": tx, "already_recorded": already})
}

// RevertExceptionDay drops all (date, sku, kind) events from the ledger.
func (h *ExceptionHandler) RevertExceptionDay(c *gin.Context) {
	date, err := time.Parse(domain.DateLayout, c.Query("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or missing date"})
		return
	}
	kind := domain.EventKind(c.Query("kind"))

	removed, err := h.svc.RevertExceptionDay(c.Request.Context(), date, c.Param("sku"), kind)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

type eodRequest struct {
	Date         string         `json:"date"`
	Declarations map[string]int `json:"declarations" binding:"required"`
}

// CloseDay runs the end-of-day reconciliation for a set of declared counts.
func (h *ExceptionHandler) CloseDay(c *gin.Context) {
	var req eodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	day := domain.Day(time.Now())
	if req.Date != "" {
		d, err := time.Parse(domain.DateLayout, req.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date: " + req.Date})
			return
		}
		day = d
	}

	results, err := h.svc.CloseDay(c.Request.Context(), day, req.Declarations)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
