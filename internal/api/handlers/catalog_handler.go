package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nbrembilla/scorte/internal/domain"
	"github.com/nbrembilla/scorte/internal/workflow"
)

type CatalogHandler struct {
	svc *workflow.Service
}

func NewCatalogHandler(svc *workflow.Service) *CatalogHandler {
	return &CatalogHandler{svc: svc}
}

// GetSkus returns the product catalog.
func (h *CatalogHandler) GetSkus(c *gin.Context) {
	skus, err := h.svc.Catalog(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, skus)
}

// PutSkus replaces the product catalog.
func (h *CatalogHandler) PutSkus(c *gin.Context) {
	var skus []domain.SKU
	if err := c.ShouldBindJSON(&skus); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.svc.SaveCatalog(c.Request.Context(), skus); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(skus)})
}

// GetPromos returns the promo calendar.
func (h *CatalogHandler) GetPromos(c *gin.Context) {
	promos, err := h.svc.PromoCalendar(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, promos)
}

// PutPromos replaces the promo calendar, rejecting overlapping windows.
func (h *CatalogHandler) PutPromos(c *gin.Context) {
	var promos []domain.PromoWindow
	if err := c.ShouldBindJSON(&promos); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.svc.SavePromoCalendar(c.Request.Context(), promos); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(promos)})
}
