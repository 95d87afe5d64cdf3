package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/nbrembilla/scorte/internal/api/handlers"
	"github.com/nbrembilla/scorte/internal/api/middleware"
	"github.com/nbrembilla/scorte/internal/config"
	"github.com/nbrembilla/scorte/internal/workflow"
)

// NewRouter builds the HTTP boundary over the workflow service.
func NewRouter(svc *workflow.Service, cfg *config.Config) *gin.Engine {
	router := gin.New()

	router.Use(middleware.Logger())
	router.Use(middleware.Recovery())

	corsConfig := cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.Server.AllowedOrigins) > 0 {
		normalized, allowAll := normalizeAllowedOrigins(cfg.Server.AllowedOrigins)
		if allowAll {
			corsConfig.AllowOrigins = nil
			corsConfig.AllowOriginFunc = func(origin string) bool { return true }
		} else if len(normalized) > 0 {
			corsConfig.AllowOrigins = normalized
		}
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	stockHandler := handlers.NewStockHandler(svc, cfg.ExpiryAlert)
	orderHandler := handlers.NewOrderHandler(svc)
	receiptHandler := handlers.NewReceiptHandler(svc)
	exceptionHandler := handlers.NewExceptionHandler(svc)
	catalogHandler := handlers.NewCatalogHandler(svc)

	v1 := router.Group("/api/v1")
	{
		stockGroup := v1.Group("/stock")
		{
			stockGroup.GET("/:sku", stockHandler.GetStock)
			stockGroup.GET("/:sku/position", stockHandler.GetInventoryPosition)
			stockGroup.GET("/:sku/on_order", stockHandler.GetOnOrder)
			stockGroup.GET("/:sku/usable", stockHandler.GetUsableStock)
		}
		v1.GET("/alerts/expiry", stockHandler.GetExpiryAlerts)

		orderGroup := v1.Group("/orders")
		{
			orderGroup.GET("/proposal/:sku", orderHandler.GetProposal)
			orderGroup.POST("/confirm", orderHandler.ConfirmOrders)
		}

		v1.POST("/receipts/close", receiptHandler.CloseReceipt)

		exceptionGroup := v1.Group("/exceptions")
		{
			exceptionGroup.POST("", exceptionHandler.RecordException)
			exceptionGroup.DELETE("/:sku", exceptionHandler.RevertExceptionDay)
		}
		v1.POST("/eod/close", exceptionHandler.CloseDay)

		catalogGroup := v1.Group("/catalog")
		{
			catalogGroup.GET("/skus", catalogHandler.GetSkus)
			catalogGroup.PUT("/skus", catalogHandler.PutSkus)
			catalogGroup.GET("/promos", catalogHandler.GetPromos)
			catalogGroup.PUT("/promos", catalogHandler.PutPromos)
		}
	}

	return router
}

func normalizeAllowedOrigins(origins []string) ([]string, bool) {
	var (
		parsed   []string
		allowAll bool
	)
	for _, origin := range origins {
		for _, part := range strings.Split(origin, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			if trimmed == "*" {
				allowAll = true
				continue
			}
			parsed = append(parsed, trimmed)
		}
	}
	return parsed, allowAll
}
