package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/risk-governor/internal/service"
	"github.com/risk-governor/pkg/response"
	"github.com/shopspring/decimal"
)

// PriceHandler handles mark price API requests
type PriceHandler struct {
	priceService *service.PriceService
}

// NewPriceHandler creates a new PriceHandler
func NewPriceHandler(priceService *service.PriceService) *PriceHandler {
	return &PriceHandler{
		priceService: priceService,
	}
}

// GetPrice returns the current mark price for a symbol
// GET /api/v1/prices/:symbol
func (h *PriceHandler) GetPrice(c *gin.Context) {
	symbol := c.Param("symbol")

	price, err := h.priceService.GetPrice(c.Request.Context(), symbol)
	if err != nil {
		response.NotFound(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"symbol": symbol,
		"price":  price,
	})
}

// GetPrices returns all known mark prices
// GET /api/v1/prices
func (h *PriceHandler) GetPrices(c *gin.Context) {
	response.Success(c, gin.H{
		"prices": h.priceService.GetAllPrices(),
		"feeds":  h.priceService.Status(),
	})
}

// SetPrice pins a manual mark price
// PUT /api/v1/admin/prices/:symbol
func (h *PriceHandler) SetPrice(c *gin.Context) {
	var req struct {
		Price decimal.Decimal `json:"price"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	update, err := h.priceService.SetManualPrice(c.Request.Context(), c.Param("symbol"), req.Price)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.Success(c, update)
}

// RegisterRoutes registers price routes
func (h *PriceHandler) RegisterRoutes(rg *gin.RouterGroup, authMiddleware gin.HandlerFunc) {
	prices := rg.Group("/prices")
	prices.Use(authMiddleware)
	{
		prices.GET("", h.GetPrices)
		prices.GET("/:symbol", h.GetPrice)
	}
}
