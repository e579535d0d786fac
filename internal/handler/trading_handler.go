package handler

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/risk-governor/internal/middleware"
	"github.com/risk-governor/internal/models"
	"github.com/risk-governor/internal/report"
	"github.com/risk-governor/internal/risk"
	"github.com/risk-governor/internal/service"
	"github.com/risk-governor/pkg/response"
	"github.com/shopspring/decimal"
)

// TradingHandler handles trade API requests
type TradingHandler struct {
	tradingService *service.TradingService
	reportService  *service.ReportService
}

// NewTradingHandler creates a new TradingHandler
func NewTradingHandler(tradingService *service.TradingService, reportService *service.ReportService) *TradingHandler {
	return &TradingHandler{
		tradingService: tradingService,
		reportService:  reportService,
	}
}

// Validate dry-runs a trade request against the live account state.
// An invalid request is still a 200 response.
// POST /api/v1/trades/validate
func (h *TradingHandler) Validate(c *gin.Context) {
	var req risk.TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		malformed(c, err)
		return
	}

	result, err := h.tradingService.Validate(c.Request.Context(), middleware.GetAccountID(c), req)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, result)
}

// Execute re-validates and commits a trade
// POST /api/v1/trades/
func (h *TradingHandler) Execute(c *gin.Context) {
	var req risk.TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		malformed(c, err)
		return
	}

	trade, err := h.tradingService.Execute(c.Request.Context(), middleware.GetAccountID(c), req)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Created(c, trade)
}

// ListTrades returns the account's trades, most recent first
// GET /api/v1/trades/?limit=&offset=
func (h *TradingHandler) ListTrades(c *gin.Context) {
	limit, offset := pagination(c)

	trades, total, err := h.tradingService.ListTrades(c.Request.Context(), middleware.GetAccountID(c), limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}

	response.SuccessPaginated(c, trades, total, limit, offset)
}

// CloseTrade closes an OPEN trade at the given exit price or the mark price
// POST /api/v1/trades/:id/close
func (h *TradingHandler) CloseTrade(c *gin.Context) {
	var req struct {
		ExitPrice *decimal.Decimal `json:"exit_price"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			malformed(c, err)
			return
		}
	}

	trade, err := h.tradingService.CloseTrade(c.Request.Context(), middleware.GetAccountID(c), c.Param("id"), req.ExitPrice, models.CloseReasonManual)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, trade)
}

// Export downloads the trade history as pdf, csv or html
// GET /api/v1/trades/export/:format
func (h *TradingHandler) Export(c *gin.Context) {
	format, err := report.ParseFormat(c.Param("format"))
	if err != nil {
		response.BadRequest(c, "format must be pdf, csv or html")
		return
	}

	accountID := middleware.GetAccountID(c)
	out, err := h.reportService.Export(c.Request.Context(), accountID, format)
	if err != nil {
		handleError(c, err)
		return
	}

	disposition := "attachment"
	if format == report.FormatHTML {
		disposition = "inline"
	}
	c.Header("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, report.Filename(accountID, format, time.Now())))
	c.Data(200, format.ContentType(), out)
}

// RegisterRoutes registers trade routes
func (h *TradingHandler) RegisterRoutes(rg *gin.RouterGroup, authMiddleware gin.HandlerFunc) {
	trades := rg.Group("/trades")
	trades.Use(authMiddleware)
	{
		trades.POST("/validate", h.Validate)

		trades.POST("", h.Execute)
		trades.POST("/", h.Execute)
		trades.GET("", h.ListTrades)
		trades.GET("/", h.ListTrades)

		trades.POST("/:id/close", h.CloseTrade)
		trades.GET("/export/:format", h.Export)
	}
}
