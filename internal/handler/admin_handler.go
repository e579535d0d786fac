package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/risk-governor/internal/middleware"
	"github.com/risk-governor/internal/service"
	"github.com/risk-governor/pkg/response"
)

// AdminHandler handles administrative account operations
type AdminHandler struct {
	accountService *service.AccountService
	windowManager  *service.WindowManager
	priceHandler   *PriceHandler
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(accountService *service.AccountService, windowManager *service.WindowManager, priceHandler *PriceHandler) *AdminHandler {
	return &AdminHandler{
		accountService: accountService,
		windowManager:  windowManager,
		priceHandler:   priceHandler,
	}
}

func accountParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid account id")
		return 0, false
	}
	return uint(id), true
}

// LockAccount places an administrative lock that survives day rollover
// POST /api/v1/admin/accounts/:id/lock
func (h *AdminHandler) LockAccount(c *gin.Context) {
	accountID, ok := accountParam(c)
	if !ok {
		return
	}
	var req struct {
		Note string `json:"note" binding:"max=255"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	account, err := h.accountService.Lock(c.Request.Context(), accountID, middleware.GetUsername(c), req.Note)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, account)
}

// UnlockAccount clears any lock on the account
// POST /api/v1/admin/accounts/:id/unlock
func (h *AdminHandler) UnlockAccount(c *gin.Context) {
	accountID, ok := accountParam(c)
	if !ok {
		return
	}

	account, err := h.accountService.Unlock(c.Request.Context(), accountID, middleware.GetUsername(c))
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, account)
}

// Rollover starts a new daily window for the account immediately
// POST /api/v1/admin/accounts/:id/rollover
func (h *AdminHandler) Rollover(c *gin.Context) {
	accountID, ok := accountParam(c)
	if !ok {
		return
	}

	if _, err := h.windowManager.ForceRollover(c.Request.Context(), accountID, time.Now()); err != nil {
		handleError(c, err)
		return
	}

	account, err := h.accountService.GetAccount(c.Request.Context(), accountID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, account)
}

// RegisterRoutes registers admin routes
func (h *AdminHandler) RegisterRoutes(rg *gin.RouterGroup, authMiddleware gin.HandlerFunc) {
	admin := rg.Group("/admin")
	admin.Use(authMiddleware, middleware.RequireAdmin())
	{
		admin.POST("/accounts/:id/lock", h.LockAccount)
		admin.POST("/accounts/:id/unlock", h.UnlockAccount)
		admin.POST("/accounts/:id/rollover", h.Rollover)
		admin.PUT("/prices/:symbol", h.priceHandler.SetPrice)
	}
}
