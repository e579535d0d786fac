package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/risk-governor/internal/middleware"
	"github.com/risk-governor/internal/service"
	"github.com/risk-governor/pkg/response"
)

// AccountHandler handles account API requests
type AccountHandler struct {
	accountService *service.AccountService
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(accountService *service.AccountService) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
	}
}

// GetAccount returns the caller's account with runway and ruin probability
// GET /api/v1/account/
func (h *AccountHandler) GetAccount(c *gin.Context) {
	account, err := h.accountService.GetAccount(c.Request.Context(), middleware.GetAccountID(c))
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, account)
}

// RegisterRoutes registers account routes
func (h *AccountHandler) RegisterRoutes(rg *gin.RouterGroup, authMiddleware gin.HandlerFunc) {
	account := rg.Group("/account")
	account.Use(authMiddleware)
	{
		account.GET("", h.GetAccount)
		account.GET("/", h.GetAccount)
	}
}
