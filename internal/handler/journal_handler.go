package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/risk-governor/internal/middleware"
	"github.com/risk-governor/internal/service"
	"github.com/risk-governor/pkg/response"
)

// JournalHandler handles trading journal API requests
type JournalHandler struct {
	journalService *service.JournalService
}

// NewJournalHandler creates a new JournalHandler
func NewJournalHandler(journalService *service.JournalService) *JournalHandler {
	return &JournalHandler{
		journalService: journalService,
	}
}

// CreateEntry stores a journal entry with coaching feedback
// POST /api/v1/journal/
func (h *JournalHandler) CreateEntry(c *gin.Context) {
	var req service.CreateJournalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	entry, err := h.journalService.Create(c.Request.Context(), middleware.GetAccountID(c), &req)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Created(c, entry)
}

// ListEntries returns journal entries, most recent first
// GET /api/v1/journal/?limit=&offset=
func (h *JournalHandler) ListEntries(c *gin.Context) {
	limit, offset := pagination(c)

	entries, total, err := h.journalService.List(c.Request.Context(), middleware.GetAccountID(c), limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}

	response.SuccessPaginated(c, entries, total, limit, offset)
}

// RegisterRoutes registers journal routes
func (h *JournalHandler) RegisterRoutes(rg *gin.RouterGroup, authMiddleware gin.HandlerFunc) {
	journal := rg.Group("/journal")
	journal.Use(authMiddleware)
	{
		journal.POST("", h.CreateEntry)
		journal.POST("/", h.CreateEntry)
		journal.GET("", h.ListEntries)
		journal.GET("/", h.ListEntries)
	}
}
