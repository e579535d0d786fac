package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/risk-governor/internal/repository"
	"github.com/risk-governor/internal/risk"
	"github.com/risk-governor/internal/service"
	"github.com/risk-governor/pkg/response"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// kindSystemUnavailable is reported when a trade could not be checked
const kindSystemUnavailable = "SystemUnavailable"

// ErrorBody is the data of an execution error response
type ErrorBody struct {
	Kind    string `json:"kind"`
	Reason  string `json:"reason"`
	TradeID string `json:"trade_id,omitempty"`
}

func executionStatus(kind risk.ErrorKind) (int, int) {
	switch kind {
	case risk.KindAccountLocked:
		return http.StatusLocked, response.CodeLocked
	case risk.KindRiskLimitBreached:
		return http.StatusUnprocessableEntity, response.CodeRiskLimit
	case risk.KindStaleValidation:
		return http.StatusConflict, response.CodeStaleValidation
	default:
		return http.StatusBadRequest, response.CodeMalformedRequest
	}
}

// handleError maps service errors onto the response envelope
func handleError(c *gin.Context, err error) {
	_ = c.Error(err)

	var execErr *risk.ExecutionError
	switch {
	case errors.As(err, &execErr):
		status, code := executionStatus(execErr.Kind)
		response.ErrorWithData(c, status, code, execErr.Reason, ErrorBody{
			Kind:    string(execErr.Kind),
			Reason:  execErr.Reason,
			TradeID: execErr.TradeID,
		})
	case errors.Is(err, risk.ErrSystemUnavailable), errors.Is(err, service.ErrPriceUnavailable):
		reason := "risk check unavailable, trade not approved"
		response.ErrorWithData(c, http.StatusServiceUnavailable, response.CodeServiceUnavailable, reason, ErrorBody{
			Kind:   kindSystemUnavailable,
			Reason: reason,
		})
	case errors.Is(err, service.ErrAccountNotFound), errors.Is(err, repository.ErrAccountNotFound):
		response.NotFound(c, "account not found")
	case errors.Is(err, service.ErrTradeNotFound):
		response.NotFound(c, "trade not found")
	case errors.Is(err, service.ErrTradeNotOpen):
		response.Conflict(c, "trade is not open")
	case errors.Is(err, service.ErrInvalidPrice):
		response.BadRequest(c, "invalid price")
	default:
		response.InternalError(c, "internal error")
	}
}

// malformed rejects a request body that could not be decoded
func malformed(c *gin.Context, err error) {
	handleError(c, risk.MalformedRequest(err.Error()))
}

// pagination reads limit and offset query parameters
func pagination(c *gin.Context) (limit, offset int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageLimit)))
	if err != nil || limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
