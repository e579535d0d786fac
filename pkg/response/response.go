package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the standard API response structure
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error codes carried in Response.Code
const (
	CodeOK                 = 0
	CodeBadRequest         = -1
	CodeUnauthorized       = -1001
	CodeForbidden          = -1002
	CodeNotFound           = -1003
	CodeConflict           = -1004
	CodeLocked             = -2001
	CodeRiskLimit          = -2002
	CodeStaleValidation    = -2003
	CodeMalformedRequest   = -2004
	CodeServiceUnavailable = -3001
)

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeOK,
		Message: "success",
		Data:    data,
	})
}

// Created sends a 201 created response
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    CodeOK,
		Message: "created",
		Data:    data,
	})
}

// Error sends an error response
func Error(c *gin.Context, statusCode int, code int, message string) {
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

// ErrorWithData sends an error response with a machine-readable payload
func ErrorWithData(c *gin.Context, statusCode int, code int, message string, data interface{}) {
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// BadRequest sends a 400 error response
func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, CodeBadRequest, message)
}

// Unauthorized sends a 401 error response
func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden sends a 403 error response
func Forbidden(c *gin.Context, message string) {
	Error(c, http.StatusForbidden, CodeForbidden, message)
}

// NotFound sends a 404 error response
func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, CodeNotFound, message)
}

// Conflict sends a 409 error response
func Conflict(c *gin.Context, message string) {
	Error(c, http.StatusConflict, CodeConflict, message)
}

// ServiceUnavailable sends a 503 error response
func ServiceUnavailable(c *gin.Context, message string) {
	Error(c, http.StatusServiceUnavailable, CodeServiceUnavailable, message)
}

// InternalError sends a 500 error response
func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, CodeBadRequest, message)
}

// Paginated is the paginated response structure
type Paginated struct {
	Items  interface{} `json:"items"`
	Total  int64       `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// SuccessPaginated sends a successful paginated response
func SuccessPaginated(c *gin.Context, items interface{}, total int64, limit, offset int) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeOK,
		Message: "success",
		Data: Paginated{
			Items:  items,
			Total:  total,
			Limit:  limit,
			Offset: offset,
		},
	})
}
