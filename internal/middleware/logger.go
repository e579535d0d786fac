package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ContextKeyRequestID is the key for the request ID in gin context
const ContextKeyRequestID = "request_id"

// RequestLoggerMiddleware logs every request with method, URL, status and latency.
// Requests that end with status >= 400 are logged at error level, including
// any errors handlers attached to the context.
func RequestLoggerMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(ContextKeyRequestID, requestID)
		c.Header("X-Request-ID", requestID)

		// Build full URL
		fullURL := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			fullURL = fullURL + "?" + c.Request.URL.RawQuery
		}

		// Process request
		c.Next()

		statusCode := c.Writer.Status()
		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("url", fullURL),
			zap.Int("status", statusCode),
			zap.Duration("latency", time.Since(startTime)),
			zap.String("client_ip", c.ClientIP()),
		}
		if accountID := GetAccountID(c); accountID != 0 {
			fields = append(fields, zap.Uint("account_id", accountID))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		if statusCode >= 400 {
			log.Error("request", fields...)
		} else {
			log.Info("request", fields...)
		}
	}
}
