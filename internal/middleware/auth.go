package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/risk-governor/internal/models"
	"github.com/risk-governor/internal/service"
	"github.com/risk-governor/pkg/response"
)

const (
	// ContextKeyUserID is the key for user ID in gin context
	ContextKeyUserID = "user_id"
	// ContextKeyUsername is the key for username in gin context
	ContextKeyUsername = "username"
	// ContextKeyAccountID is the key for the trading account ID in gin context
	ContextKeyAccountID = "account_id"
	// ContextKeyRole is the key for the user role in gin context
	ContextKeyRole = "role"
)

// AuthMiddleware creates a JWT authentication middleware
func AuthMiddleware(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}

		// Check Bearer prefix
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			response.Unauthorized(c, "invalid authorization header format")
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyUsername, claims.Username)
		c.Set(ContextKeyAccountID, claims.AccountID)
		c.Set(ContextKeyRole, claims.Role)

		c.Next()
	}
}

// SingleAccountMiddleware is used when authentication is disabled: every
// request acts on accountID with administrative rights.
func SingleAccountMiddleware(accountID uint) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ContextKeyUsername, "local")
		c.Set(ContextKeyAccountID, accountID)
		c.Set(ContextKeyRole, models.RoleAdmin)
		c.Next()
	}
}

// RequireAdmin rejects requests from non-admin users
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetRole(c) != models.RoleAdmin {
			response.Forbidden(c, "admin role required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetUserID gets the user ID from the gin context
func GetUserID(c *gin.Context) uint {
	userID, exists := c.Get(ContextKeyUserID)
	if !exists {
		return 0
	}
	return userID.(uint)
}

// GetUsername gets the username from the gin context
func GetUsername(c *gin.Context) string {
	username, exists := c.Get(ContextKeyUsername)
	if !exists {
		return ""
	}
	return username.(string)
}

// GetAccountID gets the trading account ID from the gin context
func GetAccountID(c *gin.Context) uint {
	accountID, exists := c.Get(ContextKeyAccountID)
	if !exists {
		return 0
	}
	return accountID.(uint)
}

// GetRole gets the user role from the gin context
func GetRole(c *gin.Context) models.Role {
	role, exists := c.Get(ContextKeyRole)
	if !exists {
		return ""
	}
	return role.(models.Role)
}
