package service

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/risk-governor/internal/config"
	"github.com/risk-governor/internal/models"
	"github.com/risk-governor/internal/repository"
	"github.com/risk-governor/pkg/crypto"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidToken       = errors.New("invalid token")
)

// AuthService handles authentication operations
type AuthService struct {
	userRepo   *repository.UserRepository
	accounts   *AccountService
	jwtConfig  config.JWTConfig
	authConfig config.AuthConfig
}

// NewAuthService creates a new AuthService
func NewAuthService(
	userRepo *repository.UserRepository,
	accounts *AccountService,
	jwtConfig config.JWTConfig,
	authConfig config.AuthConfig,
) *AuthService {
	return &AuthService{
		userRepo:   userRepo,
		accounts:   accounts,
		jwtConfig:  jwtConfig,
		authConfig: authConfig,
	}
}

// RegisterRequest represents the registration request
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Email    string `json:"email" binding:"omitempty,email"`
	Password string `json:"password" binding:"required,min=6,max=100"`
}

// LoginRequest represents the login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse represents the JWT token response
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// JWTClaims represents the JWT claims
type JWTClaims struct {
	UserID    uint        `json:"user_id"`
	Username  string      `json:"username"`
	AccountID uint        `json:"account_id"`
	Role      models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Register creates a user and its trading account with the default limits
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*models.User, error) {
	exists, err := s.userRepo.ExistsByUsername(ctx, req.Username)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrUsernameTaken
	}

	passwordHash, err := crypto.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	role := models.RoleTrader
	if s.authConfig.IsAdmin(req.Username) {
		role = models.RoleAdmin
	}
	user := &models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: passwordHash,
		Role:         role,
	}

	if err := s.userRepo.CreateWithAccount(ctx, user, s.accounts.NewAccount()); err != nil {
		return nil, err
	}
	return user, nil
}

// Login authenticates a user and returns a JWT token
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*TokenResponse, error) {
	user, err := s.userRepo.GetByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !crypto.CheckPassword(req.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return s.generateToken(user)
}

// RefreshToken issues a new token for the user of a still valid token
func (s *AuthService) RefreshToken(ctx context.Context, tokenString string) (*TokenResponse, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, ErrInvalidToken
	}

	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}

	return s.generateToken(user)
}

// ValidateToken validates a JWT token and returns the claims
func (s *AuthService) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtConfig.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

// generateToken generates a JWT token for a user
func (s *AuthService) generateToken(user *models.User) (*TokenResponse, error) {
	expiresIn := time.Duration(s.jwtConfig.ExpireHours) * time.Hour

	claims := &JWTClaims{
		UserID:    user.ID,
		Username:  user.Username,
		AccountID: user.AccountID,
		Role:      user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "risk-governor",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtConfig.Secret))
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken: tokenString,
		TokenType:   "Bearer",
		ExpiresIn:   s.jwtConfig.ExpireHours * 3600,
	}, nil
}
