package models

import (
	"time"

	"gorm.io/gorm"
)

// Role is the authorisation role of a user
type Role string

const (
	RoleTrader Role = "trader"
	RoleAdmin  Role = "admin"
)

// User represents a registered user
type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Username     string         `gorm:"uniqueIndex;size:50;not null" json:"username"`
	Email        string         `gorm:"size:100" json:"email,omitempty"`
	PasswordHash string         `gorm:"size:255;not null" json:"-"`
	Role         Role           `gorm:"size:20;not null;default:'trader'" json:"role"`
	AccountID    uint           `gorm:"index" json:"account_id"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for User model
func (User) TableName() string {
	return "users"
}

// IsAdmin returns true if the user may use administrative endpoints
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
