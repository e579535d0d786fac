package repository

import (
	"github.com/risk-governor/internal/models"
	"gorm.io/gorm"
)

// AutoMigrate creates or updates the schema
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Account{},
		&models.Trade{},
		&models.JournalEntry{},
	)
}
