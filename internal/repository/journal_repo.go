package repository

import (
	"context"

	"github.com/risk-governor/internal/models"
	"gorm.io/gorm"
)

// JournalRepository handles journal entry data access
type JournalRepository struct {
	db *gorm.DB
}

// NewJournalRepository creates a new JournalRepository
func NewJournalRepository(db *gorm.DB) *JournalRepository {
	return &JournalRepository{db: db}
}

// Create creates a new journal entry
func (r *JournalRepository) Create(ctx context.Context, entry *models.JournalEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// GetByAccountIDPaginated retrieves journal entries most recent first
func (r *JournalRepository) GetByAccountIDPaginated(ctx context.Context, accountID uint, limit, offset int) ([]models.JournalEntry, int64, error) {
	var entries []models.JournalEntry
	var total int64

	db := r.db.WithContext(ctx)
	if err := db.Model(&models.JournalEntry{}).Where("account_id = ?", accountID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	result := db.Where("account_id = ?", accountID).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&entries)

	return entries, total, result.Error
}
