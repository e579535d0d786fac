package repository

import (
	"context"
	"errors"

	"github.com/risk-governor/internal/models"
	"github.com/risk-governor/internal/risk"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrTradeNotFound = errors.New("trade not found")
)

// TradeRepository handles trade data access
type TradeRepository struct {
	db *gorm.DB
}

// NewTradeRepository creates a new TradeRepository
func NewTradeRepository(db *gorm.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// GetByID retrieves a trade of an account by ID
func (r *TradeRepository) GetByID(ctx context.Context, accountID uint, id string) (*models.Trade, error) {
	var trade models.Trade
	result := r.db.WithContext(ctx).Where("id = ? AND account_id = ?", id, accountID).First(&trade)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrTradeNotFound
		}
		return nil, result.Error
	}
	return &trade, nil
}

// GetByAccountIDPaginated retrieves trades most recent first
func (r *TradeRepository) GetByAccountIDPaginated(ctx context.Context, accountID uint, limit, offset int) ([]models.Trade, int64, error) {
	var trades []models.Trade
	var total int64

	db := r.db.WithContext(ctx)
	if err := db.Model(&models.Trade{}).Where("account_id = ?", accountID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	result := db.Where("account_id = ?", accountID).
		Order("entry_time DESC").
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&trades)

	return trades, total, result.Error
}

// GetByAccountID retrieves all trades for an account, most recent first
func (r *TradeRepository) GetByAccountID(ctx context.Context, accountID uint) ([]models.Trade, error) {
	var trades []models.Trade
	result := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("entry_time DESC").
		Order("created_at DESC").
		Find(&trades)
	return trades, result.Error
}

// GetOpen retrieves every OPEN trade across accounts
func (r *TradeRepository) GetOpen(ctx context.Context) ([]models.Trade, error) {
	var trades []models.Trade
	result := r.db.WithContext(ctx).
		Where("status = ?", models.TradeStatusOpen).
		Order("entry_time ASC").
		Find(&trades)
	return trades, result.Error
}

// Stats summarises the closed trades of an account for the risk model
func (r *TradeRepository) Stats(ctx context.Context, accountID uint) (risk.TradeStats, error) {
	var rows []struct {
		PnL       decimal.NullDecimal `gorm:"column:pnl"`
		RMultiple decimal.NullDecimal
	}
	err := r.db.WithContext(ctx).Model(&models.Trade{}).
		Select("pnl, r_multiple").
		Where("account_id = ? AND status = ?", accountID, models.TradeStatusClosed).
		Scan(&rows).Error
	if err != nil {
		return risk.TradeStats{}, err
	}

	stats := risk.TradeStats{ClosedTrades: len(rows)}
	var winR, lossR float64
	losses := 0
	for _, row := range rows {
		r, _ := row.RMultiple.Decimal.Abs().Float64()
		if row.PnL.Decimal.IsPositive() {
			stats.Wins++
			winR += r
		} else {
			losses++
			lossR += r
		}
	}
	if stats.Wins > 0 {
		stats.AvgWinR = winR / float64(stats.Wins)
	}
	if losses > 0 {
		stats.AvgLossR = lossR / float64(losses)
	}
	return stats, nil
}
