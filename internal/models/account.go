package models

import (
	"time"

	"github.com/risk-governor/internal/risk"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Account holds the risk ledger of one trading account
type Account struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	UserID            uint            `gorm:"index" json:"user_id"`
	Balance           decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"balance"`
	InitialBalance    decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"initial_balance"`
	MaxDailyLoss      decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"max_daily_loss"`
	CurrentDailyLoss  decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"current_daily_loss"`
	OpenRisk          decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"open_risk"`
	MaxTradesPerDay   int             `gorm:"not null;default:10" json:"max_trades_per_day"`
	TradesTodayCount  int             `gorm:"not null;default:0" json:"trades_today_count"`
	LockReason        risk.LockReason `gorm:"size:20;default:''" json:"lock_reason"`
	LockedAt          *time.Time      `json:"locked_at,omitempty"`
	LockedBy          string          `gorm:"size:50" json:"locked_by,omitempty"`
	LockNote          string          `gorm:"size:255" json:"lock_note,omitempty"`
	LastViolationTime *time.Time      `json:"last_violation_time,omitempty"`
	Timezone          string          `gorm:"size:64;not null;default:'UTC'" json:"timezone"`
	WindowDay         string          `gorm:"size:10" json:"window_day"`
	Version           int64           `gorm:"not null;default:1" json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	DeletedAt         gorm.DeletedAt  `gorm:"index" json:"-"`
}

// TableName specifies the table name for Account model
func (Account) TableName() string {
	return "accounts"
}

// Locked reports whether the account is locked for any reason
func (a *Account) Locked() bool {
	return a.LockReason != risk.LockNone
}

// Ledger converts the row into a risk ledger value
func (a *Account) Ledger() risk.Ledger {
	lock := risk.Unlocked()
	if a.LockReason != risk.LockNone {
		lock = risk.LockState{Reason: a.LockReason, By: a.LockedBy, Note: a.LockNote}
		if a.LockedAt != nil {
			lock.At = *a.LockedAt
		}
	}
	var lastViolation *time.Time
	if a.LastViolationTime != nil {
		t := *a.LastViolationTime
		lastViolation = &t
	}
	return risk.Ledger{
		AccountID:        a.ID,
		Balance:          a.Balance,
		InitialBalance:   a.InitialBalance,
		MaxDailyLoss:     a.MaxDailyLoss,
		CurrentDailyLoss: a.CurrentDailyLoss,
		OpenRisk:         a.OpenRisk,
		MaxTradesPerDay:  a.MaxTradesPerDay,
		TradesToday:      a.TradesTodayCount,
		Lock:             lock,
		LastViolation:    lastViolation,
		Timezone:         a.Timezone,
		WindowDay:        a.WindowDay,
		Version:          a.Version,
	}
}

// ApplyLedger copies the ledger's fields onto the row
func (a *Account) ApplyLedger(l risk.Ledger) {
	a.Balance = l.Balance
	a.InitialBalance = l.InitialBalance
	a.MaxDailyLoss = l.MaxDailyLoss
	a.CurrentDailyLoss = l.CurrentDailyLoss
	a.OpenRisk = l.OpenRisk
	a.MaxTradesPerDay = l.MaxTradesPerDay
	a.TradesTodayCount = l.TradesToday
	a.LockReason = l.Lock.Reason
	a.LockedAt = nil
	a.LockedBy = l.Lock.By
	a.LockNote = l.Lock.Note
	if l.Lock.Locked() && !l.Lock.At.IsZero() {
		at := l.Lock.At
		a.LockedAt = &at
	}
	a.LastViolationTime = l.LastViolation
	a.Timezone = l.Timezone
	a.WindowDay = l.WindowDay
	a.Version = l.Version
}

// LedgerColumns returns the column map written by a ledger commit
func LedgerColumns(l risk.Ledger) map[string]interface{} {
	var lockedAt *time.Time
	if l.Lock.Locked() && !l.Lock.At.IsZero() {
		at := l.Lock.At
		lockedAt = &at
	}
	return map[string]interface{}{
		"balance":             l.Balance,
		"current_daily_loss":  l.CurrentDailyLoss,
		"open_risk":           l.OpenRisk,
		"max_daily_loss":      l.MaxDailyLoss,
		"max_trades_per_day":  l.MaxTradesPerDay,
		"trades_today_count":  l.TradesToday,
		"lock_reason":         l.Lock.Reason,
		"locked_at":           lockedAt,
		"locked_by":           l.Lock.By,
		"lock_note":           l.Lock.Note,
		"last_violation_time": l.LastViolation,
		"timezone":            l.Timezone,
		"window_day":          l.WindowDay,
		"version":             l.Version,
	}
}

// AccountResponse is the read view of an account with derived survival
// metrics. The metrics are omitted when no estimate could be computed.
type AccountResponse struct {
	ID                uint            `json:"id"`
	Balance           decimal.Decimal `json:"balance"`
	InitialBalance    decimal.Decimal `json:"initial_balance"`
	MaxDailyLoss      decimal.Decimal `json:"max_daily_loss"`
	CurrentDailyLoss  decimal.Decimal `json:"current_daily_loss"`
	OpenRisk          decimal.Decimal `json:"open_risk"`
	RemainingBudget   decimal.Decimal `json:"remaining_budget"`
	MaxTradesPerDay   int             `json:"max_trades_per_day"`
	TradesTodayCount  int             `json:"trades_today_count"`
	Locked            bool            `json:"locked"`
	LockReason        risk.LockReason `json:"lock_reason,omitempty"`
	LockedAt          *time.Time      `json:"locked_at,omitempty"`
	LockedBy          string          `json:"locked_by,omitempty"`
	LastViolationTime *time.Time      `json:"last_violation_time,omitempty"`
	Timezone          string          `json:"timezone"`
	WindowDay         string          `json:"window_day"`
	Version           int64           `json:"version"`
	RunwayDays        *float64        `json:"runway_days,omitempty"`
	RuinProbability   *float64        `json:"ruin_probability,omitempty"`
	SurvivalMode      *bool           `json:"survival_mode,omitempty"`
}

// NewAccountResponse builds the read view from a ledger and a model estimate.
// est may be nil.
func NewAccountResponse(l risk.Ledger, est *risk.Estimate, survivalThreshold float64) AccountResponse {
	resp := AccountResponse{
		ID:                l.AccountID,
		Balance:           l.Balance,
		InitialBalance:    l.InitialBalance,
		MaxDailyLoss:      l.MaxDailyLoss,
		CurrentDailyLoss:  l.CurrentDailyLoss,
		OpenRisk:          l.OpenRisk,
		RemainingBudget:   l.RemainingBudget(),
		MaxTradesPerDay:   l.MaxTradesPerDay,
		TradesTodayCount:  l.TradesToday,
		Locked:            l.Lock.Locked(),
		LockReason:        l.Lock.Reason,
		LockedBy:          l.Lock.By,
		LastViolationTime: l.LastViolation,
		Timezone:          l.Timezone,
		WindowDay:         l.WindowDay,
		Version:           l.Version,
	}
	if est != nil {
		runway, ruin := est.RunwayDays, est.RuinProbability
		survival := runway < survivalThreshold
		resp.RunwayDays = &runway
		resp.RuinProbability = &ruin
		resp.SurvivalMode = &survival
	}
	if l.Lock.Locked() && !l.Lock.At.IsZero() {
		at := l.Lock.At
		resp.LockedAt = &at
	}
	return resp
}
