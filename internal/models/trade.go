package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/risk-governor/internal/risk"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// TradeStatus represents the trade lifecycle status
type TradeStatus string

const (
	TradeStatusPendingValidation TradeStatus = "PENDING_VALIDATION"
	TradeStatusValidated         TradeStatus = "VALIDATED"
	TradeStatusExecuted          TradeStatus = "EXECUTED"
	TradeStatusOpen              TradeStatus = "OPEN"
	TradeStatusClosed            TradeStatus = "CLOSED"
	TradeStatusRejected          TradeStatus = "REJECTED"
)

// CloseReason records why a trade was closed
type CloseReason string

const (
	CloseReasonManual     CloseReason = "manual"
	CloseReasonStopLoss   CloseReason = "stop_loss"
	CloseReasonTakeProfit CloseReason = "take_profit"
)

var tradeTransitions = map[TradeStatus][]TradeStatus{
	TradeStatusPendingValidation: {TradeStatusValidated, TradeStatusRejected},
	TradeStatusValidated:         {TradeStatusExecuted, TradeStatusRejected},
	TradeStatusExecuted:          {TradeStatusOpen},
	TradeStatusOpen:              {TradeStatusClosed},
}

// ErrInvalidTransition is returned for a status change the lifecycle does not allow
type ErrInvalidTransition struct {
	From TradeStatus
	To   TradeStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid trade transition %s -> %s", e.From, e.To)
}

// Trade is one trade attempt. Rejected attempts are kept for audit.
type Trade struct {
	ID           string           `gorm:"primaryKey;size:36" json:"id"`
	AccountID    uint             `gorm:"index;not null" json:"account_id"`
	Symbol       string           `gorm:"size:20;not null;index" json:"symbol"`
	Side         risk.Side        `gorm:"size:10;not null" json:"side"`
	OrderType    risk.OrderType   `gorm:"size:10;not null" json:"order_type"`
	Quantity     decimal.Decimal  `gorm:"type:decimal(20,8);not null" json:"quantity"`
	EntryPrice   decimal.Decimal  `gorm:"type:decimal(20,8)" json:"entry_price"`
	LimitPrice   *decimal.Decimal `gorm:"type:decimal(20,8)" json:"limit_price,omitempty"`
	SLPercent    decimal.Decimal  `gorm:"type:decimal(10,4)" json:"sl_percent"`
	TPPercent    decimal.Decimal  `gorm:"type:decimal(10,4)" json:"tp_percent"`
	StopPrice    decimal.Decimal  `gorm:"type:decimal(20,8)" json:"stop_price"`
	TargetPrice  decimal.Decimal  `gorm:"type:decimal(20,8)" json:"target_price"`
	RiskAmount   decimal.Decimal  `gorm:"type:decimal(20,8)" json:"risk_amount"`
	ExitPrice    *decimal.Decimal `gorm:"type:decimal(20,8)" json:"exit_price,omitempty"`
	PnL          *decimal.Decimal `gorm:"column:pnl;type:decimal(20,8)" json:"pnl,omitempty"`
	RMultiple    *decimal.Decimal `gorm:"type:decimal(20,8)" json:"r_multiple,omitempty"`
	EntryTime    time.Time        `gorm:"index" json:"entry_time"`
	ExitTime     *time.Time       `json:"exit_time,omitempty"`
	Status       TradeStatus      `gorm:"size:20;not null;index" json:"status"`
	RejectReason string           `gorm:"size:255" json:"reject_reason,omitempty"`
	RejectKind   risk.ErrorKind   `gorm:"size:30" json:"reject_kind,omitempty"`
	CloseReason  CloseReason      `gorm:"size:20" json:"close_reason,omitempty"`
	Tags         datatypes.JSON   `json:"tags,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// TableName specifies the table name for Trade model
func (Trade) TableName() string {
	return "trades"
}

// NewTrade builds a PENDING_VALIDATION trade from a request
func NewTrade(id string, accountID uint, req risk.TradeRequest, now time.Time) *Trade {
	t := &Trade{
		ID:         id,
		AccountID:  accountID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		OrderType:  req.OrderType,
		Quantity:   req.Quantity,
		LimitPrice: req.LimitPrice,
		SLPercent:  req.SLPercent,
		TPPercent:  req.TPPercent,
		EntryTime:  now,
		Status:     TradeStatusPendingValidation,
	}
	t.SetTags(req.Tags)
	return t
}

// Transition moves the trade to the next status
func (t *Trade) Transition(to TradeStatus) error {
	for _, allowed := range tradeTransitions[t.Status] {
		if allowed == to {
			t.Status = to
			return nil
		}
	}
	return &ErrInvalidTransition{From: t.Status, To: to}
}

// IsOpen returns true if the trade still reserves risk
func (t *Trade) IsOpen() bool {
	return t.Status == TradeStatusOpen
}

// SetTags stores the tag list as JSON
func (t *Trade) SetTags(tags []string) {
	if len(tags) == 0 {
		t.Tags = nil
		return
	}
	raw, _ := json.Marshal(tags)
	t.Tags = datatypes.JSON(raw)
}

// TagList decodes the stored tags
func (t *Trade) TagList() []string {
	if len(t.Tags) == 0 {
		return nil
	}
	var tags []string
	if err := json.Unmarshal(t.Tags, &tags); err != nil {
		return nil
	}
	return tags
}

// CalculatePnL returns the realised PnL of closing at exitPrice
func (t *Trade) CalculatePnL(exitPrice decimal.Decimal) decimal.Decimal {
	if t.Side == risk.SideShort {
		return t.EntryPrice.Sub(exitPrice).Mul(t.Quantity)
	}
	return exitPrice.Sub(t.EntryPrice).Mul(t.Quantity)
}

// ExitTrigger returns the close reason if price crossed the stop or target
func (t *Trade) ExitTrigger(price decimal.Decimal) (CloseReason, bool) {
	if !t.IsOpen() {
		return "", false
	}
	if t.Side == risk.SideShort {
		if price.GreaterThanOrEqual(t.StopPrice) {
			return CloseReasonStopLoss, true
		}
		if price.LessThanOrEqual(t.TargetPrice) {
			return CloseReasonTakeProfit, true
		}
		return "", false
	}
	if price.LessThanOrEqual(t.StopPrice) {
		return CloseReasonStopLoss, true
	}
	if price.GreaterThanOrEqual(t.TargetPrice) {
		return CloseReasonTakeProfit, true
	}
	return "", false
}
