package models

import (
	"testing"
	"time"

	"github.com/risk-governor/internal/risk"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTrade(side risk.Side) *Trade {
	return &Trade{
		ID:          "t-1",
		Side:        side,
		Quantity:    decimal.NewFromInt(2),
		EntryPrice:  decimal.NewFromInt(100),
		StopPrice:   decimal.NewFromInt(95),
		TargetPrice: decimal.NewFromInt(110),
		Status:      TradeStatusOpen,
	}
}

func TestTradeTransition(t *testing.T) {
	tr := &Trade{Status: TradeStatusPendingValidation}

	require.NoError(t, tr.Transition(TradeStatusValidated))
	require.NoError(t, tr.Transition(TradeStatusExecuted))
	require.NoError(t, tr.Transition(TradeStatusOpen))
	require.NoError(t, tr.Transition(TradeStatusClosed))

	err := tr.Transition(TradeStatusOpen)
	var invalid *ErrInvalidTransition
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, TradeStatusClosed, invalid.From)
}

func TestTradeTransition_RejectOnlyBeforeExecution(t *testing.T) {
	tr := &Trade{Status: TradeStatusValidated}
	assert.NoError(t, tr.Transition(TradeStatusRejected))

	tr = &Trade{Status: TradeStatusOpen}
	assert.Error(t, tr.Transition(TradeStatusRejected))
}

func TestCalculatePnL(t *testing.T) {
	long := openTrade(risk.SideLong)
	assert.True(t, long.CalculatePnL(decimal.NewFromInt(90)).Equal(decimal.NewFromInt(-20)))

	short := openTrade(risk.SideShort)
	assert.True(t, short.CalculatePnL(decimal.NewFromInt(90)).Equal(decimal.NewFromInt(20)))
}

func TestExitTrigger(t *testing.T) {
	tests := []struct {
		name   string
		trade  *Trade
		price  int64
		reason CloseReason
		hit    bool
	}{
		{"long stop", openTrade(risk.SideLong), 95, CloseReasonStopLoss, true},
		{"long target", openTrade(risk.SideLong), 111, CloseReasonTakeProfit, true},
		{"long inside", openTrade(risk.SideLong), 100, "", false},
		{"short stop", &Trade{Side: risk.SideShort, StopPrice: decimal.NewFromInt(105), TargetPrice: decimal.NewFromInt(90), Status: TradeStatusOpen}, 106, CloseReasonStopLoss, true},
		{"short target", &Trade{Side: risk.SideShort, StopPrice: decimal.NewFromInt(105), TargetPrice: decimal.NewFromInt(90), Status: TradeStatusOpen}, 90, CloseReasonTakeProfit, true},
		{"closed trade", &Trade{Side: risk.SideLong, Status: TradeStatusClosed}, 1, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, hit := tt.trade.ExitTrigger(decimal.NewFromInt(tt.price))
			assert.Equal(t, tt.hit, hit)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestTags(t *testing.T) {
	tr := NewTrade("t-2", 1, risk.TradeRequest{Symbol: "BTCUSDT", Tags: []string{"breakout", "a+"}}, time.Now())
	assert.Equal(t, []string{"breakout", "a+"}, tr.TagList())
	assert.Equal(t, TradeStatusPendingValidation, tr.Status)

	tr.SetTags(nil)
	assert.Nil(t, tr.TagList())
}

func TestAccountLedgerConversion(t *testing.T) {
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	a := &Account{
		ID:               7,
		Balance:          decimal.NewFromInt(500),
		MaxDailyLoss:     decimal.NewFromInt(50),
		CurrentDailyLoss: decimal.NewFromInt(50),
		MaxTradesPerDay:  3,
		LockReason:       risk.LockBudget,
		LockedAt:         &at,
		Timezone:         "UTC",
		WindowDay:        "2026-03-02",
		Version:          4,
	}

	l := a.Ledger()
	assert.Equal(t, uint(7), l.AccountID)
	assert.Equal(t, risk.LockedByBudget(at), l.Lock)
	assert.Equal(t, int64(4), l.Version)

	a.ApplyLedger(l.WithUnlock())
	assert.False(t, a.Locked())
	assert.Nil(t, a.LockedAt)
	assert.Equal(t, int64(5), a.Version)
}
