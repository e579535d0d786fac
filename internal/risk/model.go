package risk

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// TradeStats summarises an account's closed trades. It is evidence for the
// risk model only; live counters never come from trade history.
type TradeStats struct {
	ClosedTrades int     `json:"closed_trades"`
	Wins         int     `json:"wins"`
	AvgWinR      float64 `json:"avg_win_r"`
	AvgLossR     float64 `json:"avg_loss_r"`
}

// WinRate returns wins / closed trades, or ok=false with no history.
func (s TradeStats) WinRate() (rate float64, ok bool) {
	if s.ClosedTrades == 0 {
		return 0, false
	}
	return float64(s.Wins) / float64(s.ClosedTrades), true
}

// Snapshot is the realised financial state handed to a risk model. Open
// risk is left out; it is enforced by the pure checks against the live ledger.
type Snapshot struct {
	AccountID        uint
	Balance          decimal.Decimal
	InitialBalance   decimal.Decimal
	MaxDailyLoss     decimal.Decimal
	CurrentDailyLoss decimal.Decimal
	Stats            TradeStats
}

// SnapshotOf builds a model snapshot from a ledger and trade statistics.
func SnapshotOf(l Ledger, stats TradeStats) Snapshot {
	return Snapshot{
		AccountID:        l.AccountID,
		Balance:          l.Balance,
		InitialBalance:   l.InitialBalance,
		MaxDailyLoss:     l.MaxDailyLoss,
		CurrentDailyLoss: l.CurrentDailyLoss,
		Stats:            stats,
	}
}

// Estimate is a risk model's output.
type Estimate struct {
	RunwayDays      float64 `json:"runway_days"`
	RuinProbability float64 `json:"ruin_probability"`
}

// Validate enforces the output range every model must honour.
func (e Estimate) Validate() error {
	if math.IsNaN(e.RunwayDays) || e.RunwayDays < 0 {
		return fmt.Errorf("runway_days out of range: %v", e.RunwayDays)
	}
	if math.IsNaN(e.RuinProbability) || e.RuinProbability < 0 || e.RuinProbability > 1 {
		return fmt.Errorf("ruin_probability out of range: %v", e.RuinProbability)
	}
	return nil
}

// Model computes survival metrics. Implementations may be slow or remote.
type Model interface {
	Estimate(ctx context.Context, snap Snapshot) (Estimate, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, snap Snapshot) (Estimate, error)

func (f ModelFunc) Estimate(ctx context.Context, snap Snapshot) (Estimate, error) {
	return f(ctx, snap)
}

// MaxRunwayDays is reported when no daily loss is budgeted.
const MaxRunwayDays = 999.0

// SurvivalModel is the default heuristic model.
//
// Runway assumes the full daily loss budget is lost every day until the
// balance reaches zero. Ruin probability compares the observed win rate with
// the breakeven win rate for the observed reward:risk ratio.
type SurvivalModel struct {
	DefaultWinRate    float64
	DefaultRewardRisk float64
}

// NewSurvivalModel returns the model with a 50% win rate and 2R reward
// assumed until there is trade history.
func NewSurvivalModel() *SurvivalModel {
	return &SurvivalModel{DefaultWinRate: 0.5, DefaultRewardRisk: 2.0}
}

func (m *SurvivalModel) Estimate(_ context.Context, snap Snapshot) (Estimate, error) {
	return Estimate{
		RunwayDays:      RunwayDays(snap.Balance, snap.MaxDailyLoss),
		RuinProbability: m.ruinProbability(snap.Stats),
	}, nil
}

// RunwayDays returns balance / max daily loss rounded to one decimal.
func RunwayDays(balance, maxDailyLoss decimal.Decimal) float64 {
	if !maxDailyLoss.IsPositive() {
		return MaxRunwayDays
	}
	if !balance.IsPositive() {
		return 0
	}
	days, _ := balance.Div(maxDailyLoss).Round(1).Float64()
	return days
}

func (m *SurvivalModel) ruinProbability(stats TradeStats) float64 {
	winRate, ok := stats.WinRate()
	if !ok {
		winRate = m.DefaultWinRate
	}
	rewardRisk := m.DefaultRewardRisk
	if stats.Wins > 0 && stats.AvgLossR > 0 {
		rewardRisk = stats.AvgWinR / stats.AvgLossR
	}
	return RuinProbability(winRate, rewardRisk)
}

// RuinProbability is a linear heuristic in the winning edge over breakeven:
// zero edge means certain ruin, an edge of 0.2 or more means none.
func RuinProbability(winRate, rewardRisk float64) float64 {
	expectedValue := winRate*rewardRisk - (1 - winRate)
	if expectedValue <= 0 || rewardRisk <= 0 {
		return 1.0
	}
	required := 1 / (1 + rewardRisk)
	if winRate < required {
		return 1.0
	}
	p := math.Max(0, 1-(winRate-required)*5)
	return math.Round(p*100) / 100
}
