package risk

import (
	"github.com/shopspring/decimal"
)

// CheckCode is the machine-readable name of a failed validation check.
type CheckCode string

const (
	CheckAccountLocked   CheckCode = "ACCOUNT_LOCKED"
	CheckInvalidSize     CheckCode = "INVALID_SIZE"
	CheckLimitPrice      CheckCode = "LIMIT_PRICE_REQUIRED"
	CheckStopTarget      CheckCode = "INVALID_STOP_TARGET"
	CheckDailyTradeLimit CheckCode = "DAILY_TRADE_LIMIT"
	CheckDailyLossLimit  CheckCode = "DAILY_LOSS_LIMIT"
	CheckSurvivalSize    CheckCode = "SURVIVAL_SIZE"
)

var reasons = map[CheckCode]string{
	CheckAccountLocked:   "account locked",
	CheckInvalidSize:     "invalid size",
	CheckLimitPrice:      "limit price required",
	CheckStopTarget:      "invalid stop/target",
	CheckDailyTradeLimit: "daily trade limit reached",
	CheckDailyLossLimit:  "would exceed daily loss limit",
	CheckSurvivalSize:    "survival mode: size reduced",
}

// Reason returns the human-readable reason for a check code.
func (c CheckCode) Reason() string {
	return reasons[c]
}

// Policy holds the tunables of the validation engine.
type Policy struct {
	// SurvivalRunwayDays is the runway below which survival mode applies.
	SurvivalRunwayDays float64
	// SurvivalSizeFactor scales the maximum quantity in survival mode.
	SurvivalSizeFactor decimal.Decimal
	// FeeBufferRate is added to the projected loss as a fraction of notional.
	FeeBufferRate decimal.Decimal
}

// DefaultPolicy halves size below five days of runway and adds no fee buffer.
func DefaultPolicy() Policy {
	return Policy{
		SurvivalRunwayDays: 5,
		SurvivalSizeFactor: decimal.NewFromFloat(0.5),
		FeeBufferRate:      decimal.Zero,
	}
}

// Inputs are the externally sourced values a full evaluation needs.
type Inputs struct {
	MarkPrice decimal.Decimal
	Estimate  Estimate
}

// Verdict is the outcome of evaluating a request against a ledger.
type Verdict struct {
	Valid         bool
	Code          CheckCode
	Reason        string
	CanExecute    bool
	EntryPrice    decimal.Decimal
	ProjectedLoss decimal.Decimal
	MaxQuantity   int64
	SurvivalMode  bool
}

func fail(v Verdict, code CheckCode) Verdict {
	v.Valid = false
	v.CanExecute = false
	v.Code = code
	v.Reason = code.Reason()
	return v
}

// Err returns the verdict as a *ValidationFailure, or nil if valid.
func (v Verdict) Err() error {
	if v.Valid {
		return nil
	}
	return &ValidationFailure{Code: v.Code, Reason: v.Reason}
}

// CheckRequest runs checks 1 to 5, the ones that need neither a price nor a
// risk model estimate.
func CheckRequest(req TradeRequest, l Ledger) Verdict {
	v := Verdict{}
	if l.Lock.Locked() {
		return fail(v, CheckAccountLocked)
	}
	if !req.Quantity.IsPositive() || !req.Quantity.IsInteger() {
		return fail(v, CheckInvalidSize)
	}
	if req.OrderType == OrderTypeLimit && (req.LimitPrice == nil || !req.LimitPrice.IsPositive()) {
		return fail(v, CheckLimitPrice)
	}
	if !req.SLPercent.IsPositive() || !req.TPPercent.IsPositive() {
		return fail(v, CheckStopTarget)
	}
	if l.TradesToday >= l.MaxTradesPerDay {
		return fail(v, CheckDailyTradeLimit)
	}
	v.Valid = true
	v.CanExecute = !l.Lock.Locked()
	return v
}

// Evaluate is the validation engine. It is a pure function of its arguments;
// the first failing check wins.
func Evaluate(req TradeRequest, l Ledger, in Inputs, p Policy) Verdict {
	v := CheckRequest(req, l)
	if !v.Valid {
		return v
	}

	v.EntryPrice = req.EntryPrice(in.MarkPrice)
	v.ProjectedLoss = ProjectedLoss(req.Quantity, v.EntryPrice, req.SLPercent, p.FeeBufferRate)
	v.SurvivalMode = in.Estimate.RunwayDays < p.SurvivalRunwayDays

	perLot := ProjectedLoss(decimal.NewFromInt(1), v.EntryPrice, req.SLPercent, p.FeeBufferRate)
	normalMax := int64(0)
	if perLot.IsPositive() && l.RemainingBudget().IsPositive() {
		normalMax = l.RemainingBudget().Div(perLot).Floor().IntPart()
	}
	v.MaxQuantity = normalMax
	if v.SurvivalMode {
		v.MaxQuantity = decimal.NewFromInt(normalMax).Mul(p.SurvivalSizeFactor).Floor().IntPart()
	}

	if l.CurrentDailyLoss.Add(l.OpenRisk).Add(v.ProjectedLoss).GreaterThan(l.MaxDailyLoss) {
		return fail(v, CheckDailyLossLimit)
	}
	if v.SurvivalMode && req.Quantity.IntPart() > v.MaxQuantity {
		return fail(v, CheckSurvivalSize)
	}
	return v
}
