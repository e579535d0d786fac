package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// LockReason tags why an account is locked. The empty value means unlocked.
type LockReason string

const (
	LockNone   LockReason = ""
	LockBudget LockReason = "budget"
	LockAdmin  LockReason = "admin"
)

// LockState is the tagged lock variant: Unlocked, LockedByBudget(at) or
// LockedByAdmin(at, by).
type LockState struct {
	Reason LockReason `json:"reason,omitempty"`
	At     time.Time  `json:"at,omitempty"`
	By     string     `json:"by,omitempty"`
	Note   string     `json:"note,omitempty"`
}

// Unlocked returns the unlocked state.
func Unlocked() LockState {
	return LockState{}
}

// LockedByBudget returns a lock caused by budget exhaustion.
func LockedByBudget(at time.Time) LockState {
	return LockState{Reason: LockBudget, At: at}
}

// LockedByAdmin returns an administrative lock. It survives day rollover.
func LockedByAdmin(at time.Time, by, note string) LockState {
	return LockState{Reason: LockAdmin, At: at, By: by, Note: note}
}

// Locked reports whether execution is blocked.
func (l LockState) Locked() bool {
	return l.Reason != LockNone
}

// ClearsAtRollover reports whether a day boundary lifts this lock.
func (l LockState) ClearsAtRollover() bool {
	return l.Reason == LockBudget
}

// Ledger is the risk ledger of one account. It is a value: every mutation
// returns a new Ledger with Version incremented, so a commit is a single
// state transition rather than a series of field writes.
type Ledger struct {
	AccountID        uint
	Balance          decimal.Decimal
	InitialBalance   decimal.Decimal
	MaxDailyLoss     decimal.Decimal
	CurrentDailyLoss decimal.Decimal
	OpenRisk         decimal.Decimal
	MaxTradesPerDay  int
	TradesToday      int
	Lock             LockState
	LastViolation    *time.Time
	Timezone         string
	WindowDay        string
	Version          int64
}

// Location returns the account's daily-window timezone, UTC when unset or unknown.
func (l Ledger) Location() *time.Location {
	if l.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(l.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DayKey returns the calendar day of t in loc, formatted YYYY-MM-DD.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}

// RemainingBudget is the loss budget not yet consumed by realised losses or
// reserved by open trades. It may be negative.
func (l Ledger) RemainingBudget() decimal.Decimal {
	return l.MaxDailyLoss.Sub(l.CurrentDailyLoss).Sub(l.OpenRisk)
}

func (l Ledger) next() Ledger {
	n := l
	n.Version++
	return n
}

// RollOver resets the daily window if now falls on a later day than the
// ledger's window. The second return value is false when nothing changed.
func (l Ledger) RollOver(now time.Time) (Ledger, bool) {
	day := DayKey(now, l.Location())
	if l.WindowDay == day {
		return l, false
	}
	return l.ResetWindow(day), true
}

// ResetWindow starts a new daily window: loss and trade counters go to zero
// and a budget lock is lifted. Administrative locks and open risk carry over.
func (l Ledger) ResetWindow(day string) Ledger {
	n := l.next()
	n.WindowDay = day
	n.CurrentDailyLoss = decimal.Zero
	n.TradesToday = 0
	if n.Lock.ClearsAtRollover() {
		n.Lock = Unlocked()
	}
	return n
}

// WithOpened books a newly opened trade: one more trade today and its
// worst-case loss reserved as open risk. Realised loss is untouched.
func (l Ledger) WithOpened(riskAmount decimal.Decimal) Ledger {
	n := l.next()
	n.TradesToday++
	n.OpenRisk = n.OpenRisk.Add(riskAmount)
	return n
}

// WithClosed realises pnl for a trade that reserved riskAmount. Losses are
// added to the daily loss counter and profits reduce it down to zero. When the
// budget is exhausted the account is locked in the same transition.
func (l Ledger) WithClosed(riskAmount, pnl decimal.Decimal, now time.Time) Ledger {
	n := l.next()
	n.Balance = n.Balance.Add(pnl)
	n.OpenRisk = decimal.Max(decimal.Zero, n.OpenRisk.Sub(riskAmount))
	n.CurrentDailyLoss = decimal.Max(decimal.Zero, n.CurrentDailyLoss.Sub(pnl))
	if !n.Lock.Locked() && n.CurrentDailyLoss.GreaterThanOrEqual(n.MaxDailyLoss) {
		n.Lock = LockedByBudget(now)
		at := now
		n.LastViolation = &at
	}
	return n
}

// SameRealised reports whether o has the same realised state as l, which is
// everything a risk model estimate is derived from besides trade history.
func (l Ledger) SameRealised(o Ledger) bool {
	return l.AccountID == o.AccountID &&
		l.Balance.Equal(o.Balance) &&
		l.InitialBalance.Equal(o.InitialBalance) &&
		l.MaxDailyLoss.Equal(o.MaxDailyLoss) &&
		l.CurrentDailyLoss.Equal(o.CurrentDailyLoss)
}

// WithBudgetLock locks the account for budget exhaustion and records the violation.
func (l Ledger) WithBudgetLock(now time.Time) Ledger {
	n := l.next()
	if n.Lock.Reason != LockAdmin {
		n.Lock = LockedByBudget(now)
	}
	at := now
	n.LastViolation = &at
	return n
}

// WithAdminLock applies an administrative lock.
func (l Ledger) WithAdminLock(now time.Time, by, note string) Ledger {
	n := l.next()
	n.Lock = LockedByAdmin(now, by, note)
	at := now
	n.LastViolation = &at
	return n
}

// WithUnlock clears any lock.
func (l Ledger) WithUnlock() Ledger {
	n := l.next()
	n.Lock = Unlocked()
	return n
}
