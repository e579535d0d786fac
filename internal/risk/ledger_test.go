package risk_test

import (
	"testing"
	"time"

	"github.com/risk-governor/internal/risk"
	"github.com/stretchr/testify/assert"
)

func TestRollOver_ClearsBudgetLock(t *testing.T) {
	l := baseLedger()
	l.CurrentDailyLoss = dec("80")
	l.TradesToday = 4
	l.Lock = risk.LockedByBudget(time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC))

	next, changed := l.RollOver(time.Date(2026, 3, 3, 0, 0, 1, 0, time.UTC))

	assert.True(t, changed)
	assert.True(t, next.CurrentDailyLoss.IsZero())
	assert.Equal(t, 0, next.TradesToday)
	assert.False(t, next.Lock.Locked())
	assert.Equal(t, "2026-03-03", next.WindowDay)
	assert.Equal(t, l.Version+1, next.Version)
}

func TestRollOver_KeepsAdminLockAndOpenRisk(t *testing.T) {
	l := baseLedger()
	l.OpenRisk = dec("12")
	l.Lock = risk.LockedByAdmin(time.Now(), "ops", "review")

	next, changed := l.RollOver(time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC))

	assert.True(t, changed)
	assert.Equal(t, risk.LockAdmin, next.Lock.Reason)
	assert.True(t, next.OpenRisk.Equal(dec("12")))
}

func TestRollOver_SameDayIsNoop(t *testing.T) {
	l := baseLedger()
	l.CurrentDailyLoss = dec("30")

	next, changed := l.RollOver(time.Date(2026, 3, 2, 23, 59, 0, 0, time.UTC))

	assert.False(t, changed)
	assert.Equal(t, l, next)
}

func TestRollOver_UsesAccountTimezone(t *testing.T) {
	l := baseLedger()
	l.Timezone = "America/New_York"
	l.WindowDay = "2026-03-02"

	// 03:00 UTC on the 3rd is still the 2nd in New York.
	_, changed := l.RollOver(time.Date(2026, 3, 3, 3, 0, 0, 0, time.UTC))
	assert.False(t, changed)

	_, changed = l.RollOver(time.Date(2026, 3, 3, 6, 0, 0, 0, time.UTC))
	assert.True(t, changed)
}

func TestLocation_FallsBackToUTC(t *testing.T) {
	l := baseLedger()
	l.Timezone = "Not/AZone"
	assert.Equal(t, time.UTC, l.Location())
}

func TestWithOpened_ReservesRisk(t *testing.T) {
	l := baseLedger()

	next := l.WithOpened(dec("10"))

	assert.Equal(t, 1, next.TradesToday)
	assert.True(t, next.OpenRisk.Equal(dec("10")))
	assert.True(t, next.CurrentDailyLoss.IsZero())
	assert.Equal(t, 0, l.TradesToday, "original ledger must not change")
}

func TestWithClosed_LossLocksAtBudget(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	l := baseLedger()
	l.CurrentDailyLoss = dec("90")
	l.OpenRisk = dec("10")

	next := l.WithClosed(dec("10"), dec("-10"), now)

	assert.True(t, next.Balance.Equal(dec("9990")))
	assert.True(t, next.OpenRisk.IsZero())
	assert.True(t, next.CurrentDailyLoss.Equal(dec("100")))
	assert.Equal(t, risk.LockBudget, next.Lock.Reason)
	if assert.NotNil(t, next.LastViolation) {
		assert.Equal(t, now, *next.LastViolation)
	}
}

func TestWithClosed_ProfitReducesLossToZero(t *testing.T) {
	l := baseLedger()
	l.CurrentDailyLoss = dec("15")
	l.OpenRisk = dec("10")

	next := l.WithClosed(dec("10"), dec("40"), time.Now())

	assert.True(t, next.CurrentDailyLoss.IsZero())
	assert.True(t, next.Balance.Equal(dec("10040")))
	assert.False(t, next.Lock.Locked())
}

func TestWithBudgetLock_DoesNotDowngradeAdminLock(t *testing.T) {
	l := baseLedger()
	l.Lock = risk.LockedByAdmin(time.Now(), "ops", "")

	next := l.WithBudgetLock(time.Now())

	assert.Equal(t, risk.LockAdmin, next.Lock.Reason)
	assert.NotNil(t, next.LastViolation)
}

func TestWithUnlock(t *testing.T) {
	l := baseLedger().WithAdminLock(time.Now(), "ops", "manual")
	assert.True(t, l.Lock.Locked())

	next := l.WithUnlock()

	assert.False(t, next.Lock.Locked())
	assert.Equal(t, l.Version+1, next.Version)
}
