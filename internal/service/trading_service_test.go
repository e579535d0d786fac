package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/risk-governor/internal/models"
	"github.com/risk-governor/internal/risk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_DoesNotMutateLedger(t *testing.T) {
	h := newHarness(t, testLedger(1))

	res, err := h.trading.Validate(context.Background(), 1, marketReq(10))
	require.NoError(t, err)

	assert.True(t, res.Valid)
	assert.True(t, res.CanExecute)
	assert.Empty(t, res.Reason)
	assert.True(t, res.ProjectedLoss.Equal(dec("10")))
	assert.Equal(t, int64(100), res.MaxQuantity)
	assert.Equal(t, 100.0, res.RunwayDays)
	assert.Equal(t, int64(1), res.AccountVersion)

	assert.Equal(t, int64(1), h.store.ledger(1).Version)
	assert.Zero(t, h.store.commits)
}

func TestValidate_SurvivalModeCapsSize(t *testing.T) {
	l := testLedger(1)
	l.Balance = dec("400")
	h := newHarness(t, l)

	res, err := h.trading.Validate(context.Background(), 1, marketReq(60))
	require.NoError(t, err)

	assert.False(t, res.Valid)
	assert.Equal(t, risk.CheckSurvivalSize, res.Code)
	assert.True(t, res.SurvivalMode)
	assert.Equal(t, int64(50), res.MaxQuantity)
	assert.Equal(t, 4.0, res.RunwayDays)
}

func TestValidate_LockedAccountSkipsModel(t *testing.T) {
	l := testLedger(1)
	l.Lock = risk.LockedByAdmin(testNow, "ops", "")
	h := newHarnessWithModel(t, risk.ModelFunc(func(context.Context, risk.Snapshot) (risk.Estimate, error) {
		return risk.Estimate{}, errors.New("model down")
	}), l)

	res, err := h.trading.Validate(context.Background(), 1, marketReq(1))
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.False(t, res.CanExecute)
	assert.Equal(t, "account locked", res.Reason)
}

func TestValidate_ModelFailureFailsClosed(t *testing.T) {
	h := newHarnessWithModel(t, risk.ModelFunc(func(context.Context, risk.Snapshot) (risk.Estimate, error) {
		return risk.Estimate{RunwayDays: -1}, nil
	}), testLedger(1))

	res, err := h.trading.Validate(context.Background(), 1, marketReq(1))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, risk.ErrSystemUnavailable)
}

func TestExecute_OpensTradeAndReservesRisk(t *testing.T) {
	h := newHarness(t, testLedger(1))

	req := marketReq(10)
	req.Tags = []string{"breakout"}
	trade, err := h.trading.Execute(context.Background(), 1, req)
	require.NoError(t, err)

	assert.Equal(t, models.TradeStatusOpen, trade.Status)
	assert.Equal(t, "BTCUSDT", trade.Symbol)
	assert.True(t, trade.EntryPrice.Equal(dec("100")))
	assert.True(t, trade.StopPrice.Equal(dec("99")))
	assert.True(t, trade.TargetPrice.Equal(dec("102")))
	assert.True(t, trade.RiskAmount.Equal(dec("10")))
	assert.Equal(t, []string{"breakout"}, trade.TagList())

	l := h.store.ledger(1)
	assert.Equal(t, 1, l.TradesToday)
	assert.True(t, l.OpenRisk.Equal(dec("10")))
	assert.True(t, l.CurrentDailyLoss.IsZero())
	assert.Equal(t, int64(2), l.Version)
	assert.Equal(t, []EventType{EventTradeExecuted}, h.events.types())
}

func TestExecute_ConcurrentRequestsNeverOverspend(t *testing.T) {
	h := newHarness(t, testLedger(1))

	const n = 10
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		opened int
		errs   []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.trading.Execute(context.Background(), 1, marketReq(25))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				opened++
				return
			}
			errs = append(errs, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, opened)
	require.Len(t, errs, n-4)
	for _, err := range errs {
		var execErr *risk.ExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.Contains(t, []risk.ErrorKind{risk.KindRiskLimitBreached, risk.KindAccountLocked}, execErr.Kind)
		assert.NotEmpty(t, execErr.TradeID)
	}

	assert.Equal(t, 4, h.store.countStatus(models.TradeStatusOpen))
	assert.Equal(t, n-4, h.store.countStatus(models.TradeStatusRejected))
	l := h.store.ledger(1)
	assert.Equal(t, 4, l.TradesToday)
	assert.True(t, l.OpenRisk.Equal(dec("100")))
	assert.Equal(t, risk.LockBudget, l.Lock.Reason)
}

func TestExecute_DifferentAccountsAreIndependent(t *testing.T) {
	h := newHarness(t, testLedger(1), testLedger(2))

	var wg sync.WaitGroup
	for _, id := range []uint{1, 2} {
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(id uint) {
				defer wg.Done()
				_, err := h.trading.Execute(context.Background(), id, marketReq(25))
				assert.NoError(t, err)
			}(id)
		}
	}
	wg.Wait()

	for _, id := range []uint{1, 2} {
		l := h.store.ledger(id)
		assert.Equal(t, 4, l.TradesToday)
		assert.False(t, l.Lock.Locked())
	}
}

func TestExecute_LockedAfterValidate(t *testing.T) {
	h := newHarness(t, testLedger(1))
	ctx := context.Background()

	res, err := h.trading.Validate(ctx, 1, marketReq(1))
	require.NoError(t, err)
	require.True(t, res.CanExecute)

	_, err = h.account.Lock(ctx, 1, "risk-desk", "manual review")
	require.NoError(t, err)

	trade, err := h.trading.Execute(ctx, 1, marketReq(1))
	assert.Nil(t, trade)
	require.True(t, risk.IsKind(err, risk.KindAccountLocked))

	var execErr *risk.ExecutionError
	require.ErrorAs(t, err, &execErr)
	rejected, err := tradeStore{h.store}.GetByID(ctx, 1, execErr.TradeID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusRejected, rejected.Status)
	assert.Equal(t, risk.KindAccountLocked, rejected.RejectKind)
	assert.Equal(t, 0, h.store.ledger(1).TradesToday)
}

func TestExecute_BreachLocksAccountAtomically(t *testing.T) {
	l := testLedger(1)
	l.CurrentDailyLoss = dec("90")
	h := newHarness(t, l)

	_, err := h.trading.Execute(context.Background(), 1, marketReq(20))
	require.True(t, risk.IsKind(err, risk.KindRiskLimitBreached))
	assert.Contains(t, err.Error(), "would exceed daily loss limit")

	got := h.store.ledger(1)
	assert.Equal(t, risk.LockBudget, got.Lock.Reason)
	require.NotNil(t, got.LastViolation)
	assert.Equal(t, testNow, *got.LastViolation)
	assert.Equal(t, 0, got.TradesToday)
	assert.True(t, got.CurrentDailyLoss.Equal(dec("90")))
	assert.Equal(t, 1, h.store.countStatus(models.TradeStatusRejected))
	assert.Equal(t, []EventType{EventTradeRejected, EventAccountLocked}, h.events.types())
}

func TestExecute_MalformedRequestRecordsNothing(t *testing.T) {
	h := newHarness(t, testLedger(1))

	_, err := h.trading.Execute(context.Background(), 1, marketReq(0))
	require.True(t, risk.IsKind(err, risk.KindMalformedRequest))
	assert.Equal(t, "MalformedRequest: invalid size", err.Error())
	assert.Zero(t, h.store.commits)
	assert.Equal(t, int64(1), h.store.ledger(1).Version)
}

func TestExecute_StaleExpectedVersion(t *testing.T) {
	h := newHarness(t, testLedger(1))
	ctx := context.Background()

	res, err := h.trading.Validate(ctx, 1, marketReq(1))
	require.NoError(t, err)
	_, err = h.trading.Execute(ctx, 1, marketReq(1))
	require.NoError(t, err)

	req := marketReq(1)
	req.ExpectedVersion = &res.AccountVersion
	_, err = h.trading.Execute(ctx, 1, req)
	require.True(t, risk.IsKind(err, risk.KindStaleValidation))
	assert.Equal(t, 1, h.store.ledger(1).TradesToday)
	assert.Equal(t, 1, h.store.countStatus(models.TradeStatusOpen))
}

func TestExecute_PriceUnavailableIsSystemUnavailable(t *testing.T) {
	h := newHarness(t, testLedger(1))
	h.prices.err = errors.New("feed down")

	_, err := h.trading.Execute(context.Background(), 1, marketReq(1))
	assert.ErrorIs(t, err, risk.ErrSystemUnavailable)
	assert.Zero(t, h.store.commits)
	assert.Equal(t, 3, h.prices.calls)
}

func TestExecute_RetriesTransientPriceFailure(t *testing.T) {
	h := newHarness(t, testLedger(1))
	h.prices.failures = 2

	trade, err := h.trading.Execute(context.Background(), 1, marketReq(1))
	require.NoError(t, err)
	assert.True(t, trade.EntryPrice.Equal(dec("100")))
	assert.Equal(t, 1, h.store.ledger(1).TradesToday)
}

func TestCloseTrade_RetriesTransientPriceFailure(t *testing.T) {
	h := newHarness(t, testLedger(1))
	ctx := context.Background()

	trade, err := h.trading.Execute(ctx, 1, marketReq(1))
	require.NoError(t, err)

	h.prices.set("BTCUSDT", "101")
	h.prices.failures = 1
	closed, err := h.trading.CloseTrade(ctx, 1, trade.ID, nil, "")
	require.NoError(t, err)
	require.NotNil(t, closed.ExitPrice)
	assert.True(t, closed.ExitPrice.Equal(dec("101")))
}

func TestExecute_LimitOrderNeedsNoMarkPrice(t *testing.T) {
	h := newHarness(t, testLedger(1))
	h.prices.err = errors.New("feed down")

	req := marketReq(2)
	req.OrderType = risk.OrderTypeLimit
	req.LimitPrice = decPtr("50")
	trade, err := h.trading.Execute(context.Background(), 1, req)
	require.NoError(t, err)
	assert.True(t, trade.EntryPrice.Equal(dec("50")))
	assert.True(t, trade.RiskAmount.Equal(dec("1")))
}

func TestExecute_StoreFailureIsSystemUnavailable(t *testing.T) {
	h := newHarness(t, testLedger(1))
	h.store.commitErr = errors.New("disk full")

	_, err := h.trading.Execute(context.Background(), 1, marketReq(1))
	assert.ErrorIs(t, err, risk.ErrSystemUnavailable)
	assert.Equal(t, 0, h.store.ledger(1).TradesToday)
	assert.Equal(t, 3, h.store.commitCalls)
}

func TestExecute_RetriesTransientCommitFailure(t *testing.T) {
	h := newHarness(t, testLedger(1))
	h.store.commitFailures = 1

	trade, err := h.trading.Execute(context.Background(), 1, marketReq(1))
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusOpen, trade.Status)

	assert.Equal(t, 2, h.store.commitCalls)
	assert.Equal(t, 1, h.store.commits)
	got := h.store.ledger(1)
	assert.Equal(t, 1, got.TradesToday)
	assert.True(t, got.OpenRisk.Equal(dec("1")))
	assert.Equal(t, 1, h.store.countStatus(models.TradeStatusOpen))
}

func TestExecute_LostCommitAckIsNotReplayed(t *testing.T) {
	h := newHarness(t, testLedger(1))
	ctx := context.Background()
	h.store.lostAcks = 1

	_, err := h.trading.Execute(ctx, 1, marketReq(1))
	assert.ErrorIs(t, err, risk.ErrSystemUnavailable)

	// the first attempt landed, the retry saw the row moved and gave up
	assert.Equal(t, 2, h.store.commitCalls)
	assert.Equal(t, 1, h.store.countStatus(models.TradeStatusOpen))

	l, err := h.book.Read(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, l.TradesToday)
	assert.Equal(t, int64(2), l.Version)
}

func TestExecute_AppliesPendingRollover(t *testing.T) {
	l := testLedger(1)
	l.WindowDay = "2026-03-01"
	l.CurrentDailyLoss = dec("100")
	l.TradesToday = 7
	l.Lock = risk.LockedByBudget(testNow.Add(-12 * time.Hour))
	h := newHarness(t, l)

	_, err := h.trading.Execute(context.Background(), 1, marketReq(1))
	require.NoError(t, err)

	got := h.store.ledger(1)
	assert.Equal(t, "2026-03-02", got.WindowDay)
	assert.True(t, got.CurrentDailyLoss.IsZero())
	assert.Equal(t, 1, got.TradesToday)
	assert.False(t, got.Lock.Locked())
	assert.Equal(t, int64(3), got.Version)
}

func TestCloseTrade_LossBeyondBudgetLocks(t *testing.T) {
	h := newHarness(t, testLedger(1))
	ctx := context.Background()

	trade, err := h.trading.Execute(ctx, 1, marketReq(50))
	require.NoError(t, err)

	closed, err := h.trading.CloseTrade(ctx, 1, trade.ID, decPtr("97.9"), models.CloseReasonStopLoss)
	require.NoError(t, err)

	assert.Equal(t, models.TradeStatusClosed, closed.Status)
	assert.Equal(t, models.CloseReasonStopLoss, closed.CloseReason)
	require.NotNil(t, closed.PnL)
	assert.True(t, closed.PnL.Equal(dec("-105")))
	assert.True(t, closed.RMultiple.Equal(dec("-2.1")))
	require.NotNil(t, closed.ExitTime)

	l := h.store.ledger(1)
	assert.True(t, l.Balance.Equal(dec("9895")))
	assert.True(t, l.OpenRisk.IsZero())
	assert.True(t, l.CurrentDailyLoss.Equal(dec("105")))
	assert.Equal(t, risk.LockBudget, l.Lock.Reason)
	assert.Equal(t, []EventType{EventTradeExecuted, EventTradeClosed, EventAccountLocked}, h.events.types())
}

func TestCloseTrade_ProfitOffsetsDailyLoss(t *testing.T) {
	l := testLedger(1)
	l.CurrentDailyLoss = dec("20")
	h := newHarness(t, l)
	ctx := context.Background()

	trade, err := h.trading.Execute(ctx, 1, marketReq(10))
	require.NoError(t, err)

	h.prices.set("BTCUSDT", "101")
	closed, err := h.trading.CloseTrade(ctx, 1, trade.ID, nil, "")
	require.NoError(t, err)

	assert.True(t, closed.ExitPrice.Equal(dec("101")))
	assert.True(t, closed.PnL.Equal(dec("10")))
	assert.True(t, closed.RMultiple.Equal(dec("1")))
	assert.Equal(t, models.CloseReasonManual, closed.CloseReason)

	got := h.store.ledger(1)
	assert.True(t, got.CurrentDailyLoss.Equal(dec("10")))
	assert.True(t, got.Balance.Equal(dec("10010")))
	assert.False(t, got.Lock.Locked())
}

func TestCloseTrade_Errors(t *testing.T) {
	h := newHarness(t, testLedger(1))
	ctx := context.Background()

	_, err := h.trading.CloseTrade(ctx, 1, "missing", nil, "")
	assert.ErrorIs(t, err, ErrTradeNotFound)

	trade, err := h.trading.Execute(ctx, 1, marketReq(1))
	require.NoError(t, err)

	_, err = h.trading.CloseTrade(ctx, 1, trade.ID, decPtr("0"), "")
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = h.trading.CloseTrade(ctx, 2, trade.ID, nil, "")
	assert.ErrorIs(t, err, ErrTradeNotFound)

	_, err = h.trading.CloseTrade(ctx, 1, trade.ID, nil, "")
	require.NoError(t, err)
	_, err = h.trading.CloseTrade(ctx, 1, trade.ID, nil, "")
	assert.ErrorIs(t, err, ErrTradeNotOpen)
}

func TestListTrades_MostRecentFirst(t *testing.T) {
	h := newHarness(t, testLedger(1))
	ctx := context.Background()

	first, err := h.trading.Execute(ctx, 1, marketReq(1))
	require.NoError(t, err)
	h.setNow(testNow.Add(time.Minute))
	second, err := h.trading.Execute(ctx, 1, marketReq(1))
	require.NoError(t, err)

	trades, total, err := h.trading.ListTrades(ctx, 1, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, trades, 2)
	assert.Equal(t, second.ID, trades[0].ID)
	assert.Equal(t, first.ID, trades[1].ID)
}
