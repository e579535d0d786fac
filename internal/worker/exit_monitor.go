package worker

import (
	"context"
	"errors"
	"time"

	"github.com/risk-governor/internal/models"
	"github.com/risk-governor/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TradeCloser is the part of the trading service the exit monitor drives
type TradeCloser interface {
	OpenTrades(ctx context.Context) ([]models.Trade, error)
	GetPriceSource() service.PriceSource
	CloseTrade(ctx context.Context, accountID uint, tradeID string, exitPrice *decimal.Decimal, reason models.CloseReason) (*models.Trade, error)
}

// ExitMonitor closes open trades whose stop or target the mark price has crossed
type ExitMonitor struct {
	trades   TradeCloser
	interval time.Duration
	log      *zap.Logger
}

// NewExitMonitor creates a new stop/target monitoring worker
func NewExitMonitor(trades TradeCloser, interval time.Duration, log *zap.Logger) *ExitMonitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &ExitMonitor{
		trades:   trades,
		interval: interval,
		log:      log.Named("exit_monitor"),
	}
}

// Start runs the monitoring loop until ctx is done
func (w *ExitMonitor) Start(ctx context.Context) {
	w.log.Info("exit monitor started", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.CheckOnce(ctx)
		case <-ctx.Done():
			w.log.Info("exit monitor stopped")
			return
		}
	}
}

// CheckOnce prices every open trade and closes those that hit an exit.
// It returns the number of trades closed.
func (w *ExitMonitor) CheckOnce(ctx context.Context) int {
	open, err := w.trades.OpenTrades(ctx)
	if err != nil {
		w.log.Error("failed to load open trades", zap.Error(err))
		return 0
	}
	if len(open) == 0 {
		return 0
	}

	prices := w.trades.GetPriceSource()
	marks := make(map[string]decimal.Decimal)
	closed := 0
	for i := range open {
		t := &open[i]

		price, ok := marks[t.Symbol]
		if !ok {
			price, err = prices.GetPrice(ctx, t.Symbol)
			if err != nil {
				w.log.Debug("no mark price", zap.String("symbol", t.Symbol), zap.Error(err))
				continue
			}
			marks[t.Symbol] = price
		}

		reason, hit := t.ExitTrigger(price)
		if !hit {
			continue
		}

		w.log.Info("exit triggered",
			zap.String("trade_id", t.ID),
			zap.Uint("account_id", t.AccountID),
			zap.String("symbol", t.Symbol),
			zap.String("reason", string(reason)),
			zap.String("mark_price", price.String()))

		exit := price
		result, err := w.trades.CloseTrade(ctx, t.AccountID, t.ID, &exit, reason)
		if err != nil {
			if errors.Is(err, service.ErrTradeNotOpen) {
				continue
			}
			w.log.Error("failed to close trade", zap.String("trade_id", t.ID), zap.Error(err))
			continue
		}
		closed++
		w.log.Info("trade closed by exit monitor",
			zap.String("trade_id", result.ID),
			zap.String("pnl", result.PnL.String()))
	}
	return closed
}
