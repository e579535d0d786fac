package service

import (
	"context"
	"fmt"
	"time"

	"github.com/risk-governor/internal/risk"
	"go.uber.org/zap"
)

// StatsSource supplies closed-trade statistics for the risk model
type StatsSource interface {
	Stats(ctx context.Context, accountID uint) (risk.TradeStats, error)
}

// EstimatorConfig bounds how long the engine waits on the risk model
type EstimatorConfig struct {
	Retries int
	Backoff time.Duration
	Timeout time.Duration
}

// Estimator calls the risk model with a timeout and bounded retries, and
// rejects outputs outside the model contract.
type Estimator struct {
	model risk.Model
	stats StatsSource
	cfg   EstimatorConfig
	log   *zap.Logger
}

// NewEstimator creates a new Estimator
func NewEstimator(model risk.Model, stats StatsSource, cfg EstimatorConfig, log *zap.Logger) *Estimator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Estimator{
		model: model,
		stats: stats,
		cfg:   cfg,
		log:   log.Named("estimator"),
	}
}

// Estimate returns runway and ruin probability for the ledger. Any failure
// after retries is reported as risk.ErrSystemUnavailable.
func (e *Estimator) Estimate(ctx context.Context, l risk.Ledger) (risk.Estimate, error) {
	var stats risk.TradeStats
	err := retry(ctx, e.cfg.Retries+1, e.cfg.Backoff, func(ctx context.Context) error {
		var err error
		stats, err = e.stats.Stats(ctx, l.AccountID)
		return err
	})
	if err != nil {
		return risk.Estimate{}, fmt.Errorf("%w: trade stats: %v", risk.ErrSystemUnavailable, err)
	}

	snap := risk.SnapshotOf(l, stats)
	var est risk.Estimate
	attempt := 0
	err = retry(ctx, e.cfg.Retries+1, e.cfg.Backoff, func(ctx context.Context) error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()

		out, err := e.model.Estimate(callCtx, snap)
		if err == nil {
			err = out.Validate()
		}
		if err != nil {
			e.log.Warn("risk model failed",
				zap.Uint("account_id", l.AccountID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		est = out
		return nil
	})
	if err != nil {
		return risk.Estimate{}, fmt.Errorf("%w: risk model: %v", risk.ErrSystemUnavailable, err)
	}
	return est, nil
}
