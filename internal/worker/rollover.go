package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper rolls over every account whose daily window has ended
type Sweeper interface {
	SweepAll(ctx context.Context, now time.Time) (int, error)
}

// RolloverScheduler runs the daily window sweep on a cron schedule.
// Reads and writes roll the window lazily as well; the sweep makes the
// stored state and the rollover events catch up on idle accounts.
type RolloverScheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	log     *zap.Logger
	now     func() time.Time
}

// NewRolloverScheduler registers the sweep under schedule, a six-field cron
// expression with seconds.
func NewRolloverScheduler(ctx context.Context, sweeper Sweeper, schedule string, log *zap.Logger) (*RolloverScheduler, error) {
	s := &RolloverScheduler{
		cron:    cron.New(cron.WithSeconds()),
		sweeper: sweeper,
		log:     log.Named("rollover"),
		now:     time.Now,
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.Sweep(ctx) }); err != nil {
		return nil, err
	}
	return s, nil
}

// Sweep runs one pass over all accounts
func (s *RolloverScheduler) Sweep(ctx context.Context) int {
	rolled, err := s.sweeper.SweepAll(ctx, s.now())
	if err != nil {
		s.log.Error("rollover sweep incomplete", zap.Int("rolled", rolled), zap.Error(err))
		return rolled
	}
	if rolled > 0 {
		s.log.Info("daily windows rolled over", zap.Int("accounts", rolled))
	}
	return rolled
}

// Start starts the scheduler in its own goroutine
func (s *RolloverScheduler) Start() {
	s.log.Info("rollover scheduler started")
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running sweep to finish
func (s *RolloverScheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("rollover scheduler stopped")
}
