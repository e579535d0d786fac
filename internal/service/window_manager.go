package service

import (
	"context"
	"errors"
	"time"

	"github.com/risk-governor/internal/repository"
	"github.com/risk-governor/internal/risk"
	"go.uber.org/zap"
)

// AccountLister enumerates accounts for the rollover sweep
type AccountLister interface {
	ListIDs(ctx context.Context) ([]uint, error)
}

// WindowManager resets daily risk windows at each account's local midnight
type WindowManager struct {
	book     *LedgerBook
	accounts AccountLister
	events   EventPublisher
	log      *zap.Logger
}

// NewWindowManager creates a new WindowManager
func NewWindowManager(book *LedgerBook, accounts AccountLister, events EventPublisher, log *zap.Logger) *WindowManager {
	return &WindowManager{
		book:     book,
		accounts: accounts,
		events:   events,
		log:      log.Named("window"),
	}
}

// Rollover starts a new daily window for the account if now is past its
// current window. It reports whether a reset happened.
func (m *WindowManager) Rollover(ctx context.Context, accountID uint, now time.Time) (risk.Ledger, bool, error) {
	rolled := false
	l, err := m.book.Update(ctx, accountID, func(_ context.Context, cur risk.Ledger) (repository.LedgerCommit, error) {
		next, changed := cur.RollOver(now)
		if !changed {
			return repository.LedgerCommit{}, nil
		}
		rolled = true
		return repository.LedgerCommit{Ledger: &next}, nil
	})
	if err != nil {
		return l, false, err
	}
	if rolled {
		m.announce(ctx, l, now)
	}
	return l, rolled, nil
}

// ForceRollover resets the daily window even if the day has not changed
func (m *WindowManager) ForceRollover(ctx context.Context, accountID uint, now time.Time) (risk.Ledger, error) {
	l, err := m.book.Update(ctx, accountID, func(_ context.Context, cur risk.Ledger) (repository.LedgerCommit, error) {
		next := cur.ResetWindow(risk.DayKey(now, cur.Location()))
		return repository.LedgerCommit{Ledger: &next}, nil
	})
	if err != nil {
		return l, err
	}
	m.announce(ctx, l, now)
	return l, nil
}

func (m *WindowManager) announce(ctx context.Context, l risk.Ledger, now time.Time) {
	m.log.Info("daily window reset",
		zap.Uint("account_id", l.AccountID),
		zap.String("window_day", l.WindowDay),
		zap.Int64("version", l.Version))
	m.events.Publish(ctx, RiskEvent{
		Type:      EventWindowRolledOver,
		AccountID: l.AccountID,
		Version:   l.Version,
		At:        now,
	})
}

// SweepAll rolls over every account whose window has ended. Failures on one
// account do not stop the sweep; they are joined into the returned error.
func (m *WindowManager) SweepAll(ctx context.Context, now time.Time) (int, error) {
	ids, err := m.accounts.ListIDs(ctx)
	if err != nil {
		return 0, err
	}

	var errs []error
	rolled := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		_, changed, err := m.Rollover(ctx, id, now)
		if err != nil {
			m.log.Error("rollover failed", zap.Uint("account_id", id), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if changed {
			rolled++
		}
	}
	return rolled, errors.Join(errs...)
}
