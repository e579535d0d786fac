package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/risk-governor/internal/models"
	"github.com/risk-governor/internal/repository"
	"github.com/risk-governor/internal/risk"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrAccountNotFound = errors.New("account not found")

// AccountDefaults are the risk limits given to newly created accounts
type AccountDefaults struct {
	Balance         decimal.Decimal
	MaxDailyLoss    decimal.Decimal
	MaxTradesPerDay int
	Timezone        string
}

// AccountStore creates and enumerates account rows
type AccountStore interface {
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id uint) (*models.Account, error)
}

// AccountService serves the account view and administrative lock operations
type AccountService struct {
	accounts          AccountStore
	book              *LedgerBook
	estimator         RiskEstimator
	events            EventPublisher
	defaults          AccountDefaults
	survivalThreshold float64
	log               *zap.Logger

	now func() time.Time
}

// NewAccountService creates a new AccountService
func NewAccountService(
	accounts AccountStore,
	book *LedgerBook,
	estimator RiskEstimator,
	events EventPublisher,
	defaults AccountDefaults,
	survivalThreshold float64,
	log *zap.Logger,
) *AccountService {
	return &AccountService{
		accounts:          accounts,
		book:              book,
		estimator:         estimator,
		events:            events,
		defaults:          defaults,
		survivalThreshold: survivalThreshold,
		log:               log.Named("account"),
		now:               time.Now,
	}
}

// NewAccount builds an unsaved account row from the configured defaults
func (s *AccountService) NewAccount() *models.Account {
	return NewAccountFromDefaults(s.defaults, s.now())
}

// NewAccountFromDefaults builds an unsaved account row whose window starts today
func NewAccountFromDefaults(d AccountDefaults, now time.Time) *models.Account {
	tz := d.Timezone
	if tz == "" {
		tz = "UTC"
	}
	l := risk.Ledger{
		Balance:          d.Balance,
		InitialBalance:   d.Balance,
		MaxDailyLoss:     d.MaxDailyLoss,
		CurrentDailyLoss: decimal.Zero,
		OpenRisk:         decimal.Zero,
		MaxTradesPerDay:  d.MaxTradesPerDay,
		Lock:             risk.Unlocked(),
		Timezone:         tz,
		Version:          1,
	}
	l.WindowDay = risk.DayKey(now, l.Location())

	account := &models.Account{}
	account.ApplyLedger(l)
	return account
}

// EnsureAccount creates the account with the given ID from defaults if it
// does not exist yet.
func (s *AccountService) EnsureAccount(ctx context.Context, id uint) (*models.Account, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, err
	}

	account = s.NewAccount()
	account.ID = id
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	s.log.Info("created default account", zap.Uint("account_id", id))
	return account, nil
}

// GetAccount returns the account view with survival metrics. A day boundary
// that passed since the last write is reflected without persisting it.
func (s *AccountService) GetAccount(ctx context.Context, accountID uint) (*models.AccountResponse, error) {
	l, err := s.readLedger(ctx, accountID)
	if err != nil {
		return nil, err
	}
	l, _ = l.RollOver(s.now())

	est, err := s.estimator.Estimate(ctx, l)
	if err != nil {
		return nil, err
	}
	resp := models.NewAccountResponse(l, &est, s.survivalThreshold)
	return &resp, nil
}

// Lock places an administrative lock on the account. It persists across
// day rollover until Unlock.
func (s *AccountService) Lock(ctx context.Context, accountID uint, by, note string) (*models.AccountResponse, error) {
	now := s.now()
	l, err := s.book.Update(ctx, accountID, func(_ context.Context, cur risk.Ledger) (repository.LedgerCommit, error) {
		cur, _ = cur.RollOver(now)
		next := cur.WithAdminLock(now, by, note)
		return repository.LedgerCommit{Ledger: &next}, nil
	})
	if err != nil {
		return nil, s.mapNotFound(err)
	}

	s.log.Warn("account locked by admin",
		zap.Uint("account_id", accountID),
		zap.String("by", by),
		zap.String("note", note))
	s.events.Publish(ctx, RiskEvent{
		Type:      EventAccountLocked,
		AccountID: accountID,
		Reason:    string(risk.LockAdmin),
		Version:   l.Version,
		At:        now,
	})
	return s.view(ctx, l)
}

// Unlock clears any lock on the account. Counters are left alone, so a
// budget-exhausted account may lock again on its next loss.
func (s *AccountService) Unlock(ctx context.Context, accountID uint, by string) (*models.AccountResponse, error) {
	now := s.now()
	l, err := s.book.Update(ctx, accountID, func(_ context.Context, cur risk.Ledger) (repository.LedgerCommit, error) {
		cur, _ = cur.RollOver(now)
		next := cur.WithUnlock()
		return repository.LedgerCommit{Ledger: &next}, nil
	})
	if err != nil {
		return nil, s.mapNotFound(err)
	}

	s.log.Info("account unlocked", zap.Uint("account_id", accountID), zap.String("by", by))
	s.events.Publish(ctx, RiskEvent{
		Type:      EventAccountUnlocked,
		AccountID: accountID,
		Version:   l.Version,
		At:        now,
	})
	return s.view(ctx, l)
}

// view renders the account after an admin change. The change is already
// committed, so a failed estimate leaves the survival metrics out instead of
// failing the request.
func (s *AccountService) view(ctx context.Context, l risk.Ledger) (*models.AccountResponse, error) {
	var estimate *risk.Estimate
	est, err := s.estimator.Estimate(ctx, l)
	if err != nil {
		s.log.Warn("estimate after admin change", zap.Uint("account_id", l.AccountID), zap.Error(err))
	} else {
		estimate = &est
	}
	resp := models.NewAccountResponse(l, estimate, s.survivalThreshold)
	return &resp, nil
}

func (s *AccountService) readLedger(ctx context.Context, accountID uint) (risk.Ledger, error) {
	l, err := s.book.Read(ctx, accountID)
	if err != nil {
		return risk.Ledger{}, s.mapNotFound(err)
	}
	return l, nil
}

func (s *AccountService) mapNotFound(err error) error {
	if errors.Is(err, repository.ErrAccountNotFound) {
		return ErrAccountNotFound
	}
	return err
}
