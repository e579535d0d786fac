package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/risk-governor/internal/models"
	"github.com/risk-governor/internal/repository"
	"github.com/risk-governor/internal/risk"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrTradeNotFound = errors.New("trade not found")
	ErrTradeNotOpen  = errors.New("trade is not open")
	ErrInvalidPrice  = errors.New("invalid price")
)

// errInputsStale signals that the realised state changed between resolving
// the model inputs and taking the account lock.
var errInputsStale = errors.New("model inputs stale")

// TradeStore is the read side of the trade ledger
type TradeStore interface {
	StatsSource
	GetByID(ctx context.Context, accountID uint, id string) (*models.Trade, error)
	GetByAccountIDPaginated(ctx context.Context, accountID uint, limit, offset int) ([]models.Trade, int64, error)
	GetByAccountID(ctx context.Context, accountID uint) ([]models.Trade, error)
	GetOpen(ctx context.Context) ([]models.Trade, error)
}

// PriceSource supplies mark prices
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// RiskEstimator supplies risk model estimates for a ledger
type RiskEstimator interface {
	Estimate(ctx context.Context, l risk.Ledger) (risk.Estimate, error)
}

// TradingConfig tunes the trading engine
type TradingConfig struct {
	Policy risk.Policy
	// ExecuteAttempts bounds how often execute recomputes the risk model
	// estimate after the realised state moved underneath it.
	ExecuteAttempts int
	// PriceRetry bounds the retries of a failed mark price lookup.
	PriceRetry RetryPolicy
}

// TradingService validates, executes and closes trades against the per-account
// risk ledger.
type TradingService struct {
	book      *LedgerBook
	trades    TradeStore
	prices    PriceSource
	estimator RiskEstimator
	events    EventPublisher
	cfg       TradingConfig
	log       *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewTradingService creates a new TradingService
func NewTradingService(
	book *LedgerBook,
	trades TradeStore,
	prices PriceSource,
	estimator RiskEstimator,
	events EventPublisher,
	cfg TradingConfig,
	log *zap.Logger,
) *TradingService {
	if cfg.ExecuteAttempts < 1 {
		cfg.ExecuteAttempts = 3
	}
	return &TradingService{
		book:      book,
		trades:    trades,
		prices:    prices,
		estimator: estimator,
		events:    events,
		cfg:       cfg,
		log:       log.Named("trading"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// ValidationResult is the response of a dry-run validation
type ValidationResult struct {
	Valid          bool            `json:"valid"`
	Reason         string          `json:"reason,omitempty"`
	Code           risk.CheckCode  `json:"code,omitempty"`
	CanExecute     bool            `json:"can_execute"`
	ProjectedLoss  decimal.Decimal `json:"projected_loss"`
	MaxQuantity    int64           `json:"max_quantity"`
	SurvivalMode   bool            `json:"survival_mode"`
	RunwayDays     float64         `json:"runway_days"`
	AccountVersion int64           `json:"account_version"`
}

// Validate evaluates a request against the account without changing anything.
// The price and risk model are consulted without holding the account lock.
func (s *TradingService) Validate(ctx context.Context, accountID uint, req risk.TradeRequest) (*ValidationResult, error) {
	req.Normalize()

	l, err := s.book.Read(ctx, accountID)
	if err != nil {
		return nil, err
	}
	l, _ = l.RollOver(s.now())

	result := &ValidationResult{AccountVersion: l.Version}
	v := risk.CheckRequest(req, l)
	if v.Valid {
		in, est, err := s.resolveInputs(ctx, req, l)
		if err != nil {
			return nil, err
		}
		v = risk.Evaluate(req, l, in, s.cfg.Policy)
		result.RunwayDays = est.RunwayDays
	}

	result.Valid = v.Valid
	result.Reason = v.Reason
	result.Code = v.Code
	result.CanExecute = v.CanExecute
	result.ProjectedLoss = v.ProjectedLoss
	result.MaxQuantity = v.MaxQuantity
	result.SurvivalMode = v.SurvivalMode
	return result, nil
}

// resolveInputs fetches the mark price and model estimate a full evaluation needs
func (s *TradingService) resolveInputs(ctx context.Context, req risk.TradeRequest, l risk.Ledger) (risk.Inputs, risk.Estimate, error) {
	var in risk.Inputs
	if req.NeedsMarkPrice() {
		price, err := s.markPrice(ctx, req.Symbol)
		if err != nil {
			return in, risk.Estimate{}, err
		}
		in.MarkPrice = price
	}
	est, err := s.estimator.Estimate(ctx, l)
	if err != nil {
		return in, risk.Estimate{}, err
	}
	in.Estimate = est
	return in, est, nil
}

// markPrice looks up the mark price of symbol, retrying failed lookups
func (s *TradingService) markPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := s.cfg.PriceRetry.do(ctx, func(ctx context.Context) error {
		var err error
		price, err = s.prices.GetPrice(ctx, symbol)
		return err
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", risk.ErrSystemUnavailable, err)
	}
	return price, nil
}

// Execute re-validates the request under the account's exclusive lock and, if
// it still passes, opens the trade and books it in the same transaction.
//
// Risk rejections are stored as REJECTED trades. A request that would exceed
// the daily loss limit also locks the account in that transaction.
func (s *TradingService) Execute(ctx context.Context, accountID uint, req risk.TradeRequest) (*models.Trade, error) {
	req.Normalize()

	for attempt := 1; attempt <= s.cfg.ExecuteAttempts; attempt++ {
		snap, err := s.book.Read(ctx, accountID)
		if err != nil {
			return nil, err
		}
		basis, _ := snap.RollOver(s.now())

		var in *risk.Inputs
		if risk.CheckRequest(req, basis).Valid {
			resolved, _, err := s.resolveInputs(ctx, req, basis)
			if err != nil {
				return nil, err
			}
			in = &resolved
		}

		trade, err := s.commitExecution(ctx, accountID, req, basis, in)
		if errors.Is(err, errInputsStale) {
			s.log.Debug("realised state moved, recomputing estimate",
				zap.Uint("account_id", accountID),
				zap.Int("attempt", attempt))
			continue
		}
		return trade, err
	}
	return nil, risk.StaleValidation("account balance kept changing, validate again")
}

// commitExecution re-runs every check under the account's exclusive lock
// against the live ledger. in was resolved from basis outside the lock, or is
// nil if basis failed a check that needs no inputs; it is only used while the
// realised state still matches basis.
func (s *TradingService) commitExecution(ctx context.Context, accountID uint, req risk.TradeRequest, basis risk.Ledger, in *risk.Inputs) (*models.Trade, error) {
	var (
		trade     *models.Trade
		execErr   *risk.ExecutionError
		lockedNow bool
		now       time.Time
	)

	l, err := s.book.Update(ctx, accountID, func(_ context.Context, cur risk.Ledger) (repository.LedgerCommit, error) {
		trade, execErr, lockedNow = nil, nil, false

		now = s.now()
		l, rolled := cur.RollOver(now)
		if risk.CheckRequest(req, l).Valid && (in == nil || !l.SameRealised(basis)) {
			return repository.LedgerCommit{}, errInputsStale
		}
		var commit repository.LedgerCommit
		if rolled {
			commit.Ledger = &l
		}

		var inputs risk.Inputs
		if in != nil {
			inputs = *in
		}
		t := models.NewTrade(s.newID(), accountID, req, now)
		v := risk.Evaluate(req, l, inputs, s.cfg.Policy)
		if !v.Valid {
			execErr = risk.NewExecutionError(v)
			if execErr.Kind == risk.KindMalformedRequest {
				return commit, execErr
			}
			if v.Code == risk.CheckDailyLossLimit {
				locked := l.WithBudgetLock(now)
				commit.Ledger = &locked
				lockedNow = true
			}
			t.EntryPrice = v.EntryPrice
			t.RiskAmount = v.ProjectedLoss
			t.RejectReason = v.Reason
			t.RejectKind = execErr.Kind
			if err := t.Transition(models.TradeStatusRejected); err != nil {
				return repository.LedgerCommit{}, err
			}
			execErr.TradeID = t.ID
			commit.Create = t
			trade = t
			return commit, execErr
		}

		if req.ExpectedVersion != nil && *req.ExpectedVersion != l.Version {
			execErr = risk.StaleValidation(fmt.Sprintf("account version is %d, validated against %d", l.Version, *req.ExpectedVersion))
			return commit, execErr
		}

		if err := t.Transition(models.TradeStatusValidated); err != nil {
			return repository.LedgerCommit{}, err
		}
		t.EntryPrice = v.EntryPrice
		t.StopPrice = req.StopPrice(v.EntryPrice)
		t.TargetPrice = req.TargetPrice(v.EntryPrice)
		t.RiskAmount = v.ProjectedLoss
		if err := t.Transition(models.TradeStatusExecuted); err != nil {
			return repository.LedgerCommit{}, err
		}
		if err := t.Transition(models.TradeStatusOpen); err != nil {
			return repository.LedgerCommit{}, err
		}

		next := l.WithOpened(v.ProjectedLoss)
		commit.Ledger = &next
		commit.Create = t
		trade = t
		return commit, nil
	})

	if errors.Is(err, errInputsStale) {
		return nil, err
	}
	if execErr != nil && errors.Is(err, execErr) {
		s.reportRejection(ctx, l, trade, execErr, lockedNow, now)
		return nil, execErr
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("trade executed",
		zap.Uint("account_id", accountID),
		zap.String("trade_id", trade.ID),
		zap.String("symbol", trade.Symbol),
		zap.String("risk_amount", trade.RiskAmount.String()),
		zap.Int64("version", l.Version))
	s.events.Publish(ctx, RiskEvent{
		Type:      EventTradeExecuted,
		AccountID: accountID,
		TradeID:   trade.ID,
		Version:   l.Version,
		At:        now,
	})
	return trade, nil
}

func (s *TradingService) reportRejection(ctx context.Context, l risk.Ledger, trade *models.Trade, execErr *risk.ExecutionError, lockedNow bool, now time.Time) {
	s.log.Info("trade rejected",
		zap.Uint("account_id", l.AccountID),
		zap.String("kind", string(execErr.Kind)),
		zap.String("reason", execErr.Reason),
		zap.String("trade_id", execErr.TradeID))
	if trade != nil {
		s.events.Publish(ctx, RiskEvent{
			Type:      EventTradeRejected,
			AccountID: l.AccountID,
			TradeID:   trade.ID,
			Reason:    execErr.Reason,
			Version:   l.Version,
			At:        now,
		})
	}
	if lockedNow {
		s.log.Warn("account locked by daily loss limit",
			zap.Uint("account_id", l.AccountID),
			zap.String("current_daily_loss", l.CurrentDailyLoss.String()),
			zap.String("max_daily_loss", l.MaxDailyLoss.String()))
		s.events.Publish(ctx, RiskEvent{
			Type:      EventAccountLocked,
			AccountID: l.AccountID,
			Reason:    string(risk.LockBudget),
			Version:   l.Version,
			At:        now,
		})
	}
}

// CloseTrade realises the PnL of an OPEN trade at exitPrice, or at the mark
// price when exitPrice is nil. The daily loss counter absorbs the result and
// the account locks if the budget is exhausted.
func (s *TradingService) CloseTrade(ctx context.Context, accountID uint, tradeID string, exitPrice *decimal.Decimal, reason models.CloseReason) (*models.Trade, error) {
	existing, err := s.getTrade(ctx, accountID, tradeID)
	if err != nil {
		return nil, err
	}
	if !existing.IsOpen() {
		return nil, ErrTradeNotOpen
	}

	var price decimal.Decimal
	if exitPrice != nil {
		if !exitPrice.IsPositive() {
			return nil, ErrInvalidPrice
		}
		price = *exitPrice
	} else {
		price, err = s.markPrice(ctx, existing.Symbol)
		if err != nil {
			return nil, err
		}
	}
	if reason == "" {
		reason = models.CloseReasonManual
	}

	var (
		closed    *models.Trade
		lockedNow bool
		now       time.Time
	)
	l, err := s.book.Update(ctx, accountID, func(ctx context.Context, cur risk.Ledger) (repository.LedgerCommit, error) {
		t, err := s.getTrade(ctx, accountID, tradeID)
		if err != nil {
			return repository.LedgerCommit{}, err
		}
		if !t.IsOpen() {
			return repository.LedgerCommit{}, ErrTradeNotOpen
		}

		now = s.now()
		l, _ := cur.RollOver(now)
		pnl := t.CalculatePnL(price)
		rMultiple := decimal.Zero
		if t.RiskAmount.IsPositive() {
			rMultiple = pnl.DivRound(t.RiskAmount, 4)
		}
		exitTime := now
		t.ExitPrice = &price
		t.PnL = &pnl
		t.RMultiple = &rMultiple
		t.ExitTime = &exitTime
		t.CloseReason = reason
		if err := t.Transition(models.TradeStatusClosed); err != nil {
			return repository.LedgerCommit{}, err
		}

		next := l.WithClosed(t.RiskAmount, pnl, now)
		lockedNow = !l.Lock.Locked() && next.Lock.Locked()
		closed = t
		return repository.LedgerCommit{Ledger: &next, Update: t}, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("trade closed",
		zap.Uint("account_id", accountID),
		zap.String("trade_id", closed.ID),
		zap.String("reason", string(reason)),
		zap.String("pnl", closed.PnL.String()),
		zap.String("current_daily_loss", l.CurrentDailyLoss.String()))
	s.events.Publish(ctx, RiskEvent{
		Type:      EventTradeClosed,
		AccountID: accountID,
		TradeID:   closed.ID,
		Reason:    string(reason),
		Version:   l.Version,
		At:        now,
	})
	if lockedNow {
		s.log.Warn("account locked by daily loss limit",
			zap.Uint("account_id", accountID),
			zap.String("current_daily_loss", l.CurrentDailyLoss.String()))
		s.events.Publish(ctx, RiskEvent{
			Type:      EventAccountLocked,
			AccountID: accountID,
			Reason:    string(risk.LockBudget),
			Version:   l.Version,
			At:        now,
		})
	}
	return closed, nil
}

func (s *TradingService) getTrade(ctx context.Context, accountID uint, tradeID string) (*models.Trade, error) {
	t, err := s.trades.GetByID(ctx, accountID, tradeID)
	if err != nil {
		if errors.Is(err, repository.ErrTradeNotFound) {
			return nil, ErrTradeNotFound
		}
		return nil, fmt.Errorf("%w: load trade: %v", risk.ErrSystemUnavailable, err)
	}
	return t, nil
}

// ListTrades returns the account's trades most recent first
func (s *TradingService) ListTrades(ctx context.Context, accountID uint, limit, offset int) ([]models.Trade, int64, error) {
	return s.trades.GetByAccountIDPaginated(ctx, accountID, limit, offset)
}

// OpenTrades returns every OPEN trade across accounts
func (s *TradingService) OpenTrades(ctx context.Context) ([]models.Trade, error) {
	return s.trades.GetOpen(ctx)
}

// GetPriceSource returns the mark price source
func (s *TradingService) GetPriceSource() PriceSource {
	return s.prices
}
