package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/risk-governor/internal/models"
	"github.com/risk-governor/internal/repository"
	"github.com/risk-governor/internal/risk"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func testLedger(id uint) risk.Ledger {
	return risk.Ledger{
		AccountID:        id,
		Balance:          dec("10000"),
		InitialBalance:   dec("10000"),
		MaxDailyLoss:     dec("100"),
		CurrentDailyLoss: decimal.Zero,
		OpenRisk:         decimal.Zero,
		MaxTradesPerDay:  50,
		Timezone:         "UTC",
		WindowDay:        "2026-03-02",
		Version:          1,
	}
}

func marketReq(qty int64) risk.TradeRequest {
	return risk.TradeRequest{
		Symbol:    "btcusdt",
		Side:      "long",
		Quantity:  decimal.NewFromInt(qty),
		SLPercent: dec("1"),
		TPPercent: dec("2"),
	}
}

var errConnReset = errors.New("connection reset by peer")

// memStore is an in-memory ledger, trade and account store with the same
// version guard as the gorm repository.
type memStore struct {
	mu        sync.Mutex
	ledgers   map[uint]risk.Ledger
	trades    map[string]models.Trade
	commitErr error
	commits   int

	// loadFailures and commitFailures fail that many calls before the store
	// recovers. lostAcks applies that many commits and then reports an error.
	loadFailures   int
	commitFailures int
	lostAcks       int
	commitCalls    int
}

func newMemStore(ledgers ...risk.Ledger) *memStore {
	m := &memStore{
		ledgers: make(map[uint]risk.Ledger),
		trades:  make(map[string]models.Trade),
	}
	for _, l := range ledgers {
		m.ledgers[l.AccountID] = l
	}
	return m
}

func (m *memStore) LoadLedger(_ context.Context, id uint) (risk.Ledger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadFailures > 0 {
		m.loadFailures--
		return risk.Ledger{}, errConnReset
	}
	l, ok := m.ledgers[id]
	if !ok {
		return risk.Ledger{}, repository.ErrAccountNotFound
	}
	return l, nil
}

func (m *memStore) CommitLedger(_ context.Context, c repository.LedgerCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitCalls++
	if m.commitFailures > 0 {
		m.commitFailures--
		return errConnReset
	}
	if m.commitErr != nil {
		return m.commitErr
	}
	if c.Ledger != nil {
		cur, ok := m.ledgers[c.Ledger.AccountID]
		if !ok {
			return repository.ErrAccountNotFound
		}
		if cur.Version != c.PrevVersion {
			return repository.ErrVersionConflict
		}
	}
	if c.Create != nil {
		if _, exists := m.trades[c.Create.ID]; exists {
			return errors.New("duplicate trade id")
		}
	}
	if c.Ledger != nil {
		m.ledgers[c.Ledger.AccountID] = *c.Ledger
	}
	if c.Create != nil {
		m.trades[c.Create.ID] = *c.Create
	}
	if c.Update != nil {
		m.trades[c.Update.ID] = *c.Update
	}
	m.commits++
	if m.lostAcks > 0 {
		m.lostAcks--
		return errConnReset
	}
	return nil
}

func (m *memStore) Create(_ context.Context, account *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if account.ID == 0 {
		account.ID = uint(len(m.ledgers) + 1)
	}
	m.ledgers[account.ID] = account.Ledger()
	return nil
}

func (m *memStore) GetByID(_ context.Context, id uint) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.ledgers[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	a := &models.Account{ID: id}
	a.ApplyLedger(l)
	return a, nil
}

func (m *memStore) ListIDs(context.Context) ([]uint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint, 0, len(m.ledgers))
	for id := range m.ledgers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *memStore) Stats(_ context.Context, accountID uint) (risk.TradeStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats risk.TradeStats
	for _, t := range m.trades {
		if t.AccountID != accountID || t.Status != models.TradeStatusClosed || t.PnL == nil {
			continue
		}
		stats.ClosedTrades++
		if t.PnL.IsPositive() {
			stats.Wins++
		}
	}
	return stats, nil
}

func (m *memStore) sortedTrades(keep func(models.Trade) bool) []models.Trade {
	var out []models.Trade
	for _, t := range m.trades {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].ID > out[j].ID
		}
		return out[i].EntryTime.After(out[j].EntryTime)
	})
	return out
}

func (m *memStore) tradeByID(accountID uint, id string) (*models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[id]
	if !ok || t.AccountID != accountID {
		return nil, repository.ErrTradeNotFound
	}
	return &t, nil
}

func (m *memStore) GetByAccountIDPaginated(_ context.Context, accountID uint, limit, offset int) ([]models.Trade, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sortedTrades(func(t models.Trade) bool { return t.AccountID == accountID })
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

func (m *memStore) GetByAccountID(_ context.Context, accountID uint) ([]models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedTrades(func(t models.Trade) bool { return t.AccountID == accountID }), nil
}

func (m *memStore) GetOpen(context.Context) ([]models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedTrades(func(t models.Trade) bool { return t.IsOpen() }), nil
}

func (m *memStore) ledger(id uint) risk.Ledger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledgers[id]
}

func (m *memStore) countStatus(status models.TradeStatus) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.trades {
		if t.Status == status {
			n++
		}
	}
	return n
}

// tradeStore adapts memStore to TradeStore, whose GetByID is keyed by trade id
type tradeStore struct{ *memStore }

func (s tradeStore) GetByID(_ context.Context, accountID uint, id string) (*models.Trade, error) {
	return s.tradeByID(accountID, id)
}

type fakePrices struct {
	mu       sync.Mutex
	prices   map[string]decimal.Decimal
	err      error
	failures int
	calls    int
}

func newFakePrices() *fakePrices {
	return &fakePrices{prices: map[string]decimal.Decimal{"BTCUSDT": dec("100")}}
}

func (p *fakePrices) set(symbol, price string) {
	p.mu.Lock()
	p.prices[symbol] = dec(price)
	p.mu.Unlock()
}

func (p *fakePrices) GetPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failures > 0 {
		p.failures--
		return decimal.Zero, errConnReset
	}
	if p.err != nil {
		return decimal.Zero, p.err
	}
	price, ok := p.prices[symbol]
	if !ok {
		return decimal.Zero, ErrPriceUnavailable
	}
	return price, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []RiskEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e RiskEvent) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *recordingPublisher) types() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type harness struct {
	store   *memStore
	book    *LedgerBook
	prices  *fakePrices
	events  *recordingPublisher
	trading *TradingService
	account *AccountService
	window  *WindowManager
}

func newHarness(t *testing.T, ledgers ...risk.Ledger) *harness {
	t.Helper()
	return newHarnessWithModel(t, risk.NewSurvivalModel(), ledgers...)
}

func newHarnessWithModel(t *testing.T, model risk.Model, ledgers ...risk.Ledger) *harness {
	t.Helper()
	log := zap.NewNop()
	store := newMemStore(ledgers...)
	testRetry := RetryPolicy{Retries: 2, Backoff: time.Millisecond}
	book := NewLedgerBook(store, testRetry)
	prices := newFakePrices()
	events := &recordingPublisher{}
	est := NewEstimator(model, store, EstimatorConfig{Timeout: time.Second}, log)

	trading := NewTradingService(book, tradeStore{store}, prices, est, events,
		TradingConfig{Policy: risk.DefaultPolicy(), ExecuteAttempts: 3, PriceRetry: testRetry}, log)
	account := NewAccountService(store, book, est, events, AccountDefaults{
		Balance:         dec("10000"),
		MaxDailyLoss:    dec("100"),
		MaxTradesPerDay: 10,
		Timezone:        "UTC",
	}, 5, log)

	h := &harness{
		store:   store,
		book:    book,
		prices:  prices,
		events:  events,
		trading: trading,
		account: account,
		window:  NewWindowManager(book, store, events, log),
	}
	h.setNow(testNow)
	return h
}

func (h *harness) setNow(now time.Time) {
	clock := func() time.Time { return now }
	h.trading.now = clock
	h.account.now = clock
}
