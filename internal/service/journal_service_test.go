package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/risk-governor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memJournal struct {
	mu      sync.Mutex
	entries []models.JournalEntry
}

func (m *memJournal) Create(_ context.Context, e *models.JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memJournal) GetByAccountIDPaginated(_ context.Context, accountID uint, limit, offset int) ([]models.JournalEntry, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.JournalEntry
	for _, e := range m.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := int64(len(out))
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

type failingAnalyzer struct{}

func (failingAnalyzer) Analyze(context.Context, string, *models.Trade) (Analysis, error) {
	return Analysis{}, errors.New("quota exceeded")
}

func TestKeywordAnalyzer(t *testing.T) {
	tests := []struct {
		content string
		tags    []string
		score   float64
		advice  string
	}{
		{"I was scared and broke my rules", []string{"fear", "anxiety"}, -0.5, "stick to your plan"},
		{"Easy money today", []string{"greed", "overconfidence"}, 0.5, "Lock in your profits"},
		{"Waited for the setup", []string{"neutral"}, 0, "Keep journaling"},
	}

	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			a, err := KeywordAnalyzer{}.Analyze(context.Background(), tt.content, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.tags, a.EmotionalTags)
			assert.Equal(t, tt.score, a.SentimentScore)
			assert.Contains(t, a.Feedback, tt.advice)
		})
	}
}

func TestJournalService_Create(t *testing.T) {
	h := newHarness(t, testLedger(1))
	ctx := context.Background()
	trade, err := h.trading.Execute(ctx, 1, marketReq(1))
	require.NoError(t, err)
	version := h.store.ledger(1).Version

	journal := &memJournal{}
	svc := NewJournalService(journal, tradeStore{h.store}, nil, zap.NewNop())

	entry, err := svc.Create(ctx, 1, &CreateJournalRequest{Content: "lost focus after a loss", TradeID: &trade.ID})
	require.NoError(t, err)
	require.NotNil(t, entry.TradeID)
	assert.Equal(t, trade.ID, *entry.TradeID)
	require.NotNil(t, entry.SentimentScore)
	assert.Equal(t, -0.5, *entry.SentimentScore)
	assert.JSONEq(t, `["fear","anxiety"]`, string(entry.EmotionalTags))
	assert.Equal(t, version, h.store.ledger(1).Version)

	missing := "nope"
	_, err = svc.Create(ctx, 1, &CreateJournalRequest{Content: "x", TradeID: &missing})
	assert.ErrorIs(t, err, ErrTradeNotFound)

	_, err = svc.Create(ctx, 2, &CreateJournalRequest{Content: "x", TradeID: &trade.ID})
	assert.ErrorIs(t, err, ErrTradeNotFound)
}

func TestJournalService_AnalyzerFailureKeepsEntry(t *testing.T) {
	journal := &memJournal{}
	svc := NewJournalService(journal, tradeStore{newMemStore()}, failingAnalyzer{}, zap.NewNop())

	entry, err := svc.Create(context.Background(), 1, &CreateJournalRequest{Content: "quiet day"})
	require.NoError(t, err)
	assert.Nil(t, entry.SentimentScore)
	assert.Empty(t, entry.AIFeedback)

	entries, total, err := svc.List(context.Background(), 1, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, entries, 1)
}
