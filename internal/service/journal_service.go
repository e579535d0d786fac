package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/risk-governor/internal/models"
	"github.com/risk-governor/internal/repository"
	"go.uber.org/zap"
)

// DefaultJournalLimit is the page size used when the caller does not give one
const DefaultJournalLimit = 50

// Analysis is the coaching feedback attached to a journal entry
type Analysis struct {
	SentimentScore float64
	EmotionalTags  []string
	Feedback       string
}

// Analyzer produces feedback for journal content
type Analyzer interface {
	Analyze(ctx context.Context, content string, trade *models.Trade) (Analysis, error)
}

// KeywordAnalyzer scores journal content by keyword matching
type KeywordAnalyzer struct{}

var (
	fearWords  = []string{"fear", "scared", "afraid", "loss", "lost", "break"}
	greedWords = []string{"greed", "win", "won", "profit", "easy"}
)

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func (KeywordAnalyzer) Analyze(_ context.Context, content string, _ *models.Trade) (Analysis, error) {
	lower := strings.ToLower(content)
	switch {
	case containsAny(lower, fearWords):
		return Analysis{
			SentimentScore: -0.5,
			EmotionalTags:  []string{"fear", "anxiety"},
			Feedback:       "It sounds like you're under pressure. Remember: stick to your plan. Stop trading if you are emotional.",
		}, nil
	case containsAny(lower, greedWords):
		return Analysis{
			SentimentScore: 0.5,
			EmotionalTags:  []string{"greed", "overconfidence"},
			Feedback:       "Great result, but stay humble. Don't give it back. Lock in your profits.",
		}, nil
	default:
		return Analysis{
			EmotionalTags: []string{"neutral"},
			Feedback:      "Keep journaling. Tracking your state is the first step to mastery. What's your next move?",
		}, nil
	}
}

// JournalStore persists journal entries
type JournalStore interface {
	Create(ctx context.Context, entry *models.JournalEntry) error
	GetByAccountIDPaginated(ctx context.Context, accountID uint, limit, offset int) ([]models.JournalEntry, int64, error)
}

// CreateJournalRequest represents the create journal entry request
type CreateJournalRequest struct {
	Content string  `json:"content" binding:"required,max=10000"`
	TradeID *string `json:"trade_id"`
}

// JournalService records trading journal entries. It never reads or writes
// the risk ledger.
type JournalService struct {
	journal  JournalStore
	trades   TradeStore
	analyzer Analyzer
	log      *zap.Logger
}

// NewJournalService creates a new JournalService
func NewJournalService(journal JournalStore, trades TradeStore, analyzer Analyzer, log *zap.Logger) *JournalService {
	if analyzer == nil {
		analyzer = KeywordAnalyzer{}
	}
	return &JournalService{
		journal:  journal,
		trades:   trades,
		analyzer: analyzer,
		log:      log.Named("journal"),
	}
}

// Create stores a journal entry with analyzer feedback. A referenced trade
// must belong to the account. An analyzer failure leaves the entry without
// feedback instead of failing the request.
func (s *JournalService) Create(ctx context.Context, accountID uint, req *CreateJournalRequest) (*models.JournalEntry, error) {
	var trade *models.Trade
	if req.TradeID != nil && *req.TradeID != "" {
		t, err := s.trades.GetByID(ctx, accountID, *req.TradeID)
		if err != nil {
			if errors.Is(err, repository.ErrTradeNotFound) {
				return nil, ErrTradeNotFound
			}
			return nil, err
		}
		trade = t
	}

	entry := &models.JournalEntry{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Content:   req.Content,
		CreatedAt: time.Now(),
	}
	if trade != nil {
		id := trade.ID
		entry.TradeID = &id
	}

	analysis, err := s.analyzer.Analyze(ctx, req.Content, trade)
	if err != nil {
		s.log.Warn("journal analysis failed", zap.Uint("account_id", accountID), zap.Error(err))
	} else {
		score := analysis.SentimentScore
		entry.SentimentScore = &score
		entry.SetEmotionalTags(analysis.EmotionalTags)
		entry.AIFeedback = analysis.Feedback
	}

	if err := s.journal.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// List returns journal entries most recent first
func (s *JournalService) List(ctx context.Context, accountID uint, limit, offset int) ([]models.JournalEntry, int64, error) {
	if limit <= 0 {
		limit = DefaultJournalLimit
	}
	return s.journal.GetByAccountIDPaginated(ctx, accountID, limit, offset)
}
