package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/risk-governor/internal/exchange"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrPriceUnavailable means no source could supply a mark price
var ErrPriceUnavailable = errors.New("mark price unavailable")

// DefaultSymbols are streamed when no symbols are configured
var DefaultSymbols = []string{
	"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT", "XRPUSDT",
	"ADAUSDT", "DOGEUSDT", "AVAXUSDT", "LINKUSDT", "LTCUSDT",
}

const priceUpdatesChannel = "price_updates"

type priceEntry struct {
	update exchange.PriceUpdate
	manual bool
}

// PriceService keeps the latest mark price per symbol. Lookups go memory,
// then redis, then the provider's REST endpoint. Manually set prices never
// go stale.
type PriceService struct {
	redis    *redis.Client
	provider exchange.PriceProvider
	symbols  []string
	ttl      time.Duration
	log      *zap.Logger

	prices    map[string]priceEntry
	pricesMux sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPriceService creates a new PriceService. redisClient and provider may be nil.
func NewPriceService(redisClient *redis.Client, provider exchange.PriceProvider, symbols []string, ttl time.Duration, log *zap.Logger) *PriceService {
	if len(symbols) == 0 {
		symbols = DefaultSymbols
	}
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &PriceService{
		redis:    redisClient,
		provider: provider,
		symbols:  symbols,
		ttl:      ttl,
		log:      log.Named("price"),
		prices:   make(map[string]priceEntry),
		ctx:      context.Background(),
	}
}

// Start connects the streaming provider and subscribes to the configured symbols
func (s *PriceService) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	if s.provider == nil {
		s.log.Info("no market feed configured, manual prices only")
		return nil
	}

	s.provider.SetSubscriber(s)
	if err := s.provider.Connect(s.ctx); err != nil {
		return fmt.Errorf("connect %s: %w", s.provider.ExchangeName(), err)
	}
	if err := s.provider.Subscribe(s.symbols); err != nil {
		s.log.Warn("subscribe failed", zap.String("exchange", s.provider.ExchangeName()), zap.Error(err))
	}

	s.log.Info("started", zap.String("exchange", s.provider.ExchangeName()), zap.Int("symbols", len(s.symbols)))
	return nil
}

// OnPriceUpdate implements exchange.PriceSubscriber
func (s *PriceService) OnPriceUpdate(update exchange.PriceUpdate) {
	update.Symbol = strings.ToUpper(update.Symbol)

	s.pricesMux.Lock()
	if cur, ok := s.prices[update.Symbol]; ok && cur.manual {
		s.pricesMux.Unlock()
		return
	}
	s.prices[update.Symbol] = priceEntry{update: update}
	s.pricesMux.Unlock()

	s.cache(s.ctx, update, s.ttl)
}

// cache stores the price in redis and announces it on the price channel
func (s *PriceService) cache(ctx context.Context, update exchange.PriceUpdate, ttl time.Duration) {
	if s.redis == nil {
		return
	}
	key := priceKey(update.Symbol)
	pipe := s.redis.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"price":     update.Price.String(),
		"exchange":  update.Exchange,
		"timestamp": update.Timestamp,
	})
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	} else {
		pipe.Persist(ctx, key)
	}
	pipe.Publish(ctx, priceUpdatesChannel, fmt.Sprintf("%s:%s", update.Symbol, update.Price.String()))
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Debug("redis price cache failed", zap.String("symbol", update.Symbol), zap.Error(err))
	}
}

func priceKey(symbol string) string {
	return "price:" + symbol
}

// SetManualPrice pins the mark price of a symbol
func (s *PriceService) SetManualPrice(ctx context.Context, symbol string, price decimal.Decimal) (exchange.PriceUpdate, error) {
	if !price.IsPositive() {
		return exchange.PriceUpdate{}, fmt.Errorf("price must be positive")
	}
	update := exchange.PriceUpdate{
		Exchange:  "manual",
		Symbol:    strings.ToUpper(symbol),
		Price:     price,
		Timestamp: time.Now().UnixMilli(),
	}

	s.pricesMux.Lock()
	s.prices[update.Symbol] = priceEntry{update: update, manual: true}
	s.pricesMux.Unlock()

	s.cache(ctx, update, 0)
	return update, nil
}

// GetPrice returns the current mark price for a symbol
func (s *PriceService) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = strings.ToUpper(symbol)

	s.pricesMux.RLock()
	entry, ok := s.prices[symbol]
	s.pricesMux.RUnlock()
	if ok {
		if entry.manual || time.Since(time.UnixMilli(entry.update.Timestamp)) < s.ttl {
			return entry.update.Price, nil
		}
	}

	if s.redis != nil {
		raw, err := s.redis.HGet(ctx, priceKey(symbol), "price").Result()
		if err == nil {
			if price, err := decimal.NewFromString(raw); err == nil && price.IsPositive() {
				return price, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.log.Debug("redis price lookup failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	if s.provider != nil {
		price, err := s.provider.GetCurrentPrice(ctx, symbol)
		if err == nil && price.IsPositive() {
			s.pricesMux.Lock()
			if cur, ok := s.prices[symbol]; !ok || !cur.manual {
				s.prices[symbol] = priceEntry{update: exchange.PriceUpdate{
					Exchange:  s.provider.ExchangeName(),
					Symbol:    symbol,
					Price:     price,
					Timestamp: time.Now().UnixMilli(),
				}}
			}
			s.pricesMux.Unlock()
			return price, nil
		}
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, symbol, err)
		}
	}

	return decimal.Zero, fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol)
}

// GetAllPrices returns every known price
func (s *PriceService) GetAllPrices() map[string]decimal.Decimal {
	s.pricesMux.RLock()
	defer s.pricesMux.RUnlock()

	result := make(map[string]decimal.Decimal, len(s.prices))
	for symbol, entry := range s.prices {
		result[symbol] = entry.update.Price
	}
	return result
}

// Status returns the feed connection state for the health endpoint
func (s *PriceService) Status() map[string]bool {
	if s.provider == nil {
		return map[string]bool{}
	}
	return map[string]bool{s.provider.ExchangeName(): s.provider.IsConnected()}
}

// Stop stops the price service
func (s *PriceService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.provider != nil {
		if err := s.provider.Close(); err != nil {
			s.log.Warn("close provider", zap.Error(err))
		}
	}
	s.log.Info("stopped")
}
