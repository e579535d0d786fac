package exchange

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceUpdate represents a real-time mark price update from an exchange
type PriceUpdate struct {
	Exchange  string          `json:"exchange"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
}

// PriceSubscriber is an interface for components that receive price updates
type PriceSubscriber interface {
	OnPriceUpdate(update PriceUpdate)
}

// PriceProvider is an interface for exchange mark price streams
type PriceProvider interface {
	// Connect establishes the stream connection to the exchange
	Connect(ctx context.Context) error

	// Subscribe subscribes to price updates for given symbols
	Subscribe(symbols []string) error

	// SetSubscriber sets the price update subscriber
	SetSubscriber(subscriber PriceSubscriber)

	// GetCurrentPrice fetches the current mark price over REST
	GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// Close closes the stream connection
	Close() error

	// ExchangeName returns the exchange name
	ExchangeName() string

	// IsConnected returns whether the stream is connected
	IsConnected() bool
}
