package risk

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Side is the trade direction.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// OrderType is how the entry is priced.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

var hundred = decimal.NewFromInt(100)

// TradeRequest is a proposed trade. It is never persisted as such; execution
// turns it into a Trade.
type TradeRequest struct {
	Symbol          string           `json:"symbol" binding:"required"`
	Side            Side             `json:"side" binding:"required,oneof=LONG SHORT long short"`
	Quantity        decimal.Decimal  `json:"quantity"`
	OrderType       OrderType        `json:"order_type" binding:"omitempty,oneof=MARKET LIMIT market limit"`
	LimitPrice      *decimal.Decimal `json:"limit_price,omitempty"`
	SLPercent       decimal.Decimal  `json:"sl_percent"`
	TPPercent       decimal.Decimal  `json:"tp_percent"`
	Tags            []string         `json:"tags,omitempty"`
	ExpectedVersion *int64           `json:"expected_version,omitempty"`
}

// Normalize upper-cases enum fields and defaults the order type to MARKET.
func (r *TradeRequest) Normalize() {
	r.Symbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
	r.Side = Side(strings.ToUpper(string(r.Side)))
	r.OrderType = OrderType(strings.ToUpper(string(r.OrderType)))
	if r.OrderType == "" {
		r.OrderType = OrderTypeMarket
	}
}

// NeedsMarkPrice reports whether pricing the request requires a market quote.
func (r *TradeRequest) NeedsMarkPrice() bool {
	return r.OrderType != OrderTypeLimit
}

// EntryPrice is the price the request is risk-checked at: the limit price for
// LIMIT orders, the mark price otherwise.
func (r *TradeRequest) EntryPrice(mark decimal.Decimal) decimal.Decimal {
	if r.OrderType == OrderTypeLimit && r.LimitPrice != nil {
		return *r.LimitPrice
	}
	return mark
}

// StopPrice converts sl_percent into an absolute stop level.
func (r *TradeRequest) StopPrice(entry decimal.Decimal) decimal.Decimal {
	move := entry.Mul(r.SLPercent).Div(hundred)
	if r.Side == SideShort {
		return entry.Add(move)
	}
	return entry.Sub(move)
}

// TargetPrice converts tp_percent into an absolute take-profit level.
func (r *TradeRequest) TargetPrice(entry decimal.Decimal) decimal.Decimal {
	move := entry.Mul(r.TPPercent).Div(hundred)
	if r.Side == SideShort {
		return entry.Sub(move)
	}
	return entry.Add(move)
}

// ProjectedLoss is the worst-case loss if the stop is hit:
// quantity × price × sl_percent, plus an optional fee buffer on notional.
func ProjectedLoss(quantity, price, slPercent, feeBufferRate decimal.Decimal) decimal.Decimal {
	notional := quantity.Mul(price)
	return notional.Mul(slPercent).Div(hundred).Add(notional.Mul(feeBufferRate))
}
