// Package report renders an account's trade history for export.
package report

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/risk-governor/internal/models"
	"github.com/shopspring/decimal"
)

// Format is an export format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

var ErrUnknownFormat = errors.New("unknown report format")

// ParseFormat validates an export format name
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatCSV, FormatHTML, FormatPDF:
		return f, nil
	}
	return "", ErrUnknownFormat
}

// ContentType returns the MIME type of the format
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatPDF:
		return "application/pdf"
	default:
		return "text/html; charset=utf-8"
	}
}

// Data is everything a report shows
type Data struct {
	AccountID        uint
	Balance          decimal.Decimal
	CurrentDailyLoss decimal.Decimal
	GeneratedAt      time.Time
	Trades           []models.Trade
}

// Summary aggregates the trades of a report
type Summary struct {
	TotalTrades int
	Wins        int
	WinRate     decimal.Decimal
	TotalPnL    decimal.Decimal
}

// Summary counts every listed trade; wins are trades with positive realised PnL.
func (d Data) Summary() Summary {
	s := Summary{TotalTrades: len(d.Trades), WinRate: decimal.Zero, TotalPnL: decimal.Zero}
	for _, t := range d.Trades {
		if t.PnL == nil {
			continue
		}
		s.TotalPnL = s.TotalPnL.Add(*t.PnL)
		if t.PnL.IsPositive() {
			s.Wins++
		}
	}
	if s.TotalTrades > 0 {
		s.WinRate = decimal.NewFromInt(int64(s.Wins)).
			Mul(decimal.NewFromInt(100)).
			DivRound(decimal.NewFromInt(int64(s.TotalTrades)), 1)
	}
	return s
}

// Filename returns the attachment name for an export
func Filename(accountID uint, f Format, at time.Time) string {
	return "trades-" + strconv.FormatUint(uint64(accountID), 10) + "-" + at.UTC().Format("20060102-150405") + "." + string(f)
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func optionalMoney(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(2)
}

func pnlOf(t models.Trade) decimal.Decimal {
	if t.PnL == nil {
		return decimal.Zero
	}
	return *t.PnL
}
