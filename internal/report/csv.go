package report

import (
	"encoding/csv"
	"io"
	"strings"
	"time"
)

var csvHeader = []string{
	"id", "symbol", "side", "order_type", "quantity", "entry_price", "exit_price",
	"stop_price", "target_price", "risk_amount", "pnl", "r_multiple", "status",
	"reject_reason", "close_reason", "tags", "entry_time", "exit_time",
}

// WriteCSV writes one row per trade
func WriteCSV(w io.Writer, d Data) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, t := range d.Trades {
		exitTime := ""
		if t.ExitTime != nil {
			exitTime = t.ExitTime.UTC().Format(time.RFC3339)
		}
		rMultiple := ""
		if t.RMultiple != nil {
			rMultiple = t.RMultiple.String()
		}
		pnl := ""
		if t.PnL != nil {
			pnl = t.PnL.String()
		}
		exitPrice := ""
		if t.ExitPrice != nil {
			exitPrice = t.ExitPrice.String()
		}
		row := []string{
			t.ID,
			t.Symbol,
			string(t.Side),
			string(t.OrderType),
			t.Quantity.String(),
			t.EntryPrice.String(),
			exitPrice,
			t.StopPrice.String(),
			t.TargetPrice.String(),
			t.RiskAmount.String(),
			pnl,
			rMultiple,
			string(t.Status),
			t.RejectReason,
			string(t.CloseReason),
			strings.Join(t.TagList(), ";"),
			t.EntryTime.UTC().Format(time.RFC3339),
			exitTime,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
