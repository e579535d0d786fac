package report

import (
	"html/template"
	"io"

	"github.com/risk-governor/internal/models"
)

var pageTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"money":         money,
	"optionalMoney": optionalMoney,
	"pnl":           func(t models.Trade) string { return money(pnlOf(t)) },
	"pnlClass": func(t models.Trade) string {
		p := pnlOf(t)
		switch {
		case p.IsPositive():
			return "win"
		case p.IsNegative():
			return "loss"
		}
		return ""
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Trade History Report - Account #{{.AccountID}}</title>
<style>
body { font-family: Helvetica, Arial, sans-serif; margin: 24px; color: #222; }
h1 { text-align: center; font-size: 20px; }
table { width: 100%; border-collapse: collapse; font-size: 11px; }
th, td { border: 1px solid #999; padding: 4px 6px; text-align: center; }
th { background: #eee; }
td.win { color: #1a7f37; }
td.loss { color: #c62828; }
.summary { margin: 12px 0; }
.footer { margin-top: 16px; font-weight: bold; }
</style>
</head>
<body>
<h1>Trade History Report - Account #{{.AccountID}}</h1>
<p class="summary">Current Balance: ${{money .Balance}} | Daily Loss: ${{money .CurrentDailyLoss}}</p>
<table>
<thead>
<tr><th>ID</th><th>Symbol</th><th>Side</th><th>Size</th><th>Entry</th><th>Exit</th><th>PnL</th><th>Status</th><th>Time</th></tr>
</thead>
<tbody>
{{range .Trades}}<tr>
<td>{{.ID}}</td><td>{{.Symbol}}</td><td>{{.Side}}</td><td>{{.Quantity}}</td>
<td>{{money .EntryPrice}}</td><td>{{optionalMoney .ExitPrice}}</td>
<td class="{{pnlClass .}}">{{pnl .}}</td><td>{{.Status}}</td>
<td>{{.EntryTime.UTC.Format "2006-01-02 15:04"}}</td>
</tr>
{{end}}</tbody>
</table>
{{with .Summary}}<p class="footer">Total Trades: {{.TotalTrades}} | Win Rate: {{.WinRate.StringFixed 1}}% | Total Realized PnL: ${{money .TotalPnL}}</p>{{end}}
<p>Generated {{.GeneratedAt.UTC.Format "2006-01-02 15:04:05"}} UTC</p>
</body>
</html>
`))

// WriteHTML renders the report as a standalone HTML page
func WriteHTML(w io.Writer, d Data) error {
	return pageTemplate.Execute(w, d)
}
