package service

import (
	"bytes"
	"context"
	"time"

	"github.com/risk-governor/internal/report"
	"go.uber.org/zap"
)

// PDFPrinter turns report data into a PDF document
type PDFPrinter interface {
	Render(ctx context.Context, d report.Data) ([]byte, error)
}

// ReportService exports an account's trade history
type ReportService struct {
	book   *LedgerBook
	trades TradeStore
	pdf    PDFPrinter
	log    *zap.Logger

	now func() time.Time
}

// NewReportService creates a new ReportService
func NewReportService(book *LedgerBook, trades TradeStore, pdf PDFPrinter, log *zap.Logger) *ReportService {
	return &ReportService{
		book:   book,
		trades: trades,
		pdf:    pdf,
		log:    log.Named("report"),
		now:    time.Now,
	}
}

// Export renders every trade of the account, rejected attempts included, in
// the requested format.
func (s *ReportService) Export(ctx context.Context, accountID uint, format report.Format) ([]byte, error) {
	l, err := s.book.Read(ctx, accountID)
	if err != nil {
		return nil, err
	}
	l, _ = l.RollOver(s.now())

	trades, err := s.trades.GetByAccountID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	d := report.Data{
		AccountID:        accountID,
		Balance:          l.Balance,
		CurrentDailyLoss: l.CurrentDailyLoss,
		GeneratedAt:      s.now(),
		Trades:           trades,
	}

	var buf bytes.Buffer
	switch format {
	case report.FormatCSV:
		err = report.WriteCSV(&buf, d)
	case report.FormatHTML:
		err = report.WriteHTML(&buf, d)
	case report.FormatPDF:
		start := time.Now()
		out, err := s.pdf.Render(ctx, d)
		if err != nil {
			s.log.Error("pdf export failed", zap.Uint("account_id", accountID), zap.Error(err))
			return nil, err
		}
		s.log.Debug("pdf exported",
			zap.Uint("account_id", accountID),
			zap.Int("trades", len(trades)),
			zap.Duration("took", time.Since(start)))
		return out, nil
	default:
		return nil, report.ErrUnknownFormat
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
