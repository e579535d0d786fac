package report

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// PDFRenderer prints the HTML report to PDF with a headless browser
type PDFRenderer struct {
	timeout  time.Duration
	execPath string
}

// NewPDFRenderer creates a PDFRenderer. An empty execPath lets chromedp find
// the browser.
func NewPDFRenderer(timeout time.Duration, execPath string) *PDFRenderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PDFRenderer{timeout: timeout, execPath: execPath}
}

// Render returns the report as a PDF document
func (r *PDFRenderer) Render(ctx context.Context, d Data) ([]byte, error) {
	var html bytes.Buffer
	if err := WriteHTML(&html, d); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	return r.print(ctx, html.Bytes())
}

func (r *PDFRenderer) print(ctx context.Context, html []byte) ([]byte, error) {
	if r.execPath != "" {
		opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.ExecPath(r.execPath))
		allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
		defer cancelAlloc()
		ctx = allocCtx
	}

	browserCtx, cancel := chromedp.NewContext(ctx)
	defer cancel()

	timeoutCtx, cancelTimeout := context.WithTimeout(browserCtx, r.timeout)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)

	var pdf []byte
	tasks := chromedp.Tasks{
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithPreferCSSPageSize(true).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = buf
			return nil
		}),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	return pdf, nil
}
