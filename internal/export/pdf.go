package export

import (
	"context"
	"encoding/base64"
	"fmt"
	"html/template"
	"os/exec"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const pdfTimeout = 30 * time.Second

// printParams lays the report out on Letter paper with the report title in
// the header and the generation date and page count in the footer. Reports
// that list tasks print landscape so the task columns fit.
func printParams(data ReportData, landscape bool) *page.PrintToPDFParams {
	header := fmt.Sprintf(`<div style="font-size:8px;width:100%%;margin:0 0.6in;color:#555">%s</div>`,
		template.HTMLEscapeString(data.Title))
	footer := fmt.Sprintf(`<div style="font-size:8px;width:100%%;margin:0 0.6in;color:#555;display:flex;justify-content:space-between">`+
		`<span>Generated %s</span><span><span class="pageNumber"></span> / <span class="totalPages"></span></span></div>`,
		data.GeneratedAt.UTC().Format("2 Jan 2006"))
	return page.PrintToPDF().
		WithPrintBackground(true).
		WithLandscape(landscape).
		WithPaperWidth(8.5).
		WithPaperHeight(11.0).
		WithMarginTop(0.9).
		WithMarginBottom(0.9).
		WithMarginLeft(0.6).
		WithMarginRight(0.6).
		WithDisplayHeaderFooter(true).
		WithHeaderTemplate(header).
		WithFooterTemplate(footer)
}

func htmlDataURL(html string) string {
	return "data:text/html;charset=utf-8;base64," + base64.StdEncoding.EncodeToString([]byte(html))
}

// exportPDF prints the rendered report with headless Chrome.
func exportPDF(ctx context.Context, html string, data ReportData, landscape bool) (*Result, error) {
	if _, err := exec.LookPath("chromium-browser"); err != nil {
		if _, fallbackErr := exec.LookPath("chromium"); fallbackErr != nil {
			return nil, fmt.Errorf("%w: chromium not installed", ErrPDFDependencyMissing)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, pdfTimeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	params := printParams(data, landscape)
	var pdfData []byte
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(htmlDataURL(html)),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdfData, _, err = params.Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("print strategy report: %w", err)
	}

	return &Result{
		Data:     pdfData,
		Filename: reportFilename(data, "pdf"),
		MimeType: "application/pdf",
	}, nil
}
