package crawler

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/fluxcapacitor2/siteindex/app/config"
	"github.com/fluxcapacitor2/siteindex/app/internal/wait"
	slogctx "github.com/veqryn/slog-context"
)

var pdfPattern = regexp.MustCompile(`(?i)https?://[^\s<>"]+\.pdf`)

// FindPDFs fetches every page again and collects links to PDF files on the seed's host, in discovery order.
// Anchors are matched on their resolved URL; bare URLs in the page's visible text are matched with a pattern.
func FindPDFs(ctx context.Context, fetcher *Fetcher, cfg config.Crawler, seed string, pages []string) ([]string, error) {
	seedURL, err := url.Parse(seed)
	if err != nil {
		return nil, fmt.Errorf("invalid seed URL: %w", err)
	}

	found := []string{}
	seen := map[string]struct{}{}
	add := func(link string) {
		if _, ok := seen[link]; ok {
			return
		}
		seen[link] = struct{}{}
		found = append(found, link)
	}

	slogctx.Info(ctx, "Scanning pages for PDF links", "pages", len(pages))

	for i, pageURL := range pages {
		if i > 0 {
			if err := wait.Sleep(ctx, cfg.PDFScanDelay); err != nil {
				return found, err
			}
		}

		pageCtx := slogctx.Append(ctx, "url", pageURL)

		page, err := fetcher.Fetch(pageCtx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return found, ctx.Err()
			}
			slogctx.Warn(pageCtx, "Error scanning page for PDFs", "error", err)
			continue
		}

		for _, link := range page.Links {
			if isPDFLink(link) && sameHost(seedURL, link) {
				add(link)
			}
		}

		base, err := url.Parse(page.FinalURL)
		if err != nil {
			base, _ = url.Parse(pageURL)
		}
		for _, match := range pdfPattern.FindAllString(page.Text, -1) {
			ref, err := url.Parse(match)
			if err != nil {
				continue
			}
			link := base.ResolveReference(ref).String()
			if sameHost(seedURL, link) {
				add(link)
			}
		}
	}

	slogctx.Info(ctx, "PDF scan finished", "pdfs", len(found))
	return found, nil
}

func isPDFLink(link string) bool {
	return strings.HasSuffix(strings.ToLower(link), ".pdf")
}
