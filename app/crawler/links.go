package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/fluxcapacitor2/siteindex/app/config"
	"github.com/fluxcapacitor2/siteindex/app/internal/wait"
	slogctx "github.com/veqryn/slog-context"
)

// Links to these files are never queued as pages.
var skippedExtensions = []string{".pdf", ".jpg", ".png", ".gif", ".doc", ".docx"}

type CrawlStats struct {
	Visited int
	Pages   int
	Failed  int
}

// DiscoverLinks runs a breadth-first crawl from `seed` and returns up to `cfg.MaxPages` same-host page URLs in visit order.
// A page that fails to load is logged and skipped; its links are not expanded.
func DiscoverLinks(ctx context.Context, fetcher *Fetcher, cfg config.Crawler, seed string) ([]string, CrawlStats, error) {
	stats := CrawlStats{}

	seedURL, err := url.Parse(seed)
	if err != nil {
		return nil, stats, fmt.Errorf("invalid seed URL: %w", err)
	}

	frontier := NewFrontier(seed)
	if cfg.FollowSitemaps {
		frontier.Push(seedURL.Scheme + "://" + seedURL.Host + "/sitemap.xml")
	}

	pages := make([]string, 0, cfg.MaxPages)
	first := true

	slogctx.Info(ctx, "Starting link discovery", "seed", seed, "maxPages", cfg.MaxPages)

	for frontier.Len() > 0 && len(pages) < cfg.MaxPages {
		current, _ := frontier.Pop()

		if !frontier.MarkIfNotVisited(current) {
			continue
		}

		if !first {
			if err := wait.Sleep(ctx, cfg.Delay); err != nil {
				return pages, stats, err
			}
		}
		first = false

		page, err := fetcher.Fetch(ctx, current)
		if err != nil {
			if ctx.Err() != nil {
				return pages, stats, ctx.Err()
			}
			stats.Failed++
			slogctx.Warn(ctx, "Error scraping page", "url", current, "error", err)
			continue
		}

		if page.IsHTML() {
			pages = append(pages, current)
			slogctx.Debug(ctx, "Discovered page", "url", current, "links", len(page.Links))
		}

		for _, link := range page.Links {
			if !shouldQueue(seedURL, link) {
				continue
			}
			frontier.Push(link)
		}
	}

	stats.Visited = frontier.Visited()
	stats.Pages = len(pages)

	slogctx.Info(ctx, "Link discovery finished", "pages", stats.Pages, "visited", stats.Visited, "failed", stats.Failed)
	return pages, stats, nil
}

func shouldQueue(seed *url.URL, link string) bool {
	if !sameHost(seed, link) {
		return false
	}
	if strings.Contains(link, "#") {
		return false
	}
	lower := strings.ToLower(link)
	for _, ext := range skippedExtensions {
		if strings.HasSuffix(lower, ext) {
			return false
		}
	}
	return true
}
