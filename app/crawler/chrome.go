package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"github.com/fluxcapacitor2/siteindex/app/config"
)

// ChromeRenderer renders pages in a long-lived headless Chrome, for sites that build their content with JavaScript.
// Call Close on shutdown.
type ChromeRenderer struct {
	cancelAlloc   context.CancelFunc
	browser       context.Context
	cancelBrowser context.CancelFunc
	timeout       time.Duration
}

// NewChromeRenderer starts the browser. Pages are rendered in their own tab.
func NewChromeRenderer(cfg config.Crawler, userAgent string) (*ChromeRenderer, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(userAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browser, cancelBrowser := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browser); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("error starting headless Chrome: %w", err)
	}

	return &ChromeRenderer{
		cancelAlloc:   cancelAlloc,
		browser:       browser,
		cancelBrowser: cancelBrowser,
		timeout:       cfg.Timeout,
	}, nil
}

func (r *ChromeRenderer) Close() {
	r.cancelBrowser()
	r.cancelAlloc()
}

func (r *ChromeRenderer) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	tab, cancel := chromedp.NewContext(r.browser)
	defer cancel()
	if r.timeout > 0 {
		var cancelTimeout context.CancelFunc
		tab, cancelTimeout = context.WithTimeout(tab, r.timeout)
		defer cancelTimeout()
	}
	// Stop rendering when the caller gives up.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var outer string
	if err := chromedp.Run(tab,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &outer, chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("error rendering page: %w", err)
	}

	dom, err := goquery.NewDocumentFromReader(strings.NewReader(outer))
	if err != nil {
		return nil, err
	}

	page := &Page{
		URL:         pageURL,
		FinalURL:    pageURL,
		ContentType: "text/html",
		Title:       strings.TrimSpace(dom.Find("title").First().Text()),
		root:        dom.Nodes[0],
	}
	page.Text = getText(page.root)

	seen := map[string]struct{}{}
	dom.Find("a[href]").Each(func(i int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		abs.Fragment = ""
		if _, ok := seen[abs.String()]; ok {
			return
		}
		seen[abs.String()] = struct{}{}
		page.Links = append(page.Links, abs.String())
	})

	return page, nil
}
