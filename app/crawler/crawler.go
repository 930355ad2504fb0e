package crawler

import (
	"bytes"
	"context"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/fluxcapacitor2/siteindex/app/config"
	"github.com/gocolly/colly"
	"github.com/mmcdole/gofeed"
	sitemap "github.com/oxffaa/gopher-parse-sitemap"
	slogctx "github.com/veqryn/slog-context"
	"golang.org/x/net/html"
)

// Page is the result of fetching a single URL.
type Page struct {
	// The URL that was requested.
	URL string
	// The URL of the response, after following redirects.
	FinalURL    string
	ContentType string
	Title       string
	// Absolute URLs of every anchor on the page, plus entries of sitemaps and feeds, in document order.
	Links []string
	// Visible text of the whole document.
	Text string

	root *html.Node
}

// IsHTML reports whether the response was an HTML document (as opposed to a sitemap, feed, or other file).
func (p *Page) IsHTML() bool {
	return p.root != nil
}

// Fetcher downloads one page at a time. A new collector is created for every fetch, so there is no shared state between calls.
type Fetcher struct {
	timeout       time.Duration
	respectRobots bool
	userAgent     string
}

func NewFetcher(cfg config.Crawler, userAgent string) *Fetcher {
	return &Fetcher{
		timeout:       cfg.Timeout,
		respectRobots: cfg.RespectRobots,
		userAgent:     userAgent,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	collector := colly.NewCollector()
	collector.IgnoreRobotsTxt = !f.respectRobots
	if f.userAgent != "" {
		collector.UserAgent = f.userAgent
	}
	if f.timeout > 0 {
		collector.SetRequestTimeout(f.timeout)
	}

	page := &Page{URL: pageURL, FinalURL: pageURL}
	seen := map[string]struct{}{}

	add := func(link string) error {
		if link == "" {
			return nil
		}
		if _, ok := seen[link]; !ok {
			seen[link] = struct{}{}
			page.Links = append(page.Links, link)
		}
		return nil
	}

	collector.OnResponse(func(resp *colly.Response) {
		// The crawler follows redirects, so the final URL may differ from the requested one.
		page.FinalURL = resp.Request.URL.String()
		page.ContentType = resp.Headers.Get("Content-Type")

		ct := page.ContentType
		// XML files could be sitemaps
		if strings.HasPrefix(ct, "application/xml") || strings.HasPrefix(ct, "text/xml") {
			// Attempt to parse this response as a sitemap or sitemap index
			reader := bytes.NewReader(resp.Body)
			sitemap.Parse(reader, func(entry sitemap.Entry) error {
				return add(entry.GetLocation())
			})
			reader.Reset(resp.Body)
			sitemap.ParseIndex(reader, func(entry sitemap.IndexEntry) error {
				return add(entry.GetLocation())
			})
		} else if strings.HasPrefix(ct, "application/rss+xml") || strings.HasPrefix(ct, "application/feed+json") || strings.HasPrefix(ct, "application/atom+xml") {
			// Parse RSS, Atom, and JSON feeds using `gofeed`
			parser := gofeed.NewParser()
			res, err := parser.ParseString(string(resp.Body))
			if err != nil {
				slogctx.Warn(ctx, "Invalid feed content", "url", pageURL, "error", err)
				return
			}
			for _, item := range res.Items {
				add(item.Link)
				for _, link := range item.Links {
					add(link)
				}
			}
		}
	})

	collector.OnHTML("html", func(element *colly.HTMLElement) {
		page.root = element.DOM.Get(0)
		page.Title = strings.TrimSpace(element.DOM.Find("title").First().Text())
		page.Text = getText(page.root)
	})

	collector.OnHTML("a[href]", func(element *colly.HTMLElement) {
		add(element.Request.AbsoluteURL(element.Attr("href")))
	})

	if err := collector.Visit(pageURL); err != nil {
		return nil, err
	}
	collector.Wait()

	return page, nil
}

var nonTextElements = []string{"head", "meta", "script", "style", "noscript", "object", "svg", "template"}

func getText(node *html.Node) string {
	text := ""

	if node.FirstChild != nil {
		if !slices.Contains(nonTextElements, node.Data) {
			text += getText(node.FirstChild) + " "
		}
	}

	if node.Type == html.TextNode {
		text += node.Data + " "
	}

	if node.NextSibling != nil {
		text += getText(node.NextSibling) + " "
	}

	return strings.TrimSpace(text)
}

// sameHost reports whether `link` is an http(s) URL on the same network location (host and port) as `seed`.
func sameHost(seed *url.URL, link string) bool {
	parsed, err := url.Parse(link)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	return strings.EqualFold(parsed.Host, seed.Host)
}
