package crawler

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/fluxcapacitor2/siteindex/app/config"
	"github.com/fluxcapacitor2/siteindex/app/document"
	"github.com/fluxcapacitor2/siteindex/app/internal/wait"
	"github.com/go-shiori/go-readability"
	slogctx "github.com/veqryn/slog-context"
	"golang.org/x/net/html"
)

// A Renderer turns a URL into a parsed page. *Fetcher renders with a plain HTTP request, *ChromeRenderer with a headless browser.
type Renderer interface {
	Fetch(ctx context.Context, pageURL string) (*Page, error)
}

type PageStats struct {
	Attempted int
	Loaded    int
	Empty     int
	Failed    int
}

// PageLoader produces one web document per page URL.
type PageLoader struct {
	renderer Renderer
	delay    time.Duration
}

func NewPageLoader(renderer Renderer, cfg config.Crawler) *PageLoader {
	return &PageLoader{renderer: renderer, delay: cfg.Delay}
}

// Load returns the main text of a page. The document is nil when the page has no text.
func (l *PageLoader) Load(ctx context.Context, pageURL string) (*document.Document, error) {
	page, err := l.renderer.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	if !page.IsHTML() {
		return nil, nil
	}

	doc := &document.Document{
		SourceURL:   pageURL,
		Title:       page.Title,
		Content:     extractContent(page),
		ContentType: document.Web,
	}
	if doc.Empty() {
		return nil, nil
	}
	doc.CharCount = len([]rune(doc.Content))
	return doc, nil
}

// LoadAll loads every page in order. Failed and empty pages are logged and left out of the result.
func (l *PageLoader) LoadAll(ctx context.Context, urls []string) ([]document.Document, PageStats) {
	docs := make([]document.Document, 0, len(urls))
	stats := PageStats{}

	for i, pageURL := range urls {
		if i > 0 {
			if err := wait.Sleep(ctx, l.delay); err != nil {
				break
			}
		}

		stats.Attempted++
		pageCtx := slogctx.Append(ctx, "url", pageURL)

		doc, err := l.Load(pageCtx, pageURL)
		if err != nil {
			stats.Failed++
			slogctx.Warn(pageCtx, "Error loading page", "error", err)
			continue
		}
		if doc == nil {
			stats.Empty++
			slogctx.Debug(pageCtx, "Page has no text content")
			continue
		}

		stats.Loaded++
		docs = append(docs, *doc)
	}

	slogctx.Info(ctx, "Pages loaded", "attempted", stats.Attempted, "loaded", stats.Loaded, "empty", stats.Empty, "failed", stats.Failed)
	return docs, stats
}

func extractContent(page *Page) string {
	// The whole-document text is computed before readability rewrites the tree.
	fallback := page.Text

	parsedURL, err := url.Parse(page.FinalURL)
	if err != nil {
		return fallback
	}

	article, err := readability.FromDocument(page.root, parsedURL)
	if err != nil {
		return fallback
	}

	// If we can parse the Readability output as HTML, get the text content using our method.
	// This will add spaces between HTML elements.
	text := article.TextContent
	if node, err := html.Parse(strings.NewReader(article.Content)); err == nil {
		text = getText(node)
	}

	if strings.TrimSpace(text) == "" {
		return fallback
	}
	return text
}
