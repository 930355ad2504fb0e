// Package pdf downloads linked PDF files and extracts their text, subject to per-file and per-run limits.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/fluxcapacitor2/siteindex/app/config"
	"github.com/fluxcapacitor2/siteindex/app/document"
	"github.com/fluxcapacitor2/siteindex/app/internal/wait"
	slogctx "github.com/veqryn/slog-context"
)

var ErrNotPDF = errors.New("response is not a PDF file")

// Rejection is the reason a PDF was turned down. Rejections are expected outcomes, not errors.
type Rejection string

const (
	TooLarge     Rejection = "too_large"
	TooManyPages Rejection = "too_many_pages"
	NoText       Rejection = "no_text"
)

// Result holds either the extracted document or the reason the PDF was rejected.
type Result struct {
	Document *document.Document
	Rejected Rejection
}

func (r Result) OK() bool {
	return r.Document != nil
}

type Ingester struct {
	cfg       config.PDF
	userAgent string
	client    *http.Client
	extractor Extractor
}

func NewIngester(cfg config.PDF, userAgent string) *Ingester {
	return &Ingester{
		cfg:       cfg,
		userAgent: userAgent,
		client:    &http.Client{},
		extractor: PlainTextExtractor{},
	}
}

// Ingest downloads a single PDF and extracts its text.
// The download is written to a temporary file, which is removed before Ingest returns.
func (in *Ingester) Ingest(ctx context.Context, pdfURL string) (result Result, err error) {
	ctx = slogctx.Append(ctx, "url", pdfURL)

	size, err := in.contentLength(ctx, pdfURL)
	if err != nil {
		return Result{}, fmt.Errorf("error checking PDF size: %w", err)
	}
	if size > in.cfg.MaxFileSize {
		slogctx.Info(ctx, "PDF rejected", "reason", TooLarge, "size", size, "limit", in.cfg.MaxFileSize)
		return Result{Rejected: TooLarge}, nil
	}
	if size < 0 {
		slogctx.Warn(ctx, "Could not determine PDF size, proceeding with download")
	}

	file, err := os.CreateTemp(in.cfg.TempDir, "siteindex-*.pdf")
	if err != nil {
		return Result{}, err
	}
	defer os.Remove(file.Name())
	defer file.Close()

	written, err := in.download(ctx, pdfURL, file)
	if err != nil {
		return Result{}, err
	}
	if written > in.cfg.MaxFileSize {
		slogctx.Info(ctx, "PDF rejected", "reason", TooLarge, "size", written, "limit", in.cfg.MaxFileSize)
		return Result{Rejected: TooLarge}, nil
	}
	slogctx.Debug(ctx, "PDF downloaded", "bytes", written)

	if err := file.Close(); err != nil {
		return Result{}, err
	}

	// A malformed file can make the parser panic; treat that like any other parse failure.
	defer func() {
		if r := recover(); r != nil {
			result = Result{}
			err = fmt.Errorf("error extracting PDF text: %v", r)
		}
	}()

	return in.extract(ctx, pdfURL, file.Name())
}

// contentLength sends a HEAD request and returns the advertised size, or -1 if the server didn't send one.
func (in *Ingester) contentLength(ctx context.Context, pdfURL string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, in.cfg.HeadTimeout)
	defer cancel()

	req, err := in.newRequest(ctx, http.MethodHead, pdfURL)
	if err != nil {
		return 0, err
	}
	res, err := in.client.Do(req)
	if err != nil {
		return 0, err
	}
	res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		// Some servers don't support HEAD. The GET request decides.
		return -1, nil
	}
	return res.ContentLength, nil
}

// download writes the response body to `file`. Only timeouts are retried.
// At most MaxFileSize+1 bytes are written, so an oversized body is detected without reading all of it.
func (in *Ingester) download(ctx context.Context, pdfURL string, file *os.File) (int64, error) {
	attempts := max(in.cfg.Attempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			slogctx.Warn(ctx, "Timeout downloading PDF, retrying", "attempt", attempt-1, "error", err)
			if err := wait.Sleep(ctx, in.cfg.RetryDelay); err != nil {
				return 0, err
			}
			if err := resetFile(file); err != nil {
				return 0, err
			}
		}

		var written int64
		written, err = in.get(ctx, pdfURL, file)
		if err == nil {
			return written, nil
		}
		if ctx.Err() != nil || !isTimeout(err) {
			break
		}
	}
	return 0, fmt.Errorf("error downloading PDF: %w", err)
}

func (in *Ingester) get(ctx context.Context, pdfURL string, w io.Writer) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, in.cfg.DownloadTimeout)
	defer cancel()

	req, err := in.newRequest(ctx, http.MethodGet, pdfURL)
	if err != nil {
		return 0, err
	}
	res, err := in.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return 0, fmt.Errorf("unexpected status %v", res.Status)
	}
	return io.Copy(w, io.LimitReader(res.Body, in.cfg.MaxFileSize+1))
}

func (in *Ingester) newRequest(ctx context.Context, method string, pdfURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, pdfURL, nil)
	if err != nil {
		return nil, err
	}
	if in.userAgent != "" {
		req.Header.Set("User-Agent", in.userAgent)
	}
	return req, nil
}

func (in *Ingester) extract(ctx context.Context, pdfURL string, filePath string) (Result, error) {
	if err := checkHeader(filePath); err != nil {
		return Result{}, err
	}

	reader, err := in.extractor.Open(filePath)
	if err != nil {
		return Result{}, fmt.Errorf("error opening PDF: %w", err)
	}
	defer reader.Close()

	numPages := reader.NumPage()
	if numPages > in.cfg.MaxPages {
		slogctx.Info(ctx, "PDF rejected", "reason", TooManyPages, "pages", numPages, "limit", in.cfg.MaxPages)
		return Result{Rejected: TooManyPages}, nil
	}

	var content strings.Builder
	pagesWithText := 0
	for n := 1; n <= numPages; n++ {
		text, err := reader.PageText(n)
		if err != nil {
			slogctx.Warn(ctx, "Error extracting page text", "page", n, "error", err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		fmt.Fprintf(&content, "\n\n--- Page %d ---\n%s", n, text)
		pagesWithText++
	}

	if strings.TrimSpace(content.String()) == "" {
		slogctx.Info(ctx, "PDF rejected", "reason", NoText, "pages", numPages)
		return Result{Rejected: NoText}, nil
	}

	doc := &document.Document{
		SourceURL:     pdfURL,
		Title:         filename(pdfURL),
		Content:       content.String(),
		ContentType:   document.PDF,
		Filename:      filename(pdfURL),
		PagesTotal:    numPages,
		PagesWithText: pagesWithText,
	}
	doc.CharCount = len([]rune(doc.Content))

	slogctx.Info(ctx, "PDF text extracted", "pages", numPages, "pagesWithText", pagesWithText, "characters", doc.CharCount)
	return Result{Document: doc}, nil
}

var pdfMagic = []byte("%PDF-")

func checkHeader(filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	header := make([]byte, 1024)
	n, _ := io.ReadFull(file, header)
	if !bytes.Contains(header[:n], pdfMagic) {
		return ErrNotPDF
	}
	return nil
}

func resetFile(file *os.File) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	_, err := file.Seek(0, io.SeekStart)
	return err
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func filename(pdfURL string) string {
	parsed, err := url.Parse(pdfURL)
	if err != nil {
		return path.Base(pdfURL)
	}
	return path.Base(parsed.Path)
}
