package pdf

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fluxcapacitor2/siteindex/app/config"
	"github.com/fluxcapacitor2/siteindex/app/internal/pdftest"
)

func testConfig(t *testing.T) config.PDF {
	return config.PDF{
		Enabled:         true,
		MaxPDFs:         10,
		MaxFileSize:     1024 * 1024,
		MaxTotalSize:    10 * 1024 * 1024,
		MaxPages:        100,
		HeadTimeout:     5 * time.Second,
		DownloadTimeout: 5 * time.Second,
		Attempts:        2,
		TempDir:         t.TempDir(),
	}
}

// pdfServer serves PDF files by path and counts requests per method and path.
type pdfServer struct {
	*httptest.Server
	mu    sync.Mutex
	files map[string][]byte
	hits  map[string]int
}

func newPDFServer(t *testing.T, files map[string][]byte) *pdfServer {
	s := &pdfServer{files: files, hits: map[string]int{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.Method+" "+r.URL.Path]++
		s.mu.Unlock()

		body, ok := s.files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		if r.Method == http.MethodGet {
			w.Write(body)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *pdfServer) count(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[method+" "+path]
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("error reading temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no temporary files, found %v", entries)
	}
}

func TestIngest(t *testing.T) {
	server := newPDFServer(t, map[string][]byte{
		"/files/guide.pdf": pdftest.Build("Welcome to the visitor guide", "Parking is available behind the building"),
	})
	cfg := testConfig(t)

	res, err := NewIngester(cfg, "test-agent").Ingest(context.Background(), server.URL+"/files/guide.pdf")
	if err != nil {
		t.Fatalf("error ingesting PDF: %v", err)
	}
	if !res.OK() {
		t.Fatalf("PDF was rejected: %v", res.Rejected)
	}

	doc := res.Document
	if doc.PagesTotal != 2 || doc.PagesWithText != 2 {
		t.Fatalf("unexpected page counts: total=%v withText=%v", doc.PagesTotal, doc.PagesWithText)
	}
	if doc.Filename != "guide.pdf" || doc.SourceURL != server.URL+"/files/guide.pdf" {
		t.Fatalf("unexpected metadata: %+v", doc)
	}
	for _, expected := range []string{"--- Page 1 ---", "visitor guide", "--- Page 2 ---", "Parking"} {
		if !strings.Contains(doc.Content, expected) {
			t.Fatalf("content is missing %q: %q", expected, doc.Content)
		}
	}
	if strings.Index(doc.Content, "--- Page 1 ---") > strings.Index(doc.Content, "--- Page 2 ---") {
		t.Fatalf("pages are out of order: %q", doc.Content)
	}
	if doc.CharCount != len([]rune(doc.Content)) {
		t.Fatalf("unexpected character count %v", doc.CharCount)
	}

	assertNoTempFiles(t, cfg.TempDir)
}

func TestIngestSizeGate(t *testing.T) {
	cfg := testConfig(t)
	var gets atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
		}
		w.Header().Set("Content-Length", strconv.FormatInt(cfg.MaxFileSize+1, 10))
	}))
	defer server.Close()

	res, err := NewIngester(cfg, "").Ingest(context.Background(), server.URL+"/huge.pdf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.OK() || res.Rejected != TooLarge {
		t.Fatalf("expected the PDF to be rejected as too large, got %+v", res)
	}
	if gets.Load() != 0 {
		t.Fatalf("expected no GET request, got %v", gets.Load())
	}
	assertNoTempFiles(t, cfg.TempDir)
}

func TestIngestOversizedBodyWithoutContentLength(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxFileSize = 1000

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			return
		}
		// Flushing forces a chunked response without a Content-Length header.
		w.Write([]byte(strings.Repeat("x", 600)))
		w.(http.Flusher).Flush()
		w.Write([]byte(strings.Repeat("x", 600)))
	}))
	defer server.Close()

	res, err := NewIngester(cfg, "").Ingest(context.Background(), server.URL+"/stream.pdf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Rejected != TooLarge {
		t.Fatalf("expected the PDF to be rejected as too large, got %+v", res)
	}
	assertNoTempFiles(t, cfg.TempDir)
}

func TestIngestTooManyPages(t *testing.T) {
	server := newPDFServer(t, map[string][]byte{"/long.pdf": pdftest.Build("one", "two", "three")})
	cfg := testConfig(t)
	cfg.MaxPages = 2

	res, err := NewIngester(cfg, "").Ingest(context.Background(), server.URL+"/long.pdf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Rejected != TooManyPages {
		t.Fatalf("expected too_many_pages, got %+v", res)
	}
	assertNoTempFiles(t, cfg.TempDir)
}

func TestIngestNoText(t *testing.T) {
	server := newPDFServer(t, map[string][]byte{"/scan.pdf": pdftest.Build("", "")})
	cfg := testConfig(t)

	res, err := NewIngester(cfg, "").Ingest(context.Background(), server.URL+"/scan.pdf")
	if err != nil {
		t.Fatalf("an image-only PDF must not be an error: %v", err)
	}
	if res.Rejected != NoText {
		t.Fatalf("expected no_text, got %+v", res)
	}
	assertNoTempFiles(t, cfg.TempDir)
}

func TestIngestNotPDF(t *testing.T) {
	server := newPDFServer(t, map[string][]byte{"/fake.pdf": []byte("<html><body>Not found</body></html>")})
	cfg := testConfig(t)

	_, err := NewIngester(cfg, "").Ingest(context.Background(), server.URL+"/fake.pdf")
	if !errors.Is(err, ErrNotPDF) {
		t.Fatalf("expected ErrNotPDF, got %v", err)
	}
	assertNoTempFiles(t, cfg.TempDir)
}

type panickingExtractor struct{}

func (panickingExtractor) Open(path string) (Reader, error) {
	return panickingReader{}, nil
}

type panickingReader struct{}

func (panickingReader) NumPage() int                   { return 1 }
func (panickingReader) PageText(n int) (string, error) { panic("corrupt content stream") }
func (panickingReader) Close() error                   { return nil }

func TestIngestRecoversFromExtractorPanic(t *testing.T) {
	server := newPDFServer(t, map[string][]byte{"/broken.pdf": pdftest.Build("text")})
	cfg := testConfig(t)

	ingester := NewIngester(cfg, "")
	ingester.extractor = panickingExtractor{}

	if _, err := ingester.Ingest(context.Background(), server.URL+"/broken.pdf"); err == nil {
		t.Fatalf("expected an error from a panicking extractor")
	}
	assertNoTempFiles(t, cfg.TempDir)
}

type failingPageReader struct{}

func (failingPageReader) Open(path string) (Reader, error) { return failingPageReader{}, nil }
func (failingPageReader) NumPage() int                     { return 2 }
func (failingPageReader) Close() error                     { return nil }
func (failingPageReader) PageText(n int) (string, error) {
	if n == 1 {
		return "", errors.New("unsupported font")
	}
	return "second page text", nil
}

func TestIngestSkipsFailingPages(t *testing.T) {
	server := newPDFServer(t, map[string][]byte{"/partial.pdf": pdftest.Build("a", "b")})
	cfg := testConfig(t)

	ingester := NewIngester(cfg, "")
	ingester.extractor = failingPageReader{}

	res, err := ingester.Ingest(context.Background(), server.URL+"/partial.pdf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.OK() || res.Document.PagesWithText != 1 || res.Document.PagesTotal != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if strings.Contains(res.Document.Content, "--- Page 1 ---") || !strings.Contains(res.Document.Content, "--- Page 2 ---\nsecond page text") {
		t.Fatalf("unexpected content: %q", res.Document.Content)
	}
}

func TestIngestRetriesTimeouts(t *testing.T) {
	body := pdftest.Build("eventually delivered")
	var gets atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			return
		}
		if gets.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		w.Write(body)
	}))
	defer server.Close()

	cfg := testConfig(t)
	cfg.DownloadTimeout = 100 * time.Millisecond

	res, err := NewIngester(cfg, "").Ingest(context.Background(), server.URL+"/slow.pdf")
	if err != nil {
		t.Fatalf("expected the retry to succeed: %v", err)
	}
	if !res.OK() || gets.Load() != 2 {
		t.Fatalf("expected a successful second attempt, got %+v after %v GETs", res, gets.Load())
	}
	assertNoTempFiles(t, cfg.TempDir)
}

func TestIngestDoesNotRetryServerErrors(t *testing.T) {
	var gets atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	cfg := testConfig(t)
	if _, err := NewIngester(cfg, "").Ingest(context.Background(), server.URL+"/error.pdf"); err == nil {
		t.Fatalf("expected an error due to 500 status")
	}
	if gets.Load() != 1 {
		t.Fatalf("expected exactly one GET, got %v", gets.Load())
	}
	assertNoTempFiles(t, cfg.TempDir)
}

func TestFilename(t *testing.T) {
	tests := map[string]string{
		"https://example.com/files/report.pdf":        "report.pdf",
		"https://example.com/files/annual%20plan.pdf": "annual plan.pdf",
		"https://example.com/doc.pdf?download=1":      "doc.pdf",
	}
	for input, expected := range tests {
		if result := filename(input); result != expected {
			t.Fatalf("filename(%q) = %q, expected %q", input, result, expected)
		}
	}
}
