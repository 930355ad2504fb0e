package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
)

func TestFindPDFs(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/":
			fmt.Fprintf(w, `<html><body>
<a href="/files/annual.pdf">Annual report</a>
<a href="/files/BROCHURE.PDF">Brochure</a>
<a href="https://other.example.com/external.pdf">External</a>
<p>Also available at %v/files/plain.pdf and https://other.example.com/text.pdf</p>
</body></html>`, server.URL)
		case "/second":
			fmt.Fprint(w, `<html><body><a href="files/annual.pdf">Same report</a> <a href="/page">Not a PDF</a></body></html>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	cfg := testCrawlerConfig()
	pages := []string{server.URL + "/", server.URL + "/broken", server.URL + "/second"}

	pdfs, err := FindPDFs(context.Background(), NewFetcher(cfg, ""), cfg, server.URL+"/", pages)
	if err != nil {
		t.Fatalf("error finding PDFs: %v", err)
	}

	expected := []string{
		server.URL + "/files/annual.pdf",
		server.URL + "/files/BROCHURE.PDF",
		server.URL + "/files/plain.pdf",
	}
	if !slices.Equal(pdfs, expected) {
		t.Fatalf("unexpected PDFs:\n got: %v\nwant: %v", pdfs, expected)
	}
}

func TestFindPDFsWithoutPages(t *testing.T) {
	cfg := testCrawlerConfig()
	pdfs, err := FindPDFs(context.Background(), NewFetcher(cfg, ""), cfg, "https://example.com/", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pdfs) != 0 {
		t.Fatalf("expected no PDFs, got %v", pdfs)
	}
}
