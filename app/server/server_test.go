package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fluxcapacitor2/siteindex/app/config"
	"github.com/fluxcapacitor2/siteindex/app/document"
	"github.com/fluxcapacitor2/siteindex/app/index"
	"github.com/prometheus/client_golang/prometheus"
)

type stubSearcher struct {
	queries []string
	ks      []int
	err     error
}

func (s *stubSearcher) SimilaritySearch(ctx context.Context, query string, k int) ([]index.Result, error) {
	s.queries = append(s.queries, query)
	s.ks = append(s.ks, k)
	if s.err != nil {
		return nil, s.err
	}
	return []index.Result{
		{Chunk: document.Chunk{Text: "Parking is behind the gym.", SourceURL: "https://example.com/visit", Type: "web", ContentType: document.Web}, Score: 0.25},
		{Chunk: document.Chunk{Text: "Map of the campus", SourceURL: "https://example.com/map.pdf", Type: "pdf", ContentType: document.PDF, Filename: "map.pdf", SourcePages: 1}, Score: 0.5},
	}, nil
}

func (s *stubSearcher) Meta(ctx context.Context) (map[string]string, error) {
	return map[string]string{"seed": "https://example.com/", "chunks": "2"}, nil
}

func get(t *testing.T, handler http.Handler, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	body := map[string]any{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, body
}

func TestSearch(t *testing.T) {
	searcher := &stubSearcher{}
	handler := New(config.HTTP{}, searcher, prometheus.NewRegistry())

	rec, body := get(t, handler, "/api/search?q=where+can+I+park")
	if rec.Code != 200 || body["success"] != true {
		t.Fatalf("unexpected response %v: %v", rec.Code, rec.Body.String())
	}
	if searcher.queries[0] != "where can I park" || searcher.ks[0] != defaultK {
		t.Fatalf("unexpected search call: %v %v", searcher.queries, searcher.ks)
	}

	results := body["results"].([]any)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %v", len(results))
	}
	second := results[1].(map[string]any)
	metadata := second["metadata"].(map[string]any)
	if second["content"] != "Map of the campus" || metadata["filename"] != "map.pdf" || metadata["source"] != "https://example.com/map.pdf" {
		t.Fatalf("unexpected result: %v", second)
	}

	get(t, handler, "/api/search?q=parking&k=10")
	if searcher.ks[1] != 10 {
		t.Fatalf("expected k=10, got %v", searcher.ks[1])
	}
}

func TestSearchBadRequest(t *testing.T) {
	searcher := &stubSearcher{}
	handler := New(config.HTTP{}, searcher, prometheus.NewRegistry())

	for _, target := range []string{"/api/search", "/api/search?q=%20", "/api/search?q=a&k=0", "/api/search?q=a&k=51", "/api/search?q=a&k=four"} {
		rec, body := get(t, handler, target)
		if rec.Code != 400 || body["success"] != false {
			t.Fatalf("%v: expected 400, got %v: %v", target, rec.Code, rec.Body.String())
		}
	}
	if len(searcher.queries) != 0 {
		t.Fatalf("invalid requests must not reach the index")
	}
}

func TestSearchErrors(t *testing.T) {
	searcher := &stubSearcher{err: errors.New("disk I/O error")}
	handler := New(config.HTTP{}, searcher, prometheus.NewRegistry())

	if rec, _ := get(t, handler, "/api/search?q=test"); rec.Code != 500 {
		t.Fatalf("expected 500, got %v", rec.Code)
	}

	searcher.err = index.ErrClosed
	if rec, _ := get(t, handler, "/api/search?q=test"); rec.Code != 503 {
		t.Fatalf("expected 503, got %v", rec.Code)
	}
}

func TestIndexInfo(t *testing.T) {
	handler := New(config.HTTP{}, &stubSearcher{}, prometheus.NewRegistry())

	rec, body := get(t, handler, "/api/index")
	if rec.Code != 200 {
		t.Fatalf("unexpected status %v", rec.Code)
	}
	if info := body["index"].(map[string]any); info["chunks"] != "2" {
		t.Fatalf("unexpected index info: %v", info)
	}
}

func TestMetrics(t *testing.T) {
	handler := New(config.HTTP{}, &stubSearcher{}, prometheus.NewRegistry())
	get(t, handler, "/api/search?q=test")

	rec, _ := get(t, handler, "/metrics")
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), "siteindex_search_duration_seconds") {
		t.Fatalf("search latency missing from metrics: %v", rec.Body.String())
	}
}

func TestCORS(t *testing.T) {
	handler := New(config.HTTP{AllowedOrigins: []string{"https://chat.example.com"}}, &stubSearcher{}, prometheus.NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/api/search?q=test", nil)
	req.Header.Set("Origin", "https://chat.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "https://chat.example.com" {
		t.Fatalf("missing CORS header: %v", rec.Header())
	}
}
