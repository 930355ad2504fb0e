package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fluxcapacitor2/siteindex/app/config"
	"github.com/fluxcapacitor2/siteindex/app/index"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogctx "github.com/veqryn/slog-context"
)

const (
	defaultK = 4
	maxK     = 50
)

// Searcher is the query side of a persisted index. *index.Retriever implements it.
type Searcher interface {
	SimilaritySearch(ctx context.Context, query string, k int) ([]index.Result, error)
	Meta(ctx context.Context) (map[string]string, error)
}

type httpResponse struct {
	status       int
	Success      bool              `json:"success"`
	Error        string            `json:"error,omitempty"`
	Results      []searchResult    `json:"results,omitempty"`
	Index        map[string]string `json:"index,omitempty"`
	ResponseTime float64           `json:"responseTime"`
}

type searchResult struct {
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// New returns the HTTP API. `registry` receives the request metrics and is served at /metrics.
func New(cfg config.HTTP, searcher Searcher, registry *prometheus.Registry) http.Handler {
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "siteindex",
		Name:      "search_duration_seconds",
		Help:      "Latency of search requests.",
	}, []string{"code"})
	registry.MustRegister(duration)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))
	}

	r.Method(http.MethodGet, "/api/search", promhttp.InstrumentHandlerDuration(duration, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		writeResponse(w, start, search(req, searcher))
	})))

	r.Get("/api/index", func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		meta, err := searcher.Meta(req.Context())
		if err != nil {
			slogctx.Error(req.Context(), "Error reading index metadata", "error", err)
			writeResponse(w, start, &httpResponse{status: 500, Error: "Internal server error"})
			return
		}
		writeResponse(w, start, &httpResponse{status: 200, Success: true, Index: meta})
	})

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return r
}

func search(req *http.Request, searcher Searcher) *httpResponse {
	q := strings.TrimSpace(req.URL.Query().Get("q"))
	if q == "" {
		return &httpResponse{status: 400, Error: "Bad request: missing query"}
	}

	k := defaultK
	if raw := req.URL.Query().Get("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxK {
			return &httpResponse{status: 400, Error: fmt.Sprintf("Bad request: k must be between 1 and %v", maxK)}
		}
		k = parsed
	}

	results, err := searcher.SimilaritySearch(req.Context(), q, k)
	if err != nil {
		slogctx.Error(req.Context(), "Error generating search results", "query", q, "error", err)
		if errors.Is(err, index.ErrClosed) {
			return &httpResponse{status: 503, Error: "Index unavailable"}
		}
		return &httpResponse{status: 500, Error: "Internal server error"}
	}

	mapped := make([]searchResult, len(results))
	for i, res := range results {
		mapped[i] = searchResult{Content: res.Chunk.Text, Score: res.Score, Metadata: res.Chunk.Metadata()}
	}
	return &httpResponse{status: 200, Success: true, Results: mapped}
}

func writeResponse(w http.ResponseWriter, start time.Time, response *httpResponse) {
	response.ResponseTime = time.Since(start).Seconds()
	w.Header().Add("Content-Type", "application/json")
	str, err := json.Marshal(response)
	if err != nil {
		w.WriteHeader(500)
		w.Write([]byte(`{"success":false,"error":"Failed to marshal struct into JSON"}`))
		return
	}
	w.WriteHeader(response.status)
	w.Write(str)
}

// Start serves `handler` until `ctx` is cancelled, then shuts down gracefully.
func Start(ctx context.Context, cfg config.HTTP, handler http.Handler) error {
	addr := fmt.Sprintf("%v:%v", cfg.Listen, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		slogctx.Info(ctx, "Listening", "addr", "http://"+addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
