package ingest

import (
	"time"

	"github.com/fluxcapacitor2/siteindex/app/document"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are Prometheus collectors describing ingestion runs. A nil *Metrics records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	pages       *prometheus.CounterVec
	pdfs        *prometheus.CounterVec
	chunks      *prometheus.CounterVec
	batches     prometheus.Counter
	indexSize   prometheus.Gauge
	lastSuccess prometheus.Gauge
	duration    prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "siteindex",
			Name:      "runs_total",
			Help:      "Ingestion runs by outcome.",
		}, []string{"status"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "siteindex",
			Name:      "pages_total",
			Help:      "Web pages processed by outcome.",
		}, []string{"result"}),
		pdfs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "siteindex",
			Name:      "pdfs_total",
			Help:      "PDF files processed by outcome.",
		}, []string{"result"}),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "siteindex",
			Name:      "chunks_total",
			Help:      "Chunks embedded by content type.",
		}, []string{"type"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "siteindex",
			Name:      "embedding_batches_total",
			Help:      "Embedding requests sent.",
		}),
		indexSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "siteindex",
			Name:      "index_chunks",
			Help:      "Chunks in the most recently persisted index.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "siteindex",
			Name:      "last_success_timestamp_seconds",
			Help:      "Time the last successful run finished.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "siteindex",
			Name:      "run_duration_seconds",
			Help:      "Duration of ingestion runs.",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 10),
		}),
	}
	reg.MustRegister(m.runs, m.pages, m.pdfs, m.chunks, m.batches, m.indexSize, m.lastSuccess, m.duration)
	return m
}

func (m *Metrics) observe(result *Result, err error) {
	if m == nil {
		return
	}

	m.duration.Observe(result.Duration.Seconds())
	if err != nil {
		m.runs.WithLabelValues("failure").Inc()
	} else {
		m.runs.WithLabelValues("success").Inc()
		m.lastSuccess.Set(float64(time.Now().Unix()))
		m.indexSize.Set(float64(result.Index.Chunks))
	}

	m.pages.WithLabelValues("loaded").Add(float64(result.PageStats.Loaded))
	m.pages.WithLabelValues("empty").Add(float64(result.PageStats.Empty))
	m.pages.WithLabelValues("failed").Add(float64(result.PageStats.Failed + result.Crawl.Failed))

	if result.PDFs != nil {
		m.pdfs.WithLabelValues("succeeded").Add(float64(result.PDFs.Succeeded))
		m.pdfs.WithLabelValues("rejected").Add(float64(result.PDFs.RejectedCount()))
		m.pdfs.WithLabelValues("failed").Add(float64(result.PDFs.Failed))
		m.pdfs.WithLabelValues("skipped").Add(float64(result.PDFs.Skipped))
	}

	for _, contentType := range []document.ContentType{document.Web, document.PDF} {
		m.chunks.WithLabelValues(string(contentType)).Add(float64(result.Index.ByType[contentType]))
	}
	m.batches.Add(float64(result.Index.Batches))
}
