// Package ingest runs the whole build of a site's index: crawl, PDF ingestion, page ingestion, chunking, embedding, and persistence.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fluxcapacitor2/siteindex/app/config"
	"github.com/fluxcapacitor2/siteindex/app/crawler"
	"github.com/fluxcapacitor2/siteindex/app/database"
	"github.com/fluxcapacitor2/siteindex/app/document"
	"github.com/fluxcapacitor2/siteindex/app/embedding"
	"github.com/fluxcapacitor2/siteindex/app/index"
	"github.com/fluxcapacitor2/siteindex/app/internal/wait"
	"github.com/fluxcapacitor2/siteindex/app/pdf"
	slogctx "github.com/veqryn/slog-context"
)

var (
	ErrNoDocuments = errors.New("no documents were collected")
	ErrNoChunks    = errors.New("no chunks were produced")
)

type Stage string

const (
	DiscoverLinks Stage = "DISCOVER_LINKS"
	DiscoverPDFs  Stage = "DISCOVER_PDFS"
	IngestPDFs    Stage = "INGEST_PDFS"
	IngestPages   Stage = "INGEST_PAGES"
	Chunk         Stage = "CHUNK"
	EmbedAndMerge Stage = "EMBED_AND_MERGE"
	Persist       Stage = "PERSIST"
	Done          Stage = "DONE"
)

// Publisher copies a persisted index somewhere else after a successful run.
type Publisher interface {
	Publish(ctx context.Context, dir string) error
}

// Result describes one run. On failure, Stage is the stage that failed and the fields of later stages are zero.
type Result struct {
	Stage Stage
	Seed  string
	Path  string

	Pages     []string
	PDFLinks  []string
	Crawl     crawler.CrawlStats
	PageStats crawler.PageStats
	PDFs      *pdf.BatchResult
	Documents map[document.ContentType]int
	Chunking  embedding.ChunkStats
	Index     index.Stats

	Duration time.Duration
}

type Pipeline struct {
	cfg       *config.Config
	fetcher   *crawler.Fetcher
	pages     *crawler.PageLoader
	pdfs      *pdf.Ingester
	chunker   *embedding.Chunker
	builder   *index.Builder
	publisher Publisher
	metrics   *Metrics
}

type Option func(*Pipeline)

// WithRenderer replaces the plain HTTP fetcher used to load page text, e.g. with a *crawler.ChromeRenderer.
func WithRenderer(renderer crawler.Renderer) Option {
	return func(p *Pipeline) {
		p.pages = crawler.NewPageLoader(renderer, p.cfg.Crawler)
	}
}

func WithPublisher(publisher Publisher) Option {
	return func(p *Pipeline) {
		p.publisher = publisher
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = metrics
	}
}

func New(cfg *config.Config, embedder embedding.Embedder, opts ...Option) *Pipeline {
	fetcher := crawler.NewFetcher(cfg.Crawler, cfg.UserAgent)
	p := &Pipeline{
		cfg:     cfg,
		fetcher: fetcher,
		pages:   crawler.NewPageLoader(fetcher, cfg.Crawler),
		pdfs:    pdf.NewIngester(cfg.PDF, cfg.UserAgent),
		chunker: embedding.NewChunker(cfg.Chunking),
		builder: index.NewBuilder(embedder, cfg.Embeddings),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run builds the index and replaces the one at `index.path`. The persisted index is left untouched if any stage fails.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	ctx = slogctx.Append(ctx, "seed", p.cfg.Seed)
	start := time.Now()

	result := &Result{Seed: p.cfg.Seed, Path: p.cfg.Index.Path, Documents: map[document.ContentType]int{}}
	err := p.run(ctx, result)
	result.Duration = time.Since(start)
	p.metrics.observe(result, err)

	if err != nil {
		slogctx.Error(ctx, "Ingestion failed", "stage", result.Stage, "error", err)
		return result, fmt.Errorf("%v: %w", result.Stage, err)
	}

	slogctx.Info(ctx, "Ingestion complete",
		"pages", result.Documents[document.Web],
		"pdfs", result.Documents[document.PDF],
		"chunks", result.Index.Chunks,
		"estimatedTokens", int(result.Index.EstimatedTokens),
		"estimatedCost", fmt.Sprintf("$%.4f", result.Index.EstimatedCost),
		"duration", result.Duration.Round(time.Millisecond))
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, result *Result) error {
	var err error
	pace := &pacer{}

	result.Stage = DiscoverLinks
	result.Pages, result.Crawl, err = crawler.DiscoverLinks(ctx, p.fetcher, p.cfg.Crawler, p.cfg.Seed)
	if err != nil {
		return err
	}
	pace.done(result.Crawl.Visited, p.cfg.Crawler.Delay)

	result.Stage = DiscoverPDFs
	if p.cfg.PDF.Enabled && len(result.Pages) > 0 {
		if err := pace.wait(ctx); err != nil {
			return err
		}
		result.PDFLinks, err = crawler.FindPDFs(ctx, p.fetcher, p.cfg.Crawler, p.cfg.Seed, result.Pages)
		if err != nil {
			return err
		}
		pace.done(len(result.Pages), p.cfg.Crawler.PDFScanDelay)
	}

	result.Stage = IngestPDFs
	if len(result.PDFLinks) > 0 {
		if err := pace.wait(ctx); err != nil {
			return err
		}
	}
	result.PDFs = p.pdfs.IngestAll(ctx, result.PDFLinks)
	if err := ctx.Err(); err != nil {
		return err
	}
	pace.done(result.PDFs.Attempted, p.cfg.PDF.Delay)

	result.Stage = IngestPages
	if len(result.Pages) > 0 {
		if err := pace.wait(ctx); err != nil {
			return err
		}
	}
	docs, pageStats := p.pages.LoadAll(ctx, result.Pages)
	result.PageStats = pageStats
	if err := ctx.Err(); err != nil {
		return err
	}

	docs = append(docs, result.PDFs.Documents...)
	for _, doc := range docs {
		result.Documents[doc.ContentType]++
	}
	if len(docs) == 0 {
		return ErrNoDocuments
	}

	result.Stage = Chunk
	chunks, chunkStats := p.chunker.Chunk(docs)
	result.Chunking = chunkStats
	slogctx.Info(ctx, "Chunking complete",
		"documents", chunkStats.Documents,
		"skipped", chunkStats.SkippedDocuments,
		"chunks", chunkStats.Chunks,
		"dropped", chunkStats.DroppedChunks)
	if len(chunks) == 0 {
		return ErrNoChunks
	}

	result.Stage = EmbedAndMerge
	ix, indexStats, err := p.builder.Build(ctx, chunks)
	if err != nil {
		return err
	}
	result.Index = indexStats

	result.Stage = Persist
	meta := map[string]string{
		database.MetaSeed:    p.cfg.Seed,
		database.MetaModel:   embedding.ModelName(p.cfg.Embeddings),
		database.MetaBuiltAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := index.Save(ctx, ix, p.cfg.Index.Path, meta); err != nil {
		return err
	}
	slogctx.Info(ctx, "Index saved", "path", p.cfg.Index.Path, "chunks", ix.Len())

	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, p.cfg.Index.Path); err != nil {
			return fmt.Errorf("index saved but not published: %w", err)
		}
	}

	result.Stage = Done
	return nil
}

// pacer carries the politeness delay of one stage over to the first request of the next.
type pacer struct {
	last  time.Time
	delay time.Duration
}

// done records that a stage finished after sending `requests` requests, each to be followed by `delay`.
func (p *pacer) done(requests int, delay time.Duration) {
	if requests > 0 {
		p.last = time.Now()
		p.delay = delay
	}
}

func (p *pacer) wait(ctx context.Context) error {
	if p.last.IsZero() {
		return ctx.Err()
	}
	return wait.Sleep(ctx, p.delay-time.Since(p.last))
}
