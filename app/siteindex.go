package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fluxcapacitor2/siteindex/app/config"
	"github.com/fluxcapacitor2/siteindex/app/crawler"
	"github.com/fluxcapacitor2/siteindex/app/embedding"
	"github.com/fluxcapacitor2/siteindex/app/index"
	"github.com/fluxcapacitor2/siteindex/app/ingest"
	"github.com/fluxcapacitor2/siteindex/app/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	slogctx "github.com/veqryn/slog-context"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type flags struct {
	config   string
	seed     string
	logLevel string
}

func newRootCommand() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:          "siteindex",
		Short:        "Build and query a vector index of a website and the PDFs it links to",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&f.config, "config", "c", "config.yml", "path to the YAML config file")
	root.PersistentFlags().StringVar(&f.seed, "seed", "", "seed URL (overrides the config file)")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (overrides the config file)")

	root.AddCommand(newIngestCommand(f), newSearchCommand(f), newServeCommand(f))
	return root
}

func (f *flags) load() (*config.Config, error) {
	cfg, err := config.Read(f.config)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if f.seed != "" {
		cfg.Seed = f.seed
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	setupLogger(cfg.Log)
	return cfg, nil
}

func setupLogger(cfg config.Log) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(slogctx.NewHandler(handler, nil)))
}

func newIngestCommand(f *flags) *cobra.Command {
	var maxPages, maxPDFs int
	var noPDFs bool
	var renderer string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Crawl the site, ingest its pages and PDFs, and replace the persisted index",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-pages") {
				cfg.Crawler.MaxPages = maxPages
			}
			if cmd.Flags().Changed("max-pdfs") {
				cfg.PDF.MaxPDFs = maxPDFs
			}
			if noPDFs {
				cfg.PDF.Enabled = false
			}
			if renderer != "" {
				cfg.Crawler.Renderer = renderer
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			embedder, err := embedding.NewEmbedder(ctx, cfg.Embeddings)
			if err != nil {
				return err
			}
			defer closeEmbedder(embedder)

			pipeline, cleanup, err := newPipeline(ctx, cfg, embedder)
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := pipeline.Run(ctx)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "maximum number of pages to crawl")
	cmd.Flags().IntVar(&maxPDFs, "max-pdfs", 0, "maximum number of PDFs to process")
	cmd.Flags().BoolVar(&noPDFs, "no-pdfs", false, "skip PDF discovery and ingestion")
	cmd.Flags().StringVar(&renderer, "renderer", "", "http or chrome")
	return cmd
}

func newSearchCommand(f *flags) *cobra.Command {
	var k int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Return the chunks of the persisted index most similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			if k < 1 {
				return errors.New("k must be at least 1")
			}
			ctx := cmd.Context()

			embedder, err := embedding.NewEmbedder(ctx, cfg.Embeddings)
			if err != nil {
				return err
			}
			defer closeEmbedder(embedder)

			retriever, err := index.OpenRetriever(cfg.Index.Path, embedder)
			if err != nil {
				return fmt.Errorf("error opening index: %w", err)
			}
			defer retriever.Close()

			results, err := retriever.SimilaritySearch(ctx, strings.Join(args, " "), k)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			for i, res := range results {
				fmt.Fprintf(out, "%d. [%.4f] %v (%v)\n", i+1, res.Score, res.Chunk.SourceURL, res.Chunk.ContentType)
				fmt.Fprintf(out, "   %v\n\n", strings.ReplaceAll(strings.TrimSpace(res.Chunk.Text), "\n", "\n   "))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 4, "number of results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func newServeCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the search API, optionally rebuilding the index on a schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			if cfg.Refresh.Enabled {
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			embedder, err := embedding.NewEmbedder(ctx, cfg.Embeddings)
			if err != nil {
				return err
			}
			defer closeEmbedder(embedder)

			registry := prometheus.NewRegistry()
			registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			var pipeline *ingest.Pipeline
			if cfg.Refresh.Enabled {
				var cleanup func()
				pipeline, cleanup, err = newPipeline(ctx, cfg, embedder, ingest.WithMetrics(ingest.NewMetrics(registry)))
				if err != nil {
					return err
				}
				defer cleanup()
			}

			retriever, err := index.OpenRetriever(cfg.Index.Path, embedder)
			if err != nil && pipeline != nil {
				slogctx.Warn(ctx, "No index found, building one before serving", "path", cfg.Index.Path, "error", err)
				if _, err := pipeline.Run(ctx); err != nil {
					return err
				}
				retriever, err = index.OpenRetriever(cfg.Index.Path, embedder)
			}
			if err != nil {
				return fmt.Errorf("error opening index: %w", err)
			}
			defer retriever.Close()

			if pipeline != nil {
				scheduler, err := startRefreshJob(ctx, cfg.Refresh, pipeline, retriever)
				if err != nil {
					return err
				}
				defer scheduler.Shutdown()
			}

			return server.Start(ctx, cfg.HTTP, server.New(cfg.HTTP, retriever, registry))
		},
	}
}

// newPipeline wires the configured renderer and publisher into a pipeline. The returned function releases the renderer.
func newPipeline(ctx context.Context, cfg *config.Config, embedder embedding.Embedder, opts ...ingest.Option) (*ingest.Pipeline, func(), error) {
	cleanup := func() {}

	if cfg.Crawler.Renderer == "chrome" {
		chrome, err := crawler.NewChromeRenderer(cfg.Crawler, cfg.UserAgent)
		if err != nil {
			return nil, nil, fmt.Errorf("error starting headless Chrome: %w", err)
		}
		cleanup = chrome.Close
		opts = append(opts, ingest.WithRenderer(chrome))
	}

	if cfg.Index.Publish.S3.Enabled() {
		publisher, err := index.NewPublisher(ctx, cfg.Index.Publish.S3)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		opts = append(opts, ingest.WithPublisher(publisher))
	}

	return ingest.New(cfg, embedder, opts...), cleanup, nil
}

func closeEmbedder(embedder embedding.Embedder) {
	if closer, ok := embedder.(io.Closer); ok {
		closer.Close()
	}
}

func printSummary(w io.Writer, result *ingest.Result) {
	fmt.Fprintf(w, "Index saved to %v\n", result.Path)
	fmt.Fprintf(w, "  pages:   %d crawled, %d loaded, %d empty, %d failed\n",
		len(result.Pages), result.PageStats.Loaded, result.PageStats.Empty, result.PageStats.Failed+result.Crawl.Failed)
	if result.PDFs != nil {
		fmt.Fprintf(w, "  pdfs:    %d found, %d ingested, %d rejected, %d failed, %d skipped\n",
			len(result.PDFLinks), result.PDFs.Succeeded, result.PDFs.RejectedCount(), result.PDFs.Failed, result.PDFs.Skipped)
	}
	fmt.Fprintf(w, "  chunks:  %d (%d web, %d pdf), %d dropped\n",
		result.Index.Chunks, result.Index.ByType["web"], result.Index.ByType["pdf"], result.Chunking.DroppedChunks)
	fmt.Fprintf(w, "  tokens:  ~%.0f, estimated cost $%.4f\n", result.Index.EstimatedTokens, result.Index.EstimatedCost)
	fmt.Fprintf(w, "  took:    %v\n", result.Duration.Round(time.Millisecond))
}
