package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/fluxcapacitor2/siteindex/app/config"
	"github.com/fluxcapacitor2/siteindex/app/document"
	"github.com/fluxcapacitor2/siteindex/app/embedding"
	"github.com/fluxcapacitor2/siteindex/app/internal/wait"
	slogctx "github.com/veqryn/slog-context"
)

// Stats are informational figures about a build.
type Stats struct {
	Chunks    int
	ByType    map[document.ContentType]int
	Batches   int
	Dimension int
	// Tokens estimated from word counts, and their price
	EstimatedTokens float64
	EstimatedCost   float64
}

// Builder embeds chunks in fixed-size batches and merges them into a single index.
type Builder struct {
	embedder embedding.Embedder
	cfg      config.Embeddings
}

func NewBuilder(embedder embedding.Embedder, cfg config.Embeddings) *Builder {
	return &Builder{embedder: embedder, cfg: cfg}
}

// Build embeds every chunk. The first batch creates the index, later batches are merged into it.
// Any embedding error aborts the build.
func (b *Builder) Build(ctx context.Context, chunks []document.Chunk) (*VectorIndex, Stats, error) {
	stats := Stats{ByType: map[document.ContentType]int{}}
	if len(chunks) == 0 {
		return nil, stats, errors.New("no chunks to embed")
	}

	batchSize := max(b.cfg.BatchSize, 1)
	total := (len(chunks) + batchSize - 1) / batchSize

	var ix *VectorIndex
	for start := 0; start < len(chunks); start += batchSize {
		batch := chunks[start:min(start+batchSize, len(chunks))]

		if start > 0 {
			if err := wait.Sleep(ctx, b.cfg.BatchDelay); err != nil {
				return nil, stats, err
			}
		}

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Text
		}

		vectors, err := b.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, stats, fmt.Errorf("error embedding batch %v/%v: %w", stats.Batches+1, total, err)
		}

		batchIndex, err := FromEmbeddings(vectors, batch)
		if err != nil {
			return nil, stats, fmt.Errorf("error in batch %v/%v: %w", stats.Batches+1, total, err)
		}

		if ix == nil {
			ix = batchIndex
		} else if err := ix.Merge(batchIndex); err != nil {
			return nil, stats, err
		}

		stats.Batches++
		slogctx.Info(ctx, "Embedded batch", "batch", stats.Batches, "of", total, "indexed", ix.Len())
	}

	for _, chunk := range chunks {
		stats.ByType[chunk.ContentType]++
		stats.EstimatedTokens += embedding.EstimateTokens(chunk.Text)
	}
	stats.Chunks = ix.Len()
	stats.Dimension = ix.Dimension()
	stats.EstimatedCost = stats.EstimatedTokens / 1000 * b.cfg.CostPer1K

	return ix, stats, nil
}
