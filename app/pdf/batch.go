package pdf

import (
	"context"

	"github.com/fluxcapacitor2/siteindex/app/document"
	"github.com/fluxcapacitor2/siteindex/app/internal/wait"
	slogctx "github.com/veqryn/slog-context"
)

type BatchResult struct {
	Documents []document.Document

	Attempted int
	Succeeded int
	Rejected  map[Rejection]int
	Failed    int
	// URLs that were never requested, because of the count limit or the total size limit.
	Skipped int
	// Bytes of extracted text across all documents.
	TotalSize int64
	// Whether the total size limit ended the batch early.
	LimitReached bool
}

// IngestAll ingests up to MaxPDFs URLs in order. Before each download, the text collected so far is
// compared to MaxTotalSize; once it is exceeded, the batch stops and the remaining URLs are left alone.
func (in *Ingester) IngestAll(ctx context.Context, urls []string) *BatchResult {
	batch := &BatchResult{Rejected: map[Rejection]int{}}

	limit := max(in.cfg.MaxPDFs, 0)
	todo := urls
	if len(todo) > limit {
		todo = todo[:limit]
		slogctx.Info(ctx, "Too many PDFs found, processing only the first ones", "found", len(urls), "limit", limit)
	}
	batch.Skipped = len(urls) - len(todo)

	for i, pdfURL := range todo {
		if batch.TotalSize > in.cfg.MaxTotalSize {
			slogctx.Warn(ctx, "Reached total PDF size limit, stopping", "totalSize", batch.TotalSize, "limit", in.cfg.MaxTotalSize)
			batch.LimitReached = true
			batch.Skipped += len(todo) - i
			break
		}

		if i > 0 {
			if err := wait.Sleep(ctx, in.cfg.Delay); err != nil {
				batch.Skipped += len(todo) - i
				break
			}
		}

		batch.Attempted++
		res, err := in.Ingest(ctx, pdfURL)
		switch {
		case err != nil:
			batch.Failed++
			slogctx.Warn(ctx, "Error processing PDF", "url", pdfURL, "error", err)
		case !res.OK():
			batch.Rejected[res.Rejected]++
		default:
			batch.Succeeded++
			batch.Documents = append(batch.Documents, *res.Document)
			batch.TotalSize += int64(len(res.Document.Content))
		}
	}

	slogctx.Info(ctx, "PDF processing complete",
		"succeeded", batch.Succeeded,
		"rejected", batch.RejectedCount(),
		"failed", batch.Failed,
		"skipped", batch.Skipped,
		"totalSize", batch.TotalSize)

	return batch
}

func (b *BatchResult) RejectedCount() int {
	total := 0
	for _, n := range b.Rejected {
		total += n
	}
	return total
}
