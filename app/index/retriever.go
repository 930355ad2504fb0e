package index

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fluxcapacitor2/siteindex/app/database"
	"github.com/fluxcapacitor2/siteindex/app/embedding"
)

var ErrClosed = errors.New("retriever is closed")

// Retriever answers similarity queries against a saved index. It is safe for concurrent use.
// Reload switches to the index currently on disk without interrupting queries in progress.
type Retriever struct {
	mu       sync.RWMutex
	path     string
	store    *database.Store
	embedder embedding.Embedder
}

func OpenRetriever(path string, embedder embedding.Embedder) (*Retriever, error) {
	store, err := database.Open(path)
	if err != nil {
		return nil, err
	}
	return &Retriever{path: path, store: store, embedder: embedder}, nil
}

// SimilaritySearch embeds `query` and returns the `k` nearest chunks, most similar first.
func (r *Retriever) SimilaritySearch(ctx context.Context, query string, k int) ([]Result, error) {
	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error embedding query: %w", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.store == nil {
		return nil, ErrClosed
	}
	if len(vector) != r.store.Dimension() {
		return nil, fmt.Errorf("%w: query has %v dimensions, index has %v", ErrDimensionMismatch, len(vector), r.store.Dimension())
	}

	matches, err := r.store.Search(ctx, vector, k)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(matches))
	for i, match := range matches {
		results[i] = Result{Chunk: match.Chunk, Score: match.Distance}
	}
	return results, nil
}

// Meta returns the build metadata of the loaded index.
func (r *Retriever) Meta(ctx context.Context) (map[string]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.store == nil {
		return nil, ErrClosed
	}
	return r.store.Meta(ctx)
}

// Reload opens the index at the retriever's path again, picking up a rebuilt index.
func (r *Retriever) Reload() error {
	store, err := database.Open(r.path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	old := r.store
	r.store = store
	r.mu.Unlock()

	if old != nil {
		return old.Close()
	}
	return nil
}

func (r *Retriever) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store == nil {
		return nil
	}
	err := r.store.Close()
	r.store = nil
	return err
}
