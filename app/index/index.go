// Package index builds, persists, and queries the vector index of a site.
package index

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/fluxcapacitor2/siteindex/app/document"
)

var ErrDimensionMismatch = errors.New("vector dimension mismatch")

type Entry struct {
	Vector []float32
	Chunk  document.Chunk
}

// Result is a chunk returned by a similarity search. Score is the L2 distance to the query; lower is more similar.
type Result struct {
	Chunk document.Chunk `json:"chunk"`
	Score float64        `json:"score"`
}

// VectorIndex is an in-memory, ordered list of embedded chunks. All vectors have the same dimension.
type VectorIndex struct {
	dimension int
	entries   []Entry
}

// FromEmbeddings creates an index from parallel slices of vectors and chunks.
func FromEmbeddings(vectors [][]float32, chunks []document.Chunk) (*VectorIndex, error) {
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("got %v vectors for %v chunks", len(vectors), len(chunks))
	}
	if len(vectors) == 0 {
		return nil, errors.New("cannot create an index without vectors")
	}

	ix := &VectorIndex{dimension: len(vectors[0]), entries: make([]Entry, 0, len(vectors))}
	if ix.dimension == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	for i, vector := range vectors {
		if len(vector) != ix.dimension {
			return nil, fmt.Errorf("%w: vector %v has %v dimensions, expected %v", ErrDimensionMismatch, i, len(vector), ix.dimension)
		}
		ix.entries = append(ix.entries, Entry{Vector: vector, Chunk: chunks[i]})
	}
	return ix, nil
}

// Merge appends the entries of `other` after the entries of this index.
func (ix *VectorIndex) Merge(other *VectorIndex) error {
	if other.dimension != ix.dimension {
		return fmt.Errorf("%w: cannot merge %v dimensions into %v", ErrDimensionMismatch, other.dimension, ix.dimension)
	}
	ix.entries = append(ix.entries, other.entries...)
	return nil
}

func (ix *VectorIndex) Len() int {
	return len(ix.entries)
}

func (ix *VectorIndex) Dimension() int {
	return ix.dimension
}

func (ix *VectorIndex) Entries() []Entry {
	return ix.entries
}

// Search returns the `k` entries nearest to `query` by L2 distance, closest first.
func (ix *VectorIndex) Search(query []float32, k int) ([]Result, error) {
	if len(query) != ix.dimension {
		return nil, fmt.Errorf("%w: query has %v dimensions, expected %v", ErrDimensionMismatch, len(query), ix.dimension)
	}

	results := make([]Result, 0, len(ix.entries))
	for _, entry := range ix.entries {
		results = append(results, Result{Chunk: entry.Chunk, Score: distance(query, entry.Vector)})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score < results[j].Score
	})

	if k < len(results) {
		results = results[:max(k, 0)]
	}
	return results, nil
}

func distance(a, b []float32) float64 {
	sum := 0.0
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
