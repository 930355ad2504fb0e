package index

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fluxcapacitor2/siteindex/app/database"
	"github.com/fluxcapacitor2/siteindex/app/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildIndex(t *testing.T, embedder *fakeEmbedder, texts ...string) *VectorIndex {
	t.Helper()
	input := make([]document.Chunk, len(texts))
	for i, text := range texts {
		input[i] = chunk(text)
		input[i].Index = i
	}
	ix, _, err := NewBuilder(embedder, testEmbeddings()).Build(context.Background(), input)
	require.NoError(t, err)
	return ix
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index")
	ix := buildIndex(t, &fakeEmbedder{dimension: 8}, "opening hours", "parking", "contact")
	pdfChunk := chunk("brochure")
	pdfChunk.ContentType = document.PDF
	pdfChunk.Type = "pdf"
	pdfChunk.Filename = "brochure.pdf"
	pdfChunk.SourcePages = 4
	extra, err := FromEmbeddings([][]float32{make([]float32, 8)}, []document.Chunk{pdfChunk})
	require.NoError(t, err)
	require.NoError(t, ix.Merge(extra))

	require.NoError(t, Save(ctx, ix, path, map[string]string{database.MetaSeed: "https://example.com/"}))

	loaded, meta, err := Load(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, ix.Dimension(), loaded.Dimension())
	require.Equal(t, ix.Len(), loaded.Len())
	for i, entry := range loaded.Entries() {
		assert.Equal(t, ix.Entries()[i].Chunk, entry.Chunk)
		assert.InDeltaSlice(t, ix.Entries()[i].Vector, entry.Vector, 1e-6)
	}
	assert.Equal(t, "https://example.com/", meta[database.MetaSeed])
	assert.Equal(t, "4", meta[database.MetaChunks])
	assert.Equal(t, "8", meta[database.MetaDimension])

	assertNoLeftovers(t, filepath.Dir(path))
}

func TestSaveReplacesExistingIndex(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index")
	embedder := &fakeEmbedder{dimension: 8}

	require.NoError(t, Save(ctx, buildIndex(t, embedder, "old", "content"), path, nil))
	require.NoError(t, Save(ctx, buildIndex(t, embedder, "new"), path, nil))

	loaded, _, err := Load(ctx, path)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Len())
	assert.Equal(t, "new", loaded.Entries()[0].Chunk.Text)

	assertNoLeftovers(t, filepath.Dir(path))
}

func TestFailedSaveKeepsPreviousIndex(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index")
	embedder := &fakeEmbedder{dimension: 8}

	require.NoError(t, Save(ctx, buildIndex(t, embedder, "kept"), path, nil))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, Save(cancelled, buildIndex(t, embedder, "lost"), path, nil))

	loaded, _, err := Load(ctx, path)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Len())
	assert.Equal(t, "kept", loaded.Entries()[0].Chunk.Text)

	assertNoLeftovers(t, filepath.Dir(path))
}

func TestLoadMissingIndex(t *testing.T) {
	_, _, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

// assertNoLeftovers checks that only the index directory itself remains next to it.
func assertNoLeftovers(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasPrefix(entry.Name(), "."), "temporary directory %v was not removed", entry.Name())
	}
}
