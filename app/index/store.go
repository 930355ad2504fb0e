package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fluxcapacitor2/siteindex/app/database"
	"github.com/fluxcapacitor2/siteindex/app/document"
	"github.com/google/uuid"
)

// Rows written per transaction
const saveBatchSize = 500

// Save writes the index to the directory at `path`, replacing any index that is already there.
// The new index is written to a temporary directory next to `path` and renamed into place only
// once it is complete, so a failed save leaves the previous index untouched.
func Save(ctx context.Context, ix *VectorIndex, path string, meta map[string]string) error {
	path = filepath.Clean(path)
	parent := filepath.Dir(path)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}

	tmp := filepath.Join(parent, fmt.Sprintf(".%v-%v", filepath.Base(path), uuid.NewString()))
	if err := write(ctx, ix, tmp, meta); err != nil {
		os.RemoveAll(tmp)
		return fmt.Errorf("error writing index: %w", err)
	}

	if err := swap(tmp, path); err != nil {
		os.RemoveAll(tmp)
		return fmt.Errorf("error replacing index: %w", err)
	}
	return nil
}

func write(ctx context.Context, ix *VectorIndex, dir string, meta map[string]string) error {
	store, err := database.Create(dir, ix.Dimension())
	if err != nil {
		return err
	}

	entries := make([]database.Entry, 0, saveBatchSize)
	flush := func() error {
		err := store.AddEmbeddings(ctx, entries)
		entries = entries[:0]
		return err
	}

	for i, entry := range ix.Entries() {
		entries = append(entries, database.Entry{ID: int64(i + 1), Vector: entry.Vector, Chunk: entry.Chunk})
		if len(entries) == saveBatchSize {
			if err := flush(); err != nil {
				store.Close()
				return err
			}
		}
	}
	if err := flush(); err != nil {
		store.Close()
		return err
	}

	values := map[string]string{}
	for key, value := range meta {
		values[key] = value
	}
	values[database.MetaChunks] = strconv.Itoa(ix.Len())

	if err := store.SetMeta(ctx, values); err != nil {
		store.Close()
		return err
	}
	return store.Close()
}

// swap moves `tmp` to `path`. An existing directory at `path` is moved aside first and deleted afterwards.
func swap(tmp string, path string) error {
	old := ""
	if _, err := os.Stat(path); err == nil {
		old = filepath.Join(filepath.Dir(path), fmt.Sprintf(".%v-old-%v", filepath.Base(path), uuid.NewString()))
		if err := os.Rename(path, old); err != nil {
			return err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		if old != "" {
			// Put the previous index back
			os.Rename(old, path)
		}
		return err
	}

	if old != "" {
		return os.RemoveAll(old)
	}
	return nil
}

// Load reads a saved index back into memory.
func Load(ctx context.Context, path string) (*VectorIndex, map[string]string, error) {
	store, err := database.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer store.Close()

	entries, err := store.Entries(ctx)
	if err != nil {
		return nil, nil, err
	}
	meta, err := store.Meta(ctx)
	if err != nil {
		return nil, nil, err
	}

	vectors := make([][]float32, len(entries))
	chunks := make([]document.Chunk, len(entries))
	for i, entry := range entries {
		vectors[i] = entry.Vector
		chunks[i] = entry.Chunk
	}

	ix, err := FromEmbeddings(vectors, chunks)
	if err != nil {
		return nil, nil, err
	}
	return ix, meta, nil
}
