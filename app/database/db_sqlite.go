package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "embed"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	// Every SQLite connection opened after this has the vec0 module available.
	sqlite_vec.Auto()
}

//go:embed docstore_setup.sql
var docstoreSetup string

// Store is a persisted vector index: vectors in a sqlite-vec table, chunk text and metadata in a separate SQLite database.
type Store struct {
	vectors   *sql.DB
	docs      *sqlx.DB
	dimension int
}

// Create sets up an empty store in `dir` for vectors of the given dimension. The directory is created if needed.
func Create(dir string, dimension int) (*Store, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid vector dimension %v", dimension)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	store, err := open(dir)
	if err != nil {
		return nil, err
	}

	if _, err := store.docs.Exec(docstoreSetup); err != nil {
		store.Close()
		return nil, fmt.Errorf("error setting up docstore: %w", err)
	}
	if _, err := store.vectors.Exec(fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS vectors USING vec0(embedding float[%d])", dimension)); err != nil {
		store.Close()
		return nil, fmt.Errorf("error setting up vector table: %w", err)
	}
	if _, err := store.docs.Exec("REPLACE INTO meta (key, value) VALUES (?, ?)", MetaDimension, strconv.Itoa(dimension)); err != nil {
		store.Close()
		return nil, err
	}

	store.dimension = dimension
	return store, nil
}

// Open opens an existing store created by Create.
func Open(dir string) (*Store, error) {
	for _, name := range []string{VectorsFile, DocstoreFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return nil, fmt.Errorf("index at %v is incomplete: %w", dir, err)
		}
	}

	store, err := open(dir)
	if err != nil {
		return nil, err
	}

	var value string
	if err := store.docs.Get(&value, "SELECT value FROM meta WHERE key = ?", MetaDimension); err != nil {
		store.Close()
		return nil, fmt.Errorf("error reading index dimension: %w", err)
	}
	store.dimension, err = strconv.Atoi(value)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("invalid index dimension %q: %w", value, err)
	}

	return store, nil
}

func open(dir string) (*Store, error) {
	vectors, err := sql.Open("sqlite3", filepath.Join(dir, VectorsFile))
	if err != nil {
		return nil, err
	}
	docs, err := sqlx.Open("sqlite3", filepath.Join(dir, DocstoreFile))
	if err != nil {
		vectors.Close()
		return nil, err
	}
	return &Store{vectors: vectors, docs: docs}, nil
}

func (s *Store) Dimension() int {
	return s.dimension
}

// AddEmbeddings stores the entries. Each entry's ID becomes the row ID in both databases.
func (s *Store) AddEmbeddings(ctx context.Context, entries []Entry) error {
	vectorTx, err := s.vectors.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer vectorTx.Rollback()

	docTx, err := s.docs.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer docTx.Rollback()

	for _, entry := range entries {
		if len(entry.Vector) != s.dimension {
			return fmt.Errorf("entry %v has %v dimensions, expected %v", entry.ID, len(entry.Vector), s.dimension)
		}

		blob, err := sqlite_vec.SerializeFloat32(entry.Vector)
		if err != nil {
			return err
		}
		if _, err := vectorTx.ExecContext(ctx, "INSERT INTO vectors (rowid, embedding) VALUES (?, ?)", entry.ID, blob); err != nil {
			return fmt.Errorf("error inserting vector: %w", err)
		}

		metadata, err := json.Marshal(entry.Chunk.Metadata())
		if err != nil {
			return err
		}
		chunk := entry.Chunk
		if _, err := docTx.NamedExecContext(ctx, `
			INSERT INTO chunks (id, source, title, content_type, type, filename, chunk_index, source_pages, characters, text, metadata)
			VALUES (:id, :source, :title, :content_type, :type, :filename, :chunk_index, :source_pages, :characters, :text, :metadata)`,
			chunkRow{
				ID:          entry.ID,
				Source:      chunk.SourceURL,
				Title:       chunk.Title,
				ContentType: string(chunk.ContentType),
				Type:        chunk.Type,
				Filename:    chunk.Filename,
				ChunkIndex:  chunk.Index,
				SourcePages: chunk.SourcePages,
				Characters:  chunk.Characters,
				Text:        chunk.Text,
				Metadata:    string(metadata),
			}); err != nil {
			return fmt.Errorf("error inserting chunk: %w", err)
		}
	}

	if err := vectorTx.Commit(); err != nil {
		return err
	}
	return docTx.Commit()
}

// Search returns the `k` stored chunks nearest to `query`, closest first.
func (s *Store) Search(ctx context.Context, query []float32, k int) ([]Match, error) {
	if len(query) != s.dimension {
		return nil, fmt.Errorf("query has %v dimensions, expected %v", len(query), s.dimension)
	}
	if k <= 0 {
		return []Match{}, nil
	}

	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, err
	}

	rows, err := s.vectors.QueryContext(ctx, "SELECT rowid, distance FROM vectors WHERE embedding MATCH ? AND k = ? ORDER BY distance", blob, k)
	if err != nil {
		return nil, fmt.Errorf("error searching vectors: %w", err)
	}
	defer rows.Close()

	matches := []Match{}
	ids := []int64{}
	for rows.Next() {
		var match Match
		if err := rows.Scan(&match.ID, &match.Distance); err != nil {
			return nil, err
		}
		matches = append(matches, match)
		ids = append(ids, match.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return matches, nil
	}

	stmt, args, err := sqlx.In("SELECT * FROM chunks WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	chunks := []chunkRow{}
	if err := s.docs.SelectContext(ctx, &chunks, s.docs.Rebind(stmt), args...); err != nil {
		return nil, fmt.Errorf("error loading chunks: %w", err)
	}

	byID := make(map[int64]chunkRow, len(chunks))
	for _, row := range chunks {
		byID[row.ID] = row
	}
	for i := range matches {
		row, ok := byID[matches[i].ID]
		if !ok {
			return nil, fmt.Errorf("vector %v has no chunk in the docstore", matches[i].ID)
		}
		matches[i].Chunk = row.chunk()
	}

	return matches, nil
}

// Entries returns every stored entry in ID order.
func (s *Store) Entries(ctx context.Context) ([]Entry, error) {
	chunks := []chunkRow{}
	if err := s.docs.SelectContext(ctx, &chunks, "SELECT * FROM chunks ORDER BY id"); err != nil {
		return nil, err
	}

	rows, err := s.vectors.QueryContext(ctx, "SELECT rowid, vec_to_json(embedding) FROM vectors ORDER BY rowid")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vectors := map[int64][]float32{}
	for rows.Next() {
		var id int64
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var vector []float32
		if err := json.Unmarshal([]byte(raw), &vector); err != nil {
			return nil, err
		}
		vectors[id] = vector
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(chunks))
	for _, row := range chunks {
		vector, ok := vectors[row.ID]
		if !ok {
			return nil, fmt.Errorf("chunk %v has no vector", row.ID)
		}
		entries = append(entries, Entry{ID: row.ID, Vector: vector, Chunk: row.chunk()})
	}
	return entries, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.docs.GetContext(ctx, &count, "SELECT COUNT(*) FROM chunks")
	return count, err
}

func (s *Store) SetMeta(ctx context.Context, values map[string]string) error {
	tx, err := s.docs.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for key, value := range values {
		if _, err := tx.ExecContext(ctx, "REPLACE INTO meta (key, value) VALUES (?, ?)", key, value); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Meta(ctx context.Context) (map[string]string, error) {
	rows := []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}{}
	if err := s.docs.SelectContext(ctx, &rows, "SELECT key, value FROM meta"); err != nil {
		return nil, err
	}

	meta := make(map[string]string, len(rows))
	for _, row := range rows {
		meta[row.Key] = row.Value
	}
	return meta, nil
}

func (s *Store) Close() error {
	return errors.Join(s.vectors.Close(), s.docs.Close())
}
