package database

import "github.com/fluxcapacitor2/siteindex/app/document"

// The two files that make up a persisted index. They are always opened together.
const (
	VectorsFile  = "vectors.db"
	DocstoreFile = "docstore.db"
)

// Keys in the docstore's meta table
const (
	MetaDimension = "dimension"
	MetaBuiltAt   = "built_at"
	MetaSeed      = "seed"
	MetaModel     = "model"
	MetaChunks    = "chunks"
)

// Entry is one stored vector and the chunk it was computed from.
type Entry struct {
	// Position of the entry in the index, starting at 1
	ID     int64
	Vector []float32
	Chunk  document.Chunk
}

// Match is a search result. Distance is the L2 distance between the query and the stored vector; lower is closer.
type Match struct {
	ID       int64
	Distance float64
	Chunk    document.Chunk
}

type chunkRow struct {
	ID          int64  `db:"id"`
	Source      string `db:"source"`
	Title       string `db:"title"`
	ContentType string `db:"content_type"`
	Type        string `db:"type"`
	Filename    string `db:"filename"`
	ChunkIndex  int    `db:"chunk_index"`
	SourcePages int    `db:"source_pages"`
	Characters  int    `db:"characters"`
	Text        string `db:"text"`
	Metadata    string `db:"metadata"`
}

func (r chunkRow) chunk() document.Chunk {
	return document.Chunk{
		Index:       r.ChunkIndex,
		Text:        r.Text,
		SourceURL:   r.Source,
		Title:       r.Title,
		ContentType: document.ContentType(r.ContentType),
		Type:        r.Type,
		Filename:    r.Filename,
		SourcePages: r.SourcePages,
		Characters:  r.Characters,
	}
}
