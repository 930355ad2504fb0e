// Package document holds the values passed between ingestion stages.
package document

import "strings"

type ContentType string

const (
	Web ContentType = "web"
	PDF ContentType = "pdf"
)

// Document is the text of one fetched page or one downloaded PDF.
type Document struct {
	SourceURL   string
	Title       string
	Content     string
	ContentType ContentType

	// PDF-only fields
	Filename      string
	PagesTotal    int
	PagesWithText int
	CharCount     int
}

// Empty reports whether the document has no text worth chunking.
func (d Document) Empty() bool {
	return strings.TrimSpace(d.Content) == ""
}

// Chunk is a bounded slice of a document's text, the unit stored in the index.
type Chunk struct {
	// Position of the chunk within its document
	Index       int
	Text        string
	SourceURL   string
	Title       string
	ContentType ContentType
	Type        string
	Filename    string
	// Pages of the source PDF that contained text
	SourcePages int
	// Length of the source document
	Characters int
}

// Metadata returns the key/value pairs persisted next to the chunk text.
func (c Chunk) Metadata() map[string]any {
	meta := map[string]any{
		"source":       c.SourceURL,
		"type":         c.Type,
		"content_type": string(c.ContentType),
		"characters":   c.Characters,
	}
	if c.Title != "" {
		meta["title"] = c.Title
	}
	if c.ContentType == PDF {
		meta["filename"] = c.Filename
		meta["pages"] = c.SourcePages
		meta["source_pages"] = c.SourcePages
	}
	return meta
}
