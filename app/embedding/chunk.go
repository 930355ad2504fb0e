package embedding

import (
	"strings"

	"github.com/fluxcapacitor2/siteindex/app/config"
	"github.com/fluxcapacitor2/siteindex/app/document"
)

type ChunkStats struct {
	Documents int
	// Documents that were empty or longer than the character limit
	SkippedDocuments int
	Chunks           int
	// Chunks over the token limit
	DroppedChunks int
	ByType        map[document.ContentType]int
	// Sum of EstimateTokens over all chunks
	EstimatedTokens float64
}

// Chunker splits documents into chunks using a separate size and overlap for web pages and PDFs.
type Chunker struct {
	cfg config.Chunking
}

func NewChunker(cfg config.Chunking) *Chunker {
	return &Chunker{cfg: cfg}
}

func (c *Chunker) Chunk(docs []document.Document) ([]document.Chunk, ChunkStats) {
	chunks := []document.Chunk{}
	stats := ChunkStats{ByType: map[document.ContentType]int{}}

	for _, doc := range docs {
		stats.Documents++

		if doc.Empty() || len([]rune(doc.Content)) > c.cfg.MaxDocumentChars {
			stats.SkippedDocuments++
			continue
		}

		split := c.cfg.Web
		if doc.ContentType == document.PDF {
			split = c.cfg.PDF
		}

		index := 0
		for _, text := range SplitText(doc.Content, split.Size, split.Overlap) {
			if strings.TrimSpace(text) == "" {
				continue
			}
			if !c.withinTokenLimit(text) {
				stats.DroppedChunks++
				continue
			}

			chunks = append(chunks, document.Chunk{
				Index:       index,
				Text:        text,
				SourceURL:   doc.SourceURL,
				Title:       doc.Title,
				ContentType: doc.ContentType,
				Type:        string(doc.ContentType),
				Filename:    doc.Filename,
				SourcePages: doc.PagesWithText,
				Characters:  doc.CharCount,
			})
			index++
			stats.Chunks++
			stats.ByType[doc.ContentType]++
			stats.EstimatedTokens += EstimateTokens(text)
		}
	}

	return chunks, stats
}

func (c *Chunker) withinTokenLimit(text string) bool {
	limit := float64(c.cfg.MaxTokens)
	if EstimateTokens(text) >= limit {
		return false
	}
	if c.cfg.Tokenizer == "cl100k_base" && CountTokens(text) >= c.cfg.MaxTokens {
		return false
	}
	return true
}

// SplitText cuts `text` into pieces of at most `size` characters. Each cut is made after the last newline
// in the window if there is one, otherwise exactly at `size`. Every piece after the first starts with the
// last `overlap` characters of the piece before it, so dropping those characters and joining the pieces
// gives back the original text.
func SplitText(text string, size int, overlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	pieces := []string{}
	start := 0
	for {
		end := start + size
		if end >= len(runes) {
			pieces = append(pieces, string(runes[start:]))
			return pieces
		}

		// The cut must leave more than `overlap` characters in the piece, or the next piece wouldn't advance.
		if cut := lastNewline(runes[start:end]); cut+1 > overlap {
			end = start + cut + 1
		}

		pieces = append(pieces, string(runes[start:end]))
		start = end - overlap
	}
}

func lastNewline(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == '\n' {
			return i
		}
	}
	return -1
}
