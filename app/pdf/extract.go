package pdf

import (
	"os"

	pdfreader "github.com/ledongthuc/pdf"
)

// An Extractor opens a downloaded PDF file for text extraction.
type Extractor interface {
	Open(path string) (Reader, error)
}

// A Reader gives access to the text of a single opened PDF file. Pages are numbered from 1.
type Reader interface {
	NumPage() int
	PageText(n int) (string, error)
	Close() error
}

// PlainTextExtractor reads PDFs with github.com/ledongthuc/pdf.
type PlainTextExtractor struct{}

func (PlainTextExtractor) Open(path string) (Reader, error) {
	file, reader, err := pdfreader.Open(path)
	if err != nil {
		return nil, err
	}
	return &plainTextReader{file: file, reader: reader}, nil
}

type plainTextReader struct {
	file   *os.File
	reader *pdfreader.Reader
}

func (r *plainTextReader) NumPage() int {
	return r.reader.NumPage()
}

func (r *plainTextReader) PageText(n int) (string, error) {
	page := r.reader.Page(n)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}

func (r *plainTextReader) Close() error {
	return r.file.Close()
}
