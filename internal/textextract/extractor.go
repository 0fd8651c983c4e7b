// Package textextract turns uploaded documents into plain text.
package textextract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/gen2brain/go-fitz"
)

// ErrUnreadable is returned when a document cannot be parsed.
var ErrUnreadable = errors.New("document unreadable")

var pdfMagic = []byte("%PDF-")

// Extractor converts a binary document into text.
type Extractor interface {
	ExtractText(ctx context.Context, document []byte) (string, error)
}

// PDF extracts text from PDF documents with MuPDF.
type PDF struct{}

// NewPDF returns the MuPDF-backed extractor.
func NewPDF() *PDF {
	return &PDF{}
}

// ExtractText concatenates the text of every page in document order. Tokens
// within a page are joined by single spaces and every page ends with a newline.
func (p *PDF) ExtractText(ctx context.Context, document []byte) (string, error) {
	if len(document) == 0 {
		return "", fmt.Errorf("ExtractText: empty document: %w", ErrUnreadable)
	}
	if !bytes.HasPrefix(bytes.TrimLeft(document, "\x00\t\r\n "), pdfMagic) {
		return "", fmt.Errorf("ExtractText: not a PDF: %w", ErrUnreadable)
	}

	doc, err := fitz.NewFromMemory(document)
	if err != nil {
		return "", fmt.Errorf("ExtractText: open: %v: %w", err, ErrUnreadable)
	}
	defer doc.Close()

	var b strings.Builder
	for i := 0; i < doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		pageText, err := doc.Text(i)
		if err != nil {
			return "", fmt.Errorf("ExtractText: page %d: %v: %w", i+1, err, ErrUnreadable)
		}
		b.WriteString(JoinPageTokens(pageText))
		b.WriteString("\n")
	}

	return b.String(), nil
}

// JoinPageTokens collapses a page's text into whitespace-separated tokens
// joined by single spaces.
func JoinPageTokens(pageText string) string {
	return strings.Join(strings.Fields(pageText), " ")
}

// PlainText passes UTF-8 text documents through unchanged.
type PlainText struct{}

// ExtractText returns the document as a string, rejecting binary content.
func (PlainText) ExtractText(_ context.Context, document []byte) (string, error) {
	if len(document) == 0 || !utf8.Valid(document) {
		return "", fmt.Errorf("ExtractText: not UTF-8 text: %w", ErrUnreadable)
	}
	return string(document), nil
}

// Declared media types with an extractor.
const (
	MediaTypePDF  = "application/pdf"
	MediaTypeText = "text/plain"
)

// ByContentType picks an extractor from a document's declared media type.
// The bytes are never sniffed: a document declared as PDF is only ever
// parsed as PDF.
type ByContentType struct {
	PDF Extractor
	// Plain serves text/plain. Nil rejects text documents.
	Plain Extractor
}

// NewByContentType returns a router serving PDFs with pdf and text with
// plain, which may be nil.
func NewByContentType(pdf, plain Extractor) *ByContentType {
	return &ByContentType{PDF: pdf, Plain: plain}
}

// For returns the extractor for contentType. Media type parameters are
// ignored. An empty type and application/octet-stream are treated as PDF.
func (b *ByContentType) For(contentType string) (Extractor, error) {
	mediaType := MediaTypePDF
	if strings.TrimSpace(contentType) != "" {
		mt, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			return nil, fmt.Errorf("For: content type %q: %w", contentType, ErrUnreadable)
		}
		mediaType = mt
	}

	switch mediaType {
	case MediaTypePDF, "application/octet-stream":
		return b.PDF, nil
	case MediaTypeText:
		if b.Plain != nil {
			return b.Plain, nil
		}
	}
	return nil, fmt.Errorf("For: unsupported format %q: %w", mediaType, ErrUnreadable)
}
