// Package docpipe extracts text from gazette PDFs, page by page.
//
// Parsing is pure Go (pdfcpu); text is read from Tj, TJ and ' operators in
// each page's content stream. There is no layout analysis: a page is one
// whitespace-normalized string.
//
// Usage:
//
//	doc, err := docpipe.ExtractPDF(bytes.NewReader(body))
//	for _, p := range doc.Pages { fmt.Println(p.Number, p.Text) }
package docpipe

import (
	"bytes"
	"errors"
	"strings"
)

// ErrNoText is returned when no page of the PDF yields any text.
var ErrNoText = errors.New("docpipe: no text content found in PDF")

// Page is the text of one PDF page. Number is 1-based.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Document is the result of extracting a PDF. Pages without text are omitted.
type Document struct {
	Pages   []Page             `json:"pages"`
	Quality *ExtractionQuality `json:"quality,omitempty"`
}

// Texts returns the page texts in order.
func (d *Document) Texts() []string {
	out := make([]string, len(d.Pages))
	for i, p := range d.Pages {
		out[i] = p.Text
	}
	return out
}

// Text returns all pages joined with newlines.
func (d *Document) Text() string {
	return strings.Join(d.Texts(), "\n")
}

// ExtractPDFBytes is ExtractPDF over an in-memory body.
func ExtractPDFBytes(body []byte) (*Document, error) {
	return ExtractPDF(bytes.NewReader(body))
}
