package store

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the storage format of issue dates.
const DateLayout = "2006-01-02"

var (
	// ErrInvalidDocument is returned when a document misses a required field.
	ErrInvalidDocument = errors.New("store: invalid document")
	// ErrInvalidQuery is returned when a full-text expression does not parse.
	ErrInvalidQuery = errors.New("store: invalid full-text query")
)

// Document is one gazette issue as stored.
type Document struct {
	Hash              string    `json:"hash"`
	ScrapedAt         int64     `json:"scraped_at"` // unix ms
	IssueDate         time.Time `json:"issue_date"`
	Title             string    `json:"title"`
	SourceURL         string    `json:"source_url"`
	PDFURL            string    `json:"pdf_url"`
	Content           string    `json:"content"`
	NormalizedContent string    `json:"normalized_content,omitempty"`
	IsNew             bool      `json:"is_new"`
}

// Validate checks the fields every stored document must carry.
func (d *Document) Validate() error {
	switch {
	case d == nil:
		return fmt.Errorf("%w: nil", ErrInvalidDocument)
	case d.Hash == "":
		return fmt.Errorf("%w: missing hash", ErrInvalidDocument)
	case d.SourceURL == "":
		return fmt.Errorf("%w: missing source url", ErrInvalidDocument)
	case d.PDFURL == "":
		return fmt.Errorf("%w: missing pdf url", ErrInvalidDocument)
	case d.Title == "":
		return fmt.Errorf("%w: missing title", ErrInvalidDocument)
	case d.IssueDate.IsZero():
		return fmt.Errorf("%w: missing issue date", ErrInvalidDocument)
	}
	return nil
}

// Stats summarises the repository.
type Stats struct {
	Total           int    `json:"total"`
	New             int    `json:"new"`
	Consumed        int    `json:"consumed"`
	Indexed         int    `json:"indexed"`
	LatestIssueDate string `json:"latest_issue_date,omitempty"`
}
