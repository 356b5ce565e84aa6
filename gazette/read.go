package gazette

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hazyhaar/kozlony/gazette/internal/lemma"
	"github.com/hazyhaar/kozlony/gazette/internal/matcher"
	"github.com/hazyhaar/kozlony/gazette/internal/render"
	"github.com/hazyhaar/kozlony/gazette/internal/store"
	"github.com/hazyhaar/kozlony/observability"
)

// Summary is a document without its text, for listings.
type Summary struct {
	Hash      string `json:"hash"`
	IssueDate string `json:"issue_date"`
	Title     string `json:"title"`
	SourceURL string `json:"source_url"`
	PDFURL    string `json:"pdf_url"`
	IsNew     bool   `json:"is_new"`
	Chars     int    `json:"chars"`
}

func summarize(docs []*store.Document) []Summary {
	out := make([]Summary, 0, len(docs))
	for _, d := range docs {
		out = append(out, Summary{
			Hash:      d.Hash,
			IssueDate: d.IssueDate.Format(store.DateLayout),
			Title:     d.Title,
			SourceURL: d.SourceURL,
			PDFURL:    d.PDFURL,
			IsNew:     d.IsNew,
			Chars:     len([]rune(d.Content)),
		})
	}
	return out
}

// Matches is the keyword-in-context result for one document.
type Matches struct {
	Hash         string           `json:"hash"`
	Keyword      string           `json:"keyword"`
	LemmaKeyword string           `json:"lemma_keyword,omitempty"`
	Windows      []matcher.Window `json:"windows"`
}

// Search runs a full-text query over every stored document, newest first.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]Summary, error) {
	docs, err := s.store.SearchAll(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return summarize(docs), nil
}

// ListNew lists the documents not yet consumed, in insertion order.
func (s *Service) ListNew(ctx context.Context) ([]Summary, error) {
	docs, err := s.store.AllNew(ctx)
	if err != nil {
		return nil, err
	}
	return summarize(docs), nil
}

// NewDocuments returns the unconsumed documents with their text.
func (s *Service) NewDocuments(ctx context.Context) ([]*Document, error) {
	return s.store.AllNew(ctx)
}

// Get returns a stored document or ErrNotFound.
func (s *Service) Get(ctx context.Context, hash string) (*Document, error) {
	d, err := s.store.Get(ctx, strings.TrimSpace(hash))
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	return d, nil
}

// FindMatches runs the two-tier matcher for keyword over one document.
func (s *Service) FindMatches(ctx context.Context, hash, keyword string) (*Matches, error) {
	kw := matcher.CleanKeyword(keyword)
	if kw == "" {
		return nil, fmt.Errorf("%w: keyword is required", ErrInvalidArgument)
	}
	d, err := s.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	lk, err := lemma.Keyword(ctx, s.lemmas, kw)
	if err != nil {
		s.logger.Warn("gazette: keyword lemmatization failed", "keyword", kw, "error", err)
		lk = ""
	}
	windows := s.matcher.FindTiered(d.Content, d.NormalizedContent, kw, lk)
	if windows == nil {
		windows = []matcher.Window{}
	}
	return &Matches{Hash: d.Hash, Keyword: kw, LemmaKeyword: lk, Windows: windows}, nil
}

// Stats is the store state plus the counters of the most recent run.
type Stats struct {
	store.Stats
	LastRun *RunMetrics `json:"last_run,omitempty"`
}

// RunMetrics are the metrics one run recorded, by name.
type RunMetrics struct {
	RunID  string             `json:"run_id"`
	At     time.Time          `json:"at"`
	Values map[string]float64 `json:"values"`
}

// Stats summarises the store and reads back the metrics of the latest
// completed run. LastRun is nil before the first run.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := &Stats{Stats: *st}

	latest, err := s.metrics.Query(ctx, observability.MetricRunDurationMs, "", 1)
	if err != nil {
		return nil, err
	}
	if len(latest) == 0 {
		return out, nil
	}
	ms, err := s.metrics.Query(ctx, "", latest[0].RunID, 0)
	if err != nil {
		return nil, err
	}
	run := &RunMetrics{RunID: latest[0].RunID, At: latest[0].Timestamp, Values: make(map[string]float64, len(ms))}
	for _, m := range ms {
		run.Values[m.Name] = m.Value
	}
	out.LastRun = run
	return out, nil
}

// WriteNewTable prints the unconsumed documents as a terminal table of the
// given width.
func (s *Service) WriteNewTable(ctx context.Context, w io.Writer, width int) error {
	docs, err := s.store.AllNew(ctx)
	if err != nil {
		return err
	}
	return render.Table(w, docs, width)
}
