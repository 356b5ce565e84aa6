// Package mirror copies newly stored gazette documents into Elasticsearch
// for dashboards. The SQLite store stays authoritative; mirror failures are
// reported to the caller, which logs them and moves on.
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/hazyhaar/kozlony/gazette/internal/store"
)

// Mirror receives every document the store accepted.
type Mirror interface {
	Index(ctx context.Context, doc *store.Document) error
}

// Nop is the mirror used when none is configured.
type Nop struct{}

// Index does nothing.
func (Nop) Index(context.Context, *store.Document) error { return nil }

// Record is the Elasticsearch representation of a document.
type Record struct {
	Hash      string    `json:"hash"`
	Title     string    `json:"title"`
	IssueDate string    `json:"issue_date"`
	SourceURL string    `json:"source_url"`
	PDFURL    string    `json:"pdf_url"`
	Content   string    `json:"content"`
	Lemmas    string    `json:"lemmas,omitempty"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// NewRecord converts a stored document.
func NewRecord(doc *store.Document) Record {
	return Record{
		Hash:      doc.Hash,
		Title:     doc.Title,
		IssueDate: doc.IssueDate.Format(store.DateLayout),
		SourceURL: doc.SourceURL,
		PDFURL:    doc.PDFURL,
		Content:   doc.Content,
		Lemmas:    doc.NormalizedContent,
		ScrapedAt: time.UnixMilli(doc.ScrapedAt).UTC(),
	}
}

// indexMapping keeps issue_date a date and the hash a keyword so dashboards
// can filter on both.
const indexMapping = `{
  "mappings": {
    "properties": {
      "hash":       {"type": "keyword"},
      "title":      {"type": "text"},
      "issue_date": {"type": "date", "format": "yyyy-MM-dd"},
      "source_url": {"type": "keyword"},
      "pdf_url":    {"type": "keyword"},
      "content":    {"type": "text"},
      "lemmas":     {"type": "text"},
      "scraped_at": {"type": "date"}
    }
  }
}`

// Elasticsearch indexes documents by hash, so re-indexing a document
// overwrites rather than duplicates it.
type Elasticsearch struct {
	es    *elasticsearch.Client
	index string
	log   *slog.Logger
}

// NewElasticsearch creates a client for the cluster at addr.
func NewElasticsearch(addr, index string, logger *slog.Logger) (*Elasticsearch, error) {
	if addr == "" || index == "" {
		return nil, fmt.Errorf("mirror: address and index are required")
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Elasticsearch{es: es, index: index, log: logger}, nil
}

// Ping checks that the cluster answers.
func (m *Elasticsearch) Ping(ctx context.Context) error {
	res, err := m.es.Ping(m.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}
	return nil
}

// EnsureIndex creates the index with its mapping when it does not exist.
func (m *Elasticsearch) EnsureIndex(ctx context.Context) error {
	res, err := esapi.IndicesExistsRequest{Index: []string{m.index}}.Do(ctx, m.es)
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	res, err = esapi.IndicesCreateRequest{
		Index: m.index,
		Body:  strings.NewReader(indexMapping),
	}.Do(ctx, m.es)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("create index failed: %s", strings.TrimSpace(string(body)))
	}
	m.log.Info("mirror: index created", "index", m.index)
	return nil
}

// Index writes doc under its hash.
func (m *Elasticsearch) Index(ctx context.Context, doc *store.Document) error {
	payload, err := json.Marshal(NewRecord(doc))
	if err != nil {
		return fmt.Errorf("marshal doc: %w", err)
	}

	res, err := esapi.IndexRequest{
		Index:      m.index,
		DocumentID: doc.Hash,
		Body:       bytes.NewReader(payload),
		Refresh:    "false",
	}.Do(ctx, m.es)
	if err != nil {
		return fmt.Errorf("index doc: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("index doc failed: %s", strings.TrimSpace(string(body)))
	}
	m.log.Debug("mirror: indexed", "hash", doc.Hash)
	return nil
}

// SearchResult bundles hits and total count.
type SearchResult struct {
	Total int64
	Items []Record
}

// Search runs a multi_match over title and content, newest issue first.
func (m *Elasticsearch) Search(ctx context.Context, query string, size int) (*SearchResult, error) {
	if size <= 0 {
		size = 20
	}
	if size > 200 {
		size = 200
	}

	q := map[string]any{"match_all": map[string]any{}}
	if query != "" {
		q = map[string]any{
			"multi_match": map[string]any{
				"query":  query,
				"fields": []string{"title^2", "content", "lemmas"},
			},
		}
	}
	body := map[string]any{
		"size":             size,
		"track_total_hits": true,
		"query":            q,
		"sort":             []map[string]any{{"issue_date": map[string]any{"order": "desc"}}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := m.es.Search(
		m.es.Search.WithContext(ctx),
		m.es.Search.WithIndex(m.index),
		m.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source Record `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	items := make([]Record, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		items = append(items, hit.Source)
	}
	return &SearchResult{Total: parsed.Hits.Total.Value, Items: items}, nil
}
