package lemma

import (
	"context"
	"fmt"

	"github.com/hazyhaar/kozlony/gazette/internal/fetch"
)

// Client calls the lemmatizer gateway over HTTP:
//
//	POST {url} {"texts": ["...", "..."]} -> {"docs": [[{"lemma","pos"}, ...], ...]}
//
// Chunks are sent in batches of BatchSize; the response has one token list
// per text, in order.
type Client struct {
	fetcher   *fetch.Fetcher
	url       string
	batchSize int
}

// DefaultBatchSize is the number of chunks per gateway request.
const DefaultBatchSize = 8

// NewClient creates a Client. batchSize <= 0 selects DefaultBatchSize.
func NewClient(f *fetch.Fetcher, url string, batchSize int) *Client {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Client{fetcher: f, url: url, batchSize: batchSize}
}

type request struct {
	Texts []string `json:"texts"`
}

type response struct {
	Docs [][]Token `json:"docs"`
}

// Lemmatize sends every non-empty chunk to the gateway and returns the
// filtered tokens of all chunks in order.
func (c *Client) Lemmatize(ctx context.Context, chunks []string) ([]string, error) {
	var texts []string
	for _, ch := range chunks {
		if ch != "" {
			texts = append(texts, ch)
		}
	}

	var out []string
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		var resp response
		if err := c.fetcher.PostJSON(ctx, c.url, request{Texts: texts[start:end]}, &resp); err != nil {
			return nil, fmt.Errorf("lemmatize: %w", err)
		}
		if len(resp.Docs) != end-start {
			return nil, fmt.Errorf("lemmatize: gateway returned %d docs for %d texts", len(resp.Docs), end-start)
		}
		for _, doc := range resp.Docs {
			out = append(out, Filter(doc)...)
		}
	}
	return out, nil
}
