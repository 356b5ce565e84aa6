// Package crawler walks the gazette portal's monthly listing, downloads the
// PDF of every issue not stored yet and hands the extracted pages on.
package crawler

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/hazyhaar/kozlony/docpipe"
	"github.com/hazyhaar/kozlony/extract"
	"github.com/hazyhaar/kozlony/gazette/internal/fetch"
)

// Candidate is one gazette issue found on the portal.
type Candidate struct {
	Hash      string
	Title     string
	SourceURL string
	PDFURL    string
	IssueDate time.Time
	Pages     []string
}

// Sink receives candidates. An error is logged and the crawl continues.
type Sink func(ctx context.Context, c Candidate) error

// Exists reports whether hash is already stored, so its PDF is not downloaded.
type Exists func(ctx context.Context, hash string) (bool, error)

// PDFExtractor turns a PDF body into page texts.
type PDFExtractor func(body []byte) ([]string, error)

// Getter fetches a URL. *fetch.Fetcher implements it.
type Getter interface {
	Get(ctx context.Context, url string) (*fetch.Result, error)
}

// Stats counts what one crawl saw.
type Stats struct {
	Months    int `json:"months"`
	Pages     int `json:"pages"`
	Rows      int `json:"rows"`
	Known     int `json:"known"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Crawler) { c.logger = l }
}

// WithPDFExtractor replaces the docpipe extractor.
func WithPDFExtractor(fn PDFExtractor) Option {
	return func(c *Crawler) { c.extractPDF = fn }
}

// WithClock sets the time source that decides the last month to crawl.
func WithClock(now func() time.Time) Option {
	return func(c *Crawler) { c.now = now }
}

// Crawler reads the portal sequentially.
type Crawler struct {
	getter     Getter
	listingURL string
	logger     *slog.Logger
	extractPDF PDFExtractor
	now        func() time.Time
	sanitizer  *bluemonday.Policy
}

// New creates a Crawler for the listing at listingURL.
func New(getter Getter, listingURL string, opts ...Option) *Crawler {
	c := &Crawler{
		getter:     getter,
		listingURL: listingURL,
		logger:     slog.Default(),
		now:        time.Now,
		sanitizer:  bluemonday.StrictPolicy(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.extractPDF == nil {
		c.extractPDF = c.docpipeExtract
	}
	return c
}

// Crawl walks every month from since through the current month. A zero since
// crawls the current month only. Listing failures end the month, row and PDF
// failures skip the row.
func (c *Crawler) Crawl(ctx context.Context, since time.Time, exists Exists, sink Sink) (*Stats, error) {
	st := &Stats{}
	for _, m := range Months(since, c.now()) {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		st.Months++
		if err := c.crawlMonth(ctx, m, exists, sink, st); err != nil {
			if ctx.Err() != nil {
				return st, ctx.Err()
			}
			c.logger.Warn("crawler: month failed", "month", m.Format("2006-01"), "error", err)
		}
	}
	c.logger.Info("crawler: done",
		"months", st.Months, "pages", st.Pages, "rows", st.Rows,
		"known", st.Known, "delivered", st.Delivered, "failed", st.Failed)
	return st, nil
}

// Months lists the first day of every month from since through now. A zero
// since yields now's month.
func Months(since, now time.Time) []time.Time {
	end := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if since.IsZero() {
		return []time.Time{end}
	}
	var out []time.Time
	for m := time.Date(since.Year(), since.Month(), 1, 0, 0, 0, 0, time.UTC); !m.After(end); m = m.AddDate(0, 1, 0) {
		out = append(out, m)
	}
	return out
}

func (c *Crawler) crawlMonth(ctx context.Context, month time.Time, exists Exists, sink Sink, st *Stats) error {
	pageCount := 1
	for page := 1; page <= pageCount; page++ {
		pageURL, err := ListingURL(c.listingURL, month.Year(), int(month.Month()), page)
		if err != nil {
			return err
		}
		res, err := c.getter.Get(ctx, pageURL)
		if err != nil {
			return fmt.Errorf("listing %s: %w", pageURL, err)
		}
		doc, err := extract.Parse(bytes.NewReader(res.Body))
		if err != nil {
			return fmt.Errorf("listing %s: %w", pageURL, err)
		}
		st.Pages++
		if page == 1 {
			pageCount = PageCount(doc)
		}

		base, _ := url.Parse(pageURL)
		for _, row := range extract.QueryAll(doc, "div.journal-row") {
			if err := ctx.Err(); err != nil {
				return err
			}
			st.Rows++
			c.handleRow(ctx, base, row, exists, sink, st)
		}
	}
	return nil
}

func (c *Crawler) handleRow(ctx context.Context, base *url.URL, row *html.Node, exists Exists, sink Sink, st *Stats) {
	cand, err := c.parseRow(base, row)
	if err != nil {
		st.Failed++
		c.logger.Warn("crawler: bad row", "error", err)
		return
	}

	known, err := exists(ctx, cand.Hash)
	if err != nil {
		st.Failed++
		c.logger.Warn("crawler: exists check failed", "hash", cand.Hash, "error", err)
		return
	}
	if known {
		st.Known++
		return
	}

	res, err := c.getter.Get(ctx, cand.PDFURL)
	if err != nil {
		st.Failed++
		c.logger.Warn("crawler: pdf download failed", "hash", cand.Hash, "url", cand.PDFURL, "error", err)
		return
	}
	pages, err := c.extractPDF(res.Body)
	if err != nil {
		st.Failed++
		c.logger.Warn("crawler: pdf extraction failed", "hash", cand.Hash, "error", err)
		return
	}
	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			cand.Pages = append(cand.Pages, p)
		}
	}
	if len(cand.Pages) == 0 {
		st.Failed++
		c.logger.Warn("crawler: pdf has no text", "hash", cand.Hash)
		return
	}

	if err := sink(ctx, cand); err != nil {
		st.Failed++
		c.logger.Warn("crawler: sink failed", "hash", cand.Hash, "error", err)
		return
	}
	st.Delivered++
}

func (c *Crawler) docpipeExtract(body []byte) ([]string, error) {
	doc, err := docpipe.ExtractPDFBytes(body)
	if err != nil {
		return nil, err
	}
	if doc.Quality != nil && doc.Quality.NeedsOCR() {
		c.logger.Warn("crawler: pdf looks scanned",
			"pages", doc.Quality.PageCount, "chars_per_page", doc.Quality.CharsPerPage)
	}
	return doc.Texts(), nil
}

// ListingURL builds the listing URL for one month and page.
func ListingURL(base string, year, month, page int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("listing url: %w", err)
	}
	q := u.Query()
	q.Set("year", strconv.Itoa(year))
	q.Set("month", strconv.Itoa(month))
	q.Set("serial", "")
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// HashFromURL returns the second-to-last path segment of a document URL.
// A trailing slash is ignored, so ".../abc/megtekintes/" and
// ".../abc/megtekintes" both give "abc".
func HashFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("document url %q: %w", raw, err)
	}
	segs := strings.Split(strings.TrimRight(u.Path, "/"), "/")
	if len(segs) < 3 || segs[len(segs)-2] == "" {
		return "", fmt.Errorf("document url %q: no hash segment", raw)
	}
	return segs[len(segs)-2], nil
}
