package crawler

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/kozlony/extract"
)

// PageCount reads the number of listing pages from the pagination list: the
// second-to-last item links to the last page. Missing pagination means one page.
func PageCount(doc *html.Node) int {
	items := extract.QueryAll(doc, "ul.pagination li")
	if len(items) < 2 {
		return 1
	}
	a := extract.Query(items[len(items)-2], "a")
	if a == nil {
		return 1
	}
	u, err := url.Parse(extract.Attr(a, "href"))
	if err != nil {
		return 1
	}
	n, err := strconv.Atoi(u.Query().Get("page"))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func (c *Crawler) parseRow(base *url.URL, row *html.Node) (Candidate, error) {
	var cand Candidate

	docURL := extract.Attr(extract.Query(row, "meta[itemprop=url]"), "content")
	if docURL == "" {
		return cand, fmt.Errorf("row without document url")
	}
	cand.SourceURL = resolve(base, docURL)

	hash, err := HashFromURL(cand.SourceURL)
	if err != nil {
		return cand, err
	}
	cand.Hash = hash

	published := extract.Attr(extract.Query(row, "meta[itemprop=datePublished]"), "content")
	if len(published) >= 10 {
		published = published[:10]
	}
	cand.IssueDate, err = time.Parse("2006-01-02", published)
	if err != nil {
		return cand, fmt.Errorf("%s: issue date %q: %w", hash, published, err)
	}

	for _, a := range extract.QueryAll(row, "a") {
		href := extract.Attr(a, "href")
		if !strings.Contains(href, "hivatalos-lapok") || !strings.Contains(href, "dokumentumok") {
			continue
		}
		name := extract.Query(a, "b[itemprop=name]")
		if name == nil {
			continue
		}
		cand.PDFURL = resolve(base, href)
		cand.Title = c.cleanTitle(extract.InnerHTML(name))
		break
	}
	if cand.PDFURL == "" {
		return cand, fmt.Errorf("%s: no pdf link", hash)
	}
	if cand.Title == "" {
		return cand, fmt.Errorf("%s: empty title", hash)
	}
	return cand, nil
}

func resolve(base *url.URL, ref string) string {
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil || base == nil {
		return ref
	}
	return base.ResolveReference(r).String()
}

// cleanTitle strips markup from the title HTML and collapses whitespace.
func (c *Crawler) cleanTitle(inner string) string {
	text := html.UnescapeString(c.sanitizer.Sanitize(inner))
	return strings.Join(strings.Fields(text), " ")
}
