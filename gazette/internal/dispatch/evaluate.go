// Package dispatch evaluates subscriptions against the snapshot of new
// documents taken at the start of a run, hands the rendered results to the
// notifier and marks the handled documents consumed once the pass is over.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/kozlony/gazette/internal/lemma"
	"github.com/hazyhaar/kozlony/gazette/internal/matcher"
	"github.com/hazyhaar/kozlony/gazette/internal/render"
	"github.com/hazyhaar/kozlony/gazette/internal/store"
	"github.com/hazyhaar/kozlony/gazette/internal/subscription"
)

// MaxSamples caps the windows rendered per document.
const MaxSamples = 5

// Searcher runs full-text subscriptions. *store.Store implements it.
type Searcher interface {
	SearchFullText(ctx context.Context, query string) ([]*store.Document, error)
}

// Result is the outcome of one subscription over one snapshot.
// Content is empty when nothing is worth sending.
type Result struct {
	SubscriptionID string            `json:"subscription_id"`
	Type           subscription.Type `json:"type"`
	Content        string            `json:"content"`
	Markdown       string            `json:"markdown,omitempty"`
	Documents      int               `json:"documents"`
	Matches        int               `json:"matches"`
	ConsumedHashes []string          `json:"consumed_hashes"`
}

// Evaluator computes Results. It never writes to the store.
type Evaluator struct {
	matcher    *matcher.Matcher
	lemmatizer lemma.Lemmatizer
	searcher   Searcher
	renderer   *render.Renderer
	maxSamples int
	logger     *slog.Logger
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithMaxSamples overrides MaxSamples.
func WithMaxSamples(n int) EvaluatorOption {
	return func(e *Evaluator) {
		if n > 0 {
			e.maxSamples = n
		}
	}
}

// WithEvaluatorLogger sets the logger.
func WithEvaluatorLogger(l *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) { e.logger = l }
}

// NewEvaluator wires the collaborators. A nil lemmatizer disables the
// stemmed fallback.
func NewEvaluator(m *matcher.Matcher, l lemma.Lemmatizer, s Searcher, r *render.Renderer, opts ...EvaluatorOption) *Evaluator {
	if l == nil {
		l = lemma.Disabled{}
	}
	e := &Evaluator{
		matcher:    m,
		lemmatizer: l,
		searcher:   s,
		renderer:   r,
		maxSamples: MaxSamples,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Evaluate runs sub over docs. sub must be normalized. Every document of
// the snapshot is listed in ConsumedHashes, matching or not.
func (e *Evaluator) Evaluate(ctx context.Context, sub subscription.Subscription, docs []*store.Document) (*Result, error) {
	var views []render.DocumentView
	var err error
	switch sub.Type {
	case subscription.TypeAllNew:
		views = allNewViews(docs)
	case subscription.TypeKeyword:
		views = e.keywordViews(ctx, sub, docs)
	case subscription.TypeFullText:
		views, err = e.fullTextViews(ctx, sub, docs)
	default:
		err = fmt.Errorf("%w: unknown type %q", subscription.ErrInvalidSubscription, sub.Type)
	}
	if err != nil {
		return nil, err
	}

	res := &Result{
		SubscriptionID: sub.ID,
		Type:           sub.Type,
		Documents:      len(views),
		ConsumedHashes: make([]string, 0, len(docs)),
	}
	for _, d := range docs {
		res.ConsumedHashes = append(res.ConsumedHashes, d.Hash)
	}
	for _, v := range views {
		res.Matches += v.Total
	}

	if res.Content, err = e.renderer.HTML(views); err != nil {
		return nil, err
	}
	if res.Markdown, err = e.renderer.Markdown(res.Content); err != nil {
		return nil, err
	}
	return res, nil
}

func allNewViews(docs []*store.Document) []render.DocumentView {
	views := make([]render.DocumentView, 0, len(docs))
	for _, d := range docs {
		views = append(views, render.DocumentView{Doc: d})
	}
	return views
}

type keyword struct {
	literal string
	lemma   string
}

// keywords lemmatizes each keyword once. A gateway failure drops the
// stemmed fallback for that keyword only.
func (e *Evaluator) keywords(ctx context.Context, sub subscription.Subscription) []keyword {
	var out []keyword
	for _, kw := range sub.Keywords() {
		lk, err := lemma.Keyword(ctx, e.lemmatizer, kw)
		if err != nil {
			e.logger.Warn("dispatch: keyword lemmatization failed", "subscription", sub.ID, "keyword", kw, "error", err)
			lk = ""
		}
		out = append(out, keyword{literal: kw, lemma: lk})
	}
	return out
}

func (e *Evaluator) windows(doc *store.Document, kws []keyword) []matcher.Window {
	var all []matcher.Window
	for _, kw := range kws {
		all = append(all, e.matcher.FindTiered(doc.Content, doc.NormalizedContent, kw.literal, kw.lemma)...)
	}
	return all
}

func (e *Evaluator) view(doc *store.Document, windows []matcher.Window) render.DocumentView {
	v := render.DocumentView{Doc: doc, Windows: windows, Total: len(windows)}
	if len(v.Windows) > e.maxSamples {
		v.Windows = v.Windows[:e.maxSamples]
	}
	return v
}

func (e *Evaluator) keywordViews(ctx context.Context, sub subscription.Subscription, docs []*store.Document) []render.DocumentView {
	kws := e.keywords(ctx, sub)
	var views []render.DocumentView
	for _, d := range docs {
		w := e.windows(d, kws)
		if len(w) == 0 {
			continue
		}
		views = append(views, e.view(d, w))
	}
	return views
}

// fullTextViews keeps the search hits that belong to the snapshot, in
// snapshot order. Samples come from the query terms; a hit found only
// through diacritic folding is rendered without samples.
func (e *Evaluator) fullTextViews(ctx context.Context, sub subscription.Subscription, docs []*store.Document) ([]render.DocumentView, error) {
	hits, err := e.searcher.SearchFullText(ctx, sub.FullTextQuery())
	if err != nil {
		return nil, fmt.Errorf("subscription %s: %w", sub.ID, err)
	}
	matched := make(map[string]bool, len(hits))
	for _, h := range hits {
		matched[h.Hash] = true
	}

	kws := e.keywords(ctx, sub)
	var views []render.DocumentView
	for _, d := range docs {
		if !matched[d.Hash] {
			continue
		}
		views = append(views, e.view(d, e.windows(d, kws)))
	}
	return views, nil
}
