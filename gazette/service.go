// Package gazette wires the kozlony run: crawl the official gazette portal,
// store every issue once, and tell subscribers about the new ones.
//
// The pipeline of one run:
//
//	crawler → Ingest → store ─┐
//	subscription source ──────┴→ dispatch → notifier → MarkConsumed
//
// Usage:
//
//	svc, err := gazette.New(cfg, gazette.WithLogger(logger))
//	defer svc.Close()
//	report, err := svc.Run(ctx)
//
// Service is the only stateful object; every collaborator is injected or
// built from Config in New.
package gazette

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/kozlony/dbopen"
	"github.com/hazyhaar/kozlony/gazette/internal/crawler"
	"github.com/hazyhaar/kozlony/gazette/internal/fetch"
	"github.com/hazyhaar/kozlony/gazette/internal/lemma"
	"github.com/hazyhaar/kozlony/gazette/internal/matcher"
	"github.com/hazyhaar/kozlony/gazette/internal/mirror"
	"github.com/hazyhaar/kozlony/gazette/internal/render"
	"github.com/hazyhaar/kozlony/gazette/internal/store"
	"github.com/hazyhaar/kozlony/gazette/internal/subscription"
	"github.com/hazyhaar/kozlony/idgen"
	"github.com/hazyhaar/kozlony/notify"
	"github.com/hazyhaar/kozlony/observability"
)

// Candidate is a document found by the crawler, before it is stored.
type Candidate = crawler.Candidate

// Subscription is a backend event evaluated against new documents.
type Subscription = subscription.Subscription

// Document is a stored gazette issue.
type Document = store.Document

// Crawler discovers candidates on the portal. *crawler.Crawler implements it.
type Crawler interface {
	Crawl(ctx context.Context, since time.Time, exists crawler.Exists, sink crawler.Sink) (*crawler.Stats, error)
}

// Service is the explicit context of a kozlony process.
type Service struct {
	cfg       *Config
	store     *store.Store
	journal   *observability.EventLogger
	metrics   *observability.MetricsManager
	crawler   Crawler
	lemmas    lemma.Lemmatizer
	source    subscription.Source
	notifier  notify.Notifier
	secondary []notify.Notifier
	mirror    mirror.Mirror
	matcher   *matcher.Matcher
	renderer  *render.Renderer
	logger    *slog.Logger
	newRunID  idgen.Generator
	closers   []io.Closer
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithCrawler replaces the portal crawler.
func WithCrawler(c Crawler) Option { return func(s *Service) { s.crawler = c } }

// WithLemmatizer replaces the lemmatizer gateway client.
func WithLemmatizer(l lemma.Lemmatizer) Option { return func(s *Service) { s.lemmas = l } }

// WithSource replaces the backend subscription source.
func WithSource(src subscription.Source) Option { return func(s *Service) { s.source = src } }

// WithNotifier replaces the backend webhook, the notifier whose result
// decides consumption.
func WithNotifier(n notify.Notifier) Option { return func(s *Service) { s.notifier = n } }

// WithSecondaryNotifier adds a best-effort copy target next to the Kafka
// topic. Its failures are logged and never keep documents new.
func WithSecondaryNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.secondary = append(s.secondary, n) }
}

// WithMirror replaces the Elasticsearch mirror.
func WithMirror(m mirror.Mirror) Option { return func(s *Service) { s.mirror = m } }

// WithRunIDGenerator sets how run ids are made.
func WithRunIDGenerator(gen idgen.Generator) Option { return func(s *Service) { s.newRunID = gen } }

// New validates cfg, opens the database and builds the collaborators that
// were not injected. Configuration errors are returned before the database
// is touched.
func New(cfg *Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		cfg:      cfg,
		logger:   slog.Default(),
		newRunID: idgen.Prefixed("run_", idgen.Default),
	}
	for _, o := range opts {
		o(s)
	}

	st, err := store.Open(cfg.DBPath, dbopen.WithSchema(observability.Schema))
	if err != nil {
		return nil, fmt.Errorf("gazette: open store: %w", err)
	}
	s.store = st
	s.journal = observability.NewEventLogger(st.DB, observability.WithEventSlog(s.logger))
	s.metrics = observability.NewMetricsManager(st.DB, 100, s.logger)

	if s.renderer, err = render.New(); err != nil {
		st.Close()
		return nil, err
	}
	s.matcher = matcher.New(matcher.Options{ContextWords: cfg.Matcher.ContextWords})

	if err := s.buildDefaults(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) buildDefaults() error {
	cfg := s.cfg
	if s.crawler == nil {
		portal := fetch.New(fetch.Config{
			Timeout:            cfg.Portal.Timeout,
			MaxBytes:           cfg.Portal.MaxPDFBytes,
			UserAgent:          cfg.Portal.UserAgent,
			InsecureSkipVerify: cfg.Portal.InsecureSkipVerify,
		})
		s.crawler = crawler.New(portal, cfg.Portal.URL, crawler.WithLogger(s.logger))
	}
	if s.lemmas == nil {
		if cfg.DisableLemmatization {
			s.lemmas = lemma.Disabled{}
		} else {
			s.lemmas = lemma.NewClient(fetch.New(fetch.Config{Timeout: cfg.Lemmatizer.Timeout}),
				cfg.Lemmatizer.URL, cfg.Lemmatizer.BatchSize)
		}
	}
	if s.source == nil {
		s.source = subscription.NewHTTPSource(fetch.New(fetch.Config{Timeout: cfg.Backend.Timeout}),
			cfg.Backend.MonitorURL, cfg.Backend.UUID)
	}
	if s.notifier == nil {
		s.notifier = notify.NewWebhook(notify.WebhookConfig{
			MonitorURL: cfg.Backend.MonitorURL,
			UUID:       cfg.Backend.UUID,
			Secret:     cfg.Backend.Secret,
			Timeout:    cfg.Backend.Timeout,
		})
	}
	if len(cfg.Kafka.Brokers) > 0 {
		k := notify.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		s.closers = append(s.closers, k)
		s.secondary = append(s.secondary, k)
	}
	if len(s.secondary) > 0 {
		s.notifier = notify.Fanout{Primary: s.notifier, Secondary: s.secondary, Logger: s.logger}
	}
	if s.mirror == nil {
		if cfg.Mirror.ElasticsearchAddr == "" {
			s.mirror = mirror.Nop{}
		} else {
			es, err := mirror.NewElasticsearch(cfg.Mirror.ElasticsearchAddr, cfg.Mirror.Index, s.logger)
			if err != nil {
				return err
			}
			s.mirror = es
		}
	}
	return nil
}

// Close flushes metrics and closes the database and the Kafka writer.
func (s *Service) Close() error {
	var errs []error
	if s.metrics != nil {
		s.metrics.Close()
	}
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}

// Store exposes the document store to the read surfaces.
func (s *Service) Store() *store.Store { return s.store }

// Journal exposes the run journal.
func (s *Service) Journal() *observability.EventLogger { return s.journal }

// Ingest stores a candidate unless its hash is already known. It reports
// whether a row was written. Invalid candidates return store.ErrInvalidDocument.
// A lemmatizer failure stores nothing so the candidate is found again on the
// next run.
func (s *Service) Ingest(ctx context.Context, runID string, c Candidate) (bool, error) {
	doc := &store.Document{
		Hash:      strings.TrimSpace(c.Hash),
		Title:     strings.TrimSpace(c.Title),
		SourceURL: c.SourceURL,
		PDFURL:    c.PDFURL,
		IssueDate: c.IssueDate,
		Content:   strings.Join(c.Pages, "\n"),
		IsNew:     true,
	}
	if err := doc.Validate(); err != nil {
		s.ingestFailed(ctx, runID, doc.Hash, err)
		return false, err
	}

	known, err := s.store.Exists(ctx, doc.Hash)
	if err != nil {
		return false, err
	}
	if known {
		return false, nil
	}

	if doc.NormalizedContent, err = lemma.Text(ctx, s.lemmas, c.Pages); err != nil {
		err = fmt.Errorf("lemmatize %s: %w", doc.Hash, err)
		s.ingestFailed(ctx, runID, doc.Hash, err)
		return false, err
	}

	inserted, err := s.store.InsertIfAbsent(ctx, doc)
	if err != nil {
		s.ingestFailed(ctx, runID, doc.Hash, err)
		return false, err
	}
	if !inserted {
		return false, nil
	}

	s.logger.Info("gazette: document stored", "hash", doc.Hash, "issue_date", doc.IssueDate.Format(store.DateLayout),
		"chars", len(doc.Content), "lemmatized", doc.NormalizedContent != "")
	s.journal.LogEvent(ctx, observability.Event{
		RunID:      runID,
		Type:       observability.EventIngestInserted,
		EntityType: "document",
		EntityID:   doc.Hash,
		Success:    true,
	})
	if err := s.mirror.Index(ctx, doc); err != nil {
		s.logger.Warn("gazette: mirror failed", "hash", doc.Hash, "error", err)
	}
	return true, nil
}

func (s *Service) ingestFailed(ctx context.Context, runID, hash string, err error) {
	s.logger.Warn("gazette: ingest failed", "hash", hash, "error", err)
	s.journal.LogEvent(ctx, observability.Event{
		RunID:      runID,
		Type:       observability.EventIngestFailed,
		EntityType: "document",
		EntityID:   hash,
		Details:    map[string]any{"error": err.Error()},
	})
}
