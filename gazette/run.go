package gazette

import (
	"context"
	"fmt"
	"time"

	"github.com/hazyhaar/kozlony/gazette/internal/crawler"
	"github.com/hazyhaar/kozlony/gazette/internal/dispatch"
	"github.com/hazyhaar/kozlony/observability"
)

// RunReport summarises one run.
type RunReport struct {
	RunID        string           `json:"run_id"`
	StartedAt    time.Time        `json:"started_at"`
	Duration     time.Duration    `json:"duration"`
	Crawl        *crawler.Stats   `json:"crawl,omitempty"`
	Inserted     int              `json:"inserted"`
	Duplicates   int              `json:"duplicates"`
	IngestFailed int              `json:"ingest_failed"`
	Dispatch     *dispatch.Report `json:"dispatch,omitempty"`
}

type indexEnsurer interface {
	EnsureIndex(ctx context.Context) error
}

// Run crawls from the month of the latest stored issue, ingests what is
// new and evaluates every subscription against the new documents.
func (s *Service) Run(ctx context.Context) (*RunReport, error) {
	rep := &RunReport{RunID: s.newRunID(), StartedAt: time.Now()}
	log := s.logger.With("run_id", rep.RunID)
	log.Info("gazette: run started", "staging", s.cfg.Staging,
		"lemmatize", !s.cfg.DisableLemmatization, "notify", !s.cfg.DisableNotification)

	if e, ok := s.mirror.(indexEnsurer); ok {
		if err := e.EnsureIndex(ctx); err != nil {
			log.Warn("gazette: mirror index unavailable", "error", err)
		}
	}

	since, ok, err := s.store.LatestIssueDate(ctx)
	if err != nil {
		return rep, fmt.Errorf("gazette: latest issue date: %w", err)
	}
	if !ok {
		since = time.Time{}
	}

	sink := func(ctx context.Context, c crawler.Candidate) error {
		inserted, err := s.Ingest(ctx, rep.RunID, c)
		switch {
		case err != nil:
			rep.IngestFailed++
		case inserted:
			rep.Inserted++
		default:
			rep.Duplicates++
		}
		return err
	}
	rep.Crawl, err = s.crawler.Crawl(ctx, since, s.store.Exists, sink)
	if err != nil {
		return rep, fmt.Errorf("gazette: crawl: %w", err)
	}

	rep.Dispatch, err = s.Evaluate(ctx, rep.RunID)
	if err != nil {
		return rep, err
	}

	rep.Duration = time.Since(rep.StartedAt)
	s.finish(ctx, rep)
	log.Info("gazette: run completed", "inserted", rep.Inserted, "duplicates", rep.Duplicates,
		"ingest_failed", rep.IngestFailed, "notified", rep.Dispatch.Notified,
		"consumed", len(rep.Dispatch.Consumed), "duration", rep.Duration)
	return rep, nil
}

// Evaluate pulls the subscriptions once, takes one snapshot of the new
// documents and dispatches. It is the second half of Run, usable alone to
// re-evaluate without crawling.
func (s *Service) Evaluate(ctx context.Context, runID string) (*dispatch.Report, error) {
	subs, err := s.source.Subscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("gazette: subscriptions: %w", err)
	}
	docs, err := s.store.AllNew(ctx)
	if err != nil {
		return nil, fmt.Errorf("gazette: new documents: %w", err)
	}
	s.logger.Info("gazette: evaluating", "run_id", runID, "subscriptions", len(subs), "documents", len(docs))

	eval := dispatch.NewEvaluator(s.matcher, s.lemmas, s.store, s.renderer,
		dispatch.WithMaxSamples(s.cfg.Matcher.MaxSamples),
		dispatch.WithEvaluatorLogger(s.logger))
	d := dispatch.NewDispatcher(eval, s.notifier, s.store,
		dispatch.WithRunID(runID),
		dispatch.WithLogger(s.logger),
		dispatch.WithJournal(s.journal),
		dispatch.WithStaging(s.cfg.Staging),
		dispatch.WithNotificationsDisabled(s.cfg.DisableNotification))
	return d.Process(ctx, subs, docs), nil
}

func (s *Service) finish(ctx context.Context, rep *RunReport) {
	id := rep.RunID
	s.metrics.Count(id, observability.MetricDocumentsInserted, rep.Inserted)
	s.metrics.Count(id, observability.MetricDocumentsSkipped, rep.Duplicates+rep.IngestFailed)
	s.metrics.Count(id, observability.MetricSubscriptions, rep.Dispatch.Evaluated)
	s.metrics.Count(id, observability.MetricNotificationsSent, rep.Dispatch.Notified)
	s.metrics.Count(id, observability.MetricDocumentsConsumed, len(rep.Dispatch.Consumed))
	s.metrics.Record(&observability.Metric{
		RunID: id,
		Name:  observability.MetricRunDurationMs,
		Value: float64(rep.Duration.Milliseconds()),
		Unit:  "milliseconds",
	})
	s.metrics.Flush(ctx)

	s.journal.LogEvent(ctx, observability.Event{
		RunID: id,
		Type:  observability.EventRunCompleted,
		Details: map[string]any{
			"inserted":      rep.Inserted,
			"ingest_failed": rep.IngestFailed,
			"notified":      rep.Dispatch.Notified,
			"consumed":      len(rep.Dispatch.Consumed),
			"staging":       s.cfg.Staging,
		},
		Success: rep.IngestFailed == 0 && rep.Dispatch.Failed == 0,
	})

	days := s.cfg.Journal.RetentionDays
	if err := observability.Cleanup(ctx, s.store.DB, observability.RetentionConfig{EventDays: days, MetricDays: days}); err != nil {
		s.logger.Warn("gazette: journal cleanup failed", "error", err)
	}
}
