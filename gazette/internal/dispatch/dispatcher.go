package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/kozlony/gazette/internal/store"
	"github.com/hazyhaar/kozlony/gazette/internal/subscription"
	"github.com/hazyhaar/kozlony/notify"
	"github.com/hazyhaar/kozlony/observability"
)

// Marker flips documents from new to consumed, all of hashes or none.
// *store.Store implements it.
type Marker interface {
	MarkConsumed(ctx context.Context, hashes ...string) error
}

// Report summarises one dispatch pass.
type Report struct {
	RunID       string    `json:"run_id,omitempty"`
	Candidates  int       `json:"candidates"`
	Evaluated   int       `json:"evaluated"`
	Skipped     int       `json:"skipped"`
	Failed      int       `json:"failed"`
	Notified    int       `json:"notified"`
	Consumed    []string  `json:"consumed"`
	MarkFailed  int       `json:"mark_failed"`
	Results     []*Result `json:"results"`
	Interrupted bool      `json:"interrupted"`
}

// Dispatcher runs a pass over all subscriptions.
type Dispatcher struct {
	eval     *Evaluator
	notifier notify.Notifier
	marker   Marker

	runID          string
	staging        bool
	notifyDisabled bool
	logger         *slog.Logger
	journal        *observability.EventLogger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// WithRunID tags notifications, journal events and the report.
func WithRunID(id string) Option { return func(d *Dispatcher) { d.runID = id } }

// WithStaging evaluates without notifying or consuming, so the pass can be
// repeated against the same documents.
func WithStaging(on bool) Option { return func(d *Dispatcher) { d.staging = on } }

// WithNotificationsDisabled evaluates and marks without sending anything.
func WithNotificationsDisabled(on bool) Option {
	return func(d *Dispatcher) { d.notifyDisabled = on }
}

// WithJournal records notify and consume events.
func WithJournal(j *observability.EventLogger) Option { return func(d *Dispatcher) { d.journal = j } }

// NewDispatcher creates a dispatcher. A nil notifier discards.
func NewDispatcher(eval *Evaluator, n notify.Notifier, m Marker, opts ...Option) *Dispatcher {
	if n == nil {
		n = notify.Discard{}
	}
	d := &Dispatcher{eval: eval, notifier: n, marker: m, logger: slog.Default()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Process evaluates every subscription against docs. A failing subscription
// is logged and skipped; the others still run. Documents handled by at least
// one successful subscription are marked consumed after the last one. In
// staging nothing is sent and nothing is marked.
func (d *Dispatcher) Process(ctx context.Context, subs []subscription.Subscription, docs []*store.Document) *Report {
	rep := &Report{RunID: d.runID, Candidates: len(docs)}
	consumed := newHashSet()

	for _, raw := range subs {
		if ctx.Err() != nil {
			d.logger.Warn("dispatch: interrupted", "remaining", len(subs)-rep.Evaluated-rep.Skipped-rep.Failed, "error", ctx.Err())
			rep.Interrupted = true
			break
		}
		sub, err := raw.Normalize()
		if err != nil {
			d.logger.Warn("dispatch: subscription skipped", "id", raw.ID, "type", raw.Type, "parameters", raw.Parameters, "error", err)
			rep.Skipped++
			continue
		}

		res, err := d.evaluate(ctx, sub, docs)
		if err != nil {
			d.logger.Error("dispatch: subscription failed", "id", sub.ID, "type", sub.Type, "parameters", sub.Parameters, "error", err)
			rep.Failed++
			continue
		}
		rep.Evaluated++
		rep.Results = append(rep.Results, res)

		if !d.deliver(ctx, sub, res) {
			rep.Failed++
			continue
		}
		if res.Content != "" && !d.notifyDisabled && !d.staging {
			rep.Notified++
		}
		consumed.add(res.ConsumedHashes...)
	}

	if d.staging {
		d.logger.Info("dispatch: staging, consumption skipped", "documents", consumed.size())
		return rep
	}
	if err := ctx.Err(); err != nil {
		d.logger.Warn("dispatch: interrupted, consumption skipped", "documents", consumed.size(), "error", err)
		rep.Interrupted = true
		return rep
	}
	if consumed.size() > 0 {
		if err := d.marker.MarkConsumed(ctx, consumed.order...); err != nil {
			d.logger.Error("dispatch: mark consumed failed", "documents", consumed.size(), "error", err)
			rep.MarkFailed = consumed.size()
		} else {
			rep.Consumed = consumed.order
		}
	}
	if consumed.size() > 0 {
		d.journal.LogEvent(ctx, observability.Event{
			RunID:   d.runID,
			Type:    observability.EventConsumeMarked,
			Details: map[string]any{"documents": len(rep.Consumed), "failed": rep.MarkFailed},
			Success: rep.MarkFailed == 0,
		})
	}
	return rep
}

// evaluate isolates a panicking subscription from the rest of the pass.
func (d *Dispatcher) evaluate(ctx context.Context, sub subscription.Subscription, docs []*store.Document) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.eval.Evaluate(ctx, sub, docs)
}

// deliver reports whether the result's documents may be consumed.
func (d *Dispatcher) deliver(ctx context.Context, sub subscription.Subscription, res *Result) bool {
	if res.Content == "" {
		return true
	}
	if d.staging || d.notifyDisabled {
		d.logger.Info("dispatch: notification suppressed", "id", sub.ID, "documents", res.Documents,
			"staging", d.staging)
		return true
	}

	err := d.notifier.Notify(ctx, notify.Notification{
		RunID:          d.runID,
		SubscriptionID: sub.ID,
		Type:           string(sub.Type),
		Content:        res.Content,
		Markdown:       res.Markdown,
		Documents:      res.Documents,
		Matches:        res.Matches,
	})
	ev := observability.Event{
		RunID:      d.runID,
		Type:       observability.EventNotifySent,
		EntityType: "subscription",
		EntityID:   sub.ID,
		Details:    map[string]any{"documents": res.Documents, "matches": res.Matches},
		Success:    err == nil,
	}
	if err != nil {
		var sendErr *notify.ErrSendFailed
		if errors.As(err, &sendErr) {
			ev.Details["notifier"] = sendErr.Notifier
		}
		ev.Type = observability.EventNotifyFailed
		ev.Details["error"] = err.Error()
		d.logger.Error("dispatch: notify failed", "id", sub.ID, "type", sub.Type, "error", err)
	} else {
		d.logger.Info("dispatch: notified", "id", sub.ID, "documents", res.Documents, "matches", res.Matches)
	}
	d.journal.LogEvent(ctx, ev)
	return err == nil
}

type hashSet struct {
	seen  map[string]bool
	order []string
}

func newHashSet() *hashSet { return &hashSet{seen: map[string]bool{}} }

func (s *hashSet) add(hashes ...string) {
	for _, h := range hashes {
		if !s.seen[h] {
			s.seen[h] = true
			s.order = append(s.order, h)
		}
	}
}

func (s *hashSet) size() int { return len(s.order) }
