package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/kozlony/dbopen"
	"github.com/hazyhaar/kozlony/gazette/internal/matcher"
	"github.com/hazyhaar/kozlony/gazette/internal/render"
	"github.com/hazyhaar/kozlony/gazette/internal/store"
	"github.com/hazyhaar/kozlony/gazette/internal/subscription"
	"github.com/hazyhaar/kozlony/notify"
	"github.com/hazyhaar/kozlony/observability"
)

// fakeLemmatizer maps known inflected words to their stem and passes the
// rest through lower-cased.
type fakeLemmatizer struct {
	lemmas map[string]string
	err    error
}

func (f fakeLemmatizer) Lemmatize(_ context.Context, chunks []string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []string
	for _, c := range chunks {
		for _, w := range strings.Fields(strings.ToLower(c)) {
			if l, ok := f.lemmas[w]; ok {
				w = l
			}
			out = append(out, w)
		}
	}
	return out, nil
}

type recorder struct {
	sent []notify.Notification
	fail map[string]bool
}

func (r *recorder) Notify(_ context.Context, n notify.Notification) error {
	if r.fail[n.SubscriptionID] {
		return &notify.ErrSendFailed{Notifier: "test", SubscriptionID: n.SubscriptionID, Cause: errors.New("status 500")}
	}
	r.sent = append(r.sent, n)
	return nil
}

type fixture struct {
	store    *store.Store
	eval     *Evaluator
	notifier *recorder
	journal  *observability.EventLogger
	docs     []*store.Document
}

func newFixture(t *testing.T, contents ...[2]string) *fixture {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema), dbopen.WithSchema(observability.Schema))
	s := store.NewStore(db)
	ctx := context.Background()
	for i, c := range contents {
		d := &store.Document{
			Hash:              fmt.Sprintf("h%d", i+1),
			IssueDate:         time.Date(2024, 3, i+1, 0, 0, 0, 0, time.UTC),
			Title:             fmt.Sprintf("Magyar Közlöny %d. szám", i+1),
			SourceURL:         fmt.Sprintf("https://portal.test/hivatalos-lapok/h%d/view", i+1),
			PDFURL:            fmt.Sprintf("https://portal.test/dokumentumok/h%d.pdf", i+1),
			Content:           c[0],
			NormalizedContent: c[1],
		}
		if _, err := s.InsertIfAbsent(ctx, d); err != nil {
			t.Fatal(err)
		}
	}
	docs, err := s.AllNew(ctx)
	if err != nil {
		t.Fatal(err)
	}
	r, err := render.New()
	if err != nil {
		t.Fatal(err)
	}
	lem := fakeLemmatizer{lemmas: map[string]string{"törvények": "törvény", "adók": "adó"}}
	return &fixture{
		store:    s,
		eval:     NewEvaluator(matcher.New(matcher.Options{}), lem, s, r),
		notifier: &recorder{fail: map[string]bool{}},
		journal:  observability.NewEventLogger(db),
		docs:     docs,
	}
}

func (f *fixture) dispatcher(opts ...Option) *Dispatcher {
	opts = append([]Option{WithRunID("run_test"), WithJournal(f.journal)}, opts...)
	return NewDispatcher(f.eval, f.notifier, f.store, opts...)
}

func (f *fixture) newHashes(t *testing.T) []string {
	t.Helper()
	docs, err := f.store.AllNew(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, d := range docs {
		out = append(out, d.Hash)
	}
	return out
}

var threeDocs = [][2]string{
	{"A Kormány rendelete az adó mértékéről.", "kormány rendelet adó mérték"},
	{"Törvény a közlekedés szabályairól.", "törvény közlekedés szabály"},
	{"Határozat a miniszter kinevezéséről.", "határozat miniszter kinevezés"},
}

func TestEvaluate_AllNew(t *testing.T) {
	// WHAT: an all-new subscription renders every snapshot document and consumes them all.
	// WHY: this is the "send me everything" subscription.
	f := newFixture(t, threeDocs...)
	res, err := f.eval.Evaluate(context.Background(),
		subscription.Subscription{ID: "1", Type: subscription.TypeAllNew}, f.docs)
	if err != nil {
		t.Fatal(err)
	}
	if res.Documents != 3 || len(res.ConsumedHashes) != 3 {
		t.Fatalf("documents=%d consumed=%v", res.Documents, res.ConsumedHashes)
	}
	for i := 1; i <= 3; i++ {
		if !strings.Contains(res.Content, fmt.Sprintf("Magyar Közlöny %d. szám", i)) {
			t.Errorf("content misses document %d", i)
		}
	}
	if !strings.Contains(res.Markdown, "Magyar Közlöny 1. szám") {
		t.Errorf("markdown misses title: %q", res.Markdown)
	}
}

func TestEvaluate_AllNewEmptySnapshot(t *testing.T) {
	f := newFixture(t)
	res, err := f.eval.Evaluate(context.Background(),
		subscription.Subscription{ID: "1", Type: subscription.TypeAllNew}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "" || len(res.ConsumedHashes) != 0 {
		t.Fatalf("empty snapshot produced %+v", res)
	}
}

func TestEvaluate_Keyword(t *testing.T) {
	// WHAT: only matching documents are rendered but the whole snapshot is consumed.
	// WHY: a keyword watcher must not be re-notified about documents it already skipped.
	f := newFixture(t, threeDocs...)
	res, err := f.eval.Evaluate(context.Background(),
		subscription.Subscription{ID: "2", Type: subscription.TypeKeyword, Parameters: "adó, miniszter"}, f.docs)
	if err != nil {
		t.Fatal(err)
	}
	if res.Documents != 2 || res.Matches != 2 {
		t.Fatalf("documents=%d matches=%d", res.Documents, res.Matches)
	}
	if len(res.ConsumedHashes) != 3 {
		t.Fatalf("consumed %v, want all three", res.ConsumedHashes)
	}
	if !strings.Contains(res.Content, "<mark>adó</mark>") || !strings.Contains(res.Content, "<mark>miniszter</mark>") {
		t.Fatalf("missing highlight: %s", res.Content)
	}
	if strings.Contains(res.Content, "2. szám") {
		t.Fatal("non-matching document rendered")
	}
}

func TestEvaluate_KeywordNoMatch(t *testing.T) {
	f := newFixture(t, threeDocs...)
	res, err := f.eval.Evaluate(context.Background(),
		subscription.Subscription{ID: "2", Type: subscription.TypeKeyword, Parameters: "vízügy"}, f.docs)
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "" || res.Documents != 0 {
		t.Fatalf("expected empty content, got %+v", res)
	}
	if len(res.ConsumedHashes) != 3 {
		t.Fatalf("consumed %v", res.ConsumedHashes)
	}
}

func TestEvaluate_KeywordStemmedFallback(t *testing.T) {
	// WHAT: an inflected keyword with no literal hit matches through the lemmas.
	// WHY: "törvények" should find a document that only says "Törvény".
	f := newFixture(t, threeDocs...)
	res, err := f.eval.Evaluate(context.Background(),
		subscription.Subscription{ID: "3", Type: subscription.TypeKeyword, Parameters: "törvények"}, f.docs)
	if err != nil {
		t.Fatal(err)
	}
	if res.Documents != 1 {
		t.Fatalf("documents=%d, want 1", res.Documents)
	}
	if !strings.Contains(res.Content, "szótövezett találat") || !strings.Contains(res.Content, "2. szám") {
		t.Fatalf("stemmed window not rendered: %s", res.Content)
	}
}

func TestEvaluate_KeywordLemmatizerDown(t *testing.T) {
	// WHAT: a lemmatizer failure keeps the literal pass.
	// WHY: the gateway is optional; its outage must not lose literal hits.
	f := newFixture(t, threeDocs...)
	r, _ := render.New()
	eval := NewEvaluator(matcher.New(matcher.Options{}), fakeLemmatizer{err: errors.New("down")}, f.store, r)
	res, err := eval.Evaluate(context.Background(),
		subscription.Subscription{ID: "3", Type: subscription.TypeKeyword, Parameters: "adó, törvények"}, f.docs)
	if err != nil {
		t.Fatal(err)
	}
	if res.Documents != 1 || !strings.Contains(res.Content, "1. szám") {
		t.Fatalf("literal hit lost: %+v", res)
	}
}

func TestEvaluate_SampleCap(t *testing.T) {
	// WHAT: at most MaxSamples windows are rendered, the total is still reported.
	// WHY: a document mentioning a keyword fifty times would flood the notification.
	text := strings.Repeat("adó és járulék. ", 7)
	f := newFixture(t, [2]string{text, ""})
	res, err := f.eval.Evaluate(context.Background(),
		subscription.Subscription{ID: "4", Type: subscription.TypeKeyword, Parameters: "adó"}, f.docs)
	if err != nil {
		t.Fatal(err)
	}
	if res.Matches != 7 {
		t.Fatalf("matches=%d, want 7", res.Matches)
	}
	if got := strings.Count(res.Content, "<mark>"); got != MaxSamples {
		t.Fatalf("rendered %d samples, want %d", got, MaxSamples)
	}
	if !strings.Contains(res.Content, "Összesen 7 találat.") {
		t.Fatalf("total missing: %s", res.Content)
	}
}

func TestEvaluate_FullText(t *testing.T) {
	// WHAT: full-text hits are limited to the snapshot; the snapshot is consumed.
	// WHY: documents that arrived after the snapshot belong to the next run.
	f := newFixture(t, threeDocs...)
	snapshot := f.docs[:2]
	sub := subscription.Subscription{ID: "5", Type: subscription.TypeFullText, Parameters: "rendelet*, miniszter"}
	res, err := f.eval.Evaluate(context.Background(), sub, snapshot)
	if err != nil {
		t.Fatal(err)
	}
	if res.Documents != 1 || !strings.Contains(res.Content, "1. szám") {
		t.Fatalf("want only document 1, got %+v", res)
	}
	if strings.Contains(res.Content, "3. szám") {
		t.Fatal("document outside the snapshot rendered")
	}
	if len(res.ConsumedHashes) != 2 {
		t.Fatalf("consumed %v, want the two snapshot docs", res.ConsumedHashes)
	}
}

func TestEvaluate_FullTextInvalidQuery(t *testing.T) {
	f := newFixture(t, threeDocs...)
	_, err := f.eval.Evaluate(context.Background(),
		subscription.Subscription{ID: "6", Type: subscription.TypeFullText, Parameters: `"`}, f.docs)
	if err == nil {
		t.Fatal("expected an error for an empty query")
	}
}

func TestProcess_NotifiesAndConsumes(t *testing.T) {
	// WHAT: one pass notifies each subscription with content and consumes the union.
	// WHY: this is the at-most-once protocol of a normal run.
	f := newFixture(t, threeDocs...)
	subs := []subscription.Subscription{
		{ID: "1", Type: "all"},
		{ID: "2", Type: "keyword", Parameters: "nincs ilyen szó"},
		{ID: "3", Type: "keyword", Parameters: "adó"},
	}
	rep := f.dispatcher().Process(context.Background(), subs, f.docs)

	if rep.Evaluated != 3 || rep.Failed != 0 || rep.Notified != 2 {
		t.Fatalf("report: %+v", rep)
	}
	if len(f.notifier.sent) != 2 || f.notifier.sent[0].SubscriptionID != "1" || f.notifier.sent[1].SubscriptionID != "3" {
		t.Fatalf("sent: %+v", f.notifier.sent)
	}
	if f.notifier.sent[0].RunID != "run_test" || f.notifier.sent[0].Documents != 3 {
		t.Fatalf("notification: %+v", f.notifier.sent[0])
	}
	if len(rep.Consumed) != 3 {
		t.Fatalf("consumed %v", rep.Consumed)
	}
	if left := f.newHashes(t); len(left) != 0 {
		t.Fatalf("still new: %v", left)
	}

	events, err := f.journal.Events(context.Background(), "run_test")
	if err != nil {
		t.Fatal(err)
	}
	var sent, marked int
	for _, ev := range events {
		switch ev.Type {
		case observability.EventNotifySent:
			sent++
		case observability.EventConsumeMarked:
			marked++
		}
	}
	if sent != 2 || marked != 1 {
		t.Fatalf("journal: sent=%d marked=%d", sent, marked)
	}
}

func TestProcess_FailedNotifyKeepsDocumentsNew(t *testing.T) {
	// WHAT: a failed notification does not consume its documents.
	// WHY: the subscriber must get them on the next run.
	f := newFixture(t, threeDocs...)
	f.notifier.fail["1"] = true
	subs := []subscription.Subscription{{ID: "1", Type: "all"}}

	rep := f.dispatcher().Process(context.Background(), subs, f.docs)
	if rep.Failed != 1 || len(rep.Consumed) != 0 {
		t.Fatalf("report: %+v", rep)
	}
	if left := f.newHashes(t); len(left) != 3 {
		t.Fatalf("still new: %v, want all three", left)
	}

	events, _ := f.journal.Events(context.Background(), "run_test")
	if len(events) != 1 || events[0].Type != observability.EventNotifyFailed || events[0].Details["notifier"] != "test" {
		t.Fatalf("journal: %+v", events)
	}
}

func TestProcess_UnionAcrossSubscriptions(t *testing.T) {
	// WHAT: a document handled by any successful subscription is consumed.
	// WHY: consumption is global, not per subscriber.
	f := newFixture(t, threeDocs...)
	f.notifier.fail["1"] = true
	subs := []subscription.Subscription{
		{ID: "1", Type: "all"},
		{ID: "2", Type: "keyword", Parameters: "adó"},
	}
	rep := f.dispatcher().Process(context.Background(), subs, f.docs)
	if rep.Failed != 1 || len(rep.Consumed) != 3 {
		t.Fatalf("report: %+v", rep)
	}
}

func TestProcess_Staging(t *testing.T) {
	// WHAT: staging neither notifies nor consumes.
	// WHY: a staging run can be repeated against the same data without side effects.
	f := newFixture(t, threeDocs...)
	subs := []subscription.Subscription{{ID: "1", Type: "all"}}

	for i := 0; i < 2; i++ {
		rep := f.dispatcher(WithStaging(true)).Process(context.Background(), subs, f.docs)
		if len(rep.Consumed) != 0 || rep.Notified != 0 {
			t.Fatalf("staging report: %+v", rep)
		}
		if len(rep.Results) != 1 || rep.Results[0].Documents != 3 {
			t.Fatalf("staging still evaluates: %+v", rep.Results)
		}
	}
	if len(f.notifier.sent) != 0 {
		t.Fatalf("sent %d notifications in staging", len(f.notifier.sent))
	}
	if left := f.newHashes(t); len(left) != 3 {
		t.Fatalf("still new: %v", left)
	}
}

func TestProcess_NotificationsDisabled(t *testing.T) {
	// WHAT: with notifications off nothing is sent but documents are consumed.
	// WHY: used to drain a backlog without spamming subscribers.
	f := newFixture(t, threeDocs...)
	subs := []subscription.Subscription{{ID: "1", Type: "all"}}
	rep := f.dispatcher(WithNotificationsDisabled(true)).Process(context.Background(), subs, f.docs)
	if len(f.notifier.sent) != 0 || rep.Notified != 0 {
		t.Fatalf("sent %d notifications", len(f.notifier.sent))
	}
	if len(rep.Consumed) != 3 {
		t.Fatalf("consumed %v", rep.Consumed)
	}
}

type panicSearcher struct{}

func (panicSearcher) SearchFullText(context.Context, string) ([]*store.Document, error) {
	panic("index corrupted")
}

func TestProcess_IsolatesBadSubscriptions(t *testing.T) {
	// WHAT: invalid, failing and panicking subscriptions are skipped; the rest still run.
	// WHY: one broken subscriber must not starve the others.
	f := newFixture(t, threeDocs...)
	r, _ := render.New()
	f.eval = NewEvaluator(matcher.New(matcher.Options{}), nil, panicSearcher{}, r)
	subs := []subscription.Subscription{
		{ID: "", Type: "all"},
		{ID: "2", Type: "telepathy"},
		{ID: "3", Type: "keyword", Parameters: " , "},
		{ID: "4", Type: "fulltext", Parameters: "adó"},
		{ID: "5", Type: "keyword", Parameters: "adó"},
	}
	rep := f.dispatcher().Process(context.Background(), subs, f.docs)
	if rep.Skipped != 3 || rep.Failed != 1 || rep.Evaluated != 1 {
		t.Fatalf("report: %+v", rep)
	}
	if len(f.notifier.sent) != 1 || f.notifier.sent[0].SubscriptionID != "5" {
		t.Fatalf("sent: %+v", f.notifier.sent)
	}
	if len(rep.Consumed) != 3 {
		t.Fatalf("consumed %v", rep.Consumed)
	}
}

func TestProcess_CancelledContext(t *testing.T) {
	// WHAT: a cancelled context stops the pass before any subscription runs.
	// WHY: shutdown must not send half a batch.
	f := newFixture(t, threeDocs...)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep := f.dispatcher().Process(ctx, []subscription.Subscription{{ID: "1", Type: "all"}}, f.docs)
	if !rep.Interrupted || rep.Evaluated != 0 || len(f.notifier.sent) != 0 {
		t.Fatalf("report: %+v", rep)
	}
}

func TestProcess_CancelledMidPassSkipsMarking(t *testing.T) {
	// WHAT: a cancel during the pass stops the remaining subscriptions and
	// marks nothing, without a failure per hash.
	// WHY: the next run rediscovers the documents and finishes the job.
	f := newFixture(t, threeDocs...)
	ctx, cancel := context.WithCancel(context.Background())
	n := notify.NotifierFunc(func(ctx context.Context, nt notify.Notification) error {
		cancel()
		return f.notifier.Notify(ctx, nt)
	})
	subs := []subscription.Subscription{{ID: "1", Type: "all"}, {ID: "2", Type: "all"}}
	rep := NewDispatcher(f.eval, n, f.store, WithRunID("run_test"), WithJournal(f.journal)).Process(ctx, subs, f.docs)

	if !rep.Interrupted || rep.Evaluated != 1 || len(f.notifier.sent) != 1 {
		t.Fatalf("report: %+v", rep)
	}
	if rep.MarkFailed != 0 || len(rep.Consumed) != 0 {
		t.Fatalf("marking ran after cancel: consumed=%v failed=%d", rep.Consumed, rep.MarkFailed)
	}
	if left := f.newHashes(t); len(left) != 3 {
		t.Fatalf("new after interrupted pass: %v", left)
	}
}

type failingMarker struct{ calls int }

func (m *failingMarker) MarkConsumed(context.Context, ...string) error {
	m.calls++
	return errors.New("database is locked")
}

func TestProcess_MarkFailureReportsWholeUnion(t *testing.T) {
	// WHAT: the union is marked in one call; its failure counts every hash.
	// WHY: marking is all or nothing, so none of the hashes is consumed.
	f := newFixture(t, threeDocs...)
	m := &failingMarker{}
	d := NewDispatcher(f.eval, f.notifier, m, WithRunID("run_test"), WithJournal(f.journal))
	rep := d.Process(context.Background(), []subscription.Subscription{{ID: "1", Type: "all"}}, f.docs)

	if m.calls != 1 || rep.MarkFailed != 3 || len(rep.Consumed) != 0 {
		t.Fatalf("calls=%d report=%+v", m.calls, rep)
	}
	if left := f.newHashes(t); len(left) != 3 {
		t.Fatalf("new: %v", left)
	}
}
