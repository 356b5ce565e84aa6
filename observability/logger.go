package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/kozlony/idgen"
)

// Event types written by a run.
const (
	EventIngestInserted = "ingest.inserted"
	EventIngestFailed   = "ingest.failed"
	EventNotifySent     = "notify.sent"
	EventNotifyFailed   = "notify.failed"
	EventConsumeMarked  = "consume.marked"
	EventRunCompleted   = "run.completed"
)

// Event is one row of the run journal.
type Event struct {
	ID         string         `json:"id"`
	RunID      string         `json:"run_id"`
	Type       string         `json:"type"`
	EntityType string         `json:"entity_type,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Success    bool           `json:"success"`
	CreatedAt  time.Time      `json:"created_at"`
}

// EventLogger writes run events and manages retention cleanup.
type EventLogger struct {
	db     *sql.DB
	newID  idgen.Generator
	now    func() time.Time
	logger *slog.Logger
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// WithEventClock overrides the timestamp source.
func WithEventClock(now func() time.Time) EventLoggerOption {
	return func(l *EventLogger) { l.now = now }
}

// WithEventSlog sets the logger used to report journal write failures.
func WithEventSlog(logger *slog.Logger) EventLoggerOption {
	return func(l *EventLogger) { l.logger = logger }
}

// NewEventLogger creates a journal backed by db. db must carry Schema.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:     db,
		newID:  idgen.Prefixed("evt_", idgen.Default),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent records an event. Errors are logged via slog and never returned,
// so a failing journal does not stop a run. A nil EventLogger is a no-op.
func (l *EventLogger) LogEvent(ctx context.Context, ev Event) {
	if l == nil {
		return
	}
	var details sql.NullString
	if len(ev.Details) > 0 {
		b, err := json.Marshal(ev.Details)
		if err == nil {
			details = sql.NullString{String: string(b), Valid: true}
		}
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO run_events (
			event_id, run_id, event_type, entity_type, entity_id, details, success, created_at
		) VALUES (?,?,?,?,?,?,?,?)`,
		l.newID(), ev.RunID, ev.Type, nullable(ev.EntityType), nullable(ev.EntityID),
		details, ev.Success, l.now().UnixMilli())
	if err != nil {
		l.logger.Error("observability: event log failed", "error", err, "event_type", ev.Type, "run_id", ev.RunID)
	}
}

// Events returns the journal of one run in write order.
func (l *EventLogger) Events(ctx context.Context, runID string) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_id, run_id, event_type, COALESCE(entity_type, ''), COALESCE(entity_id, ''),
		       details, success, created_at
		FROM run_events WHERE run_id = ? ORDER BY created_at, event_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var details sql.NullString
		var ts int64
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Type, &ev.EntityType, &ev.EntityID,
			&details, &ev.Success, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.CreatedAt = time.UnixMilli(ts)
		if details.Valid {
			_ = json.Unmarshal([]byte(details.String), &ev.Details)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// RetentionConfig specifies per-table retention in days. Zero means no cleanup.
type RetentionConfig struct {
	EventDays      int
	MetricDays     int
	RunVacuumAfter bool
}

// Cleanup deletes journal rows older than the retention thresholds.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	return cleanupAt(ctx, db, cfg, time.Now())
}

func cleanupAt(ctx context.Context, db *sql.DB, cfg RetentionConfig, now time.Time) error {
	// Table and column names are fixed here, never taken from input.
	targets := []struct {
		table  string
		column string
		days   int
		unit   time.Duration
	}{
		{"run_events", "created_at", cfg.EventDays, time.Millisecond},
		{"run_metrics", "timestamp", cfg.MetricDays, time.Second},
	}

	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		cutoff := now.AddDate(0, 0, -t.days).UnixNano() / int64(t.unit)
		q := fmt.Sprintf("DELETE FROM %s WHERE %s < ?", t.table, t.column)
		if _, err := db.ExecContext(ctx, q, cutoff); err != nil {
			return fmt.Errorf("cleanup %s: %w", t.table, err)
		}
	}

	if cfg.RunVacuumAfter {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("vacuum: %w", err)
		}
	}
	return nil
}
