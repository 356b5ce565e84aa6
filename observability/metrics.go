// Package observability keeps the run journal of kozlony inside the document
// database: business events of each run and the counters it produced.
//
// Journal writes are best effort. A failed insert is logged and dropped, it
// never fails the run that produced it.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Metric names recorded at the end of a run.
const (
	MetricDocumentsInserted = "documents_inserted"
	MetricDocumentsSkipped  = "documents_skipped"
	MetricSubscriptions     = "subscriptions_evaluated"
	MetricNotificationsSent = "notifications_sent"
	MetricDocumentsConsumed = "documents_consumed"
	MetricRunDurationMs     = "run_duration_ms"
)

// Metric is a single datapoint.
type Metric struct {
	RunID     string
	Name      string
	Timestamp time.Time
	Value     float64
	Labels    map[string]string
	Unit      string // "count", "milliseconds"
}

// MetricsManager buffers metrics and writes them in one transaction on
// Flush or Close. A full buffer flushes immediately.
type MetricsManager struct {
	db         *sql.DB
	bufferSize int
	logger     *slog.Logger

	mu     sync.Mutex
	buffer []*Metric
}

// NewMetricsManager creates a manager. bufferSize <= 0 means 100.
func NewMetricsManager(db *sql.DB, bufferSize int, logger *slog.Logger) *MetricsManager {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MetricsManager{
		db:         db,
		bufferSize: bufferSize,
		logger:     logger,
		buffer:     make([]*Metric, 0, bufferSize),
	}
}

// Record queues a metric. A nil manager drops it.
func (mm *MetricsManager) Record(m *Metric) {
	if mm == nil {
		return
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.buffer = append(mm.buffer, m)
	if len(mm.buffer) >= mm.bufferSize {
		mm.flushLocked(context.Background())
	}
}

// Count is shorthand for a "count" metric of one run.
func (mm *MetricsManager) Count(runID, name string, value int) {
	mm.Record(&Metric{RunID: runID, Name: name, Value: float64(value), Unit: "count"})
}

// Flush writes the buffered metrics.
func (mm *MetricsManager) Flush(ctx context.Context) {
	if mm == nil {
		return
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.flushLocked(ctx)
}

// Close flushes the remaining metrics.
func (mm *MetricsManager) Close() error {
	mm.Flush(context.Background())
	return nil
}

// Query returns metrics filtered by name and run, newest first.
// Empty filters match everything; limit <= 0 means unbounded.
func (mm *MetricsManager) Query(ctx context.Context, name, runID string, limit int) ([]*Metric, error) {
	if mm == nil {
		return nil, nil
	}
	q := "SELECT COALESCE(run_id, ''), metric_name, timestamp, value, labels, COALESCE(unit, '') FROM run_metrics WHERE 1=1"
	args := make([]any, 0, 3)
	if name != "" {
		q += " AND metric_name = ?"
		args = append(args, name)
	}
	if runID != "" {
		q += " AND run_id = ?"
		args = append(args, runID)
	}
	q += " ORDER BY timestamp DESC, metric_id DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := mm.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var out []*Metric
	for rows.Next() {
		var m Metric
		var ts int64
		var labels sql.NullString
		if err := rows.Scan(&m.RunID, &m.Name, &ts, &m.Value, &labels, &m.Unit); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.Timestamp = time.Unix(ts, 0)
		if labels.Valid {
			_ = json.Unmarshal([]byte(labels.String), &m.Labels)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (mm *MetricsManager) flushLocked(ctx context.Context) {
	if len(mm.buffer) == 0 {
		return
	}
	defer func() { mm.buffer = mm.buffer[:0] }()

	tx, err := mm.db.BeginTx(ctx, nil)
	if err != nil {
		mm.logger.Error("observability: metrics begin tx", "error", err)
		return
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_metrics (run_id, metric_name, timestamp, value, labels, unit) VALUES (?,?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		mm.logger.Error("observability: metrics prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, m := range mm.buffer {
		var labels sql.NullString
		if len(m.Labels) > 0 {
			if b, err := json.Marshal(m.Labels); err == nil {
				labels = sql.NullString{String: string(b), Valid: true}
			}
		}
		if _, err := stmt.ExecContext(ctx, nullable(m.RunID), m.Name, m.Timestamp.Unix(), m.Value, labels, m.Unit); err != nil {
			mm.logger.Error("observability: metrics insert", "error", err, "metric", m.Name)
		}
	}
	if err := tx.Commit(); err != nil {
		mm.logger.Error("observability: metrics commit", "error", err)
	}
}
