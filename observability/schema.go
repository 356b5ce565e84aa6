package observability

// Schema holds the DDL for the run journal. It lives in the same database as
// the document store; Init or dbopen.WithSchema applies it.
const Schema = `
CREATE TABLE IF NOT EXISTS run_events (
    event_id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    entity_type TEXT,
    entity_id TEXT,
    details TEXT,
    success INTEGER NOT NULL DEFAULT 1 CHECK (success IN (0, 1)),
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id, created_at);
CREATE INDEX IF NOT EXISTS idx_run_events_time ON run_events(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_run_events_type ON run_events(event_type, created_at DESC);

CREATE TABLE IF NOT EXISTS run_metrics (
    metric_id INTEGER PRIMARY KEY,
    run_id TEXT,
    metric_name TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    value REAL NOT NULL,
    labels TEXT,
    unit TEXT
);
CREATE INDEX IF NOT EXISTS idx_run_metrics_name_time ON run_metrics(metric_name, timestamp DESC);
`
