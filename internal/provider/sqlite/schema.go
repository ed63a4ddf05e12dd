// Package sqlite implements durable pattern and history stores on SQLite.
package sqlite

const schemaDDL = `
CREATE TABLE IF NOT EXISTS learning_patterns (
    pattern_id          TEXT PRIMARY KEY,
    pattern_type        TEXT NOT NULL,
    success_count       INTEGER NOT NULL DEFAULT 0,
    failure_count       INTEGER NOT NULL DEFAULT 0,
    average_improvement REAL NOT NULL DEFAULT 0,
    applicable_contexts TEXT NOT NULL DEFAULT '[]',
    confidence_score    REAL NOT NULL DEFAULT 0,
    last_updated        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS change_history (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle_id   TEXT NOT NULL,
    entry_type TEXT NOT NULL,
    timestamp  TEXT NOT NULL,
    data       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_change_history_cycle ON change_history (cycle_id);
`
