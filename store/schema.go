package store

const schema = `
CREATE TABLE IF NOT EXISTS meter_snapshots (
    id                    INTEGER PRIMARY KEY AUTOINCREMENT,
    meter_id              TEXT NOT NULL,
    meter_name            TEXT,
    local_timestamp       TEXT NOT NULL,
    api_timestamp         TEXT,
    raw_data              TEXT NOT NULL,
    current_reading_delta REAL,
    balance_unit_delta    REAL,
    poll_successful       INTEGER NOT NULL DEFAULT 1,
    error_message         TEXT,
    is_online             INTEGER,
    anomalies             TEXT,
    created_at            TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_meter_timestamp
ON meter_snapshots (meter_id, local_timestamp);

CREATE TABLE IF NOT EXISTS system_metadata (
    key        TEXT PRIMARY KEY,
    value      TEXT,
    updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
