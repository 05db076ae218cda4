package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS providers (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    name             TEXT NOT NULL UNIQUE,
    base_url         TEXT NOT NULL,
    api_key          TEXT NOT NULL,
    api_format       TEXT NOT NULL DEFAULT 'openai',
    enabled          INTEGER NOT NULL DEFAULT 1,
    total_requests   INTEGER NOT NULL DEFAULT 0,
    success_requests INTEGER NOT NULL DEFAULT 0,
    error_requests   INTEGER NOT NULL DEFAULT 0,
    created_at       TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at       TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS model_endpoints (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    provider_id          INTEGER NOT NULL REFERENCES providers(id) ON DELETE CASCADE,
    model_id             TEXT NOT NULL,
    pool                 TEXT,
    enabled              INTEGER NOT NULL DEFAULT 1,
    weight               INTEGER NOT NULL DEFAULT 1,
    min_interval_seconds INTEGER NOT NULL DEFAULT 0,
    last_request_at      TEXT,
    total_requests       INTEGER NOT NULL DEFAULT 0,
    success_requests     INTEGER NOT NULL DEFAULT 0,
    error_requests       INTEGER NOT NULL DEFAULT 0,
    avg_latency_ms       REAL NOT NULL DEFAULT 0,
    last_error           TEXT,
    created_at           TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at           TEXT NOT NULL DEFAULT (datetime('now')),
    UNIQUE (provider_id, model_id)
);

CREATE INDEX IF NOT EXISTS idx_model_endpoints_pool
    ON model_endpoints(pool, enabled);

CREATE TABLE IF NOT EXISTS pools (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    pool_type          TEXT NOT NULL UNIQUE,
    virtual_model_name TEXT NOT NULL,
    cooldown_seconds   INTEGER NOT NULL DEFAULT 60,
    max_retries        INTEGER NOT NULL DEFAULT 3,
    timeout_seconds    INTEGER NOT NULL DEFAULT 60,
    created_at         TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at         TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS request_logs (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    pool            TEXT NOT NULL,
    requested_model TEXT NOT NULL,
    actual_model    TEXT NOT NULL,
    provider_name   TEXT NOT NULL,
    success         INTEGER NOT NULL,
    status_code     INTEGER,
    error_message   TEXT,
    latency_ms      INTEGER NOT NULL DEFAULT 0,
    input_tokens    INTEGER,
    output_tokens   INTEGER,
    created_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_request_logs_created_at
    ON request_logs(created_at);
`
