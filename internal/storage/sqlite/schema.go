package sqlite

const schema = `
-- Raw notifications, one row per accepted event. Decimal timestamps are
-- stored as fixed-precision text (14 integer digits + 6 fractional), so
-- lexicographic comparison on these columns matches numeric comparison.
CREATE TABLE IF NOT EXISTS raw_data (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    deployment_id INTEGER NOT NULL DEFAULT 0,
    when_ts TEXT NOT NULL,
    host TEXT NOT NULL DEFAULT '',
    service TEXT NOT NULL DEFAULT '',
    routing_key TEXT NOT NULL DEFAULT '',
    event TEXT NOT NULL DEFAULT '',
    request_id TEXT NOT NULL DEFAULT '',
    instance_id TEXT,
    state TEXT,
    old_task TEXT,
    json TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_raw_data_instance ON raw_data(instance_id);
CREATE INDEX IF NOT EXISTS idx_raw_data_request ON raw_data(request_id);
CREATE INDEX IF NOT EXISTS idx_raw_data_when ON raw_data(when_ts);
CREATE INDEX IF NOT EXISTS idx_raw_data_event ON raw_data(event);

-- Per-instance aggregate state
CREATE TABLE IF NOT EXISTS lifecycles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    instance_id TEXT NOT NULL UNIQUE,
    last_state TEXT NOT NULL DEFAULT '',
    last_task_state TEXT NOT NULL DEFAULT '',
    last_raw_id INTEGER REFERENCES raw_data(id)
);

-- Start/end pairs per (lifecycle, event name)
CREATE TABLE IF NOT EXISTS timings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    lifecycle_id INTEGER NOT NULL REFERENCES lifecycles(id),
    name TEXT NOT NULL DEFAULT '',
    start_raw_id INTEGER REFERENCES raw_data(id),
    start_when TEXT,
    end_raw_id INTEGER REFERENCES raw_data(id),
    end_when TEXT,
    diff TEXT
);

CREATE INDEX IF NOT EXISTS idx_timings_lifecycle_name ON timings(lifecycle_id, name);

-- Request-scoped latency accumulators
CREATE TABLE IF NOT EXISTS request_trackers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL UNIQUE,
    lifecycle_id INTEGER NOT NULL REFERENCES lifecycles(id),
    start_ts TEXT NOT NULL,
    last_timing_id INTEGER REFERENCES timings(id),
    duration TEXT NOT NULL DEFAULT '0.000000'
);

-- Billing identity per launch
CREATE TABLE IF NOT EXISTS instance_usages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    instance_id TEXT NOT NULL,
    request_id TEXT NOT NULL DEFAULT '',
    launched_at TEXT,
    instance_type_id TEXT,
    tenant TEXT,
    rax_options TEXT,
    os_architecture TEXT,
    os_version TEXT,
    os_distro TEXT,
    UNIQUE(instance_id, request_id)
);

CREATE INDEX IF NOT EXISTS idx_usages_instance_launched ON instance_usages(instance_id, launched_at);

-- Teardown records
CREATE TABLE IF NOT EXISTS instance_deletes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    instance_id TEXT NOT NULL,
    launched_at TEXT,
    deleted_at TEXT NOT NULL,
    UNIQUE(instance_id, deleted_at)
);

CREATE INDEX IF NOT EXISTS idx_deletes_instance_launched ON instance_deletes(instance_id, launched_at);

-- Out-of-band reconciliation snapshots, written by an external process
CREATE TABLE IF NOT EXISTS instance_reconciles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    instance_id TEXT NOT NULL,
    launched_at TEXT NOT NULL,
    deleted_at TEXT,
    instance_type_id TEXT,
    tenant TEXT,
    rax_options TEXT,
    os_architecture TEXT,
    os_version TEXT,
    os_distro TEXT
);

CREATE INDEX IF NOT EXISTS idx_reconciles_instance_launched ON instance_reconciles(instance_id, launched_at);

-- Periodic audit records awaiting verification
CREATE TABLE IF NOT EXISTS instance_exists (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    message_id TEXT NOT NULL UNIQUE,
    instance_id TEXT NOT NULL,
    launched_at TEXT,
    deleted_at TEXT,
    audit_period_beginning TEXT NOT NULL,
    audit_period_ending TEXT NOT NULL,
    instance_type_id TEXT,
    tenant TEXT,
    rax_options TEXT,
    os_architecture TEXT,
    os_version TEXT,
    os_distro TEXT,
    usage_id INTEGER REFERENCES instance_usages(id),
    delete_id INTEGER REFERENCES instance_deletes(id),
    raw_id INTEGER NOT NULL REFERENCES raw_data(id),
    status TEXT NOT NULL DEFAULT 'pending',
    fail_reason TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_exists_status_ending ON instance_exists(status, audit_period_ending);
CREATE INDEX IF NOT EXISTS idx_exists_instance ON instance_exists(instance_id);
`
