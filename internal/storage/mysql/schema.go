package mysql

const schema = `
-- Raw notifications, one row per accepted event. Decimal timestamps use
-- DECIMAL(20,6): 14 integer digits of UTC datetime plus microseconds,
-- compared numerically by the server.
CREATE TABLE IF NOT EXISTS raw_data (
    id BIGINT NOT NULL AUTO_INCREMENT,
    deployment_id BIGINT NOT NULL DEFAULT 0,
    when_ts DECIMAL(20,6) NOT NULL,
    host VARCHAR(100) NOT NULL DEFAULT '',
    service VARCHAR(50) NOT NULL DEFAULT '',
    routing_key VARCHAR(50) NOT NULL DEFAULT '',
    event VARCHAR(50) NOT NULL DEFAULT '',
    request_id VARCHAR(50) NOT NULL DEFAULT '',
    instance_id VARCHAR(50),
    state VARCHAR(20),
    old_task VARCHAR(30),
    json LONGTEXT NOT NULL,
    PRIMARY KEY (id),
    KEY idx_raw_data_instance (instance_id),
    KEY idx_raw_data_request (request_id),
    KEY idx_raw_data_when (when_ts),
    KEY idx_raw_data_event (event)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

-- Per-instance aggregate state
CREATE TABLE IF NOT EXISTS lifecycles (
    id BIGINT NOT NULL AUTO_INCREMENT,
    instance_id VARCHAR(50) NOT NULL,
    last_state VARCHAR(20) NOT NULL DEFAULT '',
    last_task_state VARCHAR(30) NOT NULL DEFAULT '',
    last_raw_id BIGINT,
    PRIMARY KEY (id),
    UNIQUE KEY uq_lifecycles_instance (instance_id),
    CONSTRAINT fk_lifecycles_last_raw FOREIGN KEY (last_raw_id) REFERENCES raw_data(id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

-- Start/end pairs per (lifecycle, event name)
CREATE TABLE IF NOT EXISTS timings (
    id BIGINT NOT NULL AUTO_INCREMENT,
    lifecycle_id BIGINT NOT NULL,
    name VARCHAR(50) NOT NULL DEFAULT '',
    start_raw_id BIGINT,
    start_when DECIMAL(20,6),
    end_raw_id BIGINT,
    end_when DECIMAL(20,6),
    diff DECIMAL(20,6),
    PRIMARY KEY (id),
    KEY idx_timings_lifecycle_name (lifecycle_id, name),
    CONSTRAINT fk_timings_lifecycle FOREIGN KEY (lifecycle_id) REFERENCES lifecycles(id),
    CONSTRAINT fk_timings_start_raw FOREIGN KEY (start_raw_id) REFERENCES raw_data(id),
    CONSTRAINT fk_timings_end_raw FOREIGN KEY (end_raw_id) REFERENCES raw_data(id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

-- Request-scoped latency accumulators
CREATE TABLE IF NOT EXISTS request_trackers (
    id BIGINT NOT NULL AUTO_INCREMENT,
    request_id VARCHAR(50) NOT NULL,
    lifecycle_id BIGINT NOT NULL,
    start_ts DECIMAL(20,6) NOT NULL,
    last_timing_id BIGINT,
    duration DECIMAL(20,6) NOT NULL DEFAULT 0,
    PRIMARY KEY (id),
    UNIQUE KEY uq_trackers_request (request_id),
    CONSTRAINT fk_trackers_lifecycle FOREIGN KEY (lifecycle_id) REFERENCES lifecycles(id),
    CONSTRAINT fk_trackers_last_timing FOREIGN KEY (last_timing_id) REFERENCES timings(id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

-- Billing identity per launch
CREATE TABLE IF NOT EXISTS instance_usages (
    id BIGINT NOT NULL AUTO_INCREMENT,
    instance_id VARCHAR(50) NOT NULL,
    request_id VARCHAR(50) NOT NULL DEFAULT '',
    launched_at DECIMAL(20,6),
    instance_type_id VARCHAR(50),
    tenant VARCHAR(50),
    rax_options VARCHAR(50),
    os_architecture VARCHAR(50),
    os_version VARCHAR(50),
    os_distro VARCHAR(50),
    PRIMARY KEY (id),
    UNIQUE KEY uq_usages_instance_request (instance_id, request_id),
    KEY idx_usages_instance_launched (instance_id, launched_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

-- Teardown records
CREATE TABLE IF NOT EXISTS instance_deletes (
    id BIGINT NOT NULL AUTO_INCREMENT,
    instance_id VARCHAR(50) NOT NULL,
    launched_at DECIMAL(20,6),
    deleted_at DECIMAL(20,6) NOT NULL,
    PRIMARY KEY (id),
    UNIQUE KEY uq_deletes_instance_deleted (instance_id, deleted_at),
    KEY idx_deletes_instance_launched (instance_id, launched_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

-- Out-of-band reconciliation snapshots, written by an external process
CREATE TABLE IF NOT EXISTS instance_reconciles (
    id BIGINT NOT NULL AUTO_INCREMENT,
    instance_id VARCHAR(50) NOT NULL,
    launched_at DECIMAL(20,6) NOT NULL,
    deleted_at DECIMAL(20,6),
    instance_type_id VARCHAR(50),
    tenant VARCHAR(50),
    rax_options VARCHAR(50),
    os_architecture VARCHAR(50),
    os_version VARCHAR(50),
    os_distro VARCHAR(50),
    PRIMARY KEY (id),
    KEY idx_reconciles_instance_launched (instance_id, launched_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

-- Periodic audit records awaiting verification
CREATE TABLE IF NOT EXISTS instance_exists (
    id BIGINT NOT NULL AUTO_INCREMENT,
    message_id VARCHAR(50) NOT NULL,
    instance_id VARCHAR(50) NOT NULL,
    launched_at DECIMAL(20,6),
    deleted_at DECIMAL(20,6),
    audit_period_beginning DECIMAL(20,6) NOT NULL,
    audit_period_ending DECIMAL(20,6) NOT NULL,
    instance_type_id VARCHAR(50),
    tenant VARCHAR(50),
    rax_options VARCHAR(50),
    os_architecture VARCHAR(50),
    os_version VARCHAR(50),
    os_distro VARCHAR(50),
    usage_id BIGINT,
    delete_id BIGINT,
    raw_id BIGINT NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    fail_reason VARCHAR(300) NOT NULL DEFAULT '',
    PRIMARY KEY (id),
    UNIQUE KEY uq_exists_message (message_id),
    KEY idx_exists_status_ending (status, audit_period_ending),
    KEY idx_exists_instance (instance_id),
    CONSTRAINT fk_exists_usage FOREIGN KEY (usage_id) REFERENCES instance_usages(id),
    CONSTRAINT fk_exists_delete FOREIGN KEY (delete_id) REFERENCES instance_deletes(id),
    CONSTRAINT fk_exists_raw FOREIGN KEY (raw_id) REFERENCES raw_data(id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
`
