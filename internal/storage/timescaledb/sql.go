package timescaledb

const createExtensionSQL = `CREATE EXTENSION IF NOT EXISTS timescaledb;`

const createTableSQL = `
CREATE TABLE IF NOT EXISTS alerts (
    time timestamp WITH TIME ZONE NOT NULL,
    id uuid NOT NULL,
    kind text NOT NULL,
    vehicle_id integer NOT NULL,
    highway integer NOT NULL,
    direction smallint NOT NULL,
    event_time bigint NOT NULL,
    payload jsonb NOT NULL,
    PRIMARY KEY (id, time)
);`

const createHypertableSQL = `SELECT create_hypertable('alerts', 'time', if_not_exists => true);`

const createVehicleIndexSQL = `CREATE INDEX IF NOT EXISTS alerts_vehicle_idx ON alerts (vehicle_id, time DESC);`

// Hourly alert counts per kind, for dashboards
const createHourlyViewSQL = `
CREATE MATERIALIZED VIEW IF NOT EXISTS alerts_1h
WITH (timescaledb.continuous) AS
SELECT
    time_bucket('1 hour', time) AS bucket,
    kind,
    count(*) AS alerts,
    max(event_time) AS last_event_time
FROM alerts
GROUP BY bucket, kind
WITH NO DATA;`

const addHourlyPolicySQL = `SELECT add_continuous_aggregate_policy('alerts_1h',
    start_offset => INTERVAL '1 day',
    end_offset => INTERVAL '1 hour',
    schedule_interval => INTERVAL '1 hour',
    if_not_exists => true);`
