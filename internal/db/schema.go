package db

import (
	"context"
	"fmt"
)

// Table creation statements. Unique constraints carry the dedup keys that
// make repeated ingestion of the same logical update a no-op, and the
// matched_arrivals key that keeps matching reruns idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS rt_trip_updates (
		id BIGSERIAL PRIMARY KEY,
		trip_id TEXT NOT NULL,
		route_id TEXT NOT NULL DEFAULT '',
		stop_id TEXT NOT NULL,
		stop_sequence INTEGER NOT NULL DEFAULT 0,
		arrival_delay INTEGER,
		arrival_time TIMESTAMPTZ,
		departure_delay INTEGER,
		departure_time TIMESTAMPTZ,
		schedule_relationship TEXT NOT NULL DEFAULT 'SCHEDULED',
		feed_timestamp TIMESTAMPTZ NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL,
		UNIQUE (trip_id, stop_id, feed_timestamp)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rt_trip_updates_feed_ts
		ON rt_trip_updates (feed_timestamp)`,

	`CREATE TABLE IF NOT EXISTS rt_vehicle_positions (
		id BIGSERIAL PRIMARY KEY,
		vehicle_id TEXT NOT NULL,
		trip_id TEXT NOT NULL DEFAULT '',
		route_id TEXT NOT NULL DEFAULT '',
		latitude DOUBLE PRECISION NOT NULL,
		longitude DOUBLE PRECISION NOT NULL,
		bearing DOUBLE PRECISION,
		speed DOUBLE PRECISION,
		current_stop_sequence INTEGER,
		current_status TEXT NOT NULL DEFAULT '',
		feed_timestamp TIMESTAMPTZ NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL,
		UNIQUE (vehicle_id, feed_timestamp)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rt_vehicle_positions_feed_ts
		ON rt_vehicle_positions (feed_timestamp)`,

	`CREATE TABLE IF NOT EXISTS rt_alerts (
		id BIGSERIAL PRIMARY KEY,
		alert_id TEXT NOT NULL,
		cause TEXT NOT NULL DEFAULT '',
		effect TEXT NOT NULL DEFAULT '',
		header_text TEXT NOT NULL DEFAULT '',
		description_text TEXT NOT NULL DEFAULT '',
		active_period_start TIMESTAMPTZ,
		active_period_end TIMESTAMPTZ,
		informed_route_id TEXT NOT NULL DEFAULT '',
		informed_stop_id TEXT NOT NULL DEFAULT '',
		informed_trip_id TEXT NOT NULL DEFAULT '',
		feed_timestamp TIMESTAMPTZ NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL,
		UNIQUE (alert_id, informed_route_id, informed_stop_id, feed_timestamp)
	)`,

	`CREATE TABLE IF NOT EXISTS rt_ingest_meta (
		feed_type TEXT PRIMARY KEY,
		last_success_at TIMESTAMPTZ,
		last_attempt_at TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL DEFAULT 'unknown',
		error_message TEXT NOT NULL DEFAULT '',
		feed_hash TEXT NOT NULL DEFAULT '',
		entity_count INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS stop_times (
		trip_id TEXT NOT NULL,
		stop_id TEXT NOT NULL,
		stop_sequence INTEGER NOT NULL,
		sched_arrival_sec INTEGER NOT NULL,
		PRIMARY KEY (trip_id, stop_sequence)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stop_times_trip_stop
		ON stop_times (trip_id, stop_id)`,

	`CREATE TABLE IF NOT EXISTS matched_arrivals (
		id BIGSERIAL PRIMARY KEY,
		trip_id TEXT NOT NULL,
		stop_id TEXT NOT NULL,
		stop_sequence INTEGER NOT NULL,
		service_date DATE NOT NULL,
		scheduled_ts TIMESTAMPTZ NOT NULL,
		observed_ts TIMESTAMPTZ NOT NULL,
		delay_sec INTEGER NOT NULL,
		match_status TEXT NOT NULL,
		match_confidence DOUBLE PRECISION NOT NULL,
		source_feed_ts TIMESTAMPTZ NOT NULL,
		rt_trip_update_id BIGINT,
		UNIQUE (trip_id, stop_id, stop_sequence, service_date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_matched_arrivals_service_date
		ON matched_arrivals (service_date)`,
}

// EnsureSchema creates all tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
