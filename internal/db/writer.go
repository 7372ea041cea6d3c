package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"transit-reliability/internal/gtfs"
)

// Batch writers for the three realtime tables. Every insert is
// "skip on conflict" keyed on the table's dedup columns, so duplicate rows
// within or across polls are silently dropped and reported in the count
// difference, never treated as an error. Each batch commits on its own;
// a failing batch rolls back only itself.

var (
	tripUpdateColumns = []string{
		"trip_id", "route_id", "stop_id", "stop_sequence",
		"arrival_delay", "arrival_time", "departure_delay", "departure_time",
		"schedule_relationship", "feed_timestamp", "recorded_at",
	}
	tripUpdateConflict = []string{"trip_id", "stop_id", "feed_timestamp"}

	vehiclePositionColumns = []string{
		"vehicle_id", "trip_id", "route_id", "latitude", "longitude",
		"bearing", "speed", "current_stop_sequence", "current_status",
		"feed_timestamp", "recorded_at",
	}
	vehiclePositionConflict = []string{"vehicle_id", "feed_timestamp"}

	alertColumns = []string{
		"alert_id", "cause", "effect", "header_text", "description_text",
		"active_period_start", "active_period_end",
		"informed_route_id", "informed_stop_id", "informed_trip_id",
		"feed_timestamp", "recorded_at",
	}
	alertConflict = []string{"alert_id", "informed_route_id", "informed_stop_id", "feed_timestamp"}
)

// InsertTripUpdates batch-inserts trip update rows, returning how many were
// actually inserted (duplicates excluded).
func (s *Store) InsertTripUpdates(ctx context.Context, rows []gtfs.TripUpdateRow) (int, error) {
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = []any{
			r.TripID, r.RouteID, r.StopID, r.StopSequence,
			r.ArrivalDelay, r.ArrivalTime, r.DepartureDelay, r.DepartureTime,
			r.ScheduleRelationship, r.FeedTimestamp, r.RecordedAt,
		}
	}
	return s.insertBatches(ctx, "rt_trip_updates", tripUpdateColumns, tripUpdateConflict, values)
}

// InsertVehiclePositions batch-inserts vehicle position rows.
func (s *Store) InsertVehiclePositions(ctx context.Context, rows []gtfs.VehiclePositionRow) (int, error) {
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = []any{
			r.VehicleID, r.TripID, r.RouteID, r.Latitude, r.Longitude,
			r.Bearing, r.Speed, r.CurrentStopSequence, r.CurrentStatus,
			r.FeedTimestamp, r.RecordedAt,
		}
	}
	return s.insertBatches(ctx, "rt_vehicle_positions", vehiclePositionColumns, vehiclePositionConflict, values)
}

// InsertAlerts batch-inserts alert rows.
func (s *Store) InsertAlerts(ctx context.Context, rows []gtfs.AlertRow) (int, error) {
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = []any{
			r.AlertID, r.Cause, r.Effect, r.HeaderText, r.DescriptionText,
			r.ActivePeriodStart, r.ActivePeriodEnd,
			r.InformedRouteID, r.InformedStopID, r.InformedTripID,
			r.FeedTimestamp, r.RecordedAt,
		}
	}
	return s.insertBatches(ctx, "rt_alerts", alertColumns, alertConflict, values)
}

func (s *Store) insertBatches(ctx context.Context, table string, cols, conflictCols []string, values [][]any) (int, error) {
	total := 0
	for start := 0; start < len(values); start += s.batchSize {
		end := start + s.batchSize
		if end > len(values) {
			end = len(values)
		}
		batch := values[start:end]

		stmt := insertSkipConflictSQL(table, cols, conflictCols, len(batch))
		args := make([]any, 0, len(batch)*len(cols))
		for _, row := range batch {
			args = append(args, row...)
		}

		res, err := s.db.ExecContext(ctx, stmt, args...)
		if err != nil {
			return total, &WriteError{Table: table, Err: err}
		}
		if n, err := res.RowsAffected(); err == nil {
			total += int(n)
		}
	}
	return total, nil
}

// insertSkipConflictSQL builds a multi-row
// INSERT ... ON CONFLICT (...) DO NOTHING statement with $n placeholders.
func insertSkipConflictSQL(table string, cols, conflictCols []string, rowCount int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, strings.Join(cols, ", "))
	arg := 1
	for i := 0; i < rowCount; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range cols {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", arg)
			arg++
		}
		b.WriteByte(')')
	}
	fmt.Fprintf(&b, " ON CONFLICT (%s) DO NOTHING", strings.Join(conflictCols, ", "))
	return b.String()
}

// UpdateIngestMeta upserts the single status row for a feed type.
// last_success_at only advances on an "ok" status; last_attempt_at, status,
// error_message, feed_hash and entity_count advance on every attempt.
// Committed on its own so meta reflects reality even when row writes fail.
func (s *Store) UpdateIngestMeta(ctx context.Context, meta gtfs.IngestMetaUpdate) error {
	now := time.Now().UTC()
	errMsg := meta.ErrorMessage
	if len(errMsg) > 500 {
		errMsg = errMsg[:500]
	}

	stmt := `
		INSERT INTO rt_ingest_meta
			(feed_type, last_success_at, last_attempt_at, status, error_message, feed_hash, entity_count)
		VALUES
			($1, CASE WHEN $3 = 'ok' THEN $2 END, $2, $3, $4, $5, $6)
		ON CONFLICT (feed_type) DO UPDATE SET
			last_success_at = CASE
				WHEN EXCLUDED.status = 'ok' THEN EXCLUDED.last_attempt_at
				ELSE rt_ingest_meta.last_success_at
			END,
			last_attempt_at = EXCLUDED.last_attempt_at,
			status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			feed_hash = EXCLUDED.feed_hash,
			entity_count = EXCLUDED.entity_count`

	_, err := s.db.ExecContext(ctx, stmt,
		meta.FeedType, now, meta.Status, errMsg, meta.FeedHash, meta.EntityCount,
	)
	if err != nil {
		return &WriteError{Table: "rt_ingest_meta", Err: err}
	}
	return nil
}
