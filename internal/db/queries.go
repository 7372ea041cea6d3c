package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"transit-reliability/internal/gtfs"
)

// RecentTripUpdates returns trip-update rows with a feed timestamp at or
// after cutoff, restricted to SCHEDULED updates. Freshest first.
func (s *Store) RecentTripUpdates(ctx context.Context, cutoff time.Time) ([]gtfs.TripUpdateRecord, error) {
	q := `
		SELECT id, trip_id, stop_id, stop_sequence,
		       arrival_delay, arrival_time, feed_timestamp, recorded_at
		FROM rt_trip_updates
		WHERE feed_timestamp >= $1
		  AND schedule_relationship = 'SCHEDULED'
		ORDER BY feed_timestamp DESC`

	rows, err := s.db.QueryContext(ctx, q, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query recent trip updates: %w", err)
	}
	defer rows.Close()

	var out []gtfs.TripUpdateRecord
	for rows.Next() {
		var rec gtfs.TripUpdateRecord
		var delay sql.NullInt64
		var arrTime sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.TripID, &rec.StopID, &rec.StopSequence,
			&delay, &arrTime, &rec.FeedTimestamp, &rec.RecordedAt); err != nil {
			return nil, err
		}
		if delay.Valid {
			d := int(delay.Int64)
			rec.ArrivalDelay = &d
		}
		if arrTime.Valid {
			t := arrTime.Time.UTC()
			rec.ArrivalTime = &t
		}
		rec.FeedTimestamp = rec.FeedTimestamp.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ScheduleCandidates fetches stop_times for the given trips in one query,
// grouped by (trip_id, stop_id) and ordered by stop_sequence within a trip.
func (s *Store) ScheduleCandidates(ctx context.Context, tripIDs []string) (map[[2]string][]gtfs.ScheduleEntry, error) {
	candidates := make(map[[2]string][]gtfs.ScheduleEntry)
	if len(tripIDs) == 0 {
		return candidates, nil
	}

	q := `
		SELECT trip_id, stop_id, stop_sequence, sched_arrival_sec
		FROM stop_times
		WHERE trip_id = ANY($1)
		ORDER BY trip_id, stop_sequence`

	rows, err := s.db.QueryContext(ctx, q, tripIDs)
	if err != nil {
		return nil, fmt.Errorf("query schedule candidates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry gtfs.ScheduleEntry
		if err := rows.Scan(&entry.TripID, &entry.StopID, &entry.StopSequence, &entry.SchedArrivalSec); err != nil {
			return nil, err
		}
		key := [2]string{entry.TripID, entry.StopID}
		candidates[key] = append(candidates[key], entry)
	}
	return candidates, rows.Err()
}

// UpsertMatchedArrivals writes matched arrivals keyed on
// (trip_id, stop_id, stop_sequence, service_date). Reruns over identical
// input update rows in place rather than duplicating them. The whole batch
// commits atomically.
func (s *Store) UpsertMatchedArrivals(ctx context.Context, arrivals []gtfs.MatchedArrival) error {
	if len(arrivals) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &WriteError{Table: "matched_arrivals", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO matched_arrivals (
			trip_id, stop_id, stop_sequence, service_date,
			scheduled_ts, observed_ts, delay_sec,
			match_status, match_confidence,
			source_feed_ts, rt_trip_update_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (trip_id, stop_id, stop_sequence, service_date)
		DO UPDATE SET
			scheduled_ts = EXCLUDED.scheduled_ts,
			observed_ts = EXCLUDED.observed_ts,
			delay_sec = EXCLUDED.delay_sec,
			match_status = EXCLUDED.match_status,
			match_confidence = EXCLUDED.match_confidence,
			source_feed_ts = EXCLUDED.source_feed_ts,
			rt_trip_update_id = EXCLUDED.rt_trip_update_id`)
	if err != nil {
		return &WriteError{Table: "matched_arrivals", Err: err}
	}
	defer stmt.Close()

	for _, a := range arrivals {
		_, err := stmt.ExecContext(ctx,
			a.TripID, a.StopID, a.StopSequence, a.ServiceDate,
			a.ScheduledTS, a.ObservedTS, a.DelaySec,
			a.MatchStatus, a.MatchConfidence,
			a.SourceFeedTS, a.RTUpdateID,
		)
		if err != nil {
			return &WriteError{Table: "matched_arrivals", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &WriteError{Table: "matched_arrivals", Err: err}
	}
	return nil
}
