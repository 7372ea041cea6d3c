package gtfs

import "time"

// Feed type labels used across ingest meta, reports and metrics.
const (
	FeedTripUpdates      = "trip_updates"
	FeedVehiclePositions = "vehicle_positions"
	FeedServiceAlerts    = "service_alerts"
)

// FeedTypes lists the three real-time feeds in processing order.
var FeedTypes = []string{FeedTripUpdates, FeedVehiclePositions, FeedServiceAlerts}

// TripUpdateRow is one stop-time-update flattened for rt_trip_updates.
// Dedup key: (trip_id, stop_id, feed_timestamp).
type TripUpdateRow struct {
	TripID               string
	RouteID              string
	StopID               string
	StopSequence         int
	ArrivalDelay         *int       // seconds, nil if arrival not present
	ArrivalTime          *time.Time // nil if unset or zero
	DepartureDelay       *int
	DepartureTime        *time.Time
	ScheduleRelationship string
	FeedTimestamp        time.Time
	RecordedAt           time.Time
}

// VehiclePositionRow is one vehicle fix for rt_vehicle_positions.
// Dedup key: (vehicle_id, feed_timestamp).
type VehiclePositionRow struct {
	VehicleID           string
	TripID              string
	RouteID             string
	Latitude            float64
	Longitude           float64
	Bearing             *float64 // nil when unset or zero in the feed
	Speed               *float64 // m/s, same convention
	CurrentStopSequence *int
	CurrentStatus       string
	FeedTimestamp       time.Time
	RecordedAt          time.Time
}

// AlertRow is one (alert, informed-entity) pair for rt_alerts.
// Dedup key: (alert_id, informed_route_id, informed_stop_id, feed_timestamp).
type AlertRow struct {
	AlertID           string
	Cause             string
	Effect            string
	HeaderText        string
	DescriptionText   string
	ActivePeriodStart *time.Time
	ActivePeriodEnd   *time.Time
	InformedRouteID   string
	InformedStopID    string
	InformedTripID    string
	FeedTimestamp     time.Time
	RecordedAt        time.Time
}

// IngestMetaUpdate carries one upsert of the per-feed-type status row.
type IngestMetaUpdate struct {
	FeedType     string
	Status       string // "ok" or "error"
	EntityCount  int
	FeedHash     string
	ErrorMessage string
}

// ScheduleEntry is one scheduled stop visit from the static timetable.
// SchedArrivalSec may exceed 86400 for trips running past midnight.
type ScheduleEntry struct {
	TripID          string
	StopID          string
	StopSequence    int
	SchedArrivalSec int
}

// TripUpdateRecord is a trip-update row read back for matching, including
// its storage id so matched arrivals can reference their source.
type TripUpdateRecord struct {
	ID            int64
	TripID        string
	StopID        string
	StopSequence  int
	ArrivalDelay  *int
	ArrivalTime   *time.Time
	FeedTimestamp time.Time
	RecordedAt    time.Time
}

// Match statuses produced by the matching engine.
const (
	MatchStatusMatched   = "matched"
	MatchStatusAmbiguous = "ambiguous"
	MatchStatusUnmatched = "unmatched"
)

// MatchedArrival is one reconciled arrival, unique on
// (trip_id, stop_id, stop_sequence, service_date).
type MatchedArrival struct {
	TripID          string
	StopID          string
	StopSequence    int
	ServiceDate     time.Time // date only, midnight UTC
	ScheduledTS     time.Time
	ObservedTS      time.Time
	DelaySec        int // positive = late
	MatchStatus     string
	MatchConfidence float64
	SourceFeedTS    time.Time
	RTUpdateID      int64
}
