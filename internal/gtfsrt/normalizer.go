package gtfsrt

import (
	"time"

	pb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"

	"transit-reliability/internal/gtfs"
)

// Normalization flattens decoded feed entities into database-ready rows.
// A feed without a header timestamp cannot be correlated for staleness and
// yields no rows. recordedAt is the wall-clock time of normalization, kept
// separate from the feed timestamp and used only for audit.

// NormalizeTripUpdates flattens every stop-time-update of every trip-update
// entity into one row each. Entities without a trip_id and stop-time-updates
// without a stop_id are skipped.
func NormalizeTripUpdates(feed *pb.FeedMessage, recordedAt time.Time) []gtfs.TripUpdateRow {
	feedTS := FeedTimestamp(feed)
	if feedTS == 0 {
		return nil
	}
	feedTime := time.Unix(feedTS, 0).UTC()

	var rows []gtfs.TripUpdateRow
	for _, entity := range feed.Entity {
		tu := entity.GetTripUpdate()
		if tu == nil {
			continue
		}

		tripID := tu.GetTrip().GetTripId()
		if tripID == "" {
			continue
		}
		routeID := tu.GetTrip().GetRouteId()
		schedRel := scheduleRelationshipName(int32(tu.GetTrip().GetScheduleRelationship()))

		for _, stu := range tu.StopTimeUpdate {
			stopID := stu.GetStopId()
			if stopID == "" {
				continue
			}

			row := gtfs.TripUpdateRow{
				TripID:               tripID,
				RouteID:              routeID,
				StopID:               stopID,
				StopSequence:         int(stu.GetStopSequence()),
				ScheduleRelationship: schedRel,
				FeedTimestamp:        feedTime,
				RecordedAt:           recordedAt,
			}

			if arr := stu.GetArrival(); arr != nil {
				delay := int(arr.GetDelay())
				row.ArrivalDelay = &delay
				if t := arr.GetTime(); t != 0 {
					ts := time.Unix(t, 0).UTC()
					row.ArrivalTime = &ts
				}
			}
			if dep := stu.GetDeparture(); dep != nil {
				delay := int(dep.GetDelay())
				row.DepartureDelay = &delay
				if t := dep.GetTime(); t != 0 {
					ts := time.Unix(t, 0).UTC()
					row.DepartureTime = &ts
				}
			}

			rows = append(rows, row)
		}
	}
	return rows
}

// NormalizeVehiclePositions flattens vehicle entities. Entities without a
// vehicle id are skipped, as are fixes at exactly (0, 0), which the feeds
// use for "no fix" rather than a real position.
func NormalizeVehiclePositions(feed *pb.FeedMessage, recordedAt time.Time) []gtfs.VehiclePositionRow {
	feedTS := FeedTimestamp(feed)
	if feedTS == 0 {
		return nil
	}
	feedTime := time.Unix(feedTS, 0).UTC()

	var rows []gtfs.VehiclePositionRow
	for _, entity := range feed.Entity {
		vp := entity.GetVehicle()
		if vp == nil {
			continue
		}

		vehicleID := vp.GetVehicle().GetId()
		if vehicleID == "" {
			continue
		}

		lat := float64(vp.GetPosition().GetLatitude())
		lon := float64(vp.GetPosition().GetLongitude())
		if lat == 0 && lon == 0 {
			continue
		}

		row := gtfs.VehiclePositionRow{
			VehicleID:     vehicleID,
			TripID:        vp.GetTrip().GetTripId(),
			RouteID:       vp.GetTrip().GetRouteId(),
			Latitude:      lat,
			Longitude:     lon,
			CurrentStatus: vehicleStopStatusName(int32(vp.GetCurrentStatus())),
			FeedTimestamp: feedTime,
			RecordedAt:    recordedAt,
		}

		// Bearing and speed distinguish unset from zero: a zero value in the
		// feed is treated as unset.
		if b := vp.GetPosition().GetBearing(); b != 0 {
			bearing := float64(b)
			row.Bearing = &bearing
		}
		if s := vp.GetPosition().GetSpeed(); s != 0 {
			speed := float64(s)
			row.Speed = &speed
		}
		if seq := vp.GetCurrentStopSequence(); seq != 0 {
			n := int(seq)
			row.CurrentStopSequence = &n
		}

		rows = append(rows, row)
	}
	return rows
}

// NormalizeAlerts expands each alert into one row per informed entity. An
// alert with no informed entities still yields one row with empty route,
// stop and trip fields.
func NormalizeAlerts(feed *pb.FeedMessage, recordedAt time.Time) []gtfs.AlertRow {
	feedTS := FeedTimestamp(feed)
	if feedTS == 0 {
		return nil
	}
	feedTime := time.Unix(feedTS, 0).UTC()

	var rows []gtfs.AlertRow
	for _, entity := range feed.Entity {
		alert := entity.GetAlert()
		if alert == nil {
			continue
		}

		base := gtfs.AlertRow{
			AlertID:         entity.GetId(),
			Cause:           alertCauseName(int32(alert.GetCause())),
			Effect:          alertEffectName(int32(alert.GetEffect())),
			HeaderText:      firstTranslation(alert.GetHeaderText()),
			DescriptionText: firstTranslation(alert.GetDescriptionText()),
			FeedTimestamp:   feedTime,
			RecordedAt:      recordedAt,
		}

		if periods := alert.GetActivePeriod(); len(periods) > 0 {
			if start := periods[0].GetStart(); start != 0 {
				ts := time.Unix(int64(start), 0).UTC()
				base.ActivePeriodStart = &ts
			}
			if end := periods[0].GetEnd(); end != 0 {
				ts := time.Unix(int64(end), 0).UTC()
				base.ActivePeriodEnd = &ts
			}
		}

		informed := alert.GetInformedEntity()
		if len(informed) == 0 {
			rows = append(rows, base)
			continue
		}
		for _, ie := range informed {
			row := base
			row.InformedRouteID = ie.GetRouteId()
			row.InformedStopID = ie.GetStopId()
			row.InformedTripID = ie.GetTrip().GetTripId()
			rows = append(rows, row)
		}
	}
	return rows
}

// firstTranslation returns the first translation text, or "" when missing.
func firstTranslation(ts *pb.TranslatedString) string {
	if ts == nil || len(ts.Translation) == 0 {
		return ""
	}
	return ts.Translation[0].GetText()
}
