package gtfsrt

// Enum translations from GTFS-RT integer codes to the string values stored
// in the row tables. Unknown upstream codes never fail normalization; they
// fall back to the sentinel noted per table.

// scheduleRelationshipNames maps TripDescriptor.ScheduleRelationship codes.
// Unknown codes fall back to "SCHEDULED" (the proto default).
var scheduleRelationshipNames = map[int32]string{
	0: "SCHEDULED",
	1: "ADDED",
	2: "UNSCHEDULED",
	3: "CANCELED",
	5: "REPLACEMENT",
}

// vehicleStopStatusNames maps VehiclePosition.VehicleStopStatus codes.
// Unknown codes fall back to "UNKNOWN_STATUS".
var vehicleStopStatusNames = map[int32]string{
	0: "INCOMING_AT",
	1: "STOPPED_AT",
	2: "IN_TRANSIT_TO",
}

// alertCauseNames maps Alert.Cause codes. Fallback: "UNKNOWN_CAUSE".
var alertCauseNames = map[int32]string{
	1:  "UNKNOWN_CAUSE",
	2:  "OTHER_CAUSE",
	3:  "TECHNICAL_PROBLEM",
	4:  "STRIKE",
	5:  "DEMONSTRATION",
	6:  "ACCIDENT",
	7:  "HOLIDAY",
	8:  "WEATHER",
	9:  "MAINTENANCE",
	10: "CONSTRUCTION",
	11: "POLICE_ACTIVITY",
	12: "MEDICAL_EMERGENCY",
}

// alertEffectNames maps Alert.Effect codes. Fallback: "UNKNOWN_EFFECT".
var alertEffectNames = map[int32]string{
	1:  "NO_SERVICE",
	2:  "REDUCED_SERVICE",
	3:  "SIGNIFICANT_DELAYS",
	4:  "DETOUR",
	5:  "ADDITIONAL_SERVICE",
	6:  "MODIFIED_SERVICE",
	7:  "OTHER_EFFECT",
	8:  "UNKNOWN_EFFECT",
	9:  "STOP_MOVED",
	10: "NO_EFFECT",
	11: "ACCESSIBILITY_ISSUE",
}

func scheduleRelationshipName(code int32) string {
	if name, ok := scheduleRelationshipNames[code]; ok {
		return name
	}
	return "SCHEDULED"
}

func vehicleStopStatusName(code int32) string {
	if name, ok := vehicleStopStatusNames[code]; ok {
		return name
	}
	return "UNKNOWN_STATUS"
}

func alertCauseName(code int32) string {
	if name, ok := alertCauseNames[code]; ok {
		return name
	}
	return "UNKNOWN_CAUSE"
}

func alertEffectName(code int32) string {
	if name, ok := alertEffectNames[code]; ok {
		return name
	}
	return "UNKNOWN_EFFECT"
}
