package matching

import "time"

// Report carries the statistics of one matching run. Counters accumulate
// during the run; Finalize stamps the end time once and the struct is
// treated as read-only afterwards.
type Report struct {
	RunID         string    `json:"run_id"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
	DurationMS    int64     `json:"duration_ms"`
	WindowMinutes int       `json:"window_minutes"`

	Scanned   int `json:"scanned"`
	Deduped   int `json:"deduped"`
	Matched   int `json:"matched"`
	Ambiguous int `json:"ambiguous"`
	Unmatched int `json:"unmatched"`
	Errors    int `json:"errors"`
	Written   int `json:"written"`

	Error string `json:"error,omitempty"`
}

func (r *Report) finalize(now time.Time) {
	r.EndedAt = now
	r.DurationMS = now.Sub(r.StartedAt).Milliseconds()
}
