package matching

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"transit-reliability/internal/gtfs"
	"transit-reliability/internal/metrics"
	"transit-reliability/internal/publisher"
)

// secondsPerDay marks GTFS arrival times that spill past midnight into the
// next calendar day while still belonging to the previous service day.
const secondsPerDay = 86400

// MatchError is a per-row matching failure. It is counted and skipped,
// never aborting the batch or the run.
type MatchError struct {
	UpdateID int64
	Reason   string
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("cannot match update %d: %s", e.UpdateID, e.Reason)
}

// MatchStore is the persistence surface the engine needs.
type MatchStore interface {
	RecentTripUpdates(ctx context.Context, cutoff time.Time) ([]gtfs.TripUpdateRecord, error)
	ScheduleCandidates(ctx context.Context, tripIDs []string) (map[[2]string][]gtfs.ScheduleEntry, error)
	UpsertMatchedArrivals(ctx context.Context, arrivals []gtfs.MatchedArrival) error
}

// Options wires an Engine's collaborators and tunables.
type Options struct {
	Window        time.Duration
	MaxCandidates int
	BatchSize     int
	Strict        bool
	Store         MatchStore
	Logger        *slog.Logger
	Metrics       *metrics.Collector       // optional
	Publisher     *publisher.NATSPublisher // optional
}

// Engine reconciles raw trip-update rows against the static schedule over a
// trailing window. Runs are idempotent: matched arrivals are upserted on
// their (trip_id, stop_id, stop_sequence, service_date) key, so rerunning
// over an unchanged window rewrites the same rows in place.
type Engine struct {
	window        time.Duration
	maxCandidates int
	batchSize     int
	strict        bool
	store         MatchStore
	logger        *slog.Logger
	metrics       *metrics.Collector
	pub           *publisher.NATSPublisher
	now           func() time.Time
}

func NewEngine(opts Options) *Engine {
	return &Engine{
		window:        opts.Window,
		maxCandidates: opts.MaxCandidates,
		batchSize:     opts.BatchSize,
		strict:        opts.Strict,
		store:         opts.Store,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		pub:           opts.Publisher,
		now:           time.Now,
	}
}

// Run executes one matching pass and returns its report. Per-row failures
// are counted and skipped; only storage-level failures abort the run, and
// the partial report is returned alongside the error.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	runID := uuid.New().String()[:8]
	started := e.now().UTC()
	report := Report{
		RunID:         runID,
		StartedAt:     started,
		WindowMinutes: int(e.window.Minutes()),
	}
	if e.metrics != nil {
		e.metrics.MatchRuns.Inc()
	}
	e.logger.Info("starting matching run",
		"run_id", runID,
		"window_minutes", report.WindowMinutes,
		"strict", e.strict,
	)

	cutoff := started.Add(-e.window)
	records, err := e.store.RecentTripUpdates(ctx, cutoff)
	if err != nil {
		return e.fail(&report, err)
	}
	report.Scanned = len(records)

	deduped := dedupLatest(records)
	report.Deduped = report.Scanned - len(deduped)

	for start := 0; start < len(deduped); start += e.batchSize {
		end := start + e.batchSize
		if end > len(deduped) {
			end = len(deduped)
		}
		if err := e.matchBatch(ctx, deduped[start:end], &report); err != nil {
			return e.fail(&report, err)
		}
	}

	report.finalize(e.now().UTC())
	if e.metrics != nil {
		e.metrics.MatchDuration.Observe(float64(report.DurationMS) / 1000)
		e.metrics.MatchOutcomes.WithLabelValues(gtfs.MatchStatusMatched).Add(float64(report.Matched))
		e.metrics.MatchOutcomes.WithLabelValues(gtfs.MatchStatusAmbiguous).Add(float64(report.Ambiguous))
		e.metrics.MatchOutcomes.WithLabelValues(gtfs.MatchStatusUnmatched).Add(float64(report.Unmatched))
	}
	if err := e.pub.Publish(publisher.SubjectMatchingRun, report); err != nil {
		e.logger.Warn("matching report publish failed", "run_id", runID, "error", err)
	}
	e.logger.Info("matching run complete",
		"run_id", runID,
		"scanned", report.Scanned,
		"deduped", report.Deduped,
		"matched", report.Matched,
		"ambiguous", report.Ambiguous,
		"unmatched", report.Unmatched,
		"errors", report.Errors,
		"duration_ms", report.DurationMS,
	)
	return report, nil
}

func (e *Engine) fail(report *Report, err error) (Report, error) {
	report.Error = err.Error()
	report.finalize(e.now().UTC())
	if e.metrics != nil {
		e.metrics.MatchErrors.Inc()
	}
	e.logger.Error("matching run failed", "run_id", report.RunID, "error", err)
	return *report, err
}

// matchBatch resolves one batch of deduplicated updates against the
// schedule and upserts the resulting arrivals.
func (e *Engine) matchBatch(ctx context.Context, batch []gtfs.TripUpdateRecord, report *Report) error {
	tripIDs := distinctTripIDs(batch)
	candidates, err := e.store.ScheduleCandidates(ctx, tripIDs)
	if err != nil {
		return err
	}

	arrivals := make([]gtfs.MatchedArrival, 0, len(batch))
	for _, rec := range batch {
		arrival, err := e.matchOne(rec, candidates[[2]string{rec.TripID, rec.StopID}])
		if err != nil {
			report.Errors++
			if e.metrics != nil {
				e.metrics.MatchErrors.Inc()
			}
			e.logger.Warn("skipping unmatched update",
				"run_id", report.RunID,
				"trip_id", rec.TripID,
				"stop_id", rec.StopID,
				"error", err,
			)
			continue
		}
		switch arrival.MatchStatus {
		case gtfs.MatchStatusMatched:
			report.Matched++
		case gtfs.MatchStatusAmbiguous:
			report.Ambiguous++
		default:
			report.Unmatched++
		}
		arrivals = append(arrivals, arrival)
	}

	if err := e.store.UpsertMatchedArrivals(ctx, arrivals); err != nil {
		return err
	}
	report.Written += len(arrivals)
	return nil
}

// matchOne reconciles a single update. With no schedule candidates the row
// is still emitted as unmatched with the feed timestamp standing in for the
// scheduled time.
func (e *Engine) matchOne(rec gtfs.TripUpdateRecord, candidates []gtfs.ScheduleEntry) (gtfs.MatchedArrival, error) {
	if rec.TripID == "" || rec.StopID == "" {
		return gtfs.MatchedArrival{}, &MatchError{UpdateID: rec.ID, Reason: "missing trip or stop identity"}
	}
	if len(candidates) > e.maxCandidates {
		candidates = candidates[:e.maxCandidates]
	}

	feedTS := rec.FeedTimestamp.UTC()

	if len(candidates) == 0 {
		svcDate := midnightUTC(feedTS)
		scheduled := feedTS
		observed := observedTimestamp(rec, scheduled)
		return gtfs.MatchedArrival{
			TripID:          rec.TripID,
			StopID:          rec.StopID,
			StopSequence:    rec.StopSequence,
			ServiceDate:     svcDate,
			ScheduledTS:     scheduled,
			ObservedTS:      observed,
			DelaySec:        int(observed.Sub(scheduled).Seconds()),
			MatchStatus:     gtfs.MatchStatusUnmatched,
			MatchConfidence: 0,
			SourceFeedTS:    feedTS,
			RTUpdateID:      rec.ID,
		}, nil
	}

	chosen := chooseCandidate(rec.StopSequence, candidates)
	status, confidence := classify(len(candidates), e.strict)

	svcDate := serviceDate(feedTS, chosen.SchedArrivalSec)
	scheduled := scheduledTimestamp(svcDate, chosen.SchedArrivalSec)
	observed := observedTimestamp(rec, scheduled)

	return gtfs.MatchedArrival{
		TripID:          rec.TripID,
		StopID:          rec.StopID,
		StopSequence:    chosen.StopSequence,
		ServiceDate:     svcDate,
		ScheduledTS:     scheduled,
		ObservedTS:      observed,
		DelaySec:        int(observed.Sub(scheduled).Seconds()),
		MatchStatus:     status,
		MatchConfidence: confidence,
		SourceFeedTS:    feedTS,
		RTUpdateID:      rec.ID,
	}, nil
}

type updateKey struct {
	tripID       string
	stopID       string
	stopSequence int
}

// dedupLatest keeps the row with the freshest feed_timestamp per
// (trip_id, stop_id, stop_sequence); feeds repeat the same logical update
// across polls and only the latest is authoritative. Output order follows
// each key's first appearance in the input.
func dedupLatest(records []gtfs.TripUpdateRecord) []gtfs.TripUpdateRecord {
	positions := make(map[updateKey]int, len(records))
	out := make([]gtfs.TripUpdateRecord, 0, len(records))
	for _, rec := range records {
		key := updateKey{rec.TripID, rec.StopID, rec.StopSequence}
		if i, seen := positions[key]; seen {
			if rec.FeedTimestamp.After(out[i].FeedTimestamp) {
				out[i] = rec
			}
			continue
		}
		positions[key] = len(out)
		out = append(out, rec)
	}
	return out
}

func distinctTripIDs(records []gtfs.TripUpdateRecord) []string {
	seen := make(map[string]struct{}, len(records))
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if _, ok := seen[rec.TripID]; ok {
			continue
		}
		seen[rec.TripID] = struct{}{}
		ids = append(ids, rec.TripID)
	}
	return ids
}

// chooseCandidate picks the schedule entry the update most plausibly refers
// to: an exact stop_sequence match when the update carries one, otherwise
// the lowest stop_sequence as a deterministic tie-break.
func chooseCandidate(stopSequence int, candidates []gtfs.ScheduleEntry) gtfs.ScheduleEntry {
	if stopSequence > 0 {
		for _, c := range candidates {
			if c.StopSequence == stopSequence {
				return c
			}
		}
	}
	chosen := candidates[0]
	for _, c := range candidates[1:] {
		if c.StopSequence < chosen.StopSequence {
			chosen = c
		}
	}
	return chosen
}

// classify maps a candidate count to a match status and confidence.
// Ambiguity is never resolved as a confident match in strict mode.
func classify(candidateCount int, strict bool) (string, float64) {
	switch {
	case candidateCount == 1:
		return gtfs.MatchStatusMatched, 1.0
	case strict:
		return gtfs.MatchStatusUnmatched, 0
	default:
		return gtfs.MatchStatusAmbiguous, 1 / float64(candidateCount)
	}
}

// serviceDate derives the operating day: arrival seconds at or past 86400
// encode past-midnight times that belong to the previous service day.
func serviceDate(feedTS time.Time, schedArrivalSec int) time.Time {
	d := midnightUTC(feedTS)
	if schedArrivalSec >= secondsPerDay {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// scheduledTimestamp converts a service date plus GTFS arrival seconds into
// an absolute time; values past 86400 roll into the next calendar day.
func scheduledTimestamp(svcDate time.Time, schedArrivalSec int) time.Time {
	return svcDate.Add(time.Duration(schedArrivalSec) * time.Second)
}

// observedTimestamp picks the observation time: absolute arrival time when
// the feed carried one, else scheduled plus the reported delay, else the
// feed timestamp as a last resort.
func observedTimestamp(rec gtfs.TripUpdateRecord, scheduled time.Time) time.Time {
	if rec.ArrivalTime != nil {
		return rec.ArrivalTime.UTC()
	}
	if rec.ArrivalDelay != nil {
		return scheduled.Add(time.Duration(*rec.ArrivalDelay) * time.Second)
	}
	return rec.FeedTimestamp.UTC()
}

func midnightUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
