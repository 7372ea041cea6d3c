package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/google/uuid"

	"transit-reliability/internal/gtfs"
	"transit-reliability/internal/gtfsrt"
	"transit-reliability/internal/metrics"
	"transit-reliability/internal/publisher"
)

// Store is the persistence surface the worker needs.
type Store interface {
	InsertTripUpdates(ctx context.Context, rows []gtfs.TripUpdateRow) (int, error)
	InsertVehiclePositions(ctx context.Context, rows []gtfs.VehiclePositionRow) (int, error)
	InsertAlerts(ctx context.Context, rows []gtfs.AlertRow) (int, error)
	UpdateIngestMeta(ctx context.Context, meta gtfs.IngestMetaUpdate) error
}

// FeedResult is the per-feed-type outcome of one poll cycle.
type FeedResult struct {
	Status      string `json:"status"` // "ok" or "error"
	EntityCount int    `json:"entity_count"`
	RowsWritten int    `json:"rows_written"`
	Stale       bool   `json:"stale"`
	Error       string `json:"error,omitempty"`
}

// CycleReport summarizes one poll cycle across all feed types.
type CycleReport struct {
	PollID    string                `json:"poll_id"`
	PollCount int                   `json:"poll_count"`
	StartedAt time.Time             `json:"started_at"`
	EndedAt   time.Time             `json:"ended_at"`
	Feeds     map[string]FeedResult `json:"feeds"`
}

// Status is a read-only snapshot of the worker state.
type Status struct {
	Running        bool       `json:"running"`
	PollCount      int        `json:"poll_count"`
	LastPollAt     *time.Time `json:"last_poll_at,omitempty"`
	PollInterval   int        `json:"poll_interval_sec"`
	StaleThreshold int        `json:"stale_threshold_sec"`
}

// Options wires a Worker's collaborators and tunables.
type Options struct {
	TripUpdatesURL      string
	VehiclePositionsURL string
	ServiceAlertsURL    string
	PollInterval        time.Duration
	StaleThreshold      time.Duration
	Fetcher             *gtfsrt.Fetcher
	Store               Store
	Logger              *slog.Logger
	Metrics             *metrics.Collector       // optional
	Publisher           *publisher.NATSPublisher // optional
}

// Worker polls the three GTFS-RT feeds on a timer and persists normalized
// rows. Feed types are processed sequentially within a cycle and isolated
// from one another: a failure in one never prevents the others from being
// ingested, and each failure is recorded in that feed's ingest-meta row.
type Worker struct {
	urls           map[string]string
	fetcher        *gtfsrt.Fetcher
	store          Store
	pollInterval   time.Duration
	staleThreshold time.Duration
	logger         *slog.Logger
	metrics        *metrics.Collector
	pub            *publisher.NATSPublisher
	now            func() time.Time

	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	pollCount  int
	lastPollAt time.Time
}

func NewWorker(opts Options) *Worker {
	return &Worker{
		urls: map[string]string{
			gtfs.FeedTripUpdates:      opts.TripUpdatesURL,
			gtfs.FeedVehiclePositions: opts.VehiclePositionsURL,
			gtfs.FeedServiceAlerts:    opts.ServiceAlertsURL,
		},
		fetcher:        opts.Fetcher,
		store:          opts.Store,
		pollInterval:   opts.PollInterval,
		staleThreshold: opts.StaleThreshold,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		pub:            opts.Publisher,
		now:            time.Now,
	}
}

// Start launches the background polling loop. Calling Start on a running
// worker is a no-op logged as a warning.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		w.logger.Warn("worker already running, ignoring start request")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.running = true
	w.cancel = cancel
	w.wg.Add(1)
	w.mu.Unlock()

	if w.metrics != nil {
		w.metrics.WorkerRunning.Set(1)
	}
	w.logger.Info("ingest worker started", "poll_interval", w.pollInterval)

	go func() {
		defer w.wg.Done()
		// immediate poll on start, then on every tick
		w.RunOnce(loopCtx)
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				w.RunOnce(loopCtx)
			}
		}
	}()
}

// Stop cancels the polling loop and waits for the in-flight cycle to
// unwind. Calling Stop on a stopped worker is a no-op.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
	if w.metrics != nil {
		w.metrics.WorkerRunning.Set(0)
	}
	w.logger.Info("ingest worker stopped")
}

// RunOnce executes a single poll cycle across all feed types.
func (w *Worker) RunOnce(ctx context.Context) CycleReport {
	pollID := uuid.New().String()[:8]
	started := w.now().UTC()

	w.mu.Lock()
	w.pollCount++
	count := w.pollCount
	w.lastPollAt = started
	w.mu.Unlock()

	w.logger.Info("starting poll cycle", "poll_id", pollID, "poll_count", count)

	report := CycleReport{
		PollID:    pollID,
		PollCount: count,
		StartedAt: started,
		Feeds:     make(map[string]FeedResult, len(gtfs.FeedTypes)),
	}

	for _, feedType := range gtfs.FeedTypes {
		report.Feeds[feedType] = w.ingestFeed(ctx, feedType, w.urls[feedType], pollID)
	}

	report.EndedAt = w.now().UTC()
	if w.metrics != nil {
		w.metrics.PollCycles.Inc()
		w.metrics.CycleDuration.Observe(report.EndedAt.Sub(started).Seconds())
	}
	if err := w.pub.Publish(publisher.SubjectIngestCycle, report); err != nil {
		w.logger.Warn("cycle report publish failed", "poll_id", pollID, "error", err)
	}
	w.logger.Info("poll cycle complete", "poll_id", pollID, "poll_count", count)
	return report
}

// Status returns a point-in-time snapshot; it has no side effects.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := Status{
		Running:        w.running,
		PollCount:      w.pollCount,
		PollInterval:   int(w.pollInterval.Seconds()),
		StaleThreshold: int(w.staleThreshold.Seconds()),
	}
	if !w.lastPollAt.IsZero() {
		t := w.lastPollAt
		st.LastPollAt = &t
	}
	return st
}

// ingestFeed runs fetch, decode, normalize, write and the meta upsert for a
// single feed type. All failures, including panics from unexpected feed
// content, are converted into the result entry and the feed's meta row.
func (w *Worker) ingestFeed(ctx context.Context, feedType, url, pollID string) (result FeedResult) {
	result = FeedResult{Status: "error"}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic during ingest: %v", r)
			w.recordFeedError(ctx, feedType, pollID, err, &result)
		}
	}()

	if w.metrics != nil {
		w.metrics.FeedFetches.WithLabelValues(feedType).Inc()
	}

	data, feedHash, err := w.fetcher.Fetch(ctx, url, feedType, pollID)
	if err != nil {
		w.recordFeedError(ctx, feedType, pollID, err, &result)
		return result
	}

	feed, err := gtfsrt.Decode(data, feedType)
	if err != nil {
		w.recordFeedError(ctx, feedType, pollID, err, &result)
		return result
	}

	feedTS := gtfsrt.FeedTimestamp(feed)
	entityCount := gtfsrt.EntityCount(feed)
	result.EntityCount = entityCount

	// Staleness is informational: the feed is flagged but still written.
	if feedTS != 0 {
		age := w.now().UTC().Sub(time.Unix(feedTS, 0))
		if age > w.staleThreshold {
			w.logger.Warn("stale feed detected",
				"feed_type", feedType,
				"poll_id", pollID,
				"feed_age_sec", int(age.Seconds()),
				"threshold_sec", int(w.staleThreshold.Seconds()),
			)
			result.Stale = true
			if w.metrics != nil {
				w.metrics.StaleFeeds.WithLabelValues(feedType).Inc()
			}
		}
	}

	recordedAt := w.now().UTC()
	written, normalized, err := w.writeFeed(ctx, feedType, feed, recordedAt)
	if err != nil {
		w.recordFeedError(ctx, feedType, pollID, err, &result)
		return result
	}
	result.RowsWritten = written

	if w.metrics != nil {
		w.metrics.RowsWritten.WithLabelValues(feedType).Add(float64(written))
		w.metrics.DuplicatesSkipped.WithLabelValues(feedType).Add(float64(normalized - written))
	}
	w.logger.Info("feed ingested",
		"feed_type", feedType,
		"poll_id", pollID,
		"entities", entityCount,
		"rows_written", written,
		"duplicates_skipped", normalized-written,
		"stale", result.Stale,
	)

	err = w.store.UpdateIngestMeta(ctx, gtfs.IngestMetaUpdate{
		FeedType:    feedType,
		Status:      "ok",
		EntityCount: entityCount,
		FeedHash:    feedHash,
	})
	if err != nil {
		w.recordFeedError(ctx, feedType, pollID, err, &result)
		return result
	}

	result.Status = "ok"
	return result
}

// writeFeed normalizes and persists one decoded feed, returning the number
// of rows inserted and the number normalized.
func (w *Worker) writeFeed(ctx context.Context, feedType string, feed *pb.FeedMessage, recordedAt time.Time) (int, int, error) {
	switch feedType {
	case gtfs.FeedTripUpdates:
		rows := gtfsrt.NormalizeTripUpdates(feed, recordedAt)
		written, err := w.store.InsertTripUpdates(ctx, rows)
		return written, len(rows), err
	case gtfs.FeedVehiclePositions:
		rows := gtfsrt.NormalizeVehiclePositions(feed, recordedAt)
		written, err := w.store.InsertVehiclePositions(ctx, rows)
		return written, len(rows), err
	case gtfs.FeedServiceAlerts:
		rows := gtfsrt.NormalizeAlerts(feed, recordedAt)
		written, err := w.store.InsertAlerts(ctx, rows)
		return written, len(rows), err
	}
	return 0, 0, nil
}

// recordFeedError folds a per-feed failure into the cycle result and the
// feed's meta row without letting it escape the cycle.
func (w *Worker) recordFeedError(ctx context.Context, feedType, pollID string, err error, result *FeedResult) {
	result.Error = err.Error()
	result.Status = "error"
	if w.metrics != nil {
		w.metrics.FeedErrors.WithLabelValues(feedType).Inc()
	}
	w.logger.Error("feed ingest failed",
		"feed_type", feedType,
		"poll_id", pollID,
		"error", err,
	)
	metaErr := w.store.UpdateIngestMeta(ctx, gtfs.IngestMetaUpdate{
		FeedType:     feedType,
		Status:       "error",
		ErrorMessage: err.Error(),
	})
	if metaErr != nil {
		w.logger.Error("failed to update ingest meta on error",
			"feed_type", feedType,
			"error", metaErr,
		)
	}
}
