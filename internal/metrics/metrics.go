package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	WorkerRunning prometheus.Gauge
	PollCycles    prometheus.Counter
	CycleDuration prometheus.Histogram

	FeedFetches       *prometheus.CounterVec // feed_type label
	FeedErrors        *prometheus.CounterVec
	StaleFeeds        *prometheus.CounterVec
	RowsWritten       *prometheus.CounterVec
	DuplicatesSkipped *prometheus.CounterVec

	MatchRuns     prometheus.Counter
	MatchOutcomes *prometheus.CounterVec // status label: matched|ambiguous|unmatched
	MatchErrors   prometheus.Counter
	MatchDuration prometheus.Histogram

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	PollInterval   prometheus.Gauge // seconds
	StaleThreshold prometheus.Gauge // seconds
}

func NewCollector(pollInterval time.Duration, staleThreshold time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		WorkerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_worker_running",
			Help: "1 if the polling worker is running, 0 otherwise.",
		}),
		PollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_poll_cycles_total",
			Help: "Total poll cycles executed.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingest_cycle_duration_seconds",
			Help:    "Duration of full poll cycles across all feed types.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}),
		FeedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_feed_fetches_total",
			Help: "Feed ingestions attempted, by feed type.",
		}, []string{"feed_type"}),
		FeedErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_feed_errors_total",
			Help: "Feed ingestions that failed, by feed type.",
		}, []string{"feed_type"}),
		StaleFeeds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_stale_feeds_total",
			Help: "Feeds flagged stale against the staleness threshold.",
		}, []string{"feed_type"}),
		RowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_rows_written_total",
			Help: "Normalized rows actually inserted, by feed type.",
		}, []string{"feed_type"}),
		DuplicatesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_duplicates_skipped_total",
			Help: "Rows dropped by conflict-skip dedup, by feed type.",
		}, []string{"feed_type"}),
		MatchRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matching_runs_total",
			Help: "Total matching runs executed.",
		}),
		MatchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matching_outcomes_total",
			Help: "Matched arrivals produced, by match status.",
		}, []string{"status"}),
		MatchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matching_errors_total",
			Help: "Per-row matching failures skipped during runs.",
		}),
		MatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "matching_run_duration_seconds",
			Help:    "Duration of matching runs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PollInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_poll_interval_seconds",
			Help: "Configured poll interval in seconds.",
		}),
		StaleThreshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_stale_threshold_seconds",
			Help: "Configured feed staleness threshold in seconds.",
		}),
	}

	reg.MustRegister(
		c.WorkerRunning, c.PollCycles, c.CycleDuration,
		c.FeedFetches, c.FeedErrors, c.StaleFeeds,
		c.RowsWritten, c.DuplicatesSkipped,
		c.MatchRuns, c.MatchOutcomes, c.MatchErrors, c.MatchDuration,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.PollInterval, c.StaleThreshold,
	)

	c.PollInterval.Set(pollInterval.Seconds())
	c.StaleThreshold.Set(staleThreshold.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	logger.Info("metrics listening", "addr", addr)
	return srv
}
