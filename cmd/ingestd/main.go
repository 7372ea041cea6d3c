package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transit-reliability/internal/config"
	"transit-reliability/internal/db"
	"transit-reliability/internal/gtfsrt"
	"transit-reliability/internal/ingest"
	"transit-reliability/internal/matching"
	"transit-reliability/internal/metrics"
	"transit-reliability/internal/publisher"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config error", "error", err)
		os.Exit(1)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sqlDB, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Error("db open error", "error", err)
		os.Exit(1)
	}
	defer sqlDB.Close()
	if err := db.Ping(ctx, sqlDB); err != nil {
		logger.Error("db ping error", "error", err)
		os.Exit(1)
	}

	store := db.NewStore(sqlDB, cfg.WriteBatchSize)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("schema error", "error", err)
		os.Exit(1)
	}

	// Metrics setup
	var mcol *metrics.Collector
	var metricsSrvCancel context.CancelFunc
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.PollInterval, cfg.StaleThreshold)
		mctx, mcancel := context.WithCancel(ctx)
		metricsSrvCancel = mcancel
		srv := mcol.Serve(cfg.MetricsAddr, logger)
		go func() {
			<-mctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// NATS publisher is optional; a nil publisher is a no-op.
	var pub *publisher.NATSPublisher
	if cfg.NATSURL != "" {
		pub, err = publisher.NewNATSPublisher(cfg.NATSURL, logger, wrapPublisherMetrics(mcol))
		if err != nil {
			logger.Error("nats error", "error", err)
			os.Exit(1)
		}
		defer pub.Close()
	}

	fetcher := gtfsrt.NewFetcher(cfg.FetchTimeout, cfg.MaxRetries, cfg.BackoffBase, logger)

	worker := ingest.NewWorker(ingest.Options{
		TripUpdatesURL:      cfg.TripUpdatesURL,
		VehiclePositionsURL: cfg.VehiclePositionsURL,
		ServiceAlertsURL:    cfg.ServiceAlertsURL,
		PollInterval:        cfg.PollInterval,
		StaleThreshold:      cfg.StaleThreshold,
		Fetcher:             fetcher,
		Store:               store,
		Logger:              logger,
		Metrics:             mcol,
		Publisher:           pub,
	})
	worker.Start(ctx)

	engine := matching.NewEngine(matching.Options{
		Window:        cfg.MatchWindow,
		MaxCandidates: cfg.MatchMaxCandidates,
		BatchSize:     cfg.MatchBatchSize,
		Strict:        cfg.MatchStrict,
		Store:         store,
		Logger:        logger,
		Metrics:       mcol,
		Publisher:     pub,
	})

	// Matching runs on its own timer when enabled; errors are reported per
	// run and never stop the timer.
	var matchDone chan struct{}
	if cfg.MatchInterval > 0 {
		matchDone = make(chan struct{})
		go func() {
			defer close(matchDone)
			ticker := time.NewTicker(cfg.MatchInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := engine.Run(ctx); err != nil {
						logger.Error("matching run error", "error", err)
					}
				}
			}
		}()
	}

	// Block until context cancelled
	<-ctx.Done()
	worker.Stop()
	if matchDone != nil {
		<-matchDone
	}
	if metricsSrvCancel != nil {
		metricsSrvCancel()
	}
	logger.Info("shutdown complete")
}

// wrapPublisherMetrics adapts the Collector to the publisher's metrics
// interface, keeping nil (metrics disabled) a valid value.
func wrapPublisherMetrics(c *metrics.Collector) publisher.Metrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()  { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc() { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
