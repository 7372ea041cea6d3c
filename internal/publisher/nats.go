package publisher

import (
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// Subjects for downstream consumers. The aggregation job can subscribe to
// these instead of polling the tables.
const (
	SubjectIngestCycle = "transit.ingest.cycle"
	SubjectMatchingRun = "transit.matching.run"
)

// Metrics is the narrow metrics surface the publisher needs.
type Metrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	NATSSetConnected(connected bool)
}

// NATSPublisher publishes JSON events. A nil *NATSPublisher is a valid
// no-op, so callers need no special casing when NATS is disabled.
type NATSPublisher struct {
	nc      *nats.Conn
	logger  *slog.Logger
	metrics Metrics
}

func NewNATSPublisher(url string, logger *slog.Logger, m Metrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("transit-reliability"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, logger: logger, metrics: m}, nil
}

func (p *NATSPublisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	p.nc.Drain()
	p.nc.Close()
}

// Publish marshals v as JSON and publishes it on subject.
func (p *NATSPublisher) Publish(subject string, v any) error {
	if p == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		p.logger.Warn("nats publish failed", "subject", subject, "error", err)
	}
	return err
}
