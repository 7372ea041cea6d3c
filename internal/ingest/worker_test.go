package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	pb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"transit-reliability/internal/gtfs"
	"transit-reliability/internal/gtfsrt"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	mu             sync.Mutex
	tripRows       int
	vehicleRows    int
	alertRows      int
	meta           []gtfs.IngestMetaUpdate
	failTripInsert bool
}

func (s *fakeStore) InsertTripUpdates(_ context.Context, rows []gtfs.TripUpdateRow) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTripInsert {
		return 0, errors.New("insert failed")
	}
	s.tripRows += len(rows)
	return len(rows), nil
}

func (s *fakeStore) InsertVehiclePositions(_ context.Context, rows []gtfs.VehiclePositionRow) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vehicleRows += len(rows)
	return len(rows), nil
}

func (s *fakeStore) InsertAlerts(_ context.Context, rows []gtfs.AlertRow) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alertRows += len(rows)
	return len(rows), nil
}

func (s *fakeStore) UpdateIngestMeta(_ context.Context, meta gtfs.IngestMetaUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = append(s.meta, meta)
	return nil
}

func (s *fakeStore) metaFor(feedType string) (gtfs.IngestMetaUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.meta) - 1; i >= 0; i-- {
		if s.meta[i].FeedType == feedType {
			return s.meta[i], true
		}
	}
	return gtfs.IngestMetaUpdate{}, false
}

func marshalFeed(t *testing.T, feed *pb.FeedMessage) []byte {
	t.Helper()
	data, err := proto.Marshal(feed)
	require.NoError(t, err)
	return data
}

func tripUpdatesFeed(t *testing.T, ts uint64) []byte {
	return marshalFeed(t, &pb.FeedMessage{
		Header: &pb.FeedHeader{GtfsRealtimeVersion: proto.String("2.0"), Timestamp: proto.Uint64(ts)},
		Entity: []*pb.FeedEntity{{
			Id: proto.String("e1"),
			TripUpdate: &pb.TripUpdate{
				Trip: &pb.TripDescriptor{TripId: proto.String("trip-1")},
				StopTimeUpdate: []*pb.TripUpdate_StopTimeUpdate{
					{StopId: proto.String("stop-1"), StopSequence: proto.Uint32(2)},
				},
			},
		}},
	})
}

func vehiclePositionsFeed(t *testing.T, ts uint64) []byte {
	return marshalFeed(t, &pb.FeedMessage{
		Header: &pb.FeedHeader{GtfsRealtimeVersion: proto.String("2.0"), Timestamp: proto.Uint64(ts)},
		Entity: []*pb.FeedEntity{{
			Id: proto.String("e1"),
			Vehicle: &pb.VehiclePosition{
				Vehicle:  &pb.VehicleDescriptor{Id: proto.String("bus-1")},
				Position: &pb.Position{Latitude: proto.Float32(41.4), Longitude: proto.Float32(2.17)},
			},
		}},
	})
}

func alertsFeed(t *testing.T, ts uint64) []byte {
	return marshalFeed(t, &pb.FeedMessage{
		Header: &pb.FeedHeader{GtfsRealtimeVersion: proto.String("2.0"), Timestamp: proto.Uint64(ts)},
		Entity: []*pb.FeedEntity{{
			Id:    proto.String("alert-1"),
			Alert: &pb.Alert{},
		}},
	})
}

func serveBytes(data []byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
}

func newTestWorker(store Store, tuURL, vpURL, saURL string) *Worker {
	return NewWorker(Options{
		TripUpdatesURL:      tuURL,
		VehiclePositionsURL: vpURL,
		ServiceAlertsURL:    saURL,
		PollInterval:        time.Hour,
		StaleThreshold:      2 * time.Minute,
		Fetcher:             gtfsrt.NewFetcher(time.Second, 1, 2.0, testLogger()),
		Store:               store,
		Logger:              testLogger(),
	})
}

func TestRunOnceAllFeedsOK(t *testing.T) {
	ts := uint64(time.Now().Unix())
	tu := serveBytes(tripUpdatesFeed(t, ts))
	defer tu.Close()
	vp := serveBytes(vehiclePositionsFeed(t, ts))
	defer vp.Close()
	sa := serveBytes(alertsFeed(t, ts))
	defer sa.Close()

	store := &fakeStore{}
	w := newTestWorker(store, tu.URL, vp.URL, sa.URL)

	report := w.RunOnce(context.Background())
	require.Len(t, report.Feeds, 3)
	for feedType, result := range report.Feeds {
		assert.Equal(t, "ok", result.Status, feedType)
		assert.Equal(t, 1, result.EntityCount, feedType)
		assert.Equal(t, 1, result.RowsWritten, feedType)
		assert.False(t, result.Stale, feedType)
	}
	assert.Equal(t, 1, store.tripRows)
	assert.Equal(t, 1, store.vehicleRows)
	assert.Equal(t, 1, store.alertRows)

	meta, ok := store.metaFor(gtfs.FeedTripUpdates)
	require.True(t, ok)
	assert.Equal(t, "ok", meta.Status)
	assert.NotEmpty(t, meta.FeedHash)
}

func TestRunOnceIsolatesFeedFailures(t *testing.T) {
	ts := uint64(time.Now().Unix())
	tu := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer tu.Close()
	vp := serveBytes(vehiclePositionsFeed(t, ts))
	defer vp.Close()
	sa := serveBytes(alertsFeed(t, ts))
	defer sa.Close()

	store := &fakeStore{}
	w := newTestWorker(store, tu.URL, vp.URL, sa.URL)

	report := w.RunOnce(context.Background())
	assert.Equal(t, "error", report.Feeds[gtfs.FeedTripUpdates].Status)
	assert.NotEmpty(t, report.Feeds[gtfs.FeedTripUpdates].Error)
	assert.Equal(t, "ok", report.Feeds[gtfs.FeedVehiclePositions].Status)
	assert.Equal(t, "ok", report.Feeds[gtfs.FeedServiceAlerts].Status)

	// the failing feed never blocks the other two from landing
	assert.Equal(t, 0, store.tripRows)
	assert.Equal(t, 1, store.vehicleRows)
	assert.Equal(t, 1, store.alertRows)

	meta, ok := store.metaFor(gtfs.FeedTripUpdates)
	require.True(t, ok)
	assert.Equal(t, "error", meta.Status)
	assert.NotEmpty(t, meta.ErrorMessage)
}

func TestRunOnceIsolatesWriteFailures(t *testing.T) {
	ts := uint64(time.Now().Unix())
	tu := serveBytes(tripUpdatesFeed(t, ts))
	defer tu.Close()
	vp := serveBytes(vehiclePositionsFeed(t, ts))
	defer vp.Close()
	sa := serveBytes(alertsFeed(t, ts))
	defer sa.Close()

	store := &fakeStore{failTripInsert: true}
	w := newTestWorker(store, tu.URL, vp.URL, sa.URL)

	report := w.RunOnce(context.Background())
	assert.Equal(t, "error", report.Feeds[gtfs.FeedTripUpdates].Status)
	assert.Equal(t, "ok", report.Feeds[gtfs.FeedVehiclePositions].Status)
	assert.Equal(t, "ok", report.Feeds[gtfs.FeedServiceAlerts].Status)
	assert.Equal(t, 1, store.vehicleRows)
}

func TestRunOnceDecodeFailure(t *testing.T) {
	ts := uint64(time.Now().Unix())
	tu := serveBytes([]byte("definitely not protobuf content"))
	defer tu.Close()
	vp := serveBytes(vehiclePositionsFeed(t, ts))
	defer vp.Close()
	sa := serveBytes(alertsFeed(t, ts))
	defer sa.Close()

	store := &fakeStore{}
	w := newTestWorker(store, tu.URL, vp.URL, sa.URL)

	report := w.RunOnce(context.Background())
	assert.Equal(t, "error", report.Feeds[gtfs.FeedTripUpdates].Status)
	assert.Equal(t, "ok", report.Feeds[gtfs.FeedVehiclePositions].Status)
}

func TestRunOnceFlagsStaleFeeds(t *testing.T) {
	// ten minutes old against a two minute threshold
	staleTS := uint64(time.Now().Add(-10 * time.Minute).Unix())
	tu := serveBytes(tripUpdatesFeed(t, staleTS))
	defer tu.Close()
	vp := serveBytes(vehiclePositionsFeed(t, staleTS))
	defer vp.Close()
	sa := serveBytes(alertsFeed(t, staleTS))
	defer sa.Close()

	store := &fakeStore{}
	w := newTestWorker(store, tu.URL, vp.URL, sa.URL)

	report := w.RunOnce(context.Background())
	result := report.Feeds[gtfs.FeedTripUpdates]
	assert.Equal(t, "ok", result.Status, "staleness is informational, not a failure")
	assert.True(t, result.Stale)
	assert.Equal(t, 1, result.RowsWritten, "stale feeds are still written")
}

func TestStartStopLifecycle(t *testing.T) {
	ts := uint64(time.Now().Unix())
	tu := serveBytes(tripUpdatesFeed(t, ts))
	defer tu.Close()
	vp := serveBytes(vehiclePositionsFeed(t, ts))
	defer vp.Close()
	sa := serveBytes(alertsFeed(t, ts))
	defer sa.Close()

	store := &fakeStore{}
	w := newTestWorker(store, tu.URL, vp.URL, sa.URL)

	assert.False(t, w.Status().Running)
	w.Start(context.Background())
	w.Start(context.Background()) // second start is a logged no-op
	assert.True(t, w.Status().Running)

	// wait for the immediate first cycle
	deadline := time.Now().Add(2 * time.Second)
	for w.Status().PollCount == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	w.Stop()
	w.Stop() // second stop is a no-op
	st := w.Status()
	assert.False(t, st.Running)
	assert.GreaterOrEqual(t, st.PollCount, 1)
	require.NotNil(t, st.LastPollAt)
	assert.Equal(t, 3600, st.PollInterval)
}
