package gtfsrt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-reliability/internal/gtfs"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fast backoff so retry tests don't sleep for real
const testBackoffBase = 0.01

func TestFetchSuccess(t *testing.T) {
	payload := []byte("binary feed payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	f := NewFetcher(time.Second, 3, testBackoffBase, testLogger())
	data, hash, err := f.Fetch(context.Background(), srv.URL, gtfs.FeedTripUpdates, "poll-1")
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	sum := sha256.Sum256(payload)
	assert.Equal(t, hex.EncodeToString(sum[:]), hash)
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok payload"))
	}))
	defer srv.Close()

	f := NewFetcher(time.Second, 3, testBackoffBase, testLogger())
	data, _, err := f.Fetch(context.Background(), srv.URL, gtfs.FeedVehiclePositions, "poll-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("ok payload"), data)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchEmptyBodyIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewFetcher(time.Second, 2, testBackoffBase, testLogger())
	_, _, err := f.Fetch(context.Background(), srv.URL, gtfs.FeedServiceAlerts, "poll-1")
	require.Error(t, err)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, 2, fetchErr.Attempts)
	assert.Contains(t, fetchErr.Error(), "empty response body")
}

func TestFetchExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewFetcher(time.Second, 3, testBackoffBase, testLogger())
	_, _, err := f.Fetch(context.Background(), srv.URL, gtfs.FeedTripUpdates, "poll-1")
	require.Error(t, err)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, gtfs.FeedTripUpdates, fetchErr.FeedType)
	assert.Equal(t, 3, fetchErr.Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	// large base so the first backoff would sleep for seconds
	f := NewFetcher(time.Second, 3, 5, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, _, err := f.Fetch(ctx, srv.URL, gtfs.FeedTripUpdates, "poll-1")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second, "cancel must interrupt the backoff sleep")
	assert.True(t, errors.Is(err, context.Canceled))
}
