package gtfsrt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"
)

// FetchError is returned when a feed fetch fails after all retries.
type FetchError struct {
	FeedType string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s after %d attempts: %v", e.FeedType, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher downloads GTFS-RT protobuf feeds with bounded retries and
// exponential backoff. Backoff sleeps honour context cancellation.
type Fetcher struct {
	client      *http.Client
	maxRetries  int
	backoffBase float64
	logger      *slog.Logger
}

// NewFetcher creates a fetcher. The timeout applies per attempt, not to
// the whole retry sequence.
func NewFetcher(timeout time.Duration, maxRetries int, backoffBase float64, logger *slog.Logger) *Fetcher {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Fetcher{
		client:      &http.Client{Timeout: timeout},
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
		logger:      logger,
	}
}

// Fetch downloads the feed at url and returns the raw bytes together with
// their SHA-256 hex digest. An empty body counts as a failed attempt.
func (f *Fetcher) Fetch(ctx context.Context, url, feedType, pollID string) ([]byte, string, error) {
	var lastErr error

	for attempt := 0; attempt < f.maxRetries; attempt++ {
		data, err := f.fetchOnce(ctx, url)
		if err == nil {
			sum := sha256.Sum256(data)
			feedHash := hex.EncodeToString(sum[:])
			f.logger.Info("feed downloaded",
				"feed_type", feedType,
				"poll_id", pollID,
				"size_bytes", len(data),
				"feed_hash", feedHash[:12],
			)
			return data, feedHash, nil
		}

		lastErr = err
		if attempt < f.maxRetries-1 {
			delay := time.Duration(math.Pow(f.backoffBase, float64(attempt+1)) * float64(time.Second))
			f.logger.Warn("feed fetch failed, retrying",
				"feed_type", feedType,
				"poll_id", pollID,
				"attempt", attempt+1,
				"delay", delay,
				"error", err,
			)
			if err := sleepCtx(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}
	}

	fetchErr := &FetchError{FeedType: feedType, Attempts: f.maxRetries, Err: lastErr}
	f.logger.Error("feed fetch exhausted retries",
		"feed_type", feedType,
		"poll_id", pollID,
		"error", lastErr,
	)
	return nil, "", fetchErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("empty response body")
	}
	return body, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
