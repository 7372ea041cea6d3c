package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInsertSkipConflictSQLSingleRow(t *testing.T) {
	got := insertSkipConflictSQL("rt_vehicle_positions",
		[]string{"vehicle_id", "feed_timestamp"},
		[]string{"vehicle_id", "feed_timestamp"}, 1)

	assert.Equal(t,
		"INSERT INTO rt_vehicle_positions (vehicle_id, feed_timestamp) VALUES ($1, $2)"+
			" ON CONFLICT (vehicle_id, feed_timestamp) DO NOTHING",
		got)
}

func TestInsertSkipConflictSQLMultiRow(t *testing.T) {
	got := insertSkipConflictSQL("rt_trip_updates",
		[]string{"trip_id", "stop_id", "feed_timestamp"},
		[]string{"trip_id", "stop_id", "feed_timestamp"}, 3)

	assert.Equal(t,
		"INSERT INTO rt_trip_updates (trip_id, stop_id, feed_timestamp) VALUES "+
			"($1, $2, $3), ($4, $5, $6), ($7, $8, $9)"+
			" ON CONFLICT (trip_id, stop_id, feed_timestamp) DO NOTHING",
		got)
}

func TestInsertSkipConflictSQLPlaceholdersKeepCounting(t *testing.T) {
	got := insertSkipConflictSQL("rt_alerts", alertColumns, alertConflict, 2)
	assert.Contains(t, got, "$13", "second row must continue the placeholder sequence")
	assert.NotContains(t, got, "$25")
}

func TestNewStoreBatchSizeFallback(t *testing.T) {
	s := NewStore(nil, 0)
	assert.Equal(t, defaultBatchSize, s.batchSize)

	s = NewStore(nil, 250)
	assert.Equal(t, 250, s.batchSize)
}
