package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// WriteError is returned when a batch insert or upsert fails at the
// database level. The failed batch is rolled back; earlier batches stand.
type WriteError struct {
	Table string
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write to %s failed: %v", e.Table, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

const defaultBatchSize = 500

// Store wraps a database handle with the realtime row writers, ingest meta
// upsert and matching queries.
type Store struct {
	db        *sql.DB
	batchSize int
}

// NewStore creates a store writing in batches of batchSize rows.
func NewStore(db *sql.DB, batchSize int) *Store {
	if batchSize < 1 {
		batchSize = defaultBatchSize
	}
	return &Store{db: db, batchSize: batchSize}
}
