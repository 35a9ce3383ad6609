// Package store defines the persistence interfaces for decoded feed records
// and the processed-file ledger, with Postgres, SQLite, and Parquet-archive
// implementations.
package store

import (
	"context"

	"nsefeed/internal/domain"
)

// batchSize is the number of rows committed per transaction.
const batchSize = 1000

// Store persists decoded record batches.
//
// Snapshot kinds are pure append: a remote file is only ingested once (the
// ledger is the dedup boundary), so the store does not deduplicate them.
// Securities are upserted by token number; bhavcopy rows are inserted
// conditionally on (symbol, business_timestamp) and duplicates are silently
// ignored.
//
// A failed batch is rolled back whole and reported as a persistence error;
// callers must not mark the source file processed.
type Store interface {
	// InsertSnapshots appends every record in the batch.
	InsertSnapshots(ctx context.Context, batch domain.Batch) error

	// UpsertSecurities replaces the row for each token number, stamping
	// lastUpdated (ISO date) on every written row.
	UpsertSecurities(ctx context.Context, secs []domain.SecurityMaster, lastUpdated string) error

	// InsertBhavcopy inserts rows not already present for their
	// (symbol, business_timestamp) key.
	InsertBhavcopy(ctx context.Context, rows []domain.BhavcopyRow) error

	// Close releases the underlying connections.
	Close() error
}

// Ledger is the durable set of already-ingested remote paths. Mark is
// insert-if-absent: marking a path twice is a no-op. After a restart, Seen
// reports true for every previously marked path.
type Ledger interface {
	Seen(ctx context.Context, path string) (bool, error)
	Mark(ctx context.Context, path string) error

	// LoadProcessed returns every marked path, used to warm the watcher's
	// hot cache at startup.
	LoadProcessed(ctx context.Context) ([]string, error)
}
