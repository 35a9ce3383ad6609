package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"nsefeed/internal/domain"
)

// ParquetArchive writes decoded snapshot batches to columnar files on disk,
// one file per record kind per business date. The archive sits beside the
// relational store: rows are appended after a batch commits and are never
// read back by the ingest path.
type ParquetArchive struct {
	DataDir string
}

// NewParquetArchive creates an archive rooted at the given data directory.
func NewParquetArchive(dataDir string) *ParquetArchive {
	return &ParquetArchive{DataDir: dataDir}
}

// Write appends every record in the batch to the file for its kind and date.
func (a *ParquetArchive) Write(batch domain.Batch, date time.Time) error {
	switch batch.Kind {
	case domain.KindMarket:
		return appendParquet(a.path(batch.Kind, date), batch.Market)
	case domain.KindIndex:
		return appendParquet(a.path(batch.Kind, date), batch.Index)
	case domain.KindCallAuction:
		return appendParquet(a.path(batch.Kind, date), batch.CallAuction)
	}
	return fmt.Errorf("archive: unknown batch kind %q", batch.Kind)
}

// path returns the archive file for a kind and business date.
// Layout: <DataDir>/archive/<kind>/<YYYY-MM-DD>.parquet
func (a *ParquetArchive) path(kind domain.Kind, date time.Time) string {
	return filepath.Join(a.DataDir, "archive", string(kind), date.Format("2006-01-02")+".parquet")
}

// appendParquet rewrites the file with the existing rows plus the new ones.
// Snapshot records have no natural key, so no deduplication is attempted.
// A file that exists but cannot be read aborts the append; rewriting it
// would replace the prior rows with only the new ones.
func appendParquet[T any](path string, records []T) error {
	if len(records) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	existing, err := parquet.ReadFile[T](path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("archive: reading %s: %w", path, err)
	}

	merged := append(existing, records...)
	return parquet.WriteFile(path, merged)
}
