// Package ingest defines the adapter contract that every vendor format
// reader implements, and the format sniffing that routes a raw file to the
// right adapter. Adapters read raw records lazily; normalization onto the
// canonical schema happens downstream in the schema package.
package ingest

import (
	"context"

	"github.com/amperelab/cellkit/internal/fsutil"
)

// FS is the filesystem the in-process adapters and format detection read
// through. Tests may replace it with a memory filesystem.
var FS fsutil.FileSystem = fsutil.OSFileSystem{}

// RawRecord is one row of instrument output exactly as the adapter read it.
// Column names and units are adapter-specific; the schema normalizer maps
// them onto the canonical fields. Values carries numeric columns, Labels
// textual ones (e.g. a vendor step-mode string).
type RawRecord struct {
	// Index is the zero-based position of the record in the source file.
	Index  int
	Values map[string]float64
	Labels map[string]string
}

// Adapter reads one raw file into a lazy sequence of RawRecords. An adapter
// instance owns its file handle and any intermediate buffers exclusively, so
// distinct instances are safe to drive from separate goroutines.
//
// Open must be called exactly once before Next. Next returns io.EOF after
// the last record. Close releases the file handle and removes any temporary
// intermediate files; it must be safe to call after a failed Open.
type Adapter interface {
	Open(ctx context.Context, path string) error
	Next() (*RawRecord, error)
	// RowCountHint reports the expected number of records when the source
	// declares it, or -1 when unknown. It is a hint for preallocation only.
	RowCountHint() int
	Close() error
}

// ColumnLister is implemented by adapters that know the source's full
// column set after Open. The normalizer prefers it over sniffing the first
// record, whose cells may legitimately be blank.
type ColumnLister interface {
	Columns() []string
}
