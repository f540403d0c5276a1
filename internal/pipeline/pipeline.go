// Package pipeline routes a raw cycler file through format detection, the
// matching adapter, and schema normalization, producing a canonical dataset.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/amperelab/cellkit/internal/cell"
	"github.com/amperelab/cellkit/internal/ingest"
	"github.com/amperelab/cellkit/internal/ingest/mprbin"
	"github.com/amperelab/cellkit/internal/ingest/resbin"
	"github.com/amperelab/cellkit/internal/ingest/textexport"
	"github.com/amperelab/cellkit/internal/ingest/xlsxexport"
	"github.com/amperelab/cellkit/internal/monitoring"
	"github.com/amperelab/cellkit/internal/schema"
)

// Options tune ingestion. The zero value uses the built-in column mappings
// and the default external converter.
type Options struct {
	// ResTool is the external converter for Access-container exports.
	ResTool string
	// ResTable overrides the container table to export.
	ResTable string
	// TempDir is where converter working copies live.
	TempDir string
	// Mapping, when set, replaces the adapter's built-in column mapping.
	Mapping *schema.Mapping
}

// Ingest reads one raw file into a canonical dataset. The returned warnings
// report mapping ambiguities that were resolved by declaration order.
func Ingest(ctx context.Context, path string, opts Options) (*cell.Dataset, []schema.Warning, error) {
	format, err := ingest.Detect(path)
	if err != nil {
		return nil, nil, err
	}
	adapter, mapping := forFormat(format, opts)
	if opts.Mapping != nil {
		mapping = *opts.Mapping
	}

	if err := adapter.Open(ctx, path); err != nil {
		adapter.Close()
		return nil, nil, err
	}
	defer adapter.Close()

	meta := cell.Metadata{
		CellID:        cellIDFromPath(path),
		SourceFile:    path,
		FormatVersion: cell.CurrentFormatVersion,
	}
	ds, warnings, err := schema.Normalize(meta, adapter, mapping)
	if err != nil {
		return nil, warnings, fmt.Errorf("normalizing %s: %w", path, err)
	}
	for _, w := range warnings {
		monitoring.Logf("ingest %s: %s", path, w)
	}
	monitoring.Logf("ingest %s: format=%s rows=%d cycles=%d", path, format, len(ds.Samples), len(ds.Cycles()))
	return ds, warnings, nil
}

// forFormat returns the adapter and its built-in mapping for a detected
// format.
func forFormat(format ingest.Format, opts Options) (ingest.Adapter, schema.Mapping) {
	switch format {
	case ingest.FormatMPR:
		return mprbin.New(), mprbin.DefaultMapping()
	case ingest.FormatRES:
		return resbin.New(resbin.Options{Tool: opts.ResTool, Table: opts.ResTable, TempDir: opts.TempDir}), resbin.DefaultMapping()
	case ingest.FormatXLSX:
		return xlsxexport.New(), xlsxexport.DefaultMapping()
	default:
		return textexport.New(), textexport.DefaultMapping()
	}
}

// cellIDFromPath derives a cell identifier from the file name stem.
func cellIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
