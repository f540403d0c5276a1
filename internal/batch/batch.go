// Package batch ingests many raw files into one container with per-file
// isolation: a failing file is recorded and skipped, never aborting the run.
// Files are processed by a bounded worker pool; each worker drives its own
// adapter instance, and writes serialize inside the store.
package batch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/amperelab/cellkit/internal/cellerr"
	"github.com/amperelab/cellkit/internal/monitoring"
	"github.com/amperelab/cellkit/internal/pipeline"
	"github.com/amperelab/cellkit/internal/schema"
	"github.com/amperelab/cellkit/internal/store"
)

// DefaultWorkers bounds concurrency when the caller does not.
const DefaultWorkers = 4

// Result records one successfully ingested file.
type Result struct {
	Path     string           `json:"path"`
	Handle   store.Handle     `json:"handle"`
	Rows     int              `json:"rows"`
	Warnings []schema.Warning `json:"warnings,omitempty"`
}

// Failure records one file that could not be ingested, labelled with its
// taxonomy class.
type Failure struct {
	Path    string `json:"path"`
	Class   string `json:"class"`
	Message string `json:"message"`
}

// Report is the outcome of one batch run. Entries appear in input order.
type Report struct {
	Succeeded []Result  `json:"succeeded"`
	Failures  []Failure `json:"failures"`
}

// Runner ingests batches into one container.
type Runner struct {
	db      *store.DB
	opts    pipeline.Options
	workers int
}

// NewRunner returns a batch runner. workers <= 0 selects DefaultWorkers.
func NewRunner(db *store.DB, opts pipeline.Options, workers int) *Runner {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Runner{db: db, opts: opts, workers: workers}
}

// Run ingests every path. Per-file failures land in the report; only
// context cancellation aborts the run early.
func (r *Runner) Run(ctx context.Context, paths []string) (*Report, error) {
	type slot struct {
		result  *Result
		failure *Failure
	}
	slots := make([]slot, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, path := range paths {
		g.Go(func() error {
			result, err := r.one(ctx, path)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				monitoring.Logf("batch: %s failed: %v", path, err)
				slots[i].failure = &Failure{
					Path:    path,
					Class:   cellerr.Class(err),
					Message: err.Error(),
				}
				return nil
			}
			slots[i].result = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch aborted: %w", err)
	}

	report := &Report{}
	for _, s := range slots {
		switch {
		case s.result != nil:
			report.Succeeded = append(report.Succeeded, *s.result)
		case s.failure != nil:
			report.Failures = append(report.Failures, *s.failure)
		}
	}
	monitoring.Logf("batch: %d succeeded, %d failed", len(report.Succeeded), len(report.Failures))
	return report, nil
}

func (r *Runner) one(ctx context.Context, path string) (*Result, error) {
	ds, warnings, err := pipeline.Ingest(ctx, path, r.opts)
	if err != nil {
		return nil, err
	}
	handle, err := r.db.Store(ctx, ds)
	if err != nil {
		return nil, err
	}
	return &Result{
		Path:     path,
		Handle:   handle,
		Rows:     len(ds.Samples),
		Warnings: warnings,
	}, nil
}
