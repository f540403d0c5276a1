// Package resbin reads Access-container exports (.res) by shelling out to an
// external conversion utility. The source file is first copied into a
// private temporary directory because some converter builds open the
// container read-write; the copy and any intermediate output are removed on
// every exit path, including cancellation.
package resbin

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/amperelab/cellkit/internal/cell"
	"github.com/amperelab/cellkit/internal/cellerr"
	"github.com/amperelab/cellkit/internal/ingest"
	"github.com/amperelab/cellkit/internal/schema"
	"github.com/amperelab/cellkit/internal/units"
)

const (
	// DefaultTool is the converter invoked when none is configured. It is
	// expected to print one table of the container as CSV on stdout.
	DefaultTool = "mdb-export"
	// measurementTable holds the per-sample rows inside the container.
	measurementTable = "Channel_Normal_Table"

	// stderrExcerptLen bounds how much converter stderr ends up in a
	// diagnostic.
	stderrExcerptLen = 400
)

// Options configure the external converter.
type Options struct {
	// Tool is the converter executable. Empty means DefaultTool.
	Tool string
	// Table overrides the container table to export.
	Table string
	// TempDir is where the private working copy lives. Empty means the
	// system default.
	TempDir string
}

// Adapter reads one container export through the converter. The converter
// runs to completion during Open; Next then walks the captured CSV.
type Adapter struct {
	opts    Options
	path    string
	workDir string
	reader  *csv.Reader
	columns []string
	index   int
}

// New returns an unopened container adapter.
func New(opts Options) *Adapter {
	if opts.Tool == "" {
		opts.Tool = DefaultTool
	}
	if opts.Table == "" {
		opts.Table = measurementTable
	}
	return &Adapter{opts: opts}
}

// Open copies the container aside, runs the converter under ctx, and parses
// the CSV header. Converter failures are reported as UnsupportedFormat with
// the tool's stderr as the diagnostic; cancellation propagates ctx.Err().
// The working copy is removed before Open returns an error.
func (a *Adapter) Open(ctx context.Context, path string) (err error) {
	a.path = path
	a.workDir, err = ingest.FS.MkdirTemp(a.opts.TempDir, "res-convert-*")
	if err != nil {
		return fmt.Errorf("creating working directory: %w", err)
	}
	defer func() {
		if err != nil {
			a.cleanup()
		}
	}()

	workCopy := filepath.Join(a.workDir, filepath.Base(path))
	if err := copyFile(path, workCopy); err != nil {
		return fmt.Errorf("staging %s: %w", path, err)
	}

	out, err := a.runConverter(ctx, workCopy)
	if err != nil {
		return err
	}

	a.reader = csv.NewReader(bytes.NewReader(out))
	a.reader.FieldsPerRecord = -1
	header, err := a.reader.Read()
	if err != nil {
		return &cellerr.UnsupportedFormatError{Path: path, Diagnostic: "converter produced no header row", Err: err}
	}
	a.columns = header
	a.index = 0
	return nil
}

func (a *Adapter) runConverter(ctx context.Context, workCopy string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, a.opts.Tool, workCopy, a.opts.Table)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, &cellerr.UnsupportedFormatError{
				Path:       a.path,
				Diagnostic: fmt.Sprintf("converter %q not found", a.opts.Tool),
				Err:        err,
			}
		}
		diag := strings.TrimSpace(stderr.String())
		if len(diag) > stderrExcerptLen {
			diag = diag[:stderrExcerptLen]
		}
		if diag == "" {
			diag = err.Error()
		}
		return nil, &cellerr.UnsupportedFormatError{Path: a.path, Diagnostic: "converter failed: " + diag, Err: err}
	}
	return stdout.Bytes(), nil
}

// Next returns the next converted row. Cells that fail numeric parsing in a
// numeric column fail the file with CorruptData.
func (a *Adapter) Next() (*ingest.RawRecord, error) {
	row, err := a.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, &cellerr.CorruptDataError{Path: a.path, RowsRecovered: a.index, Err: err}
	}
	rec := &ingest.RawRecord{
		Index:  a.index,
		Values: make(map[string]float64, len(a.columns)),
		Labels: make(map[string]string),
	}
	for i, col := range a.columns {
		if i >= len(row) || row[i] == "" {
			continue
		}
		if v, err := strconv.ParseFloat(row[i], 64); err == nil {
			rec.Values[col] = v
		} else {
			rec.Labels[col] = row[i]
		}
	}
	a.index++
	return rec, nil
}

// RowCountHint is unknown; the converter does not declare a row count.
func (a *Adapter) RowCountHint() int { return -1 }

// Columns is the converter's CSV header row.
func (a *Adapter) Columns() []string { return a.columns }

// Close removes the working directory and the captured output.
func (a *Adapter) Close() error {
	a.reader = nil
	return a.cleanup()
}

func (a *Adapter) cleanup() error {
	if a.workDir == "" {
		return nil
	}
	err := ingest.FS.RemoveAll(a.workDir)
	a.workDir = ""
	return err
}

func copyFile(src, dst string) error {
	in, err := ingest.FS.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := ingest.FS.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// DefaultMapping covers the measurement-table headings. Capacities are
// cumulative amp-hours as stored in the container.
func DefaultMapping() schema.Mapping {
	return schema.Mapping{
		Columns: []schema.ColumnMapping{
			{Source: "Test_Time", Field: schema.FieldTestTime, Unit: units.Second},
			{Source: "Step_Index", Field: schema.FieldStepIndex},
			{Source: "Cycle_Index", Field: schema.FieldCycleIndex},
			{Source: "Voltage", Field: schema.FieldVoltage, Unit: units.Volt},
			{Source: "Current", Field: schema.FieldCurrent, Unit: units.Amp},
			{Source: "Charge_Capacity", Field: schema.FieldChargeCapacity, Unit: units.AmpHour},
			{Source: "Discharge_Capacity", Field: schema.FieldDischargeCapacity, Unit: units.AmpHour},
		},
		StepTypeLabels: map[string]cell.StepType{},
	}
}
