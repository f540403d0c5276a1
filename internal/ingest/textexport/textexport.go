// Package textexport reads delimited text exports from battery cyclers.
// Header layout varies between instruments and firmware revisions, so the
// header row is located dynamically and columns are matched by name rather
// than position.
package textexport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"

	"github.com/amperelab/cellkit/internal/cell"
	"github.com/amperelab/cellkit/internal/cellerr"
	"github.com/amperelab/cellkit/internal/ingest"
	"github.com/amperelab/cellkit/internal/schema"
	"github.com/amperelab/cellkit/internal/units"
)

// maxHeaderScan bounds how many leading lines are searched for the header
// row. Vendor exports put free-form test notes above it.
const maxHeaderScan = 50

// Adapter reads one delimited text export. Not safe for concurrent use; each
// file gets its own instance.
type Adapter struct {
	path    string
	file    fs.File
	scanner *bufio.Scanner
	sep     string
	columns []string
	index   int
}

// New returns an unopened text adapter.
func New() *Adapter { return &Adapter{} }

// Open locates the header row and positions the reader at the first data
// row. A file without a recognisable header fails with UnsupportedFormat.
func (a *Adapter) Open(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := ingest.FS.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	a.path = path
	a.file = f
	a.scanner = bufio.NewScanner(f)
	a.scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for i := 0; i < maxHeaderScan && a.scanner.Scan(); i++ {
		line := a.scanner.Text()
		sep := detectSeparator(line)
		if sep == "" {
			continue
		}
		cols := splitTrim(line, sep)
		if isHeaderRow(cols) {
			a.sep = sep
			a.columns = cols
			return nil
		}
	}
	a.Close()
	return &cellerr.UnsupportedFormatError{Path: path, Diagnostic: "no header row found"}
}

// Next returns the next data row. Blank lines are skipped; a row whose
// numeric cells fail to parse fails the file with CorruptData carrying the
// count of rows recovered so far.
func (a *Adapter) Next() (*ingest.RawRecord, error) {
	for a.scanner.Scan() {
		line := strings.TrimSpace(a.scanner.Text())
		if line == "" {
			continue
		}
		cells := splitTrim(line, a.sep)
		rec := &ingest.RawRecord{
			Index:  a.index,
			Values: make(map[string]float64, len(a.columns)),
			Labels: make(map[string]string),
		}
		for i, col := range a.columns {
			if i >= len(cells) || cells[i] == "" {
				continue
			}
			raw := strings.ReplaceAll(cells[i], ",", "")
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				rec.Values[col] = v
			} else if looksNumericColumn(col) {
				return nil, &cellerr.CorruptDataError{
					Path:          a.path,
					RowsRecovered: a.index,
					Err:           fmt.Errorf("row %d: parsing %s value %q: %w", a.index, col, cells[i], err),
				}
			} else {
				rec.Labels[col] = cells[i]
			}
		}
		a.index++
		return rec, nil
	}
	if err := a.scanner.Err(); err != nil {
		return nil, &cellerr.CorruptDataError{Path: a.path, RowsRecovered: a.index, Err: err}
	}
	return nil, io.EOF
}

// RowCountHint is unknown for text exports.
func (a *Adapter) RowCountHint() int { return -1 }

// Columns is the header row located by Open.
func (a *Adapter) Columns() []string { return a.columns }

// Close releases the file handle. Safe after a failed Open.
func (a *Adapter) Close() error {
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// detectSeparator picks the delimiter that splits the line into the most
// fields, preferring tab, then semicolon, then comma.
func detectSeparator(line string) string {
	best, bestCount := "", 1
	for _, sep := range []string{"\t", ";", ","} {
		if n := len(strings.Split(line, sep)); n > bestCount {
			best, bestCount = sep, n
		}
	}
	return best
}

func splitTrim(line, sep string) []string {
	parts := strings.Split(line, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// isHeaderRow recognises the measurement header: it must name a time column
// plus voltage and current.
func isHeaderRow(cols []string) bool {
	var hasTime, hasVoltage, hasCurrent bool
	for _, c := range cols {
		lc := strings.ToLower(c)
		switch {
		case strings.Contains(lc, "time"):
			hasTime = true
		case strings.Contains(lc, "volt"):
			hasVoltage = true
		case strings.Contains(lc, "current"):
			hasCurrent = true
		}
	}
	return hasTime && hasVoltage && hasCurrent
}

// looksNumericColumn reports whether a parse failure in this column is fatal.
// Step-mode and note columns legitimately hold text.
func looksNumericColumn(col string) bool {
	lc := strings.ToLower(col)
	for _, textual := range []string{"state", "mode", "type", "note", "comment", "md"} {
		if strings.Contains(lc, textual) {
			return false
		}
	}
	return true
}

// DefaultMapping covers the Arbin-style export headers, including the
// unit-suffixed variants newer firmware emits. Both spellings of a field are
// declared; when a file carries both, the first declared wins and the
// normalizer warns about the duplicate.
func DefaultMapping() schema.Mapping {
	return schema.Mapping{
		Columns: []schema.ColumnMapping{
			{Source: "Test_Time(s)", Field: schema.FieldTestTime, Unit: units.Second},
			{Source: "Test_Time", Field: schema.FieldTestTime, Unit: units.Second},
			{Source: "Test_Time(h)", Field: schema.FieldTestTime, Unit: units.Hour},
			{Source: "Step_Index", Field: schema.FieldStepIndex},
			{Source: "Cycle_Index", Field: schema.FieldCycleIndex},
			{Source: "Voltage(V)", Field: schema.FieldVoltage, Unit: units.Volt},
			{Source: "Voltage", Field: schema.FieldVoltage, Unit: units.Volt},
			{Source: "Voltage(mV)", Field: schema.FieldVoltage, Unit: units.Millivolt},
			{Source: "Current(A)", Field: schema.FieldCurrent, Unit: units.Amp},
			{Source: "Current", Field: schema.FieldCurrent, Unit: units.Amp},
			{Source: "Current(mA)", Field: schema.FieldCurrent, Unit: units.Milliamp},
			{Source: "Charge_Capacity(Ah)", Field: schema.FieldChargeCapacity, Unit: units.AmpHour},
			{Source: "Charge_Capacity", Field: schema.FieldChargeCapacity, Unit: units.AmpHour},
			{Source: "Charge_Capacity(mAh)", Field: schema.FieldChargeCapacity, Unit: units.MilliampH},
			{Source: "Discharge_Capacity(Ah)", Field: schema.FieldDischargeCapacity, Unit: units.AmpHour},
			{Source: "Discharge_Capacity", Field: schema.FieldDischargeCapacity, Unit: units.AmpHour},
			{Source: "Discharge_Capacity(mAh)", Field: schema.FieldDischargeCapacity, Unit: units.MilliampH},
			{Source: "Step_Type", Field: schema.FieldStepType},
			{Source: "MD", Field: schema.FieldStepType},
		},
		StepTypeLabels: map[string]cell.StepType{
			"charge":    cell.StepCharge,
			"cc_chg":    cell.StepCharge,
			"cccv_chg":  cell.StepCharge,
			"discharge": cell.StepDischarge,
			"cc_dchg":   cell.StepDischarge,
			"rest":      cell.StepRest,
			"pause":     cell.StepRest,
		},
	}
}
