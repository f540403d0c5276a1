// Package xlsxexport reads Excel workbook exports. Cyclers that export
// workbooks put the measurement grid on a data sheet whose name varies with
// firmware, so the sheet and its header row are located by content.
package xlsxexport

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/amperelab/cellkit/internal/cell"
	"github.com/amperelab/cellkit/internal/cellerr"
	"github.com/amperelab/cellkit/internal/ingest"
	"github.com/amperelab/cellkit/internal/schema"
	"github.com/amperelab/cellkit/internal/units"
)

// sheetNames are tried verbatim before falling back to a content scan.
var sheetNames = []string{"Channel_1", "Channel", "record", "Record", "Sheet1"}

// Adapter reads one workbook export. The workbook is loaded during Open;
// Next walks the in-memory row grid.
type Adapter struct {
	path    string
	file    *excelize.File
	columns []string
	rows    [][]string
	next    int
	index   int
}

// New returns an unopened workbook adapter.
func New() *Adapter { return &Adapter{} }

// Open loads the workbook and locates the measurement sheet and its header
// row. A workbook without a recognisable measurement grid fails with
// UnsupportedFormat.
func (a *Adapter) Open(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return &cellerr.UnsupportedFormatError{Path: path, Diagnostic: "not a readable workbook", Err: err}
	}
	a.path = path
	a.file = f

	rows, ok := a.findDataSheet()
	if !ok {
		a.Close()
		return &cellerr.UnsupportedFormatError{Path: path, Diagnostic: "no measurement sheet found"}
	}
	for i, row := range rows {
		if isHeaderRow(row) {
			a.columns = trimAll(row)
			a.rows = rows
			a.next = i + 1
			return nil
		}
	}
	a.Close()
	return &cellerr.UnsupportedFormatError{Path: path, Diagnostic: "no header row found"}
}

func (a *Adapter) findDataSheet() ([][]string, bool) {
	for _, name := range sheetNames {
		if rows, err := a.file.GetRows(name); err == nil && hasHeader(rows) {
			return rows, true
		}
	}
	for _, name := range a.file.GetSheetList() {
		if rows, err := a.file.GetRows(name); err == nil && hasHeader(rows) {
			return rows, true
		}
	}
	return nil, false
}

func hasHeader(rows [][]string) bool {
	for i, row := range rows {
		if i > 20 {
			break
		}
		if isHeaderRow(row) {
			return true
		}
	}
	return false
}

func isHeaderRow(row []string) bool {
	var hasTime, hasVoltage, hasCurrent bool
	for _, c := range row {
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

func trimAll(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = strings.TrimSpace(c)
	}
	return out
}

// Next returns the next grid row, skipping blanks.
func (a *Adapter) Next() (*ingest.RawRecord, error) {
	for a.next < len(a.rows) {
		row := a.rows[a.next]
		a.next++
		if isBlank(row) {
			continue
		}
		rec := &ingest.RawRecord{
			Index:  a.index,
			Values: make(map[string]float64, len(a.columns)),
			Labels: make(map[string]string),
		}
		for i, col := range a.columns {
			if col == "" || i >= len(row) {
				continue
			}
			c := strings.TrimSpace(row[i])
			if c == "" {
				continue
			}
			if v, err := strconv.ParseFloat(strings.ReplaceAll(c, ",", ""), 64); err == nil {
				rec.Values[col] = v
			} else {
				rec.Labels[col] = c
			}
		}
		a.index++
		return rec, nil
	}
	return nil, io.EOF
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Columns is the header row located by Open.
func (a *Adapter) Columns() []string { return a.columns }

// RowCountHint is the loaded grid size minus the header region.
func (a *Adapter) RowCountHint() int {
	if a.rows == nil {
		return -1
	}
	return len(a.rows) - a.next
}

// Close releases the workbook.
func (a *Adapter) Close() error {
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// DefaultMapping reuses the delimited-export headings; workbook exports from
// the same vendors carry the same column names.
func DefaultMapping() schema.Mapping {
	return schema.Mapping{
		Columns: []schema.ColumnMapping{
			{Source: "Test_Time(s)", Field: schema.FieldTestTime, Unit: units.Second},
			{Source: "Test_Time", Field: schema.FieldTestTime, Unit: units.Second},
			{Source: "Step_Index", Field: schema.FieldStepIndex},
			{Source: "Cycle_Index", Field: schema.FieldCycleIndex},
			{Source: "Voltage(V)", Field: schema.FieldVoltage, Unit: units.Volt},
			{Source: "Voltage", Field: schema.FieldVoltage, Unit: units.Volt},
			{Source: "Current(A)", Field: schema.FieldCurrent, Unit: units.Amp},
			{Source: "Current", Field: schema.FieldCurrent, Unit: units.Amp},
			{Source: "Charge_Capacity(Ah)", Field: schema.FieldChargeCapacity, Unit: units.AmpHour},
			{Source: "Charge_Capacity", Field: schema.FieldChargeCapacity, Unit: units.AmpHour},
			{Source: "Discharge_Capacity(Ah)", Field: schema.FieldDischargeCapacity, Unit: units.AmpHour},
			{Source: "Discharge_Capacity", Field: schema.FieldDischargeCapacity, Unit: units.AmpHour},
		},
		StepTypeLabels: map[string]cell.StepType{
			"charge":    cell.StepCharge,
			"discharge": cell.StepDischarge,
			"rest":      cell.StepRest,
		},
	}
}
