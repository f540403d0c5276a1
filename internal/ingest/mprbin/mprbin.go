// Package mprbin reads module-structured binary exports (.mpr). A file is a
// sequence of sections, each opened by the ASCII tag "MODULE", a fixed-size
// header naming the section, and a payload. Measurements live in the
// "VMP data" section as packed little-endian rows whose layout is declared
// by a column-ID table in the section preamble.
package mprbin

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/amperelab/cellkit/internal/cell"
	"github.com/amperelab/cellkit/internal/cellerr"
	"github.com/amperelab/cellkit/internal/ingest"
	"github.com/amperelab/cellkit/internal/schema"
	"github.com/amperelab/cellkit/internal/units"
)

var moduleMagic = []byte("MODULE")

// moduleHeader trails the magic in every section. Fixed 51-byte layout.
type moduleHeader struct {
	Shortname [10]byte
	Longname  [25]byte
	Length    uint32
	Version   uint32
	Date      [8]byte
}

const moduleHeaderSize = 10 + 25 + 4 + 4 + 8

type module struct {
	shortname string
	version   uint32
	data      []byte
}

// colKind is the on-disk encoding of one column.
type colKind int

const (
	kindFlagsU8 colKind = iota
	kindF4
	kindF8
	kindU2
)

func (k colKind) size() int {
	switch k {
	case kindFlagsU8:
		return 1
	case kindF4:
		return 4
	case kindF8:
		return 8
	case kindU2:
		return 2
	}
	return 0
}

type column struct {
	name string
	kind colKind
}

// colTable maps the column-ID bytes in the data preamble to names and
// encodings. IDs outside the table make the file unsupported rather than
// silently misaligning every following row.
var colTable = map[uint16]column{
	1:   {"flags", kindFlagsU8},
	2:   {"flags", kindFlagsU8},
	3:   {"flags", kindFlagsU8},
	21:  {"flags", kindFlagsU8},
	31:  {"flags", kindFlagsU8},
	65:  {"flags", kindFlagsU8},
	4:   {"time/s", kindF8},
	6:   {"Ewe/V", kindF4},
	7:   {"dQ/mA.h", kindF8},
	8:   {"I/mA", kindF4},
	11:  {"I/mA", kindF8},
	13:  {"(Q-Qo)/mA.h", kindF8},
	19:  {"control/V", kindF4},
	20:  {"control/mA", kindF4},
	23:  {"dQ/mA.h", kindF8},
	24:  {"cycle number", kindF8},
	74:  {"Energy/W.h", kindF8},
	76:  {"I/mA", kindF4},
	77:  {"Ewe/V", kindF4},
	131: {"Ns", kindU2},
}

// Adapter reads one binary export. The data section is decoded row by row
// from an in-memory copy of its payload.
type Adapter struct {
	path    string
	columns []column
	rowSize int
	nPoints int
	rows    []byte
	index   int
}

// New returns an unopened binary adapter.
func New() *Adapter { return &Adapter{} }

// Open reads all sections and locates the data section. Structural problems
// before any row is decoded surface as UnsupportedFormat; a truncated row
// region surfaces as CorruptData with the rows that remain decodable.
func (a *Adapter) Open(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := ingest.FS.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	a.path = path

	modules, err := readModules(raw)
	if err != nil {
		return &cellerr.UnsupportedFormatError{Path: path, Diagnostic: err.Error()}
	}
	var data *module
	for i := range modules {
		if modules[i].shortname == "VMP data" {
			data = &modules[i]
		}
	}
	if data == nil {
		return &cellerr.UnsupportedFormatError{Path: path, Diagnostic: "no data section"}
	}
	return a.openData(data)
}

// openData decodes the data-section preamble: point count, column count,
// column IDs, then the packed rows. Version 0 carries one-byte IDs with rows
// at offset 100; version 2 carries two-byte IDs with rows at offset 405.
func (a *Adapter) openData(data *module) error {
	if len(data.data) < 5 {
		return &cellerr.UnsupportedFormatError{Path: a.path, Diagnostic: "data section too short"}
	}
	a.nPoints = int(binary.LittleEndian.Uint32(data.data[:4]))
	nCols := int(data.data[4])

	var ids []uint16
	var rowStart int
	switch data.version {
	case 0:
		rowStart = 100
		if len(data.data) < 5+nCols {
			return &cellerr.UnsupportedFormatError{Path: a.path, Diagnostic: "column table truncated"}
		}
		for _, b := range data.data[5 : 5+nCols] {
			ids = append(ids, uint16(b))
		}
	case 2:
		rowStart = 405
		if len(data.data) < 5+2*nCols {
			return &cellerr.UnsupportedFormatError{Path: a.path, Diagnostic: "column table truncated"}
		}
		for i := 0; i < nCols; i++ {
			ids = append(ids, binary.LittleEndian.Uint16(data.data[5+2*i:]))
		}
	default:
		return &cellerr.UnsupportedFormatError{
			Path:       a.path,
			Diagnostic: fmt.Sprintf("unrecognised data section version %d", data.version),
		}
	}

	a.columns = a.columns[:0]
	a.rowSize = 0
	for _, id := range ids {
		col, ok := colTable[id]
		if !ok {
			return &cellerr.UnsupportedFormatError{
				Path:       a.path,
				Diagnostic: fmt.Sprintf("unknown column id %d", id),
			}
		}
		a.columns = append(a.columns, col)
		a.rowSize += col.kind.size()
	}
	if a.rowSize == 0 {
		return &cellerr.UnsupportedFormatError{Path: a.path, Diagnostic: "empty column table"}
	}
	if len(data.data) < rowStart {
		return &cellerr.UnsupportedFormatError{Path: a.path, Diagnostic: "row region missing"}
	}
	a.rows = data.data[rowStart:]
	a.index = 0
	return nil
}

// Next decodes one packed row. Running out of bytes before the declared
// point count is reached reports CorruptData with the rows recovered.
func (a *Adapter) Next() (*ingest.RawRecord, error) {
	if a.index >= a.nPoints {
		return nil, io.EOF
	}
	off := a.index * a.rowSize
	if off+a.rowSize > len(a.rows) {
		return nil, &cellerr.CorruptDataError{
			Path:          a.path,
			RowsRecovered: a.index,
			Err:           fmt.Errorf("row region truncated at row %d of %d", a.index, a.nPoints),
		}
	}
	rec := &ingest.RawRecord{
		Index:  a.index,
		Values: make(map[string]float64, len(a.columns)),
	}
	for _, col := range a.columns {
		switch col.kind {
		case kindFlagsU8:
			rec.Values[col.name] = float64(a.rows[off])
		case kindF4:
			rec.Values[col.name] = float64(math.Float32frombits(binary.LittleEndian.Uint32(a.rows[off:])))
		case kindF8:
			rec.Values[col.name] = math.Float64frombits(binary.LittleEndian.Uint64(a.rows[off:]))
		case kindU2:
			rec.Values[col.name] = float64(binary.LittleEndian.Uint16(a.rows[off:]))
		}
		off += col.kind.size()
	}
	a.index++
	return rec, nil
}

// RowCountHint is the declared point count.
func (a *Adapter) RowCountHint() int { return a.nPoints }

// Columns lists the decoded column names in on-disk order.
func (a *Adapter) Columns() []string {
	names := make([]string, len(a.columns))
	for i, col := range a.columns {
		names[i] = col.name
	}
	return names
}

// Close releases the decoded payload.
func (a *Adapter) Close() error {
	a.rows = nil
	return nil
}

// readModules walks the section chain until the end of the file.
func readModules(raw []byte) ([]module, error) {
	var modules []module
	pos := 0
	for pos < len(raw) {
		if !bytes.HasPrefix(raw[pos:], moduleMagic) {
			return nil, fmt.Errorf("no section magic at offset %d", pos)
		}
		pos += len(moduleMagic)
		if pos+moduleHeaderSize > len(raw) {
			return nil, fmt.Errorf("section header truncated at offset %d", pos)
		}
		var hdr moduleHeader
		if err := binary.Read(bytes.NewReader(raw[pos:pos+moduleHeaderSize]), binary.LittleEndian, &hdr); err != nil {
			return nil, fmt.Errorf("decoding section header: %w", err)
		}
		pos += moduleHeaderSize
		length := int(hdr.Length)
		if pos+length > len(raw) {
			return nil, fmt.Errorf("section payload truncated at offset %d", pos)
		}
		modules = append(modules, module{
			shortname: strings.TrimRight(string(hdr.Shortname[:]), "\x00 "),
			version:   hdr.Version,
			data:      raw[pos : pos+length],
		})
		pos += length
	}
	if len(modules) == 0 {
		return nil, fmt.Errorf("no sections")
	}
	return modules, nil
}

// DefaultMapping covers the data-section column names. Step boundaries come
// from the Ns sequence counter; rows carry no textual step mode, so step
// types are classified from current sign downstream.
func DefaultMapping() schema.Mapping {
	return schema.Mapping{
		Columns: []schema.ColumnMapping{
			{Source: "time/s", Field: schema.FieldTestTime, Unit: units.Second},
			{Source: "Ewe/V", Field: schema.FieldVoltage, Unit: units.Volt},
			{Source: "I/mA", Field: schema.FieldCurrent, Unit: units.Milliamp},
			{Source: "cycle number", Field: schema.FieldCycleIndex},
			{Source: "Ns", Field: schema.FieldStepIndex},
		},
		StepTypeLabels: map[string]cell.StepType{},
	}
}
