package schema

import (
	"context"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amperelab/cellkit/internal/cell"
	"github.com/amperelab/cellkit/internal/cellerr"
	"github.com/amperelab/cellkit/internal/ingest"
	"github.com/amperelab/cellkit/internal/units"
)

// fakeAdapter replays a fixed record sequence. When columns is set it also
// declares the source's column set, like the file-backed adapters do.
type fakeAdapter struct {
	records []*ingest.RawRecord
	columns []string
	pos     int
}

func (f *fakeAdapter) Open(ctx context.Context, path string) error { return nil }

func (f *fakeAdapter) Next() (*ingest.RawRecord, error) {
	if f.pos >= len(f.records) {
		return nil, io.EOF
	}
	rec := f.records[f.pos]
	f.pos++
	return rec, nil
}

func (f *fakeAdapter) RowCountHint() int { return len(f.records) }
func (f *fakeAdapter) Columns() []string { return f.columns }
func (f *fakeAdapter) Close() error      { return nil }

func record(idx int, values map[string]float64) *ingest.RawRecord {
	return &ingest.RawRecord{Index: idx, Values: values}
}

var basicMapping = Mapping{
	Columns: []ColumnMapping{
		{Source: "t", Field: FieldTestTime, Unit: units.Second},
		{Source: "v", Field: FieldVoltage, Unit: units.Volt},
		{Source: "i", Field: FieldCurrent, Unit: units.Amp},
	},
}

// chargeSequence is two rest seconds followed by ten seconds of 1 A charge.
func chargeSequence() []*ingest.RawRecord {
	var recs []*ingest.RawRecord
	for t := 0; t < 2; t++ {
		recs = append(recs, record(t, map[string]float64{"t": float64(t), "v": 3.2, "i": 0}))
	}
	for t := 2; t <= 12; t++ {
		recs = append(recs, record(t, map[string]float64{"t": float64(t), "v": 3.5, "i": 1}))
	}
	return recs
}

func TestNormalizeIntegratesCapacity(t *testing.T) {
	t.Parallel()

	ds, warnings, err := Normalize(cell.Metadata{CellID: "c1"}, &fakeAdapter{records: chargeSequence()}, basicMapping)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, ds.Samples, 13)

	// 1 A for 10 s is 10/3600 Ah.
	last := ds.Samples[len(ds.Samples)-1]
	assert.Equal(t, cell.StepCharge, last.StepType)
	assert.InDelta(t, 10.0/3600.0, last.ChargeCapacity, 1e-12)
	assert.Zero(t, last.DischargeCapacity)

	// Capacity starts at zero when the charge step begins.
	assert.Zero(t, ds.Samples[2].ChargeCapacity)
	require.NoError(t, ds.Validate())
}

func TestNormalizeDerivesIndices(t *testing.T) {
	t.Parallel()

	var recs []*ingest.RawRecord
	phases := []struct {
		current float64
		seconds int
	}{
		{1, 3},  // charge
		{0, 2},  // rest
		{-1, 3}, // discharge
		{1, 3},  // charge again, new cycle
	}
	tt := 0
	for _, p := range phases {
		for s := 0; s < p.seconds; s++ {
			recs = append(recs, record(tt, map[string]float64{"t": float64(tt), "v": 3.4, "i": p.current}))
			tt++
		}
	}

	ds, _, err := Normalize(cell.Metadata{}, &fakeAdapter{records: recs}, basicMapping)
	require.NoError(t, err)
	require.Len(t, ds.Samples, 11)

	assert.Equal(t, 1, ds.Samples[0].CycleIndex)
	assert.Equal(t, 1, ds.Samples[7].CycleIndex, "discharge stays in cycle 1")
	assert.Equal(t, 2, ds.Samples[8].CycleIndex, "discharge to charge starts cycle 2")

	assert.Equal(t, 1, ds.Samples[0].StepIndex)
	assert.Equal(t, 2, ds.Samples[3].StepIndex)
	assert.Equal(t, 3, ds.Samples[5].StepIndex)
	assert.Equal(t, 4, ds.Samples[8].StepIndex)
	require.NoError(t, ds.Validate())
}

func TestNormalizeTieBreak(t *testing.T) {
	t.Parallel()

	mapping := Mapping{
		Columns: []ColumnMapping{
			{Source: "Test_Time(s)", Field: FieldTestTime, Unit: units.Second},
			{Source: "Test_Time(h)", Field: FieldTestTime, Unit: units.Hour},
			{Source: "v", Field: FieldVoltage, Unit: units.Volt},
			{Source: "i", Field: FieldCurrent, Unit: units.Amp},
		},
	}
	recs := []*ingest.RawRecord{
		record(0, map[string]float64{"Test_Time(s)": 0, "Test_Time(h)": 0, "v": 3.2, "i": 1}),
		record(1, map[string]float64{"Test_Time(s)": 10, "Test_Time(h)": 99, "v": 3.2, "i": 1}),
	}

	ds, warnings, err := Normalize(cell.Metadata{}, &fakeAdapter{records: recs}, mapping)
	require.NoError(t, err)

	require.Len(t, warnings, 1)
	assert.Equal(t, FieldTestTime, warnings[0].Field)
	assert.Equal(t, "Test_Time(s)", warnings[0].Kept)
	assert.Equal(t, "Test_Time(h)", warnings[0].Ignored)

	// First declared column wins; the hour column is ignored entirely.
	assert.Equal(t, 10.0, ds.Samples[1].TestTime)
}

func TestNormalizeMissingRequiredField(t *testing.T) {
	t.Parallel()

	recs := []*ingest.RawRecord{
		record(0, map[string]float64{"t": 0, "v": 3.2}),
	}
	_, _, err := Normalize(cell.Metadata{}, &fakeAdapter{records: recs}, basicMapping)

	var sm *cellerr.SchemaMismatchError
	require.ErrorAs(t, err, &sm)
	assert.Equal(t, string(FieldCurrent), sm.Field)
}

func TestNormalizeConvertsUnits(t *testing.T) {
	t.Parallel()

	mapping := Mapping{
		Columns: []ColumnMapping{
			{Source: "t", Field: FieldTestTime, Unit: units.Second},
			{Source: "mv", Field: FieldVoltage, Unit: units.Millivolt},
			{Source: "ma", Field: FieldCurrent, Unit: units.Milliamp},
		},
	}
	recs := []*ingest.RawRecord{
		record(0, map[string]float64{"t": 0, "mv": 3650, "ma": 1500}),
	}

	ds, _, err := Normalize(cell.Metadata{}, &fakeAdapter{records: recs}, mapping)
	require.NoError(t, err)
	require.Len(t, ds.Samples, 1)
	assert.InDelta(t, 3.65, ds.Samples[0].Voltage, 1e-12)
	assert.InDelta(t, 1.5, ds.Samples[0].Current, 1e-12)
}

func TestNormalizeStepLabels(t *testing.T) {
	t.Parallel()

	mapping := Mapping{
		Columns: []ColumnMapping{
			{Source: "t", Field: FieldTestTime, Unit: units.Second},
			{Source: "v", Field: FieldVoltage, Unit: units.Volt},
			{Source: "i", Field: FieldCurrent, Unit: units.Amp},
			{Source: "mode", Field: FieldStepType},
		},
		StepTypeLabels: map[string]cell.StepType{
			"cc_chg": cell.StepCharge,
		},
	}
	recs := []*ingest.RawRecord{
		{
			Index:  0,
			Values: map[string]float64{"t": 0, "v": 3.2, "i": 0},
			Labels: map[string]string{"mode": "CC_Chg"},
		},
	}

	ds, _, err := Normalize(cell.Metadata{}, &fakeAdapter{records: recs}, mapping)
	require.NoError(t, err)
	require.Len(t, ds.Samples, 1)
	// The label wins even though zero current would classify as rest.
	assert.Equal(t, cell.StepCharge, ds.Samples[0].StepType)
}

func TestNormalizeBlankFirstCell(t *testing.T) {
	t.Parallel()

	mapping := Mapping{
		Columns: []ColumnMapping{
			{Source: "t", Field: FieldTestTime, Unit: units.Second},
			{Source: "v", Field: FieldVoltage, Unit: units.Volt},
			{Source: "i", Field: FieldCurrent, Unit: units.Amp},
			{Source: "cap", Field: FieldChargeCapacity, Unit: units.AmpHour},
		},
	}
	recs := []*ingest.RawRecord{
		// The exporter left the capacity cell blank on the first row.
		record(0, map[string]float64{"t": 0, "v": 3.4, "i": 1}),
		record(1, map[string]float64{"t": 1, "v": 3.5, "i": 1, "cap": 0.005}),
	}
	src := &fakeAdapter{records: recs, columns: []string{"t", "v", "i", "cap"}}

	ds, warnings, err := Normalize(cell.Metadata{}, src, mapping)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, ds.Samples, 2)

	// The declared capacity column stays mapped despite the blank first
	// cell; the second row carries the exporter's value, not an integral.
	assert.InDelta(t, 0.005, ds.Samples[1].ChargeCapacity, 1e-12)
}

func TestNormalizeBlankRequiredCell(t *testing.T) {
	t.Parallel()

	recs := []*ingest.RawRecord{
		record(0, map[string]float64{"t": 0, "v": 3.2}),
		record(1, map[string]float64{"t": 1, "v": 3.2, "i": 1}),
	}
	src := &fakeAdapter{records: recs, columns: []string{"t", "v", "i"}}

	ds, _, err := Normalize(cell.Metadata{}, src, basicMapping)
	require.NoError(t, err, "a blank cell in a declared column is not a schema mismatch")

	// The incomplete first row is dropped, the complete second one survives.
	require.Len(t, ds.Samples, 1)
	assert.Equal(t, 1.0, ds.Samples[0].TestTime)
}

func TestNormalizeDeclaredStepColumn(t *testing.T) {
	t.Parallel()

	mapping := Mapping{
		Columns: []ColumnMapping{
			{Source: "t", Field: FieldTestTime, Unit: units.Second},
			{Source: "v", Field: FieldVoltage, Unit: units.Volt},
			{Source: "i", Field: FieldCurrent, Unit: units.Amp},
			{Source: "mode", Field: FieldStepType},
		},
		StepTypeLabels: map[string]cell.StepType{
			"cc_chg": cell.StepCharge,
		},
	}
	recs := []*ingest.RawRecord{
		// No mode label on the first row.
		record(0, map[string]float64{"t": 0, "v": 3.2, "i": 0}),
		{
			Index:  1,
			Values: map[string]float64{"t": 1, "v": 3.2, "i": 0},
			Labels: map[string]string{"mode": "CC_Chg"},
		},
	}
	src := &fakeAdapter{records: recs, columns: []string{"t", "v", "i", "mode"}}

	ds, _, err := Normalize(cell.Metadata{}, src, mapping)
	require.NoError(t, err)
	require.Len(t, ds.Samples, 2)

	// The declared mode column still labels later rows.
	assert.Equal(t, cell.StepRest, ds.Samples[0].StepType)
	assert.Equal(t, cell.StepCharge, ds.Samples[1].StepType)
}

func TestNormalizeEmptySource(t *testing.T) {
	t.Parallel()

	ds, warnings, err := Normalize(cell.Metadata{CellID: "c1"}, &fakeAdapter{}, basicMapping)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Empty(t, ds.Samples)
	assert.Equal(t, cell.CurrentFormatVersion, ds.Meta.FormatVersion)
}

func TestNormalizeDeterministic(t *testing.T) {
	t.Parallel()

	first, _, err := Normalize(cell.Metadata{}, &fakeAdapter{records: chargeSequence()}, basicMapping)
	require.NoError(t, err)
	second, _, err := Normalize(cell.Metadata{}, &fakeAdapter{records: chargeSequence()}, basicMapping)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(first, second))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, cell.StepRest, Classify(0))
	assert.Equal(t, cell.StepRest, Classify(1e-14))
	assert.Equal(t, cell.StepCharge, Classify(0.5))
	assert.Equal(t, cell.StepDischarge, Classify(-0.5))
}
