package schema

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/amperelab/cellkit/internal/cell"
	"github.com/amperelab/cellkit/internal/cellerr"
	"github.com/amperelab/cellkit/internal/ingest"
	"github.com/amperelab/cellkit/internal/units"
)

// currentEpsilon is the hard zero-current limit in amps: below it a sample is
// classified as rest. Matches the resolution floor of the supported cyclers.
const currentEpsilon = 1e-13

// resolved holds the winning source column per canonical field after
// tie-breaking, with its unit factor precomputed.
type resolved struct {
	source string
	factor float64
	label  bool
}

// Normalize consumes the adapter's record sequence and produces a canonical
// Dataset. The mapping's first declared source column wins when several
// declared sources for one field are present; each ignored duplicate yields
// a Warning. A required field with no present source column fails with
// SchemaMismatch.
func Normalize(meta cell.Metadata, src ingest.Adapter, m Mapping) (*cell.Dataset, []Warning, error) {
	first, err := src.Next()
	if errors.Is(err, io.EOF) {
		meta.FormatVersion = cell.CurrentFormatVersion
		return &cell.Dataset{Meta: meta}, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	var columns []string
	if lister, ok := src.(ingest.ColumnLister); ok {
		columns = lister.Columns()
	}
	fields, warnings, err := resolve(m, first, columns)
	if err != nil {
		return nil, warnings, err
	}

	meta.FormatVersion = cell.CurrentFormatVersion
	ds := &cell.Dataset{Meta: meta}
	if hint := src.RowCountHint(); hint > 0 {
		ds.Samples = make([]cell.Sample, 0, hint)
	}

	st := normalizeState{fields: fields, labels: m.StepTypeLabels}
	rec := first
	for {
		sample, ok := st.sample(rec)
		if ok {
			ds.Samples = append(ds.Samples, sample)
		}
		rec, err = src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, warnings, err
		}
	}

	if err := ds.Validate(); err != nil {
		return nil, warnings, fmt.Errorf("normalized dataset violates ordering invariants: %w", err)
	}
	return ds, warnings, nil
}

// resolve tie-breaks the mapping against the source's column set. Adapters
// that declare their columns decide presence; otherwise the first record's
// populated cells stand in, which cannot tell a blank cell from an absent
// column.
func resolve(m Mapping, first *ingest.RawRecord, columns []string) (map[Field]resolved, []Warning, error) {
	fields := make(map[Field]resolved)
	var warnings []Warning

	var colSet map[string]bool
	if len(columns) > 0 {
		colSet = make(map[string]bool, len(columns))
		for _, c := range columns {
			colSet[c] = true
		}
	}

	for _, col := range m.Columns {
		_, numeric := first.Values[col.Source]
		_, textual := first.Labels[col.Source]
		present := numeric || textual
		if colSet != nil {
			present = colSet[col.Source]
		}
		if !present {
			continue
		}
		if win, taken := fields[col.Field]; taken {
			warnings = append(warnings, Warning{Field: col.Field, Kept: win.source, Ignored: col.Source})
			continue
		}
		factor := 1.0
		if col.Unit != "" {
			f, err := units.Factor(col.Unit)
			if err != nil {
				return nil, warnings, fmt.Errorf("mapping for %s: %w", col.Source, err)
			}
			factor = f
		}
		label := textual && !numeric
		if !textual && !numeric && col.Field == FieldStepType {
			// Column known only from the header; step-mode columns are
			// textual unless the first record proves otherwise.
			label = true
		}
		fields[col.Field] = resolved{source: col.Source, factor: factor, label: label}
	}

	for _, f := range requiredFields {
		if _, ok := fields[f]; !ok {
			return nil, warnings, &cellerr.SchemaMismatchError{Field: string(f)}
		}
	}
	return fields, warnings, nil
}

// normalizeState carries the derivation state across rows: step/cycle
// counters when the source lacks index columns, and capacity integration
// accumulators when it lacks capacity columns.
type normalizeState struct {
	fields map[Field]resolved
	labels map[string]cell.StepType

	started   bool
	prevTime  float64
	prevType  cell.StepType
	stepIdx   int
	cycleIdx  int
	chargeAh  float64
	dischgAh  float64
	integrate bool
}

func (st *normalizeState) sample(rec *ingest.RawRecord) (cell.Sample, bool) {
	t, ok := st.value(rec, FieldTestTime)
	if !ok {
		return cell.Sample{}, false
	}
	v, ok := st.value(rec, FieldVoltage)
	if !ok {
		return cell.Sample{}, false
	}
	i, ok := st.value(rec, FieldCurrent)
	if !ok {
		return cell.Sample{}, false
	}

	stepType := st.stepType(rec, i)

	s := cell.Sample{
		TestTime: t,
		Voltage:  v,
		Current:  i,
		StepType: stepType,
	}

	if idx, ok := st.value(rec, FieldStepIndex); ok {
		s.StepIndex = int(idx)
	} else {
		if !st.started || stepType != st.prevType {
			st.stepIdx++
		}
		s.StepIndex = st.stepIdx
	}

	if idx, ok := st.value(rec, FieldCycleIndex); ok {
		s.CycleIndex = int(idx)
	} else {
		if !st.started {
			st.cycleIdx = 1
		} else if stepType == cell.StepCharge && (st.prevType == cell.StepRest || st.prevType == cell.StepDischarge) {
			st.cycleIdx++
		}
		s.CycleIndex = st.cycleIdx
	}

	cc, haveCC := st.value(rec, FieldChargeCapacity)
	dc, haveDC := st.value(rec, FieldDischargeCapacity)
	if haveCC || haveDC {
		s.ChargeCapacity = cc
		s.DischargeCapacity = dc
	} else {
		st.integrateCapacity(t, i, stepType)
		s.ChargeCapacity = st.chargeAh
		s.DischargeCapacity = st.dischgAh
	}

	st.started = true
	st.prevTime = t
	st.prevType = stepType
	return s, true
}

// integrateCapacity accumulates |I|·dt into the direction matching the step
// type. The accumulator resets at step-type transitions, so capacity is
// cumulative within a step and starts at zero when the step begins.
func (st *normalizeState) integrateCapacity(t, i float64, stepType cell.StepType) {
	transition := !st.started || stepType != st.prevType
	if transition {
		switch stepType {
		case cell.StepCharge:
			st.chargeAh = 0
		case cell.StepDischarge:
			st.dischgAh = 0
		}
		return
	}
	dt := t - st.prevTime
	if dt <= 0 {
		return
	}
	ah := math.Abs(i) * dt / 3600.0
	switch stepType {
	case cell.StepCharge:
		st.chargeAh += ah
	case cell.StepDischarge:
		st.dischgAh += ah
	}
}

func (st *normalizeState) value(rec *ingest.RawRecord, f Field) (float64, bool) {
	r, ok := st.fields[f]
	if !ok || r.label {
		return 0, false
	}
	v, ok := rec.Values[r.source]
	if !ok {
		return 0, false
	}
	return v * r.factor, true
}

// stepType resolves the sample's step type from the mapped label column when
// present and recognised, falling back to classification by current sign.
func (st *normalizeState) stepType(rec *ingest.RawRecord, current float64) cell.StepType {
	if r, ok := st.fields[FieldStepType]; ok && r.label {
		if lbl, ok := rec.Labels[r.source]; ok {
			if t, ok := st.labels[strings.ToLower(strings.TrimSpace(lbl))]; ok {
				return t
			}
		}
	}
	return Classify(current)
}

// Classify derives a step type from the signed current: positive is charge,
// negative is discharge, magnitudes below the hard epsilon are rest.
func Classify(current float64) cell.StepType {
	switch {
	case math.Abs(current) < currentEpsilon:
		return cell.StepRest
	case current > 0:
		return cell.StepCharge
	default:
		return cell.StepDischarge
	}
}
