// Package schema maps adapter-specific raw records onto the canonical
// sample schema. Conversion is table-driven: every adapter declares which of
// its columns feeds which canonical field and in which unit, and the
// normalizer applies exactly those declarations. Nothing is inferred from
// column names at run time.
package schema

import (
	"fmt"

	"github.com/amperelab/cellkit/internal/cell"
)

// Field names the canonical sample fields a source column can map to.
type Field string

const (
	FieldTestTime          Field = "test_time"
	FieldStepIndex         Field = "step_index"
	FieldCycleIndex        Field = "cycle_index"
	FieldVoltage           Field = "voltage"
	FieldCurrent           Field = "current"
	FieldChargeCapacity    Field = "charge_capacity"
	FieldDischargeCapacity Field = "discharge_capacity"
	FieldStepType          Field = "step_type"
)

// requiredFields must resolve to a present source column; the rest are
// derived when absent (indices from step-type transitions, capacities by
// integrating current, step types from the current sign).
var requiredFields = []Field{FieldTestTime, FieldVoltage, FieldCurrent}

// ColumnMapping declares that one raw source column feeds one canonical
// field, with the unit the source reports in. Unit is empty for
// dimensionless fields (indices, step-type labels).
type ColumnMapping struct {
	Source string
	Field  Field
	Unit   string
}

// Mapping is the per-adapter column/unit table the normalizer consumes.
// Declaration order matters: when several declared sources for the same
// canonical field are present in a file, the first declared one wins.
type Mapping struct {
	Columns []ColumnMapping
	// StepTypeLabels translates vendor step-mode strings (matched lowercase)
	// to the closed canonical step-type set.
	StepTypeLabels map[string]cell.StepType
}

// Warning is a non-fatal normalization diagnostic, e.g. a duplicate sensor
// channel whose extra source column was ignored.
type Warning struct {
	Field   Field
	Kept    string
	Ignored string
}

func (w Warning) String() string {
	return fmt.Sprintf("field %s: kept column %q, ignored duplicate %q", w.Field, w.Kept, w.Ignored)
}
