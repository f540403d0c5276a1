// Package cell defines the canonical data model that every format adapter
// normalizes into: one measurement sample per row, grouped into steps and
// charge/discharge cycles, carried by a Dataset with its test metadata.
package cell

import (
	"fmt"
	"time"
)

// CurrentFormatVersion is the container format version new datasets are
// written with. Version history:
//
//	1 — step types stored as bare integer codes, capacities in mAh (legacy,
//	    no upgrade path: the code table was never recorded)
//	2 — step types stored as canonical strings, capacities in mAh
//	3 — capacities in Ah (current)
const CurrentFormatVersion = 3

// OldestUpgradableVersion is the oldest stored format version the loader can
// re-map to the current schema.
const OldestUpgradableVersion = 2

// StepType classifies one sub-phase of a cycle. The set is closed; adapters
// and the normalizer must map every source row onto one of these.
type StepType string

const (
	StepCharge    StepType = "charge"
	StepDischarge StepType = "discharge"
	StepRest      StepType = "rest"
)

// ValidStepTypes lists all valid step types.
var ValidStepTypes = []StepType{StepCharge, StepDischarge, StepRest}

// IsValid checks if the step type is in the closed set.
func (s StepType) IsValid() bool {
	switch s {
	case StepCharge, StepDischarge, StepRest:
		return true
	}
	return false
}

// Sample is one measurement in the canonical schema. Units are fixed:
// seconds, volts, amps, amp-hours. Capacities are cumulative within a step
// and reset on step-type transitions.
type Sample struct {
	// TestTime is seconds since test start, monotonically non-decreasing.
	TestTime float64 `json:"test_time"`
	// StepIndex and CycleIndex are non-decreasing across the dataset.
	StepIndex  int `json:"step_index"`
	CycleIndex int `json:"cycle_index"`

	Voltage float64 `json:"voltage"`
	Current float64 `json:"current"`

	// ChargeCapacity and DischargeCapacity carry the cumulative capacity in
	// amp-hours for the respective direction. Only the column matching the
	// step type accumulates; the other stays at its last value.
	ChargeCapacity    float64 `json:"charge_capacity"`
	DischargeCapacity float64 `json:"discharge_capacity"`

	StepType StepType `json:"step_type"`
}

// Metadata identifies the cell and test a Dataset came from.
type Metadata struct {
	CellID     string    `json:"cell_id"`
	TestStart  time.Time `json:"test_start"`
	Channel    string    `json:"channel"`
	Instrument string    `json:"instrument"`
	// FormatVersion is the container format version the dataset was stored
	// with (or will be stored with). Freshly normalized datasets carry the
	// current version.
	FormatVersion int `json:"format_version"`
	// SourceFile is the raw file the dataset was loaded from, when known.
	SourceFile string `json:"source_file,omitempty"`
}

// Dataset is an ordered sequence of canonical samples plus metadata. A
// Dataset owns its samples exclusively; Clone before sharing across
// goroutines that mutate.
type Dataset struct {
	Meta    Metadata `json:"meta"`
	Samples []Sample `json:"samples"`
}

// SummaryRecord aggregates one cycle of a Dataset. Derived on demand by the
// summary engine, never stored independently.
type SummaryRecord struct {
	CycleIndex int `json:"cycle_index"`

	ChargeCapacity    float64 `json:"charge_capacity"`
	DischargeCapacity float64 `json:"discharge_capacity"`
	// CoulombicEfficiency is 100 * charge / discharge capacity, or 0 when
	// the cycle has no discharge capacity.
	CoulombicEfficiency float64 `json:"coulombic_efficiency"`

	AverageVoltage      float64 `json:"average_voltage"`
	EndVoltageCharge    float64 `json:"end_voltage_charge"`
	EndVoltageDischarge float64 `json:"end_voltage_discharge"`

	// CumulativeChargeCapacity is the running sum of ChargeCapacity over
	// this and all preceding cycles.
	CumulativeChargeCapacity float64 `json:"cumulative_charge_capacity"`
}

// StepRecord aggregates one (cycle, step) pair: the per-step statistics used
// for step-type verification and rate analysis.
type StepRecord struct {
	CycleIndex int      `json:"cycle_index"`
	StepIndex  int      `json:"step_index"`
	StepType   StepType `json:"step_type"`

	CurrentAvg   float64 `json:"current_avg"`
	CurrentStd   float64 `json:"current_std"`
	CurrentMin   float64 `json:"current_min"`
	CurrentMax   float64 `json:"current_max"`
	CurrentStart float64 `json:"current_start"`
	CurrentEnd   float64 `json:"current_end"`

	VoltageAvg   float64 `json:"voltage_avg"`
	VoltageStd   float64 `json:"voltage_std"`
	VoltageMin   float64 `json:"voltage_min"`
	VoltageMax   float64 `json:"voltage_max"`
	VoltageStart float64 `json:"voltage_start"`
	VoltageEnd   float64 `json:"voltage_end"`

	Rows int `json:"rows"`
}

// Clone returns a deep copy of the dataset.
func (d *Dataset) Clone() *Dataset {
	out := &Dataset{Meta: d.Meta}
	out.Samples = make([]Sample, len(d.Samples))
	copy(out.Samples, d.Samples)
	return out
}

// Cycles returns the distinct cycle indices in order of first appearance.
func (d *Dataset) Cycles() []int {
	var cycles []int
	last := -1 << 62
	for _, s := range d.Samples {
		if s.CycleIndex != last {
			cycles = append(cycles, s.CycleIndex)
			last = s.CycleIndex
		}
	}
	return cycles
}

// CycleRange reports the lowest and highest cycle index present. ok is false
// for an empty dataset.
func (d *Dataset) CycleRange() (lo, hi int, ok bool) {
	if len(d.Samples) == 0 {
		return 0, 0, false
	}
	return d.Samples[0].CycleIndex, d.Samples[len(d.Samples)-1].CycleIndex, true
}

// Validate enforces the ordering invariants: cycle and step indices must be
// non-decreasing across the row sequence, test time must be non-decreasing,
// and every step type must be in the closed set.
func (d *Dataset) Validate() error {
	var prev *Sample
	for i := range d.Samples {
		s := &d.Samples[i]
		if !s.StepType.IsValid() {
			return fmt.Errorf("sample %d: invalid step type %q", i, s.StepType)
		}
		if prev != nil {
			if s.CycleIndex < prev.CycleIndex {
				return fmt.Errorf("sample %d: cycle index decreased from %d to %d", i, prev.CycleIndex, s.CycleIndex)
			}
			if s.CycleIndex == prev.CycleIndex && s.StepIndex < prev.StepIndex {
				return fmt.Errorf("sample %d: step index decreased from %d to %d within cycle %d",
					i, prev.StepIndex, s.StepIndex, s.CycleIndex)
			}
			if s.TestTime < prev.TestTime {
				return fmt.Errorf("sample %d: test time decreased from %g to %g", i, prev.TestTime, s.TestTime)
			}
		}
		prev = s
	}
	return nil
}
