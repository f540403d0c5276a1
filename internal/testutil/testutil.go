// Package testutil provides shared dataset fixtures for tests.
package testutil

import (
	"time"

	"github.com/amperelab/cellkit/internal/cell"
)

// CycleSpec describes one synthetic cycle: a constant-current charge step,
// a rest, and a constant-current discharge step.
type CycleSpec struct {
	// ChargeCurrent and DischargeCurrent are magnitudes in amps.
	ChargeCurrent    float64
	DischargeCurrent float64
	// StepSeconds is the duration of each step; samples land every second.
	StepSeconds int
}

// Dataset builds a valid canonical dataset with one charge/rest/discharge
// sequence per spec entry. Capacities integrate the constant current the
// same way the normalizer does.
func Dataset(cellID string, cycles ...CycleSpec) *cell.Dataset {
	ds := &cell.Dataset{
		Meta: cell.Metadata{
			CellID:        cellID,
			TestStart:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			Channel:       "1",
			Instrument:    "synthetic",
			FormatVersion: cell.CurrentFormatVersion,
		},
	}

	t := 0.0
	step := 0
	for cycleIdx, spec := range cycles {
		for _, phase := range []struct {
			stepType cell.StepType
			current  float64
		}{
			{cell.StepCharge, spec.ChargeCurrent},
			{cell.StepRest, 0},
			{cell.StepDischarge, -spec.DischargeCurrent},
		} {
			step++
			var capacity float64
			for i := 0; i < spec.StepSeconds; i++ {
				if i > 0 {
					capacity += abs(phase.current) / 3600
				}
				s := cell.Sample{
					TestTime:   t,
					StepIndex:  step,
					CycleIndex: cycleIdx + 1,
					Voltage:    3.6 + 0.1*phase.current,
					Current:    phase.current,
					StepType:   phase.stepType,
				}
				switch phase.stepType {
				case cell.StepCharge:
					s.ChargeCapacity = capacity
				case cell.StepDischarge:
					s.DischargeCapacity = capacity
				}
				carryCapacities(&s, ds.Samples)
				ds.Samples = append(ds.Samples, s)
				t++
			}
		}
	}
	return ds
}

// carryCapacities keeps the non-accumulating capacity column at its last
// value, matching the canonical schema.
func carryCapacities(s *cell.Sample, prev []cell.Sample) {
	if len(prev) == 0 {
		return
	}
	last := prev[len(prev)-1]
	if s.StepType != cell.StepCharge {
		s.ChargeCapacity = last.ChargeCapacity
	}
	if s.StepType != cell.StepDischarge {
		s.DischargeCapacity = last.DischargeCapacity
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
