// Package export writes canonical datasets and their aggregates as CSV.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/amperelab/cellkit/internal/cell"
)

var sampleHeader = []string{
	"test_time", "step_index", "cycle_index", "voltage", "current",
	"charge_capacity", "discharge_capacity", "step_type",
}

// Samples writes every sample of ds as one CSV row, header first.
func Samples(w io.Writer, ds *cell.Dataset) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(sampleHeader); err != nil {
		return fmt.Errorf("writing sample header: %w", err)
	}
	for i := range ds.Samples {
		s := &ds.Samples[i]
		row := []string{
			formatFloat(s.TestTime),
			strconv.Itoa(s.StepIndex),
			strconv.Itoa(s.CycleIndex),
			formatFloat(s.Voltage),
			formatFloat(s.Current),
			formatFloat(s.ChargeCapacity),
			formatFloat(s.DischargeCapacity),
			string(s.StepType),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing sample %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

var summaryHeader = []string{
	"cycle_index", "charge_capacity", "discharge_capacity",
	"coulombic_efficiency", "average_voltage", "end_voltage_charge",
	"end_voltage_discharge", "cumulative_charge_capacity",
}

// Summaries writes one CSV row per cycle summary, header first.
func Summaries(w io.Writer, records []cell.SummaryRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(summaryHeader); err != nil {
		return fmt.Errorf("writing summary header: %w", err)
	}
	for _, r := range records {
		row := []string{
			strconv.Itoa(r.CycleIndex),
			formatFloat(r.ChargeCapacity),
			formatFloat(r.DischargeCapacity),
			formatFloat(r.CoulombicEfficiency),
			formatFloat(r.AverageVoltage),
			formatFloat(r.EndVoltageCharge),
			formatFloat(r.EndVoltageDischarge),
			formatFloat(r.CumulativeChargeCapacity),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing summary for cycle %d: %w", r.CycleIndex, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

var stepHeader = []string{
	"cycle_index", "step_index", "step_type", "rows",
	"current_avg", "current_std", "current_min", "current_max", "current_start", "current_end",
	"voltage_avg", "voltage_std", "voltage_min", "voltage_max", "voltage_start", "voltage_end",
}

// StepRecords writes one CSV row per (cycle, step) aggregate, header first.
func StepRecords(w io.Writer, records []cell.StepRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(stepHeader); err != nil {
		return fmt.Errorf("writing step header: %w", err)
	}
	for _, r := range records {
		row := []string{
			strconv.Itoa(r.CycleIndex),
			strconv.Itoa(r.StepIndex),
			string(r.StepType),
			strconv.Itoa(r.Rows),
			formatFloat(r.CurrentAvg), formatFloat(r.CurrentStd),
			formatFloat(r.CurrentMin), formatFloat(r.CurrentMax),
			formatFloat(r.CurrentStart), formatFloat(r.CurrentEnd),
			formatFloat(r.VoltageAvg), formatFloat(r.VoltageStd),
			formatFloat(r.VoltageMin), formatFloat(r.VoltageMax),
			formatFloat(r.VoltageStart), formatFloat(r.VoltageEnd),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing step record %d/%d: %w", r.CycleIndex, r.StepIndex, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
