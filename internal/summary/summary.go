// Package summary derives per-cycle and per-step aggregates from canonical
// datasets. Everything here is a pure function of the input samples: the
// same dataset always yields the same records, and summarizing a summary's
// source twice changes nothing.
package summary

import (
	"gonum.org/v1/gonum/stat"

	"github.com/amperelab/cellkit/internal/cell"
)

// Summarize aggregates one record per cycle, in cycle order. Capacity for a
// cycle is the sum of the final cumulative capacity of each step of the
// matching type; end voltages come from the last sample of the last step of
// each type.
func Summarize(ds *cell.Dataset) []cell.SummaryRecord {
	if len(ds.Samples) == 0 {
		return nil
	}

	var out []cell.SummaryRecord
	var cumulativeCharge float64

	start := 0
	for start < len(ds.Samples) {
		end := start
		cycle := ds.Samples[start].CycleIndex
		for end < len(ds.Samples) && ds.Samples[end].CycleIndex == cycle {
			end++
		}
		rec := summarizeCycle(ds.Samples[start:end])
		cumulativeCharge += rec.ChargeCapacity
		rec.CumulativeChargeCapacity = cumulativeCharge
		out = append(out, rec)
		start = end
	}
	return out
}

func summarizeCycle(samples []cell.Sample) cell.SummaryRecord {
	rec := cell.SummaryRecord{CycleIndex: samples[0].CycleIndex}

	voltages := make([]float64, len(samples))
	for i, s := range samples {
		voltages[i] = s.Voltage
	}
	rec.AverageVoltage = stat.Mean(voltages, nil)

	// Walk step by step: capacity accumulates within a step and resets at
	// its boundary, so the last sample of each step carries the step total.
	start := 0
	for start < len(samples) {
		end := start
		step := samples[start].StepIndex
		for end < len(samples) && samples[end].StepIndex == step {
			end++
		}
		last := samples[end-1]
		switch last.StepType {
		case cell.StepCharge:
			rec.ChargeCapacity += last.ChargeCapacity
			rec.EndVoltageCharge = last.Voltage
		case cell.StepDischarge:
			rec.DischargeCapacity += last.DischargeCapacity
			rec.EndVoltageDischarge = last.Voltage
		}
		start = end
	}

	if rec.DischargeCapacity != 0 {
		rec.CoulombicEfficiency = 100 * rec.ChargeCapacity / rec.DischargeCapacity
	}
	return rec
}

// Steps aggregates one record per (cycle, step) pair, in sample order.
func Steps(ds *cell.Dataset) []cell.StepRecord {
	var out []cell.StepRecord

	start := 0
	for start < len(ds.Samples) {
		end := start
		first := ds.Samples[start]
		for end < len(ds.Samples) &&
			ds.Samples[end].CycleIndex == first.CycleIndex &&
			ds.Samples[end].StepIndex == first.StepIndex {
			end++
		}
		out = append(out, summarizeStep(ds.Samples[start:end]))
		start = end
	}
	return out
}

func summarizeStep(samples []cell.Sample) cell.StepRecord {
	currents := make([]float64, len(samples))
	voltages := make([]float64, len(samples))
	for i, s := range samples {
		currents[i] = s.Current
		voltages[i] = s.Voltage
	}

	rec := cell.StepRecord{
		CycleIndex: samples[0].CycleIndex,
		StepIndex:  samples[0].StepIndex,
		StepType:   samples[0].StepType,
		Rows:       len(samples),

		CurrentAvg:   stat.Mean(currents, nil),
		CurrentMin:   minOf(currents),
		CurrentMax:   maxOf(currents),
		CurrentStart: currents[0],
		CurrentEnd:   currents[len(currents)-1],

		VoltageAvg:   stat.Mean(voltages, nil),
		VoltageMin:   minOf(voltages),
		VoltageMax:   maxOf(voltages),
		VoltageStart: voltages[0],
		VoltageEnd:   voltages[len(voltages)-1],
	}
	if len(samples) > 1 {
		rec.CurrentStd = stat.StdDev(currents, nil)
		rec.VoltageStd = stat.StdDev(voltages, nil)
	}
	return rec
}

func minOf(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
