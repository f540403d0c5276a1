package store

import (
	"context"
	"fmt"

	"github.com/amperelab/cellkit/internal/cell"
)

// SaveSummaries replaces the cached per-cycle summaries for a dataset.
// Summaries are derived data; the cache exists so the read API can serve
// them without re-aggregating samples.
func (db *DB) SaveSummaries(ctx context.Context, handle Handle, records []cell.SummaryRecord) error {
	return retryOnBusy(func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning summary transaction: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM cycle_summaries WHERE dataset_id = ?`, handle.String()); err != nil {
			return fmt.Errorf("clearing cached summaries: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO cycle_summaries (
				dataset_id, cycle_index, charge_capacity, discharge_capacity,
				coulombic_efficiency, average_voltage, end_voltage_charge,
				end_voltage_discharge, cumulative_charge_capacity
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing summary insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range records {
			if _, err := stmt.ExecContext(ctx,
				handle.String(), r.CycleIndex,
				r.ChargeCapacity, r.DischargeCapacity, r.CoulombicEfficiency,
				r.AverageVoltage, r.EndVoltageCharge, r.EndVoltageDischarge,
				r.CumulativeChargeCapacity,
			); err != nil {
				return fmt.Errorf("inserting summary for cycle %d: %w", r.CycleIndex, err)
			}
		}
		return tx.Commit()
	})
}

// LoadSummaries returns the cached per-cycle summaries for a dataset, in
// cycle order. An empty slice means nothing is cached.
func (db *DB) LoadSummaries(ctx context.Context, handle Handle) ([]cell.SummaryRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT cycle_index, charge_capacity, discharge_capacity,
		       coulombic_efficiency, average_voltage, end_voltage_charge,
		       end_voltage_discharge, cumulative_charge_capacity
		FROM cycle_summaries
		WHERE dataset_id = ?
		ORDER BY cycle_index`, handle.String())
	if err != nil {
		return nil, fmt.Errorf("querying cached summaries: %w", err)
	}
	defer rows.Close()

	var out []cell.SummaryRecord
	for rows.Next() {
		var r cell.SummaryRecord
		if err := rows.Scan(&r.CycleIndex, &r.ChargeCapacity, &r.DischargeCapacity,
			&r.CoulombicEfficiency, &r.AverageVoltage, &r.EndVoltageCharge,
			&r.EndVoltageDischarge, &r.CumulativeChargeCapacity); err != nil {
			return nil, fmt.Errorf("scanning cached summary: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
