package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/amperelab/cellkit/internal/cell"
	"github.com/amperelab/cellkit/internal/cellerr"
	"github.com/amperelab/cellkit/internal/monitoring"
)

// ErrNotFound reports a handle with no dataset behind it.
var ErrNotFound = errors.New("dataset not found")

// Handle addresses one stored dataset.
type Handle = uuid.UUID

// DatasetInfo is the per-dataset metadata row, without samples.
type DatasetInfo struct {
	Handle        Handle    `json:"handle"`
	CellID        string    `json:"cell_id"`
	Channel       string    `json:"channel,omitempty"`
	Instrument    string    `json:"instrument,omitempty"`
	SourceFile    string    `json:"source_file,omitempty"`
	FormatVersion int       `json:"format_version"`
	TestStart     time.Time `json:"test_start,omitempty"`
	RowCount      int       `json:"row_count"`
	Fingerprint   string    `json:"fingerprint"`
	CreatedAt     time.Time `json:"created_at"`
}

// Selector restricts a load to part of a dataset. The zero value selects
// everything. Bounds are inclusive cycle indices.
type Selector struct {
	CycleMin *int
	CycleMax *int
	// StepTypes, when non-empty, keeps only samples of the listed types.
	StepTypes []cell.StepType
}

// All selects the whole dataset.
func All() Selector { return Selector{} }

// CycleBand selects cycles lo through hi inclusive.
func CycleBand(lo, hi int) Selector {
	return Selector{CycleMin: &lo, CycleMax: &hi}
}

// Store persists a dataset and returns its handle. The write runs in one
// immediate transaction; concurrent writers on the same container serialize
// behind the busy retry. Every stored dataset carries the current format
// version regardless of what the dataset was ingested as.
func (db *DB) Store(ctx context.Context, ds *cell.Dataset) (Handle, error) {
	if err := ds.Validate(); err != nil {
		return uuid.Nil, fmt.Errorf("refusing to store invalid dataset: %w", err)
	}
	handle := uuid.New()
	err := retryOnBusy(func() error {
		return db.storeTx(ctx, handle, ds)
	})
	if err != nil {
		return uuid.Nil, err
	}
	monitoring.Debugf("store: dataset %s cell=%s rows=%d", handle, ds.Meta.CellID, len(ds.Samples))
	return handle, nil
}

func (db *DB) storeTx(ctx context.Context, handle Handle, ds *cell.Dataset) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning store transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO datasets (
			id, cell_id, channel, instrument, source_file,
			format_version, test_start, row_count, fingerprint
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		handle.String(),
		ds.Meta.CellID,
		nullStr(ds.Meta.Channel),
		nullStr(ds.Meta.Instrument),
		nullStr(ds.Meta.SourceFile),
		cell.CurrentFormatVersion,
		nullTime(ds.Meta.TestStart),
		len(ds.Samples),
		ds.Fingerprint(),
	)
	if err != nil {
		return fmt.Errorf("inserting dataset row: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO samples (
			dataset_id, idx, test_time, step_index, cycle_index,
			voltage, current, charge_capacity, discharge_capacity, step_type
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing sample insert: %w", err)
	}
	defer stmt.Close()

	for i := range ds.Samples {
		s := &ds.Samples[i]
		if _, err := stmt.ExecContext(ctx,
			handle.String(), i,
			s.TestTime, s.StepIndex, s.CycleIndex,
			s.Voltage, s.Current, s.ChargeCapacity, s.DischargeCapacity,
			string(s.StepType),
		); err != nil {
			return fmt.Errorf("inserting sample %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Load reads a dataset, or the part of it sel names, back into memory. The
// format version recorded at store time decides compatibility: newer than
// this reader fails with IncompatibleVersion, older than the upgrade window
// fails with NoUpgradePath, and versions inside the window are re-mapped to
// the current schema transparently.
func (db *DB) Load(ctx context.Context, handle Handle, sel Selector) (*cell.Dataset, error) {
	info, err := db.Info(ctx, handle)
	if err != nil {
		return nil, err
	}
	switch {
	case info.FormatVersion > cell.CurrentFormatVersion:
		return nil, &cellerr.IncompatibleVersionError{
			Stored:    info.FormatVersion,
			Supported: cell.CurrentFormatVersion,
		}
	case info.FormatVersion < cell.OldestUpgradableVersion:
		return nil, &cellerr.NoUpgradePathError{
			Stored:  info.FormatVersion,
			Oldest:  cell.OldestUpgradableVersion,
			Current: cell.CurrentFormatVersion,
		}
	}

	query := `
		SELECT test_time, step_index, cycle_index, voltage, current,
		       charge_capacity, discharge_capacity, step_type
		FROM samples
		WHERE dataset_id = ?`
	args := []interface{}{handle.String()}
	if sel.CycleMin != nil {
		query += " AND cycle_index >= ?"
		args = append(args, *sel.CycleMin)
	}
	if sel.CycleMax != nil {
		query += " AND cycle_index <= ?"
		args = append(args, *sel.CycleMax)
	}
	if len(sel.StepTypes) > 0 {
		query += " AND step_type IN (?" + strings.Repeat(", ?", len(sel.StepTypes)-1) + ")"
		for _, st := range sel.StepTypes {
			args = append(args, string(st))
		}
	}
	query += " ORDER BY idx"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying samples for %s: %w", handle, err)
	}
	defer rows.Close()

	ds := &cell.Dataset{
		Meta: cell.Metadata{
			CellID:        info.CellID,
			TestStart:     info.TestStart,
			Channel:       info.Channel,
			Instrument:    info.Instrument,
			FormatVersion: cell.CurrentFormatVersion,
			SourceFile:    info.SourceFile,
		},
	}
	for rows.Next() {
		var s cell.Sample
		var stepType string
		if err := rows.Scan(&s.TestTime, &s.StepIndex, &s.CycleIndex,
			&s.Voltage, &s.Current, &s.ChargeCapacity, &s.DischargeCapacity,
			&stepType); err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}
		s.StepType = cell.StepType(stepType)
		ds.Samples = append(ds.Samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating samples: %w", err)
	}

	if info.FormatVersion < cell.CurrentFormatVersion {
		upgradeSamples(ds, info.FormatVersion)
		monitoring.Logf("store: upgraded dataset %s from format version %d to %d",
			handle, info.FormatVersion, cell.CurrentFormatVersion)
	}
	return ds, nil
}

// upgradeSamples re-maps samples stored under an older format version onto
// the current schema. Version 2 stored capacities in milliamp-hours.
func upgradeSamples(ds *cell.Dataset, stored int) {
	if stored <= 2 {
		for i := range ds.Samples {
			ds.Samples[i].ChargeCapacity *= 0.001
			ds.Samples[i].DischargeCapacity *= 0.001
		}
	}
}

// Info returns the metadata row for one dataset.
func (db *DB) Info(ctx context.Context, handle Handle) (*DatasetInfo, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, cell_id, COALESCE(channel, ''), COALESCE(instrument, ''),
		       COALESCE(source_file, ''), format_version,
		       COALESCE(test_start, ''), row_count, fingerprint, created_at
		FROM datasets WHERE id = ?`, handle.String())
	info, err := scanInfo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dataset %s: %w", handle, ErrNotFound)
	}
	return info, err
}

// List returns metadata for every dataset in the container, newest first.
func (db *DB) List(ctx context.Context) ([]DatasetInfo, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, cell_id, COALESCE(channel, ''), COALESCE(instrument, ''),
		       COALESCE(source_file, ''), format_version,
		       COALESCE(test_start, ''), row_count, fingerprint, created_at
		FROM datasets ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing datasets: %w", err)
	}
	defer rows.Close()

	var out []DatasetInfo
	for rows.Next() {
		info, err := scanInfo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *info)
	}
	return out, rows.Err()
}

// Delete removes a dataset and its samples.
func (db *DB) Delete(ctx context.Context, handle Handle) error {
	return retryOnBusy(func() error {
		res, err := db.ExecContext(ctx, `DELETE FROM datasets WHERE id = ?`, handle.String())
		if err != nil {
			return fmt.Errorf("deleting dataset %s: %w", handle, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("dataset %s: %w", handle, ErrNotFound)
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInfo(row rowScanner) (*DatasetInfo, error) {
	var info DatasetInfo
	var id, testStart, createdAt string
	if err := row.Scan(&id, &info.CellID, &info.Channel, &info.Instrument,
		&info.SourceFile, &info.FormatVersion, &testStart,
		&info.RowCount, &info.Fingerprint, &createdAt); err != nil {
		return nil, err
	}
	handle, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing dataset id %q: %w", id, err)
	}
	info.Handle = handle
	if testStart != "" {
		t, err := time.Parse(time.RFC3339, testStart)
		if err != nil {
			return nil, fmt.Errorf("parsing test_start for %s: %w", id, err)
		}
		info.TestStart = t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", createdAt); err == nil {
		info.CreatedAt = t
	}
	return &info, nil
}
