// Package cellerr defines the error taxonomy shared by the ingest,
// normalization and persistence layers. Callers classify failures with
// errors.As/errors.Is rather than string matching.
package cellerr

import (
	"errors"
	"fmt"
)

// UnsupportedFormatError reports an input whose structure was not recognised
// by any adapter, or whose external conversion tooling failed. Fatal for the
// file; batch ingestion records it and moves on.
type UnsupportedFormatError struct {
	Path string
	// Diagnostic carries the underlying detail, e.g. the stderr of an
	// external conversion utility.
	Diagnostic string
	Err        error
}

func (e *UnsupportedFormatError) Error() string {
	if e.Diagnostic != "" {
		return fmt.Sprintf("unsupported format %s: %s", e.Path, e.Diagnostic)
	}
	return fmt.Sprintf("unsupported format %s", e.Path)
}

func (e *UnsupportedFormatError) Unwrap() error { return e.Err }

// CorruptDataError reports a file with a structurally valid header whose body
// could not be read to the end. RowsRecovered counts the rows successfully
// decoded before the failure.
type CorruptDataError struct {
	Path          string
	RowsRecovered int
	Err           error
}

func (e *CorruptDataError) Error() string {
	return fmt.Sprintf("corrupt data in %s after %d rows: %v", e.Path, e.RowsRecovered, e.Err)
}

func (e *CorruptDataError) Unwrap() error { return e.Err }

// SchemaMismatchError reports a required canonical field with no mapped
// source column. Fatal for the file.
type SchemaMismatchError struct {
	Field string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("no source column mapped to required canonical field %q", e.Field)
}

// IncompatibleVersionError reports a stored dataset written by a newer format
// version than this reader supports. The load returns no partial dataset.
type IncompatibleVersionError struct {
	Stored    int
	Supported int
}

func (e *IncompatibleVersionError) Error() string {
	return fmt.Sprintf("stored format version %d exceeds supported maximum %d", e.Stored, e.Supported)
}

// NoUpgradePathError reports a stored dataset older than the oldest version
// this reader can re-map to the current schema.
type NoUpgradePathError struct {
	Stored  int
	Oldest  int
	Current int
}

func (e *NoUpgradePathError) Error() string {
	return fmt.Sprintf("no upgrade path from stored format version %d (oldest upgradable: %d, current: %d)",
		e.Stored, e.Oldest, e.Current)
}

// IsPerFile reports whether err is one of the per-file ingest failures that a
// batch run records without aborting.
func IsPerFile(err error) bool {
	var uf *UnsupportedFormatError
	var cd *CorruptDataError
	var sm *SchemaMismatchError
	return errors.As(err, &uf) || errors.As(err, &cd) || errors.As(err, &sm)
}

// Class returns the taxonomy name for err, or "other" when it is not part of
// the taxonomy. Batch reports use it to label failures.
func Class(err error) string {
	var (
		uf *UnsupportedFormatError
		cd *CorruptDataError
		sm *SchemaMismatchError
		iv *IncompatibleVersionError
		nu *NoUpgradePathError
	)
	switch {
	case errors.As(err, &uf):
		return "unsupported_format"
	case errors.As(err, &cd):
		return "corrupt_data"
	case errors.As(err, &sm):
		return "schema_mismatch"
	case errors.As(err, &iv):
		return "incompatible_version"
	case errors.As(err, &nu):
		return "no_upgrade_path"
	default:
		return "other"
	}
}
