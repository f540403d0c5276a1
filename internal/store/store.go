// Package store persists canonical datasets in a SQLite container. One
// container holds many datasets, each addressed by a UUID handle. Writers
// are serialized per container; readers run concurrently against the WAL.
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/amperelab/cellkit/internal/timeutil"
)

// clock paces the busy-retry backoff. Tests replace it to keep retry paths
// fast.
var clock timeutil.Clock = timeutil.RealClock{}

// DB wraps the container connection.
type DB struct {
	*sql.DB
}

// Open opens (or creates) a container file. The schema is not touched;
// call MigrateUp before first use of a fresh container.
func Open(path string) (*DB, error) {
	// Immediate transactions take the write lock up front, so two writers
	// conflict at BEGIN instead of deadlocking at COMMIT.
	db, err := sql.Open("sqlite", path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening container %s: %w", path, err)
	}
	// WAL lets readers proceed while a writer holds the lock. The busy
	// timeout covers short writer overlap; retryOnBusy covers the rest.
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return &DB{db}, nil
}

const (
	busyRetries  = 5
	busyBaseWait = 50 * time.Millisecond
)

// retryOnBusy retries fn with linear backoff while it reports a SQLite busy
// condition. Other errors pass through on the first attempt.
func retryOnBusy(fn func() error) error {
	var err error
	for attempt := 0; attempt < busyRetries; attempt++ {
		if err = fn(); err == nil || !isSQLiteBusy(err) {
			return err
		}
		clock.Sleep(busyBaseWait * time.Duration(attempt+1))
	}
	return err
}

// isSQLiteBusy matches the lock-contention errors the driver surfaces as
// plain strings.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// nullStr returns nil for empty strings so they land as NULL.
func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullTime returns nil for zero times so they land as NULL.
func nullTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
