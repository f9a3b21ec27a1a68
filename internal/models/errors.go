package models

import (
	"errors"
	"fmt"
)

var (
	// ErrCycleInFlight is returned when a trigger fires while a cycle is
	// still running; the trigger is skipped, never queued.
	ErrCycleInFlight = errors.New("sync cycle already in flight")

	// ErrNoSuchDatabase is returned for an unconfigured database key.
	ErrNoSuchDatabase = errors.New("no such database configured")
)

// ColumnMismatchError is returned when a row in an apply batch disagrees
// with the declared (or derived) column set for its table.
type ColumnMismatchError struct {
	Table    string
	Key      any
	Expected []string
}

func (e *ColumnMismatchError) Error() string {
	return fmt.Sprintf("table %s: row with key %v does not match column set %v", e.Table, e.Key, e.Expected)
}

// UniqueViolationError wraps a destination-side unique-constraint violation.
// It indicates a key collision the diff did not anticipate (e.g. a
// concurrent external write) and still fails the cycle.
type UniqueViolationError struct {
	Table  string
	Detail string
	Err    error
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("table %s: unique constraint violation (%s)", e.Table, e.Detail)
}

func (e *UniqueViolationError) Unwrap() error { return e.Err }
