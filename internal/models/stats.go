package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncStats holds per-source cycle counters. Mutated only by the
// orchestrator at the end of every cycle; read-only for reporting.
type SyncStats struct {
	TotalCycles      int64         `json:"total_cycles"`
	SuccessfulCycles int64         `json:"successful_cycles"`
	FailedCycles     int64         `json:"failed_cycles"`
	LastCycleAt      time.Time     `json:"last_cycle_at"`
	LastSuccessAt    time.Time     `json:"last_success_at,omitempty"`
	LastErrorAt      time.Time     `json:"last_error_at,omitempty"`
	LastError        string        `json:"last_error,omitempty"`
	TotalDuration    time.Duration `json:"total_duration_ns"`
	AvgDuration      time.Duration `json:"avg_duration_ns"`
}

// CycleResult is the outcome of one sync cycle, returned to whoever
// triggered it (scheduler or manual HTTP trigger).
type CycleResult struct {
	CycleID   uuid.UUID     `json:"cycle_id"`
	SourceKey string        `json:"source"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Inserts   int           `json:"inserts"`
	Updates   int           `json:"updates"`
	Deletes   int           `json:"deletes"`
	Skipped   int           `json:"skipped_rows"`
	NoOp      bool          `json:"no_op"`
	Bootstrap bool          `json:"bootstrapped"`
}

// Changed returns the total number of rows the cycle applied.
func (r CycleResult) Changed() int {
	return r.Inserts + r.Updates + r.Deletes
}
