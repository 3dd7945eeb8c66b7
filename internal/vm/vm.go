// Package vm owns the sandboxed execution of user programs. One sandbox
// instance may exist per session owner at a time; the Manager starts,
// monitors, and forcibly stops instances and wires their log output into a
// batching buffer that feeds the persisted session record.
package vm

import (
	"context"
	"time"

	"github.com/blocklab/blocklab/internal/session"
)

// Outcome classifies the session-validity result of a start request. A
// program that compiles but crashes still yields OutcomeValid: a failed
// program is a running-state anomaly, not a connection-level error.
type Outcome string

const (
	OutcomeValid          Outcome = "valid"
	OutcomeInvalidSession Outcome = "invalid session"
	OutcomeInvalidOwner   Outcome = "invalid owner"
)

// StopResult reports the outcome of a stop request.
type StopResult struct {
	Message string
	Stopped bool
}

const notRunningMessage = "Script is not running."

// UpdateFunc persists a session record and fans the change out to connected
// clients. The coordinator supplies it so the Manager never touches the
// transport directly.
type UpdateFunc func(ctx context.Context, rec *session.Record) error

// Limits bounds a sandbox instance.
type Limits struct {
	// MaxCallStackSize caps interpreter stack depth. The guest heap has no
	// hard ceiling in-process; runaway allocation is bounded only by the
	// host, which is a known gap relative to an isolate memory limit.
	MaxCallStackSize int

	// ExecTimeout forcibly interrupts a program after a wall-clock limit.
	// Zero disables the limit.
	ExecTimeout time.Duration

	// FlushInterval overrides the log buffer flush period. Zero keeps the
	// default of one second.
	FlushInterval time.Duration
}

// DefaultLimits returns the limits used when the config leaves them unset.
func DefaultLimits() Limits {
	return Limits{
		MaxCallStackSize: 2048,
		ExecTimeout:      0,
	}
}
