package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for the supervision and file-view subsystems.
// Callers match with errors.Is.
var (
	// ErrSlotBusy rejects a launch while a non-terminal job occupies
	// the slot.
	ErrSlotBusy = errors.New("slot busy")

	// ErrUnknownSlot is returned by status queries on slots that were
	// never launched.
	ErrUnknownSlot = errors.New("unknown slot")

	// ErrAuditUnavailable means the audit document is missing or does
	// not parse. Callers should render this as "no data yet", not as a
	// hard failure: the worker creates the file with its first entry.
	ErrAuditUnavailable = errors.New("audit trail unavailable")
)

// SpawnError reports that a worker process could not be started. It is
// returned synchronously from Launch; no job record is left behind.
type SpawnError struct {
	Slot    string
	Program string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q in slot %q: %v", e.Program, e.Slot, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }
