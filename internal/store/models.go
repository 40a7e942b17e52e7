// Package store contains the persistence layer for runtimed.
package store

import (
	"encoding/json"
	"time"
)

// RuntimeStatus represents the liveness state of a runtime.
type RuntimeStatus string

const (
	RuntimeStatusStarting RuntimeStatus = "starting"
	RuntimeStatusIdle     RuntimeStatus = "idle"
	RuntimeStatusBusy     RuntimeStatus = "busy"
	RuntimeStatusDead     RuntimeStatus = "dead"
)

// Runtime represents one live compute process (a kernel) known to the daemon.
// Once Status is dead the record is immutable.
type Runtime struct {
	ID            string
	Transport     string
	Descriptor    json.RawMessage // opaque kernel connection descriptor
	Status        RuntimeStatus
	LastKeepalive time.Time
	DeadReason    string
	CreatedAt     time.Time
	DiedAt        *time.Time
}

// ExecutionStatus represents the state of an execution.
type ExecutionStatus string

const (
	ExecutionStatusQueued      ExecutionStatus = "queued"
	ExecutionStatusRunning     ExecutionStatus = "running"
	ExecutionStatusCompleted   ExecutionStatus = "completed"
	ExecutionStatusErrored     ExecutionStatus = "errored"
	ExecutionStatusInterrupted ExecutionStatus = "interrupted"
)

// Terminal reports whether no further transition is allowed out of s.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusErrored, ExecutionStatusInterrupted:
		return true
	}
	return false
}

// Valid reports whether s is one of the known execution statuses.
func (s ExecutionStatus) Valid() bool {
	return s == ExecutionStatusQueued || s == ExecutionStatusRunning || s.Terminal()
}

// Execution represents one submitted unit of code for a specific runtime.
type Execution struct {
	ID          string
	RuntimeID   string
	CellID      string // empty when the submission is not tied to a code cell
	Source      string
	Status      ExecutionStatus
	Position    int // executions ahead of this one on its runtime at submission time
	Reason      string
	Output      string // captured stdout, bounded; set with the terminal outcome
	SubmittedAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Result is the terminal outcome a kernel reports for one execution.
type Result struct {
	Status ExecutionStatus
	Reason string
	Output string
}

// ExecutionEvent is one appended lifecycle transition of an execution.
// From is empty for the initial queued event.
type ExecutionEvent struct {
	ID          int64
	ExecutionID string
	From        ExecutionStatus
	To          ExecutionStatus
	Reason      string
	CreatedAt   time.Time
}

// CodeCell is the daemon's view of an editable slot in a client document:
// only the pointer to its most recent execution is tracked.
type CodeCell struct {
	ID                string
	LatestExecutionID string
	UpdatedAt         time.Time
}

// ExecutionFilter selects executions for history queries. Zero fields are ignored.
type ExecutionFilter struct {
	ID        string
	RuntimeID string
	CellID    string
	Statuses  []ExecutionStatus
}

// Match reports whether e satisfies the filter.
func (f ExecutionFilter) Match(e *Execution) bool {
	if f.ID != "" && e.ID != f.ID {
		return false
	}
	if f.RuntimeID != "" && e.RuntimeID != f.RuntimeID {
		return false
	}
	if f.CellID != "" && e.CellID != f.CellID {
		return false
	}
	if len(f.Statuses) > 0 {
		for _, s := range f.Statuses {
			if e.Status == s {
				return true
			}
		}
		return false
	}
	return true
}
