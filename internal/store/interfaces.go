package store

import (
	"context"
	"time"
)

// MutateFunc changes an execution in place and returns the event describing the change.
// Returning a nil event leaves the stored record untouched.
type MutateFunc func(exec *Execution) (*ExecutionEvent, error)

// ExecutionStore persists the execution ledger. Records are never deleted.
type ExecutionStore interface {
	// CreateExecution inserts a new execution together with its first event.
	// Returns ErrDuplicateExecutionID if the id is already taken.
	CreateExecution(ctx context.Context, exec *Execution, event *ExecutionEvent) error

	// UpdateExecution applies mutate atomically with respect to other updates of the same record.
	// Returns ErrUnknownExecution if the record does not exist.
	UpdateExecution(ctx context.Context, id string, mutate MutateFunc) (*Execution, error)

	// GetExecution returns an execution by its ID.
	GetExecution(ctx context.Context, id string) (*Execution, error)

	// ListExecutions returns up to limit executions matching filter with ID > afterID, ordered by ID.
	ListExecutions(ctx context.Context, filter ExecutionFilter, afterID string, limit int) ([]Execution, error)

	// ListExecutionEvents returns the transitions of one execution in append order.
	ListExecutionEvents(ctx context.Context, executionID string) ([]ExecutionEvent, error)
}

// RuntimeStore keeps runtime records for historical queries and restart recovery.
type RuntimeStore interface {
	SaveRuntime(ctx context.Context, rt *Runtime) error
	ListRuntimes(ctx context.Context) ([]Runtime, error)
}

// CellStore holds the code cell -> latest execution pointers.
type CellStore interface {
	// AttachIfNewer points the cell at executionID when executionID sorts after
	// the current pointer (or no pointer exists). Reports whether it changed.
	AttachIfNewer(ctx context.Context, cellID, executionID string, at time.Time) (bool, error)

	// GetCell returns the cell, or nil when the daemon never saw it.
	GetCell(ctx context.Context, cellID string) (*CodeCell, error)
}

// Store combines every repository the daemon needs from one backing store.
type Store interface {
	ExecutionStore
	RuntimeStore
	CellStore
	Ping(ctx context.Context) error
	Close() error
}
