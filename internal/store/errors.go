package store

import "errors"

// Error taxonomy shared by every runtimed component. Callers match with errors.Is.
var (
	ErrUnknownRuntime       = errors.New("unknown runtime")
	ErrUnknownExecution     = errors.New("unknown execution")
	ErrRuntimeDead          = errors.New("runtime dead")
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrDuplicateExecutionID = errors.New("duplicate execution id")
	ErrInvalidDescriptor    = errors.New("invalid connection descriptor")
	ErrInvalidCellID        = errors.New("invalid cell id")
)
