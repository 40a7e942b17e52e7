// Package api contains shared JSON request/response structs.
// This package is shared between the daemon, the CLI and kernel adapters.
package api

import (
	"encoding/json"
	"time"
)

// RegisterRuntimeRequest is the request body for registering a runtime.
type RegisterRuntimeRequest struct {
	Descriptor json.RawMessage `json:"descriptor"`
}

// RegisterRuntimeResponse is the response body after registering a runtime.
type RegisterRuntimeResponse struct {
	RuntimeID string `json:"runtime_id"`
	Status    string `json:"status"`
}

// RuntimeResponse represents a runtime in API responses.
type RuntimeResponse struct {
	ID                 string          `json:"id"`
	Transport          string          `json:"transport"`
	Status             string          `json:"status"`
	Descriptor         json.RawMessage `json:"descriptor,omitempty"`
	DeadReason         string          `json:"dead_reason,omitempty"`
	QueueDepth         int             `json:"queue_depth"`
	RunningExecutionID string          `json:"running_execution_id,omitempty"`
	LastKeepalive      time.Time       `json:"last_keepalive"`
	CreatedAt          time.Time       `json:"created_at"`
	DiedAt             *time.Time      `json:"died_at,omitempty"`
}

// ListRuntimesResponse is the response body for listing runtimes.
type ListRuntimesResponse struct {
	Runtimes []RuntimeResponse `json:"runtimes"`
}

// SubmitRequest is the request body for submitting code to a runtime.
type SubmitRequest struct {
	Source string `json:"source"`
	CellID string `json:"cell_id,omitempty"`
}

// SubmitResponse is the response body after submitting code.
type SubmitResponse struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
	Position    int    `json:"position"`
}

// ExecutionResponse represents an execution in API responses.
type ExecutionResponse struct {
	ID          string           `json:"id"`
	RuntimeID   string           `json:"runtime_id"`
	CellID      string           `json:"cell_id,omitempty"`
	Source      string           `json:"source"`
	Status      string           `json:"status"`
	Position    int              `json:"position"`
	Reason      string           `json:"reason,omitempty"`
	Output      string           `json:"output,omitempty"`
	SubmittedAt time.Time        `json:"submitted_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Events      []TransitionInfo `json:"events,omitempty"`
}

// TransitionInfo is one recorded state change of an execution.
type TransitionInfo struct {
	From   string    `json:"from,omitempty"`
	To     string    `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// HistoryResponse is one page of execution history. NextAfter is set when more
// results may follow and should be passed back as the after parameter.
type HistoryResponse struct {
	Executions []ExecutionResponse `json:"executions"`
	NextAfter  string              `json:"next_after,omitempty"`
}

// AttachRequest is the request body for pointing a code cell at an execution.
type AttachRequest struct {
	ExecutionID string `json:"execution_id"`
}

// CellResponse is the response body for code cell queries.
type CellResponse struct {
	CellID            string `json:"cell_id"`
	LatestExecutionID string `json:"latest_execution_id,omitempty"`
	Changed           *bool  `json:"changed,omitempty"`
}

// ResultRequest is sent by kernel adapters when an execution finishes.
type ResultRequest struct {
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
	// Output is the captured stdout of the execution, possibly truncated at the front.
	Output string `json:"output,omitempty"`
}

// KernelExecuteRequest is sent by the daemon to an http kernel adapter.
type KernelExecuteRequest struct {
	ExecutionID string `json:"execution_id"`
	Code        string `json:"code"`
	// CallbackURL is where the adapter reports the result with a ResultRequest.
	CallbackURL string `json:"callback_url"`
}

// KernelInterruptRequest is sent by the daemon to interrupt one execution on an http
// kernel adapter. Adapters ignore it when they are running a different execution.
type KernelInterruptRequest struct {
	ExecutionID string `json:"execution_id"`
}

// Event is a state transition pushed to /events subscribers.
type Event struct {
	Kind        string    `json:"kind"`
	RuntimeID   string    `json:"runtime_id"`
	ExecutionID string    `json:"execution_id,omitempty"`
	From        string    `json:"from,omitempty"`
	To          string    `json:"to"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
}

// HealthResponse is the response body for health probes.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Error codes returned in ErrorResponse.Code.
const (
	CodeUnknownRuntime     = "unknown_runtime"
	CodeUnknownExecution   = "unknown_execution"
	CodeRuntimeDead        = "runtime_dead"
	CodeInvalidTransition  = "invalid_transition"
	CodeDuplicateExecution = "duplicate_execution_id"
	CodeInvalidDescriptor  = "invalid_descriptor"
	CodeBadRequest         = "bad_request"
	CodeRateLimited        = "rate_limited"
	CodeInternal           = "internal"
)
