// Package handlers contains HTTP handlers for the runtimed API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"runtimed/internal/events"
	"runtimed/internal/logger"
	"runtimed/internal/registry"
	"runtimed/internal/store"
	"runtimed/pkg/api"
)

// Service is the daemon surface the handlers drive.
type Service interface {
	RegisterRuntime(ctx context.Context, descriptor []byte) (string, error)
	MarkReady(ctx context.Context, runtimeID string) error
	ShutdownRuntime(ctx context.Context, runtimeID string) error
	Lookup(runtimeID string) (registry.Snapshot, error)
	ListRuntimes() []registry.Snapshot
	Heartbeat(ctx context.Context, runtimeID string) error

	Submit(ctx context.Context, runtimeID, source, cellID string) (*store.Execution, error)
	Interrupt(ctx context.Context, executionID string) error
	Complete(ctx context.Context, executionID string, res store.Result) error
	Execution(ctx context.Context, executionID string) (*store.Execution, []store.ExecutionEvent, error)
	History(ctx context.Context, filter store.ExecutionFilter, afterID string, limit int) ([]store.Execution, string, error)

	Attach(ctx context.Context, cellID, executionID string) (bool, error)
	Latest(ctx context.Context, cellID string) (string, bool, error)

	Subscribe(runtimeID string) (<-chan events.Event, func())
	Ping(ctx context.Context) error
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	svc Service
	log *slog.Logger

	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a new Handlers instance.
func New(svc Service, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{svc: svc, log: log, closing: make(chan struct{})}
}

// CloseStreams ends every open event stream. It is safe to call more than once.
func (h *Handlers) CloseStreams() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message, code string, status int) {
	h.respondJson(w, status, api.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func (h *Handlers) badRequest(w http.ResponseWriter, message string) {
	h.httpError(w, message, api.CodeBadRequest, http.StatusBadRequest)
}

// fail maps a daemon error onto its HTTP status and error code.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrUnknownRuntime):
		h.httpError(w, err.Error(), api.CodeUnknownRuntime, http.StatusNotFound)
	case errors.Is(err, store.ErrUnknownExecution):
		h.httpError(w, err.Error(), api.CodeUnknownExecution, http.StatusNotFound)
	case errors.Is(err, store.ErrRuntimeDead):
		h.httpError(w, err.Error(), api.CodeRuntimeDead, http.StatusConflict)
	case errors.Is(err, store.ErrInvalidTransition):
		h.httpError(w, err.Error(), api.CodeInvalidTransition, http.StatusConflict)
	case errors.Is(err, store.ErrDuplicateExecutionID):
		h.httpError(w, err.Error(), api.CodeDuplicateExecution, http.StatusConflict)
	case errors.Is(err, store.ErrInvalidDescriptor):
		h.httpError(w, err.Error(), api.CodeInvalidDescriptor, http.StatusBadRequest)
	case errors.Is(err, store.ErrInvalidCellID):
		h.httpError(w, err.Error(), api.CodeBadRequest, http.StatusBadRequest)
	default:
		logger.FromContext(r.Context(), h.log).Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		h.httpError(w, "Internal server error", api.CodeInternal, http.StatusInternalServerError)
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func runtimeResponse(s registry.Snapshot) api.RuntimeResponse {
	return api.RuntimeResponse{
		ID:                 s.ID,
		Transport:          s.Transport,
		Status:             string(s.Status),
		Descriptor:         s.Descriptor,
		DeadReason:         s.DeadReason,
		QueueDepth:         s.QueueDepth,
		RunningExecutionID: s.RunningExecutionID,
		LastKeepalive:      s.LastKeepalive,
		CreatedAt:          s.CreatedAt,
		DiedAt:             s.DiedAt,
	}
}

func executionResponse(e *store.Execution) api.ExecutionResponse {
	return api.ExecutionResponse{
		ID:          e.ID,
		RuntimeID:   e.RuntimeID,
		CellID:      e.CellID,
		Source:      e.Source,
		Status:      string(e.Status),
		Position:    e.Position,
		Reason:      e.Reason,
		Output:      e.Output,
		SubmittedAt: e.SubmittedAt,
		StartedAt:   e.StartedAt,
		CompletedAt: e.CompletedAt,
	}
}
