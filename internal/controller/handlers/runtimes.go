package handlers

import (
	"net/http"

	"runtimed/internal/ids"
	"runtimed/internal/store"
	"runtimed/pkg/api"
)

// RegisterRuntime handles POST /runtimes.
// The runtime starts in the starting state while the daemon connects to its kernel.
func (h *Handlers) RegisterRuntime(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRuntimeRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, "Invalid request body")
		return
	}
	if len(req.Descriptor) == 0 {
		h.httpError(w, "descriptor is required", api.CodeInvalidDescriptor, http.StatusBadRequest)
		return
	}

	id, err := h.svc.RegisterRuntime(r.Context(), req.Descriptor)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.respondJson(w, http.StatusCreated, api.RegisterRuntimeResponse{
		RuntimeID: id,
		Status:    string(store.RuntimeStatusStarting),
	})
}

// ListRuntimes handles GET /runtimes.
func (h *Handlers) ListRuntimes(w http.ResponseWriter, r *http.Request) {
	snaps := h.svc.ListRuntimes()
	resp := api.ListRuntimesResponse{Runtimes: make([]api.RuntimeResponse, 0, len(snaps))}
	for _, s := range snaps {
		resp.Runtimes = append(resp.Runtimes, runtimeResponse(s))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetRuntime handles GET /runtimes/{id}.
func (h *Handlers) GetRuntime(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runtimeID(w, r)
	if !ok {
		return
	}
	snap, err := h.svc.Lookup(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, runtimeResponse(snap))
}

// MarkReady handles POST /runtimes/{id}/ready.
func (h *Handlers) MarkReady(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runtimeID(w, r)
	if !ok {
		return
	}
	if err := h.svc.MarkReady(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.GetRuntime(w, r)
}

// ShutdownRuntime handles DELETE /runtimes/{id}.
// Queued work on the runtime is interrupted and running work is errored.
func (h *Handlers) ShutdownRuntime(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runtimeID(w, r)
	if !ok {
		return
	}
	if err := h.svc.ShutdownRuntime(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Submit handles POST /runtimes/{id}/executions.
func (h *Handlers) Submit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runtimeID(w, r)
	if !ok {
		return
	}

	var req api.SubmitRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, "Invalid request body")
		return
	}

	exec, err := h.svc.Submit(r.Context(), id, req.Source, req.CellID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.respondJson(w, http.StatusAccepted, api.SubmitResponse{
		ExecutionID: exec.ID,
		Status:      string(exec.Status),
		Position:    exec.Position,
	})
}

// InternalHeartbeat handles PUT /internal/runtimes/{id}/heartbeat.
// External kernel adapters call this on the keepalive interval.
func (h *Handlers) InternalHeartbeat(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runtimeID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Heartbeat(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) runtimeID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if !ids.Valid(id) {
		h.badRequest(w, "Invalid runtime id")
		return "", false
	}
	return id, true
}
