package handlers

import (
	"net/http"
	"strconv"

	"runtimed/internal/ids"
	"runtimed/internal/store"
	"runtimed/pkg/api"
)

// GetExecution handles GET /executions/{id}.
// Returns the current state of an execution along with every transition it went through.
func (h *Handlers) GetExecution(w http.ResponseWriter, r *http.Request) {
	id, ok := h.executionID(w, r)
	if !ok {
		return
	}

	exec, evts, err := h.svc.Execution(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := executionResponse(exec)
	for _, ev := range evts {
		resp.Events = append(resp.Events, api.TransitionInfo{
			From:   string(ev.From),
			To:     string(ev.To),
			Reason: ev.Reason,
			At:     ev.CreatedAt,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}

// ListExecutions handles GET /executions.
// Supports filtering by runtime_id, cell_id, id and status, with cursor pagination
// through after and limit.
func (h *Handlers) ListExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.ExecutionFilter{
		ID:        q.Get("id"),
		RuntimeID: q.Get("runtime_id"),
		CellID:    q.Get("cell_id"),
	}
	for _, s := range q["status"] {
		st := store.ExecutionStatus(s)
		if !st.Valid() {
			h.badRequest(w, "Invalid status "+strconv.Quote(s))
			return
		}
		filter.Statuses = append(filter.Statuses, st)
	}

	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.badRequest(w, "Invalid limit")
			return
		}
		limit = n
	}

	page, next, err := h.svc.History(r.Context(), filter, q.Get("after"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := api.HistoryResponse{
		Executions: make([]api.ExecutionResponse, 0, len(page)),
		NextAfter:  next,
	}
	for i := range page {
		resp.Executions = append(resp.Executions, executionResponse(&page[i]))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// InterruptExecution handles POST /executions/{id}/interrupt.
// A queued execution is cancelled; a running one has an interrupt forwarded to its kernel.
func (h *Handlers) InterruptExecution(w http.ResponseWriter, r *http.Request) {
	id, ok := h.executionID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Interrupt(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// InternalUpdateResult handles PUT /internal/executions/{id}/result.
// External kernel adapters call this when an execution finishes.
func (h *Handlers) InternalUpdateResult(w http.ResponseWriter, r *http.Request) {
	id, ok := h.executionID(w, r)
	if !ok {
		return
	}

	var req api.ResultRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, "Invalid request body")
		return
	}
	outcome := store.ExecutionStatus(req.Outcome)
	if !outcome.Terminal() {
		h.badRequest(w, "outcome must be completed, errored or interrupted")
		return
	}

	res := store.Result{Status: outcome, Reason: req.Reason, Output: req.Output}
	if err := h.svc.Complete(r.Context(), id, res); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) executionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if !ids.Valid(id) {
		h.badRequest(w, "Invalid execution id")
		return "", false
	}
	return id, true
}
