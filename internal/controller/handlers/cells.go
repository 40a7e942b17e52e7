package handlers

import (
	"net/http"

	"runtimed/pkg/api"
)

// AttachCell handles PUT /cells/{id}/latest.
// The pointer only moves forward: attaching an older execution leaves it unchanged.
func (h *Handlers) AttachCell(w http.ResponseWriter, r *http.Request) {
	cellID := r.PathValue("id")
	if cellID == "" {
		h.badRequest(w, "Invalid cell id")
		return
	}

	var req api.AttachRequest
	if err := decode(r, &req); err != nil || req.ExecutionID == "" {
		h.badRequest(w, "Invalid request body")
		return
	}

	changed, err := h.svc.Attach(r.Context(), cellID, req.ExecutionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	latest, _, err := h.svc.Latest(r.Context(), cellID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.respondJson(w, http.StatusOK, api.CellResponse{
		CellID:            cellID,
		LatestExecutionID: latest,
		Changed:           &changed,
	})
}

// GetCell handles GET /cells/{id}.
func (h *Handlers) GetCell(w http.ResponseWriter, r *http.Request) {
	cellID := r.PathValue("id")
	latest, ok, err := h.svc.Latest(r.Context(), cellID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		h.httpError(w, "Cell has no executions", api.CodeUnknownExecution, http.StatusNotFound)
		return
	}
	h.respondJson(w, http.StatusOK, api.CellResponse{
		CellID:            cellID,
		LatestExecutionID: latest,
	})
}
