package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"runtimed/internal/events"
	"runtimed/pkg/api"
)

const sseKeepalive = 15 * time.Second

// Events handles GET /events.
// Streams transitions as Server-Sent Events until the client disconnects.
// An optional runtime_id query parameter narrows the stream to one runtime.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// The server write timeout would cut long-lived streams.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && err != http.ErrNotSupported {
		h.log.Debug("could not clear write deadline", "error", err)
	}

	ch, cancel := h.svc.Subscribe(r.URL.Query().Get("runtime_id"))
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	ticker := time.NewTicker(sseKeepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.closing:
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, ev events.Event) error {
	data, err := json.Marshal(api.Event{
		Kind:        string(ev.Kind),
		RuntimeID:   ev.RuntimeID,
		ExecutionID: ev.ExecutionID,
		From:        ev.From,
		To:          ev.To,
		Reason:      ev.Reason,
		At:          ev.At,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
	return err
}
