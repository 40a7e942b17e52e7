package handlers

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"runtimed/internal/events"
	"runtimed/pkg/api"
)

func TestEvents_StreamsTransitions(t *testing.T) {
	runtimeID := testIDs.New()
	mock := &mockService{events: make(chan events.Event, 1)}
	h := newTestHandlers(mock)

	srv := httptest.NewServer(http.HandlerFunc(h.Events))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events?runtime_id=" + runtimeID)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream, got %q", ct)
	}

	mock.events <- events.Event{
		Kind:        events.KindExecution,
		RuntimeID:   runtimeID,
		ExecutionID: "exec-1",
		From:        "queued",
		To:          "running",
		At:          time.Now(),
	}

	sc := bufio.NewScanner(resp.Body)
	var name, data string
	for sc.Scan() {
		line := sc.Text()
		if line == "" && data != "" {
			break
		}
		if v, ok := strings.CutPrefix(line, "event: "); ok {
			name = v
		}
		if v, ok := strings.CutPrefix(line, "data: "); ok {
			data = v
		}
	}

	if name != "execution" {
		t.Errorf("expected event name execution, got %q", name)
	}
	var ev api.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		t.Fatalf("bad event payload %q: %v", data, err)
	}
	if ev.ExecutionID != "exec-1" || ev.To != "running" || ev.From != "queued" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestEvents_EndsWhenBusCloses(t *testing.T) {
	mock := &mockService{events: make(chan events.Event)}
	close(mock.events)
	h := newTestHandlers(mock)

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	rr := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.Events(rr, req)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after the subscription closed")
	}
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestEvents_EndsOnCloseStreams(t *testing.T) {
	mock := &mockService{events: make(chan events.Event)}
	h := newTestHandlers(mock)

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	rr := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.Events(rr, req)
		close(done)
	}()

	h.CloseStreams()
	h.CloseStreams()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after CloseStreams")
	}
}
