package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"runtimed/internal/events"
	"runtimed/internal/ids"
	"runtimed/internal/registry"
	"runtimed/internal/store"
)

// Mock service
type mockService struct {
	// Runtime hooks
	registerID    string
	registerErr   error
	readyErr      error
	shutdownErr   error
	lookupResp    registry.Snapshot
	lookupErr     error
	listResp      []registry.Snapshot
	heartbeatErr  error

	// Execution hooks
	submitResp    *store.Execution
	submitErr     error
	interruptErr  error
	completeErr   error
	executionResp *store.Execution
	eventsResp    []store.ExecutionEvent
	executionErr  error
	historyResp   []store.Execution
	historyNext   string
	historyErr    error

	// Cell hooks
	attachChanged bool
	attachErr     error
	latestResp    string
	latestOK      bool
	latestErr     error

	events  chan events.Event
	pingErr error

	// Spies (to verify arguments passed by handlers)
	capturedDescriptor string
	capturedRuntimeID  string
	capturedSource     string
	capturedCellID     string
	capturedResult     store.Result
	capturedFilter     store.ExecutionFilter
	capturedAfter      string
	capturedLimit      int
}

func (m *mockService) RegisterRuntime(ctx context.Context, descriptor []byte) (string, error) {
	m.capturedDescriptor = string(descriptor)
	return m.registerID, m.registerErr
}

func (m *mockService) MarkReady(ctx context.Context, runtimeID string) error {
	m.capturedRuntimeID = runtimeID
	return m.readyErr
}

func (m *mockService) ShutdownRuntime(ctx context.Context, runtimeID string) error {
	m.capturedRuntimeID = runtimeID
	return m.shutdownErr
}

func (m *mockService) Lookup(runtimeID string) (registry.Snapshot, error) {
	return m.lookupResp, m.lookupErr
}

func (m *mockService) ListRuntimes() []registry.Snapshot {
	return m.listResp
}

func (m *mockService) Heartbeat(ctx context.Context, runtimeID string) error {
	m.capturedRuntimeID = runtimeID
	return m.heartbeatErr
}

func (m *mockService) Submit(ctx context.Context, runtimeID, source, cellID string) (*store.Execution, error) {
	m.capturedRuntimeID = runtimeID
	m.capturedSource = source
	m.capturedCellID = cellID
	return m.submitResp, m.submitErr
}

func (m *mockService) Interrupt(ctx context.Context, executionID string) error {
	return m.interruptErr
}

func (m *mockService) Complete(ctx context.Context, executionID string, res store.Result) error {
	m.capturedResult = res
	return m.completeErr
}

func (m *mockService) Execution(ctx context.Context, executionID string) (*store.Execution, []store.ExecutionEvent, error) {
	return m.executionResp, m.eventsResp, m.executionErr
}

func (m *mockService) History(ctx context.Context, filter store.ExecutionFilter, afterID string, limit int) ([]store.Execution, string, error) {
	m.capturedFilter = filter
	m.capturedAfter = afterID
	m.capturedLimit = limit
	return m.historyResp, m.historyNext, m.historyErr
}

func (m *mockService) Attach(ctx context.Context, cellID, executionID string) (bool, error) {
	m.capturedCellID = cellID
	return m.attachChanged, m.attachErr
}

func (m *mockService) Latest(ctx context.Context, cellID string) (string, bool, error) {
	return m.latestResp, m.latestOK, m.latestErr
}

func (m *mockService) Subscribe(runtimeID string) (<-chan events.Event, func()) {
	m.capturedRuntimeID = runtimeID
	if m.events == nil {
		m.events = make(chan events.Event)
	}
	return m.events, func() {}
}

func (m *mockService) Ping(ctx context.Context) error {
	return m.pingErr
}

var testIDs = ids.NewUUIDv7()

func newTestHandlers(m *mockService) *Handlers {
	return New(m, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// serve routes a single request through a mux holding one pattern.
func serve(t *testing.T, pattern string, handler http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, handler)

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func ptrTime(t time.Time) *time.Time { return &t }
