// Package adapter runs code for the daemon's http kernel transport.
//
// An Agent serves the small protocol the daemon's remote kernel speaks: it accepts one
// execution at a time, runs it as a subprocess of a configured interpreter, and reports
// the outcome to the callback URL that came with the request.
package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"runtimed/internal/kernel"
	"runtimed/pkg/api"
)

// CodeBusy is returned when an execution arrives while another one is running.
const CodeBusy = "busy"

const (
	maxReason     = 512
	reportRetries = 3
)

// Config holds configuration for the agent.
type Config struct {
	// Interpreter is the argv prefix; the code is appended as the last argument.
	Interpreter []string
	WorkDir     string

	// DaemonURL and Token are used for heartbeats and self-registration.
	DaemonURL string
	Token     string

	// AdvertiseURL is the address the daemon should use to reach this agent.
	AdvertiseURL      string
	HeartbeatInterval time.Duration // default: 5s

	// Stdout receives a copy of the subprocess output, which is also reported with the
	// result. Defaults to discarding the copy.
	Stdout io.Writer
	Logger *slog.Logger
}

// Agent executes code on behalf of one runtime.
type Agent struct {
	config     Config
	httpClient *http.Client
	log        *slog.Logger
	tracer     trace.Tracer
	finished   metric.Int64Counter

	mu      sync.Mutex
	current *run
	wg      sync.WaitGroup

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

type run struct {
	executionID string
	cmd         *exec.Cmd
	interrupted bool
}

// New creates a new agent.
func New(config Config) *Agent {
	if len(config.Interpreter) == 0 {
		config.Interpreter = []string{"python3", "-c"}
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 5 * time.Second
	}
	if config.Stdout == nil {
		config.Stdout = io.Discard
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	config.DaemonURL = strings.TrimRight(config.DaemonURL, "/")

	a := &Agent{
		config:     config,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		log:        config.Logger,
		tracer:     otel.Tracer("runtimed/adapter"),
		shutdown:   make(chan struct{}),
	}

	finished, err := otel.Meter("runtimed/adapter").Int64Counter("kerneld.executions.finished",
		metric.WithDescription("Executions run by this adapter, by outcome"))
	if err != nil {
		a.log.Warn("failed to create metric", "error", err)
	}
	a.finished = finished
	return a
}

// Handler returns the adapter's HTTP API.
func (a *Agent) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute", a.handleExecute)
	mux.HandleFunc("POST /interrupt", a.handleInterrupt)
	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.HandleFunc("POST /shutdown", a.handleShutdown)
	return mux
}

// ShutdownRequested is closed once the daemon asks the agent to stop.
func (a *Agent) ShutdownRequested() <-chan struct{} {
	return a.shutdown
}

// Wait blocks until every accepted execution has reported its outcome.
func (a *Agent) Wait() {
	a.wg.Wait()
}

func (a *Agent) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req api.KernelExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ExecutionID == "" {
		respondError(w, http.StatusBadRequest, api.CodeBadRequest, "Invalid request body")
		return
	}

	argv := append(append([]string{}, a.config.Interpreter[1:]...), req.Code)
	cmd := exec.Command(a.config.Interpreter[0], argv...)
	cmd.Dir = a.config.WorkDir
	stdout := kernel.NewTail(kernel.MaxOutput)
	cmd.Stdout = io.MultiWriter(stdout, a.config.Stdout)
	stderr := kernel.NewTail(4096)
	cmd.Stderr = stderr

	a.mu.Lock()
	if a.current != nil {
		busy := a.current.executionID
		a.mu.Unlock()
		respondError(w, http.StatusConflict, CodeBusy, "already running "+busy)
		return
	}
	cur := &run{executionID: req.ExecutionID, cmd: cmd}
	startErr := cmd.Start()
	if startErr == nil {
		a.current = cur
	}
	a.wg.Add(1)
	a.mu.Unlock()

	// The daemon's trace continues here.
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(r.Header))

	go func() {
		defer a.wg.Done()
		a.execute(ctx, cur, startErr, stdout, stderr, req.CallbackURL)
	}()

	w.WriteHeader(http.StatusAccepted)
}

func (a *Agent) execute(ctx context.Context, cur *run, startErr error, stdout, stderr *kernel.Tail, callbackURL string) {
	ctx, span := a.tracer.Start(ctx, "adapter.execute",
		trace.WithAttributes(attribute.String("execution.id", cur.executionID)),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	log := a.log.With("execution_id", cur.executionID)
	log.Info("execution started")

	err := startErr
	if err == nil {
		err = cur.cmd.Wait()
	}

	a.mu.Lock()
	interrupted := cur.interrupted
	if a.current == cur {
		a.current = nil
	}
	a.mu.Unlock()

	result := outcome(err, interrupted, stderr.LastLine())
	result.Output = stdout.String()
	if err != nil {
		span.RecordError(err)
	}
	span.SetAttributes(attribute.String("outcome", result.Outcome))
	if a.finished != nil {
		a.finished.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", result.Outcome)))
	}
	log.Info("execution finished", "outcome", result.Outcome, "reason", result.Reason)

	if callbackURL == "" {
		return
	}
	if err := a.report(ctx, callbackURL, result); err != nil {
		log.Error("failed to report result", "error", err)
	}
}

func outcome(err error, interrupted bool, lastStderr string) api.ResultRequest {
	switch {
	case interrupted:
		return api.ResultRequest{Outcome: "interrupted"}
	case err == nil:
		return api.ResultRequest{Outcome: "completed"}
	}

	reason := lastStderr
	var exitErr *exec.ExitError
	if reason == "" && errors.As(err, &exitErr) {
		reason = exitErr.Error()
	} else if reason == "" {
		reason = err.Error()
	}
	if len(reason) > maxReason {
		reason = reason[:maxReason]
	}
	return api.ResultRequest{Outcome: "errored", Reason: reason}
}

// report delivers the result, retrying transient failures. 404 and 409 mean the
// daemon no longer wants it and are not retried.
func (a *Agent) report(ctx context.Context, url string, result api.ResultRequest) error {
	body, _ := json.Marshal(result)

	var lastErr error
	for attempt := 1; attempt <= reportRetries; attempt++ {
		status, err := a.put(ctx, url, body)
		switch {
		case err == nil && status/100 == 2:
			return nil
		case err == nil && (status == http.StatusNotFound || status == http.StatusConflict):
			return fmt.Errorf("daemon rejected result with status %d", status)
		case err == nil:
			lastErr = fmt.Errorf("daemon returned status %d", status)
		default:
			lastErr = err
		}

		select {
		case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func (a *Agent) put(ctx context.Context, url string, body []byte) (int, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, rd)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.config.Token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// Register announces this agent to the daemon as an http runtime and returns the new
// runtime id.
func (a *Agent) Register(ctx context.Context) (string, error) {
	if a.config.DaemonURL == "" || a.config.AdvertiseURL == "" {
		return "", errors.New("daemon url and advertise url are required to register")
	}
	desc, err := json.Marshal(map[string]string{"transport": "http", "url": a.config.AdvertiseURL})
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(api.RegisterRuntimeRequest{Descriptor: desc})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.DaemonURL+"/runtimes", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("register: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		var er api.ErrorResponse
		json.NewDecoder(resp.Body).Decode(&er)
		return "", fmt.Errorf("register: daemon returned status %d: %s", resp.StatusCode, er.Error)
	}

	var out api.RegisterRuntimeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("register: decode response: %w", err)
	}
	a.log.Info("registered with daemon", "runtime_id", out.RuntimeID, "daemon_url", a.config.DaemonURL)
	return out.RuntimeID, nil
}

// RunHeartbeats reports liveness for runtimeID every HeartbeatInterval until ctx is
// cancelled or the daemon answers 404 or 409, meaning the runtime is gone.
func (a *Agent) RunHeartbeats(ctx context.Context, runtimeID string) error {
	ticker := time.NewTicker(a.config.HeartbeatInterval)
	defer ticker.Stop()

	url := a.config.DaemonURL + "/internal/runtimes/" + runtimeID + "/heartbeat"
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			status, err := a.put(ctx, url, nil)
			switch {
			case err != nil:
				if ctx.Err() != nil {
					return nil
				}
				a.log.Warn("heartbeat failed", "runtime_id", runtimeID, "error", err)
			case status == http.StatusNotFound || status == http.StatusConflict:
				return fmt.Errorf("runtime %s no longer accepted by daemon (status %d)", runtimeID, status)
			case status/100 != 2:
				a.log.Warn("heartbeat rejected", "runtime_id", runtimeID, "status", status)
			}
		}
	}
}

func (a *Agent) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	// An empty body interrupts whatever is running.
	var req api.KernelInterruptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, api.CodeBadRequest, "Invalid request body")
		return
	}
	if err := a.Interrupt(req.ExecutionID); err != nil {
		a.log.Warn("interrupt failed", "execution_id", req.ExecutionID, "error", err)
	}
	w.WriteHeader(http.StatusAccepted)
}

// Interrupt sends SIGINT to the running subprocess if it is executionID. An empty
// executionID matches any running subprocess.
func (a *Agent) Interrupt(executionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return nil
	}
	if executionID != "" && executionID != a.current.executionID {
		a.log.Info("ignoring interrupt for execution not running", "execution_id", executionID, "running", a.current.executionID)
		return nil
	}
	a.current.interrupted = true
	a.log.Info("interrupting execution", "execution_id", a.current.executionID)
	return a.current.cmd.Process.Signal(os.Interrupt)
}

func (a *Agent) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(api.HealthResponse{Status: "healthy"})
}

func (a *Agent) handleShutdown(w http.ResponseWriter, r *http.Request) {
	a.shutdownOnce.Do(func() { close(a.shutdown) })
	w.WriteHeader(http.StatusAccepted)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: message, Code: code})
}
