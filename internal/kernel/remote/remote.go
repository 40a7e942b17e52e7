// Package remote talks to kernel adapters that run as separate processes behind an
// HTTP endpoint (see cmd/kerneld). Results come back out of band: the adapter reports
// them to the daemon's result endpoint.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"runtimed/internal/kernel"
	"runtimed/pkg/api"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Connector creates kernels for http descriptors.
type Connector struct {
	// CallbackBase is the daemon URL adapters report results to, e.g. http://10.0.0.5:12397.
	CallbackBase string
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Connect checks the adapter answers its health probe and returns a kernel for it.
func (c *Connector) Connect(ctx context.Context, runtimeID string, d kernel.Descriptor) (kernel.Kernel, error) {
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	log := c.Logger
	if log == nil {
		log = slog.Default()
	}

	k := &Kernel{
		baseURL:      strings.TrimRight(d.URL, "/"),
		callbackBase: strings.TrimRight(c.CallbackBase, "/"),
		client:       httpClient,
		tracer:       otel.Tracer("runtimed/kernel/remote"),
		log:          log.With("runtime_id", runtimeID, "url", d.URL),
	}
	if err := k.Ping(ctx); err != nil {
		return nil, err
	}
	return k, nil
}

// Kernel is a handle to one remote adapter.
type Kernel struct {
	baseURL      string
	callbackBase string
	client       *http.Client
	tracer       trace.Tracer
	log          *slog.Logger
}

// Execute posts the code to the adapter, which must accept it with 202. done is not
// called on success; the adapter reports the outcome to the daemon directly.
func (k *Kernel) Execute(ctx context.Context, req kernel.Request, done kernel.Callback) error {
	ctx, span := k.tracer.Start(ctx, "kernel.execute",
		trace.WithAttributes(attribute.String("execution.id", req.ExecutionID)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	body := api.KernelExecuteRequest{
		ExecutionID: req.ExecutionID,
		Code:        req.Source,
	}
	if k.callbackBase != "" {
		body.CallbackURL = fmt.Sprintf("%s/internal/executions/%s/result", k.callbackBase, req.ExecutionID)
	}

	if err := k.post(ctx, "/execute", body, http.StatusAccepted); err != nil {
		span.RecordError(err)
		return err
	}
	k.log.Debug("execution handed to adapter", "execution_id", req.ExecutionID)
	return nil
}

// Interrupt asks the adapter to signal executionID. The adapter drops the request if
// it has moved on to another execution.
func (k *Kernel) Interrupt(ctx context.Context, executionID string) error {
	return k.post(ctx, "/interrupt", api.KernelInterruptRequest{ExecutionID: executionID}, http.StatusAccepted)
}

// Ping calls the adapter's health endpoint.
func (k *Kernel) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("ping adapter: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping adapter: status %d", resp.StatusCode)
	}
	return nil
}

// Close asks the adapter to shut down. Unreachable adapters are not an error.
func (k *Kernel) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := k.post(ctx, "/shutdown", nil, http.StatusAccepted); err != nil {
		k.log.Debug("adapter shutdown request failed", "error", err)
	}
	k.client.CloseIdleConnections()
	return nil
}

func (k *Kernel) post(ctx context.Context, path string, body any, want int) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		var apiErr api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("POST %s: status %d", path, resp.StatusCode)
	}
	return nil
}
