// Package kernel defines the boundary between the daemon and the processes that run code.
// The daemon never speaks a kernel wire protocol itself; adapters in subpackages do.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"runtimed/internal/store"
)

// ErrUnsupportedTransport is returned when no adapter handles a descriptor's transport.
var ErrUnsupportedTransport = errors.New("unsupported kernel transport")

// Request is one unit of code handed to a kernel.
type Request struct {
	ExecutionID string
	Source      string
}

// Callback receives the terminal outcome of a request and the output it produced.
// Adapters call it at most once per request, from any goroutine.
type Callback func(res store.Result)

// MaxOutput bounds the output an adapter keeps per request. Earlier bytes are dropped.
const MaxOutput = 64 << 10

// Kernel is a connected handle to one running kernel process.
type Kernel interface {
	// Execute starts running req and returns without waiting for the result.
	// The result is reported through done, or out of band through the daemon's result endpoint.
	Execute(ctx context.Context, req Request, done Callback) error

	// Interrupt asks the kernel to abandon executionID. A kernel that is not running
	// executionID any more (it finished, or the next request has started) ignores it.
	Interrupt(ctx context.Context, executionID string) error

	// Ping checks that the kernel process is still alive.
	Ping(ctx context.Context) error

	// Close releases the connection. It does not have to stop the kernel process.
	Close(ctx context.Context) error
}

// Connector turns a connection descriptor into a Kernel handle.
type Connector interface {
	Connect(ctx context.Context, runtimeID string, d Descriptor) (Kernel, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, runtimeID string, d Descriptor) (Kernel, error)

func (f ConnectorFunc) Connect(ctx context.Context, runtimeID string, d Descriptor) (Kernel, error) {
	return f(ctx, runtimeID, d)
}

// Mux routes Connect calls to the connector registered for the descriptor's transport.
type Mux struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewMux creates an empty mux.
func NewMux() *Mux {
	return &Mux{connectors: make(map[string]Connector)}
}

// Handle registers c for transport, replacing any previous registration.
func (m *Mux) Handle(transport string, c Connector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectors[transport] = c
}

func (m *Mux) Connect(ctx context.Context, runtimeID string, d Descriptor) (Kernel, error) {
	m.mu.RLock()
	c, ok := m.connectors[d.Transport]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTransport, d.Transport)
	}
	return c.Connect(ctx, runtimeID, d)
}

// invalid wraps a descriptor validation failure in the shared taxonomy error.
func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", store.ErrInvalidDescriptor, fmt.Sprintf(format, args...))
}
