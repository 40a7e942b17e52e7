// Package docker connects to kernels running inside Docker containers. Each execution
// runs as a docker exec of the descriptor's argv with the source appended.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"runtimed/internal/kernel"
	"runtimed/internal/store"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DefaultArgv runs the source with the container's python interpreter.
var DefaultArgv = []string{"python3", "-c"}

// maxReason bounds how much stderr is kept as an error reason.
const maxReason = 512

// API is the subset of the Docker client used here.
type API interface {
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	Close() error
}

// Connector creates kernels bound to running containers.
type Connector struct {
	newAPI func() (API, error)
	log    *slog.Logger
}

// NewConnector returns a connector that talks to the daemon configured in the
// environment (DOCKER_HOST and friends).
func NewConnector(log *slog.Logger) *Connector {
	return NewConnectorWithAPI(func() (API, error) {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("failed to create Docker client: %w", err)
		}
		return cli, nil
	}, log)
}

// NewConnectorWithAPI is NewConnector with a custom client factory.
func NewConnectorWithAPI(newAPI func() (API, error), log *slog.Logger) *Connector {
	if log == nil {
		log = slog.Default()
	}
	return &Connector{newAPI: newAPI, log: log}
}

// Connect verifies the descriptor's container is running and returns a kernel for it.
func (c *Connector) Connect(ctx context.Context, runtimeID string, d kernel.Descriptor) (kernel.Kernel, error) {
	api, err := c.newAPI()
	if err != nil {
		return nil, err
	}

	k := &Kernel{
		api:       api,
		container: d.Container,
		argv:      d.Argv,
		log:       c.log.With("runtime_id", runtimeID, "container", d.Container),
	}
	if len(k.argv) == 0 {
		k.argv = DefaultArgv
	}
	if err := k.Ping(ctx); err != nil {
		api.Close()
		return nil, err
	}
	return k, nil
}

// Kernel runs executions inside one container, one at a time.
type Kernel struct {
	api       API
	container string
	argv      []string
	log       *slog.Logger

	mu      sync.Mutex
	running string             // execution id of the current exec, empty when idle
	cancel  context.CancelFunc // cancels the current exec, nil when idle
}

// Execute starts the source as a docker exec and reports its outcome through done.
// A zero exit code is completed; anything else is errored with stderr as the reason.
func (k *Kernel) Execute(ctx context.Context, req kernel.Request, done kernel.Callback) error {
	cmd := append(append([]string(nil), k.argv...), req.Source)
	created, err := k.api.ContainerExecCreate(ctx, k.container, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
		Env:          []string{"RUNTIMED_EXECUTION_ID=" + req.ExecutionID},
	})
	if err != nil {
		return fmt.Errorf("failed to create exec: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	k.mu.Lock()
	k.running = req.ExecutionID
	k.cancel = cancel
	k.mu.Unlock()

	go func() {
		defer cancel()
		res := k.run(runCtx, created.ID)

		k.mu.Lock()
		if k.running == req.ExecutionID {
			k.running = ""
			k.cancel = nil
		}
		k.mu.Unlock()

		k.log.Info("exec finished", "execution_id", req.ExecutionID, "outcome", res.Status)
		done(res)
	}()
	return nil
}

func (k *Kernel) run(ctx context.Context, execID string) store.Result {
	resp, err := k.api.ContainerExecAttach(ctx, execID, container.ExecAttachOptions{})
	if err != nil {
		return store.Result{Status: store.ExecutionStatusErrored, Reason: fmt.Sprintf("attach exec: %v", err)}
	}
	defer resp.Close()

	var stderr bytes.Buffer
	stdout := kernel.NewTail(kernel.MaxOutput)
	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(stdout, &stderr, resp.Reader)
		copied <- err
	}()

	select {
	case <-ctx.Done():
		return store.Result{Status: store.ExecutionStatusInterrupted, Reason: "interrupted", Output: stdout.String()}
	case err := <-copied:
		if ctx.Err() != nil {
			return store.Result{Status: store.ExecutionStatusInterrupted, Reason: "interrupted", Output: stdout.String()}
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return store.Result{Status: store.ExecutionStatusErrored, Reason: fmt.Sprintf("read exec output: %v", err), Output: stdout.String()}
		}
	}

	res := store.Result{Output: stdout.String()}
	inspect, err := k.api.ContainerExecInspect(context.WithoutCancel(ctx), execID)
	switch {
	case err != nil:
		res.Status, res.Reason = store.ExecutionStatusErrored, fmt.Sprintf("inspect exec: %v", err)
	case inspect.ExitCode == 0:
		res.Status = store.ExecutionStatusCompleted
	default:
		res.Status, res.Reason = store.ExecutionStatusErrored, reasonFrom(stderr.String(), inspect.ExitCode)
	}
	return res
}

// Interrupt detaches from the running exec and reports it interrupted. Docker has no
// API to signal an exec process, so the process itself may run on in the container.
// It does nothing unless executionID is the exec currently attached.
func (k *Kernel) Interrupt(ctx context.Context, executionID string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cancel == nil || k.running != executionID {
		k.log.Debug("ignoring interrupt for execution not running", "execution_id", executionID, "running", k.running)
		return nil
	}
	k.cancel()
	return nil
}

// Ping succeeds while the container is running.
func (k *Kernel) Ping(ctx context.Context) error {
	info, err := k.api.ContainerInspect(ctx, k.container)
	if err != nil {
		return fmt.Errorf("inspect container %s: %w", k.container, err)
	}
	if info.ContainerJSONBase == nil || info.State == nil || !info.State.Running {
		return fmt.Errorf("container %s is not running", k.container)
	}
	return nil
}

// Close releases the Docker client. The container is left alone.
func (k *Kernel) Close(ctx context.Context) error {
	k.mu.Lock()
	if k.cancel != nil {
		k.cancel()
	}
	k.mu.Unlock()
	return k.api.Close()
}

func reasonFrom(stderr string, exitCode int) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return fmt.Sprintf("exit code %d", exitCode)
	}
	if len(last) > maxReason {
		last = last[:maxReason]
	}
	return last
}
