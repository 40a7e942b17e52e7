package docker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"runtimed/internal/kernel"
	"runtimed/internal/store"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

type fakeAPI struct {
	running  bool
	stderr   string
	exitCode int
	block    bool // attach output never ends

	created []container.ExecOptions
	closed  bool
}

func (f *fakeAPI) ContainerInspect(ctx context.Context, id string) (types.ContainerJSON, error) {
	if id == "missing" {
		return types.ContainerJSON{}, errors.New("No such container: missing")
	}
	return types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			ID:    id,
			State: &types.ContainerState{Running: f.running},
		},
	}, nil
}

func (f *fakeAPI) ContainerExecCreate(ctx context.Context, id string, opts container.ExecOptions) (types.IDResponse, error) {
	f.created = append(f.created, opts)
	return types.IDResponse{ID: "exec-1"}, nil
}

func (f *fakeAPI) ContainerExecAttach(ctx context.Context, execID string, cfg container.ExecAttachOptions) (types.HijackedResponse, error) {
	client, server := net.Pipe()
	go func() {
		if f.block {
			<-ctx.Done()
			server.Close()
			return
		}
		var buf bytes.Buffer
		stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte("2\n"))
		if f.stderr != "" {
			stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
		}
		server.Write(buf.Bytes())
		server.Close()
	}()
	return types.HijackedResponse{Conn: client, Reader: bufio.NewReader(client)}, nil
}

func (f *fakeAPI) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	return container.ExecInspect{ExecID: execID, ExitCode: f.exitCode}, nil
}

func (f *fakeAPI) Close() error {
	f.closed = true
	return nil
}

func connect(t *testing.T, api *fakeAPI, d kernel.Descriptor) (kernel.Kernel, error) {
	t.Helper()
	c := NewConnectorWithAPI(func() (API, error) { return api, nil }, nil)
	return c.Connect(context.Background(), "rt-1", d)
}

func execute(t *testing.T, k kernel.Kernel, source string) <-chan store.Result {
	t.Helper()
	ch := make(chan store.Result, 1)
	err := k.Execute(context.Background(), kernel.Request{ExecutionID: "e1", Source: source}, func(res store.Result) {
		ch <- res
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	return ch
}

func wait(t *testing.T, ch <-chan store.Result) store.Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for exec result")
		return store.Result{}
	}
}

func TestConnect_RequiresRunningContainer(t *testing.T) {
	api := &fakeAPI{running: false}
	if _, err := connect(t, api, kernel.Descriptor{Transport: kernel.TransportDocker, Container: "k1"}); err == nil {
		t.Fatal("expected error for stopped container")
	}
	if !api.closed {
		t.Error("client not closed after failed connect")
	}

	if _, err := connect(t, &fakeAPI{running: true}, kernel.Descriptor{Transport: kernel.TransportDocker, Container: "missing"}); err == nil {
		t.Fatal("expected error for missing container")
	}
}

func TestExecute_Completed(t *testing.T) {
	api := &fakeAPI{running: true}
	k, err := connect(t, api, kernel.Descriptor{Transport: kernel.TransportDocker, Container: "k1"})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	r := wait(t, execute(t, k, "print(1+1)"))
	if r.Status != store.ExecutionStatusCompleted {
		t.Errorf("outcome = %s (%q), want completed", r.Status, r.Reason)
	}
	if r.Output != "2\n" {
		t.Errorf("output = %q, want stdout of the exec", r.Output)
	}

	if len(api.created) != 1 {
		t.Fatalf("expected one exec, got %d", len(api.created))
	}
	cmd := api.created[0].Cmd
	if len(cmd) != 3 || cmd[0] != "python3" || cmd[1] != "-c" || cmd[2] != "print(1+1)" {
		t.Errorf("unexpected exec cmd %v", cmd)
	}
}

func TestExecute_ErroredUsesLastStderrLine(t *testing.T) {
	api := &fakeAPI{
		running:  true,
		exitCode: 1,
		stderr:   "Traceback (most recent call last):\n  File \"<string>\", line 1\nNameError: name 'x' is not defined\n",
	}
	k, err := connect(t, api, kernel.Descriptor{Transport: kernel.TransportDocker, Container: "k1", Argv: []string{"sh", "-c"}})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	r := wait(t, execute(t, k, "x"))
	if r.Status != store.ExecutionStatusErrored {
		t.Fatalf("outcome = %s, want errored", r.Status)
	}
	if r.Reason != "NameError: name 'x' is not defined" {
		t.Errorf("reason = %q", r.Reason)
	}
	if r.Output != "2\n" {
		t.Errorf("stdout before the error was lost: %q", r.Output)
	}
	if api.created[0].Cmd[0] != "sh" {
		t.Errorf("descriptor argv ignored: %v", api.created[0].Cmd)
	}
}

func TestInterrupt(t *testing.T) {
	api := &fakeAPI{running: true, block: true}
	k, err := connect(t, api, kernel.Descriptor{Transport: kernel.TransportDocker, Container: "k1"})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	ch := execute(t, k, "import time; time.sleep(60)")
	if err := k.Interrupt(context.Background(), "e1"); err != nil {
		t.Fatalf("Interrupt failed: %v", err)
	}
	if r := wait(t, ch); r.Status != store.ExecutionStatusInterrupted {
		t.Errorf("outcome = %s, want interrupted", r.Status)
	}
}

func TestInterrupt_OtherExecutionIgnored(t *testing.T) {
	api := &fakeAPI{running: true, block: true}
	k, err := connect(t, api, kernel.Descriptor{Transport: kernel.TransportDocker, Container: "k1"})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	ch := execute(t, k, "import time; time.sleep(60)")
	if err := k.Interrupt(context.Background(), "e0"); err != nil {
		t.Fatalf("Interrupt failed: %v", err)
	}
	select {
	case r := <-ch:
		t.Fatalf("interrupt for e0 stopped e1: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}

	if err := k.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if r := wait(t, ch); r.Status != store.ExecutionStatusInterrupted {
		t.Errorf("outcome after close = %s, want interrupted", r.Status)
	}
}

func TestReasonFrom(t *testing.T) {
	if got := reasonFrom("", 137); got != "exit code 137" {
		t.Errorf("got %q", got)
	}
	long := bytes.Repeat([]byte("x"), maxReason*2)
	if got := reasonFrom(string(long), 1); len(got) != maxReason {
		t.Errorf("reason not truncated: %d bytes", len(got))
	}
}
