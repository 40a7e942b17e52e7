// Package dispatch drives executions through queued -> running -> terminal,
// one at a time per runtime.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"runtimed/internal/cells"
	"runtimed/internal/ids"
	"runtimed/internal/kernel"
	"runtimed/internal/ledger"
	"runtimed/internal/registry"
	"runtimed/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Reasons recorded on executions the dispatcher terminates itself.
const (
	ReasonRuntimeDied       = "runtime died"
	ReasonInterruptedQueued = "interrupted before start"
	ReasonNoKernel          = "runtime has no kernel handle"
)

// Dispatcher is the per-runtime execution state machine.
type Dispatcher struct {
	registry *registry.Registry
	ledger   *ledger.Ledger
	cells    *cells.Index
	ids      ids.Generator
	metrics  *metrics
	tracer   trace.Tracer
	log      *slog.Logger
}

// Options configures a Dispatcher.
type Options struct {
	Registry *registry.Registry
	Ledger   *ledger.Ledger
	Cells    *cells.Index // optional
	IDs      ids.Generator
	Logger   *slog.Logger
}

// launch is an execution popped under the runtime lock, to be handed to its kernel
// once the lock is released.
type launch struct {
	runtimeID string
	exec      *store.Execution
	kernel    kernel.Kernel
}

// New creates a dispatcher and subscribes it to the registry's ready and death hooks.
func New(opts Options) *Dispatcher {
	if opts.IDs == nil {
		opts.IDs = ids.NewUUIDv7()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	d := &Dispatcher{
		registry: opts.Registry,
		ledger:   opts.Ledger,
		cells:    opts.Cells,
		ids:      opts.IDs,
		metrics:  newMetrics(opts.Logger),
		tracer:   otel.Tracer("runtimed/dispatch"),
		log:      opts.Logger,
	}

	d.registry.OnReady(func(ctx context.Context, runtimeID, _ string) {
		d.Advance(ctx, runtimeID)
	})
	d.registry.OnDeath(func(ctx context.Context, runtimeID, _ string) {
		if err := d.CascadeCancel(ctx, runtimeID); err != nil {
			d.log.Error("cascade cancel failed", "runtime_id", runtimeID, "error", err)
		}
	})
	return d
}

// Submit queues source for runtimeID and returns the new execution id. If the runtime
// is idle the execution starts immediately.
func (d *Dispatcher) Submit(ctx context.Context, runtimeID, source, cellID string) (string, error) {
	cellID = cells.NormalizeID(cellID)
	ctx, span := d.tracer.Start(ctx, "dispatch.submit", trace.WithAttributes(
		attribute.String("runtime.id", runtimeID),
	))
	defer span.End()

	var (
		execID string
		next   *launch
	)
	err := d.registry.With(runtimeID, func(s *registry.Slot) error {
		if s.Runtime.Status == store.RuntimeStatusDead {
			return fmt.Errorf("submit to %s: %w", runtimeID, store.ErrRuntimeDead)
		}

		position := len(s.Queue)
		if s.Running != "" {
			position++
		}

		id := d.ids.New()
		if _, err := d.ledger.RecordQueued(ctx, ledger.QueuedParams{
			ExecutionID: id,
			RuntimeID:   runtimeID,
			CellID:      cellID,
			Source:      source,
			Position:    position,
		}); err != nil {
			return err
		}
		s.Queue = append(s.Queue, id)
		execID = id

		next = d.advanceLocked(ctx, s)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	span.SetAttributes(attribute.String("execution.id", execID))
	d.metrics.submitted(ctx, runtimeID)
	d.log.Info("execution queued", "execution_id", execID, "runtime_id", runtimeID, "cell_id", cellID)

	d.start(ctx, next)
	return execID, nil
}

// Advance starts the head of the runtime's queue if the runtime is idle.
// It is a no-op when the queue is empty or the runtime is busy, starting or dead.
func (d *Dispatcher) Advance(ctx context.Context, runtimeID string) {
	var next *launch
	err := d.registry.With(runtimeID, func(s *registry.Slot) error {
		next = d.advanceLocked(ctx, s)
		return nil
	})
	if err != nil {
		d.log.Warn("advance failed", "runtime_id", runtimeID, "error", err)
		return
	}
	d.start(ctx, next)
}

// Complete records the outcome reported for a running execution, frees its runtime and
// starts the next queued execution. Completing an already terminal execution is a no-op.
func (d *Dispatcher) Complete(ctx context.Context, execID string, res store.Result) error {
	if !res.Status.Terminal() {
		return fmt.Errorf("complete %s as %q: %w", execID, res.Status, store.ErrInvalidTransition)
	}

	exec, err := d.ledger.Get(ctx, execID)
	if err != nil {
		return err
	}
	if exec.Status.Terminal() {
		return nil
	}

	var (
		done *store.Execution
		next *launch
	)
	err = d.registry.With(exec.RuntimeID, func(s *registry.Slot) error {
		updated, err := d.ledger.RecordResult(ctx, execID, res)
		if err != nil {
			if errors.Is(err, ledger.ErrTerminal) {
				return nil
			}
			return err
		}
		done = updated

		if s.Running == execID {
			s.Running = ""
			if s.Runtime.Status == store.RuntimeStatusBusy {
				s.Runtime.Status = store.RuntimeStatusIdle
			}
		} else {
			s.Queue = remove(s.Queue, execID)
		}

		next = d.advanceLocked(ctx, s)
		return nil
	})
	if err != nil {
		return err
	}

	if done != nil {
		d.finished(ctx, done)
	}
	d.start(ctx, next)
	return nil
}

// Interrupt cancels a queued execution outright, or forwards an interrupt to the kernel
// running it; the terminal state then arrives through Complete. Interrupting a terminal
// execution is a no-op. Repeated interrupts of a running execution are forwarded each time.
// The kernel is told which execution to stop, so an interrupt that loses a race with
// Complete does not reach the execution started after it.
func (d *Dispatcher) Interrupt(ctx context.Context, execID string) error {
	exec, err := d.ledger.Get(ctx, execID)
	if err != nil {
		return err
	}
	if exec.Status.Terminal() {
		return nil
	}

	var (
		cancelled *store.Execution
		target    kernel.Kernel
	)
	err = d.registry.With(exec.RuntimeID, func(s *registry.Slot) error {
		if slices.Contains(s.Queue, execID) {
			updated, err := d.ledger.RecordTerminal(ctx, execID, store.ExecutionStatusInterrupted, ReasonInterruptedQueued)
			if err != nil {
				return err
			}
			s.Queue = remove(s.Queue, execID)
			cancelled = updated
			return nil
		}
		// Without a kernel the launch is already erroring the execution.
		if s.Running == execID && s.Kernel != nil {
			target = s.Kernel
		}
		// Otherwise it went terminal between the Get and the lock.
		return nil
	})
	if err != nil {
		return err
	}

	if cancelled != nil {
		d.log.Info("queued execution interrupted", "execution_id", execID, "runtime_id", exec.RuntimeID)
		d.finished(ctx, cancelled)
		return nil
	}
	if target != nil {
		d.log.Info("forwarding interrupt", "execution_id", execID, "runtime_id", exec.RuntimeID)
		if err := target.Interrupt(ctx, execID); err != nil {
			return fmt.Errorf("interrupt %s: %w", execID, err)
		}
	}
	return nil
}

// CascadeCancel terminates every pending execution of a dead runtime: queued ones become
// interrupted and the running one errored, without waiting on the kernel. Calling it again
// changes nothing.
func (d *Dispatcher) CascadeCancel(ctx context.Context, runtimeID string) error {
	var terminated []*store.Execution
	var errs []error

	err := d.registry.With(runtimeID, func(s *registry.Slot) error {
		for _, id := range s.Queue {
			updated, err := d.ledger.RecordTerminal(ctx, id, store.ExecutionStatusInterrupted, ReasonRuntimeDied)
			if err != nil {
				if !errors.Is(err, ledger.ErrTerminal) {
					errs = append(errs, err)
				}
				continue
			}
			terminated = append(terminated, updated)
		}
		s.Queue = nil

		if s.Running != "" {
			updated, err := d.ledger.RecordTerminal(ctx, s.Running, store.ExecutionStatusErrored, ReasonRuntimeDied)
			if err != nil {
				if !errors.Is(err, ledger.ErrTerminal) {
					errs = append(errs, err)
				}
			} else {
				terminated = append(terminated, updated)
			}
			s.Running = ""
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, exec := range terminated {
		d.finished(ctx, exec)
	}
	if len(terminated) > 0 {
		d.log.Warn("cancelled executions of dead runtime", "runtime_id", runtimeID, "count", len(terminated))
	}
	return errors.Join(errs...)
}

// Reconcile terminates executions that a previous daemon process left queued or running
// on a runtime that no longer exists. The registry has no queue for them, so the ledger
// is scanned instead.
func (d *Dispatcher) Reconcile(ctx context.Context, runtimeID string) (int, error) {
	filter := store.ExecutionFilter{
		RuntimeID: runtimeID,
		Statuses:  []store.ExecutionStatus{store.ExecutionStatusQueued, store.ExecutionStatusRunning},
	}

	var pending []store.Execution
	for exec, err := range d.ledger.History(ctx, filter) {
		if err != nil {
			return 0, err
		}
		pending = append(pending, exec)
	}

	count := 0
	for _, exec := range pending {
		outcome := store.ExecutionStatusInterrupted
		if exec.Status == store.ExecutionStatusRunning {
			outcome = store.ExecutionStatusErrored
		}
		updated, err := d.ledger.RecordTerminal(ctx, exec.ID, outcome, ReasonRuntimeDied)
		if err != nil {
			if errors.Is(err, ledger.ErrTerminal) {
				continue
			}
			return count, err
		}
		d.finished(ctx, updated)
		count++
	}
	return count, nil
}

// advanceLocked pops the queue head and records it as running. It must be called
// inside the runtime's critical section; the returned launch is started after release.
func (d *Dispatcher) advanceLocked(ctx context.Context, s *registry.Slot) *launch {
	for s.Runtime.Status == store.RuntimeStatusIdle && s.Running == "" && len(s.Queue) > 0 {
		head := s.Queue[0]
		exec, err := d.ledger.RecordStarted(ctx, head)
		if err != nil {
			if errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrUnknownExecution) {
				d.log.Warn("dropping unstartable execution from queue", "execution_id", head, "error", err)
				s.Queue = s.Queue[1:]
				continue
			}
			d.log.Error("failed to start execution", "execution_id", head, "error", err)
			return nil
		}

		s.Queue = s.Queue[1:]
		s.Running = head
		s.Runtime.Status = store.RuntimeStatusBusy
		return &launch{runtimeID: s.Runtime.ID, exec: exec, kernel: s.Kernel}
	}
	return nil
}

// start hands a popped execution to its kernel. The result arrives later through Complete.
func (d *Dispatcher) start(ctx context.Context, l *launch) {
	if l == nil {
		return
	}
	execID := l.exec.ID
	done := func(res store.Result) {
		if err := d.Complete(context.Background(), execID, res); err != nil {
			d.log.Error("failed to record kernel result", "execution_id", execID, "outcome", res.Status, "error", err)
		}
	}

	if l.kernel == nil {
		done(store.Result{Status: store.ExecutionStatusErrored, Reason: ReasonNoKernel})
		return
	}

	d.log.Info("execution started", "execution_id", execID, "runtime_id", l.runtimeID)
	req := kernel.Request{ExecutionID: execID, Source: l.exec.Source}
	if err := l.kernel.Execute(context.WithoutCancel(ctx), req, done); err != nil {
		done(store.Result{Status: store.ExecutionStatusErrored, Reason: fmt.Sprintf("execute: %v", err)})
	}
}

// finished records metrics and moves the cell pointer for a terminal execution.
func (d *Dispatcher) finished(ctx context.Context, exec *store.Execution) {
	d.metrics.finished(ctx, exec)
	if d.cells == nil || exec.CellID == "" {
		return
	}
	if _, err := d.cells.Attach(ctx, exec.CellID, exec.ID); err != nil {
		d.log.Warn("failed to attach execution to cell", "cell_id", exec.CellID, "execution_id", exec.ID, "error", err)
	}
}

func remove(queue []string, id string) []string {
	if i := slices.Index(queue, id); i >= 0 {
		return slices.Delete(queue, i, i+1)
	}
	return queue
}
