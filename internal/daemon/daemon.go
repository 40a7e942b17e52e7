// Package daemon wires the registry, ledger, dispatcher, liveness monitor and cell index
// into one process-wide service and owns the kernel connections.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"runtimed/internal/cells"
	"runtimed/internal/dispatch"
	"runtimed/internal/events"
	"runtimed/internal/ids"
	"runtimed/internal/kernel"
	"runtimed/internal/ledger"
	"runtimed/internal/liveness"
	"runtimed/internal/registry"
	"runtimed/internal/store"
)

// ReasonShutdown is the dead reason recorded for runtimes shut down on request.
const ReasonShutdown = "shutdown"

const (
	defaultEventBuffer = 256
	maxHistoryLimit    = 1000
)

// Options configures a Daemon.
type Options struct {
	Store     store.Store
	Connector kernel.Connector

	KeepaliveTimeout  time.Duration
	KeepaliveInterval time.Duration
	SweepInterval     time.Duration
	EventBuffer       int

	IDs    ids.Generator
	Clock  func() time.Time
	Logger *slog.Logger
}

// Daemon is the execution tracking service.
type Daemon struct {
	store      store.Store
	connector  kernel.Connector
	bus        *events.Bus
	registry   *registry.Registry
	ledger     *ledger.Ledger
	cells      *cells.Index
	dispatcher *dispatch.Dispatcher
	monitor    *liveness.Monitor

	keepaliveInterval time.Duration
	connectTimeout    time.Duration
	log               *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	watchers map[string]context.CancelFunc
}

// New builds a daemon. Start must be called before it accepts work.
func New(opts Options) (*Daemon, error) {
	if opts.Store == nil {
		return nil, errors.New("daemon: store is required")
	}
	if opts.Connector == nil {
		return nil, errors.New("daemon: connector is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.IDs == nil {
		opts.IDs = ids.NewUUIDv7()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	if opts.KeepaliveTimeout <= 0 {
		opts.KeepaliveTimeout = liveness.DefaultTimeout
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = liveness.DefaultInterval
	}

	bus := events.NewBus(opts.EventBuffer)
	reg := registry.New(registry.Options{
		Store:     opts.Store,
		IDs:       opts.IDs,
		Publisher: bus,
		Logger:    opts.Logger.With("component", "registry"),
		Clock:     opts.Clock,
	})
	l := ledger.New(opts.Store,
		ledger.WithPublisher(bus),
		ledger.WithClock(opts.Clock),
		ledger.WithLogger(opts.Logger.With("component", "ledger")),
	)
	idx := cells.New(opts.Store, l, opts.Logger.With("component", "cells"))

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		store:     opts.Store,
		connector: opts.Connector,
		bus:       bus,
		registry:  reg,
		ledger:    l,
		cells:     idx,
		dispatcher: dispatch.New(dispatch.Options{
			Registry: reg,
			Ledger:   l,
			Cells:    idx,
			IDs:      opts.IDs,
			Logger:   opts.Logger.With("component", "dispatch"),
		}),
		monitor: liveness.New(reg, liveness.Config{
			Timeout:  opts.KeepaliveTimeout,
			Interval: opts.SweepInterval,
			Clock:    opts.Clock,
			Logger:   opts.Logger.With("component", "liveness"),
		}),
		keepaliveInterval: opts.KeepaliveInterval,
		connectTimeout:    opts.KeepaliveTimeout,
		log:               opts.Logger,
		ctx:               ctx,
		cancel:            cancel,
		watchers:          make(map[string]context.CancelFunc),
	}

	reg.OnDeath(d.release)
	if err := d.registerGauges(); err != nil {
		d.log.Warn("failed to register gauges", "error", err)
	}
	return d, nil
}

// Start restores runtimes left by a previous process and starts the liveness sweep.
func (d *Daemon) Start(ctx context.Context) error {
	revived, err := d.registry.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore runtimes: %w", err)
	}

	// A runtime stored as dead can still own pending executions if the previous
	// process stopped between recording the death and cascading it.
	for _, snap := range d.registry.List() {
		if snap.Status != store.RuntimeStatusDead {
			continue
		}
		n, err := d.dispatcher.Reconcile(ctx, snap.ID)
		if err != nil {
			return fmt.Errorf("reconcile runtime %s: %w", snap.ID, err)
		}
		switch {
		case slices.Contains(revived, snap.ID):
			d.log.Info("restored runtime as dead", "runtime_id", snap.ID, "reason", registry.ReasonRestarted, "executions_cancelled", n)
		case n > 0:
			d.log.Warn("cancelled executions left on dead runtime", "runtime_id", snap.ID, "executions_cancelled", n)
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.monitor.Run(d.ctx)
	}()
	return nil
}

// Stop halts background work and waits for it, or for ctx to expire.
func (d *Daemon) Stop(ctx context.Context) error {
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	d.bus.Close()
	return nil
}

// RegisterRuntime records a new runtime in the starting state and connects to its kernel
// in the background. The runtime becomes idle once connected, or dead if that fails.
func (d *Daemon) RegisterRuntime(ctx context.Context, descriptor []byte) (string, error) {
	id, err := d.registry.Register(ctx, descriptor)
	if err != nil {
		return "", err
	}
	desc, err := kernel.ParseDescriptor(descriptor)
	if err != nil {
		return "", err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.connect(id, desc)
	}()
	return id, nil
}

func (d *Daemon) connect(id string, desc kernel.Descriptor) {
	ctx, cancel := context.WithTimeout(d.ctx, d.connectTimeout)
	defer cancel()

	k, err := d.connector.Connect(ctx, id, desc)
	if err != nil {
		d.log.Warn("kernel connect failed", "runtime_id", id, "transport", desc.Transport, "error", err)
		if err := d.registry.MarkDead(d.ctx, id, fmt.Sprintf("connect failed: %v", err)); err != nil {
			d.log.Error("failed to mark runtime dead", "runtime_id", id, "error", err)
		}
		return
	}

	if err := d.registry.Bind(id, k); err != nil {
		// Shut down while connecting.
		k.Close(context.WithoutCancel(ctx))
		return
	}

	watchCtx, stop := context.WithCancel(d.ctx)
	d.mu.Lock()
	d.watchers[id] = stop
	d.mu.Unlock()

	if err := d.registry.MarkReady(d.ctx, id); err != nil {
		snap, lerr := d.registry.Lookup(id)
		if lerr != nil || snap.Status == store.RuntimeStatusDead {
			d.mu.Lock()
			delete(d.watchers, id)
			d.mu.Unlock()
			stop()
			return
		}
		// Marked ready by hand while connecting.
		d.log.Debug("runtime already ready", "runtime_id", id, "status", snap.Status)
	}

	d.log.Info("kernel connected", "runtime_id", id, "transport", desc.Transport)
	d.monitor.Watch(watchCtx, id, k, d.keepaliveInterval)
}

// release runs once per runtime after it dies: stops its keepalive pump and closes its kernel.
func (d *Daemon) release(ctx context.Context, runtimeID, reason string) {
	d.mu.Lock()
	stop, ok := d.watchers[runtimeID]
	delete(d.watchers, runtimeID)
	d.mu.Unlock()
	if ok {
		stop()
	}

	var k kernel.Kernel
	d.registry.With(runtimeID, func(s *registry.Slot) error {
		k, s.Kernel = s.Kernel, nil
		return nil
	})
	if k == nil {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := k.Close(context.WithoutCancel(ctx)); err != nil {
			d.log.Warn("failed to close kernel", "runtime_id", runtimeID, "error", err)
		}
	}()
}

// MarkReady moves a starting runtime to idle by hand.
func (d *Daemon) MarkReady(ctx context.Context, runtimeID string) error {
	return d.registry.MarkReady(ctx, runtimeID)
}

// ShutdownRuntime marks a runtime dead and closes its kernel. Shutting down a dead
// runtime is a no-op.
func (d *Daemon) ShutdownRuntime(ctx context.Context, runtimeID string) error {
	return d.registry.MarkDead(ctx, runtimeID, ReasonShutdown)
}

// Lookup returns one runtime.
func (d *Daemon) Lookup(runtimeID string) (registry.Snapshot, error) {
	return d.registry.Lookup(runtimeID)
}

// ListRuntimes returns every runtime ordered by ID.
func (d *Daemon) ListRuntimes() []registry.Snapshot {
	return d.registry.List()
}

// Heartbeat records a keepalive for a runtime.
func (d *Daemon) Heartbeat(ctx context.Context, runtimeID string) error {
	return d.monitor.Heartbeat(ctx, runtimeID)
}

// Submit queues source on a runtime and returns the execution.
func (d *Daemon) Submit(ctx context.Context, runtimeID, source, cellID string) (*store.Execution, error) {
	id, err := d.dispatcher.Submit(ctx, runtimeID, source, cellID)
	if err != nil {
		return nil, err
	}
	return d.ledger.Get(ctx, id)
}

// Interrupt cancels or interrupts an execution.
func (d *Daemon) Interrupt(ctx context.Context, executionID string) error {
	return d.dispatcher.Interrupt(ctx, executionID)
}

// Complete records a result reported by a kernel adapter.
func (d *Daemon) Complete(ctx context.Context, executionID string, res store.Result) error {
	return d.dispatcher.Complete(ctx, executionID, res)
}

// Execution returns one execution with its recorded transitions.
func (d *Daemon) Execution(ctx context.Context, executionID string) (*store.Execution, []store.ExecutionEvent, error) {
	exec, err := d.ledger.Get(ctx, executionID)
	if err != nil {
		return nil, nil, err
	}
	evts, err := d.ledger.Events(ctx, executionID)
	if err != nil {
		return nil, nil, err
	}
	return exec, evts, nil
}

// History returns up to limit executions matching filter after the cursor afterID.
// next is the cursor for the following page, empty when this page is the last.
func (d *Daemon) History(ctx context.Context, filter store.ExecutionFilter, afterID string, limit int) (page []store.Execution, next string, err error) {
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	for exec, err := range d.ledger.HistoryAfter(ctx, filter, afterID) {
		if err != nil {
			return nil, "", err
		}
		if len(page) == limit {
			return page, page[len(page)-1].ID, nil
		}
		page = append(page, exec)
	}
	return page, "", nil
}

// Attach points a code cell at an execution if it is newer than the current pointer.
func (d *Daemon) Attach(ctx context.Context, cellID, executionID string) (bool, error) {
	return d.cells.Attach(ctx, cellID, executionID)
}

// Latest returns the execution a code cell last ran.
func (d *Daemon) Latest(ctx context.Context, cellID string) (string, bool, error) {
	return d.cells.Latest(ctx, cellID)
}

// Subscribe streams transition events, for one runtime or for all when runtimeID is empty.
func (d *Daemon) Subscribe(runtimeID string) (<-chan events.Event, func()) {
	return d.bus.Subscribe(runtimeID)
}

// Ping checks the backing store.
func (d *Daemon) Ping(ctx context.Context) error {
	return d.store.Ping(ctx)
}
