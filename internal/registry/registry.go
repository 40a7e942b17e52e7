// Package registry tracks the runtimes known to the daemon, their liveness state,
// and the per-runtime execution queue.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"runtimed/internal/events"
	"runtimed/internal/ids"
	"runtimed/internal/kernel"
	"runtimed/internal/store"
)

// ReasonRestarted is recorded for runtimes left over from a previous daemon process.
const ReasonRestarted = "daemon restarted"

// Hook is notified after a runtime changes state. Hooks run outside the runtime's
// critical section and may call back into the registry.
type Hook func(ctx context.Context, runtimeID, reason string)

// Slot is the mutable per-runtime state handed to With callers.
type Slot struct {
	Runtime store.Runtime
	Kernel  kernel.Kernel
	Queue   []string // queued execution ids, FIFO
	Running string   // execution id currently running, if any
}

// Snapshot is a point-in-time copy of a runtime.
type Snapshot struct {
	store.Runtime
	QueueDepth         int
	RunningExecutionID string
}

// Options configures a Registry.
type Options struct {
	Store     store.RuntimeStore // optional; runtime records are persisted here
	IDs       ids.Generator
	Publisher events.Publisher
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Registry owns every Runtime record.
type Registry struct {
	mu      sync.RWMutex // guards entries only
	entries map[string]*entry

	hooksMu sync.RWMutex
	onReady []Hook
	onDeath []Hook

	store store.RuntimeStore
	ids   ids.Generator
	pub   events.Publisher
	log   *slog.Logger
	now   func() time.Time
}

type entry struct {
	mu   sync.Mutex
	slot Slot
}

// New creates an empty registry.
func New(opts Options) *Registry {
	if opts.IDs == nil {
		opts.IDs = ids.NewUUIDv7()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Registry{
		entries: make(map[string]*entry),
		store:   opts.Store,
		ids:     opts.IDs,
		pub:     opts.Publisher,
		log:     opts.Logger,
		now:     opts.Clock,
	}
}

// OnReady adds a hook run after a runtime becomes idle for the first time.
func (r *Registry) OnReady(h Hook) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.onReady = append(r.onReady, h)
}

// OnDeath adds a hook run exactly once per runtime, after it is marked dead.
func (r *Registry) OnDeath(h Hook) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.onDeath = append(r.onDeath, h)
}

// Register validates descriptor and creates a runtime in the starting state.
func (r *Registry) Register(ctx context.Context, descriptor []byte) (string, error) {
	d, err := kernel.ParseDescriptor(descriptor)
	if err != nil {
		return "", err
	}

	now := r.now()
	rt := store.Runtime{
		ID:            r.ids.New(),
		Transport:     d.Transport,
		Descriptor:    d.Canonical(),
		Status:        store.RuntimeStatusStarting,
		LastKeepalive: now,
		CreatedAt:     now,
	}

	e := &entry{slot: Slot{Runtime: rt}}
	e.mu.Lock()
	r.mu.Lock()
	r.entries[rt.ID] = e
	r.mu.Unlock()
	r.persist(ctx, &rt)
	e.mu.Unlock()

	r.publish(rt, "", "")
	r.log.Info("runtime registered", "runtime_id", rt.ID, "transport", rt.Transport)
	return rt.ID, nil
}

// Bind attaches a connected kernel handle to a runtime.
func (r *Registry) Bind(id string, k kernel.Kernel) error {
	return r.With(id, func(s *Slot) error {
		if s.Runtime.Status == store.RuntimeStatusDead {
			return fmt.Errorf("bind %s: %w", id, store.ErrRuntimeDead)
		}
		s.Kernel = k
		return nil
	})
}

// MarkReady moves a runtime from starting to idle.
func (r *Registry) MarkReady(ctx context.Context, id string) error {
	err := r.With(id, func(s *Slot) error {
		if s.Runtime.Status != store.RuntimeStatusStarting {
			return fmt.Errorf("mark ready %s from %s: %w", id, s.Runtime.Status, store.ErrInvalidTransition)
		}
		s.Runtime.Status = store.RuntimeStatusIdle
		return nil
	})
	if err != nil {
		return err
	}
	r.run(ctx, r.readyHooks(), id, "")
	return nil
}

// MarkDead moves a runtime to dead from any state. Marking a dead runtime again is a no-op.
func (r *Registry) MarkDead(ctx context.Context, id, reason string) error {
	_, err := r.MarkDeadIf(ctx, id, reason, nil)
	return err
}

// MarkDeadIf marks the runtime dead only when cond holds for its current record.
// A nil cond always holds. Reports whether this call killed the runtime.
func (r *Registry) MarkDeadIf(ctx context.Context, id, reason string, cond func(store.Runtime) bool) (bool, error) {
	killed := false
	err := r.With(id, func(s *Slot) error {
		if s.Runtime.Status == store.RuntimeStatusDead {
			return nil
		}
		if cond != nil && !cond(s.Runtime) {
			return nil
		}
		now := r.now()
		s.Runtime.Status = store.RuntimeStatusDead
		s.Runtime.DeadReason = reason
		s.Runtime.DiedAt = &now
		killed = true
		return nil
	})
	if err != nil || !killed {
		return false, err
	}

	r.log.Warn("runtime marked dead", "runtime_id", id, "reason", reason)
	r.run(ctx, r.deathHooks(), id, reason)
	return true, nil
}

// Touch records a keepalive observed at the given time.
func (r *Registry) Touch(id string, at time.Time) error {
	return r.With(id, func(s *Slot) error {
		if s.Runtime.Status == store.RuntimeStatusDead {
			return fmt.Errorf("keepalive for %s: %w", id, store.ErrRuntimeDead)
		}
		if at.After(s.Runtime.LastKeepalive) {
			s.Runtime.LastKeepalive = at
		}
		return nil
	})
}

// Lookup returns a snapshot of one runtime.
func (r *Registry) Lookup(id string) (Snapshot, error) {
	var snap Snapshot
	err := r.With(id, func(s *Slot) error {
		snap = snapshotOf(s)
		return nil
	})
	return snap, err
}

// List returns snapshots of every runtime ordered by ID.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, snapshotOf(&e.slot))
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

// With runs fn inside the runtime-scoped critical section of id. Operations on
// different runtimes never contend. Status changes made by fn are persisted and published.
func (r *Registry) With(id string, fn func(s *Slot) error) error {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrUnknownRuntime, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.slot.Runtime.Status
	err := fn(&e.slot)
	if after := e.slot.Runtime.Status; after != before {
		rt := e.slot.Runtime
		r.persist(context.Background(), &rt)
		r.publish(rt, string(before), rt.DeadReason)
	}
	return err
}

// Restore loads runtimes persisted by a previous daemon process. None of their kernel
// connections survived, so any that were not already dead are recorded as dead.
// Returns the IDs that had to be marked dead.
func (r *Registry) Restore(ctx context.Context) ([]string, error) {
	if r.store == nil {
		return nil, nil
	}
	runtimes, err := r.store.ListRuntimes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list runtimes: %w", err)
	}

	var revived []string
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rt := range runtimes {
		if _, ok := r.entries[rt.ID]; ok {
			continue
		}
		if rt.Status != store.RuntimeStatusDead {
			now := r.now()
			rt.Status = store.RuntimeStatusDead
			rt.DeadReason = ReasonRestarted
			rt.DiedAt = &now
			r.persist(ctx, &rt)
			revived = append(revived, rt.ID)
		}
		r.entries[rt.ID] = &entry{slot: Slot{Runtime: rt}}
	}
	return revived, nil
}

func (r *Registry) persist(ctx context.Context, rt *store.Runtime) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveRuntime(ctx, rt); err != nil {
		r.log.Error("failed to persist runtime", "runtime_id", rt.ID, "status", rt.Status, "error", err)
	}
}

func (r *Registry) publish(rt store.Runtime, from, reason string) {
	r.pub.Publish(events.Event{
		Kind:      events.KindRuntime,
		RuntimeID: rt.ID,
		From:      from,
		To:        string(rt.Status),
		Reason:    reason,
		At:        r.now(),
	})
}

func (r *Registry) readyHooks() []Hook {
	r.hooksMu.RLock()
	defer r.hooksMu.RUnlock()
	return append([]Hook(nil), r.onReady...)
}

func (r *Registry) deathHooks() []Hook {
	r.hooksMu.RLock()
	defer r.hooksMu.RUnlock()
	return append([]Hook(nil), r.onDeath...)
}

func (r *Registry) run(ctx context.Context, hooks []Hook, id, reason string) {
	for _, h := range hooks {
		h(ctx, id, reason)
	}
}

func snapshotOf(s *Slot) Snapshot {
	rt := s.Runtime
	if rt.DiedAt != nil {
		t := *rt.DiedAt
		rt.DiedAt = &t
	}
	return Snapshot{
		Runtime:            rt,
		QueueDepth:         len(s.Queue),
		RunningExecutionID: s.Running,
	}
}
