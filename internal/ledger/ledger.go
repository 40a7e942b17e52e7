// Package ledger is the append-only record of every execution's lifecycle.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"runtimed/internal/events"
	"runtimed/internal/store"
)

// ErrTerminal is returned when a transition is attempted out of a terminal state.
// It matches store.ErrInvalidTransition.
var ErrTerminal = fmt.Errorf("%w: execution already terminal", store.ErrInvalidTransition)

// pageSize bounds how many records History pulls from the store at once.
const pageSize = 100

var transitions = map[store.ExecutionStatus][]store.ExecutionStatus{
	store.ExecutionStatusQueued: {
		store.ExecutionStatusRunning,
		store.ExecutionStatusInterrupted,
	},
	store.ExecutionStatusRunning: {
		store.ExecutionStatusCompleted,
		store.ExecutionStatusErrored,
		store.ExecutionStatusInterrupted,
	},
}

// CanTransition reports whether from -> to is a legal execution transition.
func CanTransition(from, to store.ExecutionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithPublisher sends every recorded transition to p.
func WithPublisher(p events.Publisher) Option {
	return func(l *Ledger) { l.pub = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// Ledger owns every Execution record. The backing store may be in memory or durable.
type Ledger struct {
	store store.ExecutionStore
	pub   events.Publisher
	now   func() time.Time
	log   *slog.Logger
}

// New creates a ledger over s.
func New(s store.ExecutionStore, opts ...Option) *Ledger {
	l := &Ledger{
		store: s,
		pub:   events.Discard,
		now:   time.Now,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// QueuedParams describes a new submission.
type QueuedParams struct {
	ExecutionID string
	RuntimeID   string
	CellID      string
	Source      string
	Position    int
}

// RecordQueued creates the execution in the queued state.
func (l *Ledger) RecordQueued(ctx context.Context, p QueuedParams) (*store.Execution, error) {
	now := l.now()
	exec := &store.Execution{
		ID:          p.ExecutionID,
		RuntimeID:   p.RuntimeID,
		CellID:      p.CellID,
		Source:      p.Source,
		Status:      store.ExecutionStatusQueued,
		Position:    p.Position,
		SubmittedAt: now,
	}
	event := &store.ExecutionEvent{To: store.ExecutionStatusQueued, CreatedAt: now}

	if err := l.store.CreateExecution(ctx, exec, event); err != nil {
		return nil, fmt.Errorf("record queued %s: %w", p.ExecutionID, err)
	}
	l.publish(exec, "", "")
	return exec, nil
}

// RecordStarted moves a queued execution to running.
func (l *Ledger) RecordStarted(ctx context.Context, id string) (*store.Execution, error) {
	return l.transition(ctx, id, store.Result{Status: store.ExecutionStatusRunning})
}

// RecordTerminal moves an execution to a terminal outcome. Only interrupted may be
// reached directly from queued.
func (l *Ledger) RecordTerminal(ctx context.Context, id string, outcome store.ExecutionStatus, reason string) (*store.Execution, error) {
	return l.RecordResult(ctx, id, store.Result{Status: outcome, Reason: reason})
}

// RecordResult is RecordTerminal with the output the kernel captured.
func (l *Ledger) RecordResult(ctx context.Context, id string, res store.Result) (*store.Execution, error) {
	if !res.Status.Terminal() {
		return nil, fmt.Errorf("record terminal %s as %q: %w", id, res.Status, store.ErrInvalidTransition)
	}
	return l.transition(ctx, id, res)
}

// Get returns one execution.
func (l *Ledger) Get(ctx context.Context, id string) (*store.Execution, error) {
	return l.store.GetExecution(ctx, id)
}

// Events returns the recorded transitions of one execution.
func (l *Ledger) Events(ctx context.Context, id string) ([]store.ExecutionEvent, error) {
	return l.store.ListExecutionEvents(ctx, id)
}

// History returns the executions matching filter ordered by ID. The sequence is lazy,
// reads the store a page at a time, and starts over from the beginning on every range.
func (l *Ledger) History(ctx context.Context, filter store.ExecutionFilter) iter.Seq2[store.Execution, error] {
	return l.HistoryAfter(ctx, filter, "")
}

// HistoryAfter is History resumed after the execution afterID.
func (l *Ledger) HistoryAfter(ctx context.Context, filter store.ExecutionFilter, afterID string) iter.Seq2[store.Execution, error] {
	return func(yield func(store.Execution, error) bool) {
		cursor := afterID
		for {
			page, err := l.store.ListExecutions(ctx, filter, cursor, pageSize)
			if err != nil {
				yield(store.Execution{}, fmt.Errorf("list executions: %w", err))
				return
			}
			for _, exec := range page {
				if !yield(exec, nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			cursor = page[len(page)-1].ID
		}
	}
}

func (l *Ledger) transition(ctx context.Context, id string, res store.Result) (*store.Execution, error) {
	to, reason := res.Status, res.Reason
	var from store.ExecutionStatus
	updated, err := l.store.UpdateExecution(ctx, id, func(exec *store.Execution) (*store.ExecutionEvent, error) {
		from = exec.Status
		if from.Terminal() {
			return nil, ErrTerminal
		}
		if !CanTransition(from, to) {
			return nil, fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, from, to)
		}

		now := l.now()
		exec.Status = to
		exec.Reason = reason
		if to == store.ExecutionStatusRunning {
			exec.StartedAt = &now
		}
		if to.Terminal() {
			exec.CompletedAt = &now
			exec.Output = res.Output
		}
		return &store.ExecutionEvent{From: from, To: to, Reason: reason, CreatedAt: now}, nil
	})
	if err != nil {
		if errors.Is(err, store.ErrUnknownExecution) {
			return nil, err
		}
		return updated, fmt.Errorf("record %s for %s: %w", to, id, err)
	}

	l.publish(updated, from, reason)
	return updated, nil
}

func (l *Ledger) publish(exec *store.Execution, from store.ExecutionStatus, reason string) {
	l.pub.Publish(events.Event{
		Kind:        events.KindExecution,
		RuntimeID:   exec.RuntimeID,
		ExecutionID: exec.ID,
		From:        string(from),
		To:          string(exec.Status),
		Reason:      reason,
		At:          l.now(),
	})
}
