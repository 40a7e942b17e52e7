// Package memory implements the store interfaces in process memory.
// It is the default backing store and the one used by tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"runtimed/internal/store"
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu         sync.RWMutex // guards the maps and order, not record contents
	executions map[string]*record
	order      []string // execution ids, ascending
	runtimes   map[string]store.Runtime
	cells      map[string]store.CodeCell

	eventSeq atomic.Int64
}

type record struct {
	mu     sync.Mutex
	exec   store.Execution
	events []store.ExecutionEvent
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		executions: make(map[string]*record),
		runtimes:   make(map[string]store.Runtime),
		cells:      make(map[string]store.CodeCell),
	}
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) CreateExecution(ctx context.Context, exec *store.Execution, event *store.ExecutionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[exec.ID]; ok {
		return fmt.Errorf("%w: %s", store.ErrDuplicateExecutionID, exec.ID)
	}

	rec := &record{exec: cloneExecution(*exec)}
	if event != nil {
		rec.events = append(rec.events, s.stamp(exec.ID, *event))
	}
	s.executions[exec.ID] = rec

	i := sort.SearchStrings(s.order, exec.ID)
	s.order = append(s.order, "")
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = exec.ID
	return nil
}

func (s *Store) UpdateExecution(ctx context.Context, id string, mutate store.MutateFunc) (*store.Execution, error) {
	rec, ok := s.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownExecution, id)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	working := cloneExecution(rec.exec)
	event, err := mutate(&working)
	if err != nil {
		current := cloneExecution(rec.exec)
		return &current, err
	}
	if event != nil {
		rec.exec = working
		rec.events = append(rec.events, s.stamp(id, *event))
	}

	out := cloneExecution(rec.exec)
	return &out, nil
}

func (s *Store) GetExecution(ctx context.Context, id string) (*store.Execution, error) {
	rec, ok := s.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownExecution, id)
	}
	rec.mu.Lock()
	out := cloneExecution(rec.exec)
	rec.mu.Unlock()
	return &out, nil
}

func (s *Store) ListExecutions(ctx context.Context, filter store.ExecutionFilter, afterID string, limit int) ([]store.Execution, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	start := sort.Search(len(s.order), func(i int) bool { return s.order[i] > afterID })
	candidates := make([]*record, 0, len(s.order)-start)
	for _, id := range s.order[start:] {
		candidates = append(candidates, s.executions[id])
	}
	s.mu.RUnlock()

	var out []store.Execution
	for _, rec := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec.mu.Lock()
		exec := cloneExecution(rec.exec)
		rec.mu.Unlock()

		if !filter.Match(&exec) {
			continue
		}
		out = append(out, exec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListExecutionEvents(ctx context.Context, executionID string) ([]store.ExecutionEvent, error) {
	rec, ok := s.lookup(executionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownExecution, executionID)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]store.ExecutionEvent, len(rec.events))
	copy(out, rec.events)
	return out, nil
}

func (s *Store) SaveRuntime(ctx context.Context, rt *store.Runtime) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runtimes[rt.ID] = *rt
	return nil
}

func (s *Store) ListRuntimes(ctx context.Context) ([]store.Runtime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Runtime, 0, len(s.runtimes))
	for _, rt := range s.runtimes {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) AttachIfNewer(ctx context.Context, cellID, executionID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cell, ok := s.cells[cellID]
	if ok && cell.LatestExecutionID >= executionID {
		return false, nil
	}
	s.cells[cellID] = store.CodeCell{
		ID:                cellID,
		LatestExecutionID: executionID,
		UpdatedAt:         at,
	}
	return true, nil
}

func (s *Store) GetCell(ctx context.Context, cellID string) (*store.CodeCell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cell, ok := s.cells[cellID]
	if !ok {
		return nil, nil
	}
	return &cell, nil
}

func (s *Store) lookup(id string) (*record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.executions[id]
	return rec, ok
}

func (s *Store) stamp(executionID string, event store.ExecutionEvent) store.ExecutionEvent {
	event.ID = s.eventSeq.Add(1)
	event.ExecutionID = executionID
	return event
}

func cloneExecution(e store.Execution) store.Execution {
	if e.StartedAt != nil {
		t := *e.StartedAt
		e.StartedAt = &t
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		e.CompletedAt = &t
	}
	return e
}
