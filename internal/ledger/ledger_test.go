package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"runtimed/internal/events"
	"runtimed/internal/store"
	"runtimed/internal/store/memory"
)

func queue(t *testing.T, l *Ledger, id, runtimeID, cellID string) {
	t.Helper()
	_, err := l.RecordQueued(context.Background(), QueuedParams{
		ExecutionID: id,
		RuntimeID:   runtimeID,
		CellID:      cellID,
		Source:      "1+1",
	})
	if err != nil {
		t.Fatalf("RecordQueued(%s) failed: %v", id, err)
	}
}

func TestCanTransition(t *testing.T) {
	all := []store.ExecutionStatus{
		store.ExecutionStatusQueued,
		store.ExecutionStatusRunning,
		store.ExecutionStatusCompleted,
		store.ExecutionStatusErrored,
		store.ExecutionStatusInterrupted,
	}
	legal := map[[2]store.ExecutionStatus]bool{
		{store.ExecutionStatusQueued, store.ExecutionStatusRunning}:      true,
		{store.ExecutionStatusQueued, store.ExecutionStatusInterrupted}:  true,
		{store.ExecutionStatusRunning, store.ExecutionStatusCompleted}:   true,
		{store.ExecutionStatusRunning, store.ExecutionStatusErrored}:     true,
		{store.ExecutionStatusRunning, store.ExecutionStatusInterrupted}: true,
	}

	for _, from := range all {
		for _, to := range all {
			want := legal[[2]store.ExecutionStatus{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestRecordQueued_Duplicate(t *testing.T) {
	l := New(memory.New())
	queue(t, l, "0001", "rt", "")

	_, err := l.RecordQueued(context.Background(), QueuedParams{ExecutionID: "0001", RuntimeID: "rt"})
	if !errors.Is(err, store.ErrDuplicateExecutionID) {
		t.Errorf("expected ErrDuplicateExecutionID, got %v", err)
	}
}

func TestLifecycle_Completed(t *testing.T) {
	l := New(memory.New())
	ctx := context.Background()
	queue(t, l, "0001", "rt", "")

	started, err := l.RecordStarted(ctx, "0001")
	if err != nil {
		t.Fatalf("RecordStarted failed: %v", err)
	}
	if started.StartedAt == nil || started.Status != store.ExecutionStatusRunning {
		t.Errorf("unexpected started record: %+v", started)
	}

	done, err := l.RecordTerminal(ctx, "0001", store.ExecutionStatusCompleted, "")
	if err != nil {
		t.Fatalf("RecordTerminal failed: %v", err)
	}
	if done.CompletedAt == nil || done.Status != store.ExecutionStatusCompleted {
		t.Errorf("unexpected terminal record: %+v", done)
	}

	events, err := l.Events(ctx, "0001")
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	want := []store.ExecutionStatus{store.ExecutionStatusQueued, store.ExecutionStatusRunning, store.ExecutionStatusCompleted}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, ev := range events {
		if ev.To != want[i] {
			t.Errorf("event %d to=%s, want %s", i, ev.To, want[i])
		}
	}
}

func TestRecordResult_KeepsOutput(t *testing.T) {
	l := New(memory.New())
	ctx := context.Background()
	queue(t, l, "0001", "rt", "")
	l.RecordStarted(ctx, "0001")

	done, err := l.RecordResult(ctx, "0001", store.Result{Status: store.ExecutionStatusErrored, Reason: "ZeroDivisionError", Output: "before\n"})
	if err != nil {
		t.Fatalf("RecordResult failed: %v", err)
	}
	got, _ := l.Get(ctx, "0001")
	if done.Output != "before\n" || got.Output != "before\n" || got.Reason != "ZeroDivisionError" {
		t.Errorf("unexpected record: %+v", got)
	}

	if _, err := l.RecordResult(ctx, "0001", store.Result{Status: store.ExecutionStatusCompleted, Output: "late"}); !errors.Is(err, ErrTerminal) {
		t.Errorf("expected ErrTerminal, got %v", err)
	}
	if got, _ := l.Get(ctx, "0001"); got.Output != "before\n" {
		t.Errorf("output overwritten after terminal: %q", got.Output)
	}
}

func TestIllegalTransitions(t *testing.T) {
	l := New(memory.New())
	ctx := context.Background()

	queue(t, l, "q", "rt", "")
	if _, err := l.RecordTerminal(ctx, "q", store.ExecutionStatusCompleted, ""); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("queued -> completed: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := l.RecordTerminal(ctx, "q", store.ExecutionStatusErrored, ""); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("queued -> errored: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := l.RecordTerminal(ctx, "q", store.ExecutionStatusRunning, ""); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("terminal outcome running: expected ErrInvalidTransition, got %v", err)
	}

	if _, err := l.RecordTerminal(ctx, "q", store.ExecutionStatusInterrupted, "cancelled"); err != nil {
		t.Fatalf("queued -> interrupted failed: %v", err)
	}
	if _, err := l.RecordStarted(ctx, "q"); !errors.Is(err, ErrTerminal) {
		t.Errorf("terminal -> running: expected ErrTerminal, got %v", err)
	}
	if _, err := l.RecordTerminal(ctx, "q", store.ExecutionStatusCompleted, ""); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("terminal -> completed: expected ErrInvalidTransition, got %v", err)
	}

	got, _ := l.Get(ctx, "q")
	if got.Status != store.ExecutionStatusInterrupted || got.Reason != "cancelled" {
		t.Errorf("terminal record was modified: %+v", got)
	}

	if _, err := l.RecordStarted(ctx, "missing"); !errors.Is(err, store.ErrUnknownExecution) {
		t.Errorf("expected ErrUnknownExecution, got %v", err)
	}
}

func TestHistory_LazyOrderedRestartable(t *testing.T) {
	l := New(memory.New())
	ctx := context.Background()

	total := pageSize*2 + 7
	for i := 0; i < total; i++ {
		runtimeID := "rt-a"
		if i%2 == 1 {
			runtimeID = "rt-b"
		}
		queue(t, l, fmt.Sprintf("%06d", i), runtimeID, "")
	}

	seq := l.History(ctx, store.ExecutionFilter{RuntimeID: "rt-a"})
	for round := 0; round < 2; round++ {
		prev := ""
		count := 0
		for exec, err := range seq {
			if err != nil {
				t.Fatalf("History error: %v", err)
			}
			if exec.RuntimeID != "rt-a" {
				t.Fatalf("got execution for %s", exec.RuntimeID)
			}
			if exec.ID <= prev {
				t.Fatalf("out of order: %s after %s", exec.ID, prev)
			}
			prev = exec.ID
			count++
		}
		if want := (total + 1) / 2; count != want {
			t.Errorf("round %d: got %d executions, want %d", round, count, want)
		}
	}

	// Breaking early must not panic or keep pulling pages.
	for range seq {
		break
	}
}

func TestHistory_ByCellAndID(t *testing.T) {
	l := New(memory.New())
	ctx := context.Background()
	queue(t, l, "0001", "rt", "cell-1")
	queue(t, l, "0002", "rt", "cell-2")
	queue(t, l, "0003", "rt", "cell-1")

	var ids []string
	for exec, err := range l.History(ctx, store.ExecutionFilter{CellID: "cell-1"}) {
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, exec.ID)
	}
	if len(ids) != 2 || ids[0] != "0001" || ids[1] != "0003" {
		t.Errorf("by cell = %v", ids)
	}

	ids = ids[:0]
	for exec := range l.History(ctx, store.ExecutionFilter{ID: "0002"}) {
		ids = append(ids, exec.ID)
	}
	if len(ids) != 1 || ids[0] != "0002" {
		t.Errorf("by id = %v", ids)
	}
}

func TestTransitionsArePublished(t *testing.T) {
	bus := events.NewBus(8)
	ch, cancel := bus.Subscribe("rt")
	defer cancel()

	l := New(memory.New(), WithPublisher(bus))
	ctx := context.Background()
	queue(t, l, "0001", "rt", "")
	l.RecordStarted(ctx, "0001")
	l.RecordTerminal(ctx, "0001", store.ExecutionStatusErrored, "boom")

	want := []struct{ from, to string }{{"", "queued"}, {"queued", "running"}, {"running", "errored"}}
	for _, w := range want {
		ev := <-ch
		if ev.From != w.from || ev.To != w.to || ev.ExecutionID != "0001" {
			t.Errorf("got %+v, want %s -> %s", ev, w.from, w.to)
		}
	}
}
