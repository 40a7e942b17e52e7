package cells

import (
	"context"
	"errors"
	"testing"

	"runtimed/internal/ledger"
	"runtimed/internal/store"
	"runtimed/internal/store/memory"
)

func setup(t *testing.T, execIDs ...string) *Index {
	t.Helper()
	st := memory.New()
	l := ledger.New(st)
	for _, id := range execIDs {
		if _, err := l.RecordQueued(context.Background(), ledger.QueuedParams{ExecutionID: id, RuntimeID: "rt"}); err != nil {
			t.Fatalf("RecordQueued failed: %v", err)
		}
	}
	return New(st, l, nil)
}

func TestAttach_MonotonicRecency(t *testing.T) {
	x := setup(t, "0001", "0002")
	ctx := context.Background()

	if _, ok, _ := x.Latest(ctx, "cell"); ok {
		t.Fatal("expected no latest execution before attach")
	}

	steps := []struct {
		execID  string
		changed bool
	}{
		{"0001", true},
		{"0002", true},
		{"0001", false},
	}
	for _, s := range steps {
		changed, err := x.Attach(ctx, "cell", s.execID)
		if err != nil {
			t.Fatalf("Attach(%s) failed: %v", s.execID, err)
		}
		if changed != s.changed {
			t.Errorf("Attach(%s) changed=%v, want %v", s.execID, changed, s.changed)
		}
	}

	latest, ok, err := x.Latest(ctx, "cell")
	if err != nil || !ok || latest != "0002" {
		t.Errorf("Latest = (%q, %v, %v), want (0002, true, nil)", latest, ok, err)
	}
}

func TestAttach_UnknownExecution(t *testing.T) {
	x := setup(t)

	_, err := x.Attach(context.Background(), "cell", "missing")
	if !errors.Is(err, store.ErrUnknownExecution) {
		t.Errorf("expected ErrUnknownExecution, got %v", err)
	}
	if _, ok, _ := x.Latest(context.Background(), "cell"); ok {
		t.Error("pointer set to an execution that does not exist")
	}
}

func TestAttach_EmptyCell(t *testing.T) {
	x := setup(t, "0001")
	if _, err := x.Attach(context.Background(), "  ", "0001"); !errors.Is(err, store.ErrInvalidCellID) {
		t.Errorf("expected ErrInvalidCellID for blank cell id, got %v", err)
	}
	if _, _, err := x.Latest(context.Background(), " "); !errors.Is(err, store.ErrInvalidCellID) {
		t.Errorf("expected ErrInvalidCellID for blank cell id, got %v", err)
	}
}

func TestCellIDWhitespace(t *testing.T) {
	x := setup(t, "0001")
	ctx := context.Background()

	if _, err := x.Attach(ctx, " cell ", "0001"); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	for _, id := range []string{"cell", " cell ", "cell\t"} {
		latest, ok, err := x.Latest(ctx, id)
		if err != nil || !ok || latest != "0001" {
			t.Errorf("Latest(%q) = (%q, %v, %v), want 0001", id, latest, ok, err)
		}
	}
}
