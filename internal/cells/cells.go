// Package cells keeps the link between a code cell and the most recent execution that ran it.
package cells

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"runtimed/internal/store"
)

// ExecutionGetter is the slice of the ledger the index needs.
type ExecutionGetter interface {
	Get(ctx context.Context, id string) (*store.Execution, error)
}

// Index holds non-owning cell -> execution pointers. The pointer only ever moves to a
// newer execution, so out-of-order delivery cannot roll it back.
type Index struct {
	store  store.CellStore
	ledger ExecutionGetter
	now    func() time.Time
	log    *slog.Logger
}

// New creates an index.
func New(s store.CellStore, ledger ExecutionGetter, log *slog.Logger) *Index {
	if log == nil {
		log = slog.Default()
	}
	return &Index{store: s, ledger: ledger, now: time.Now, log: log}
}

// NormalizeID is the form a cell id is stored and looked up under.
func NormalizeID(cellID string) string {
	return strings.TrimSpace(cellID)
}

// Attach points cellID at executionID if it is newer than the current pointer.
// Reports whether the pointer moved.
func (x *Index) Attach(ctx context.Context, cellID, executionID string) (bool, error) {
	cellID = NormalizeID(cellID)
	if cellID == "" {
		return false, fmt.Errorf("attach: %w: blank", store.ErrInvalidCellID)
	}
	if _, err := x.ledger.Get(ctx, executionID); err != nil {
		return false, fmt.Errorf("attach %s: %w", cellID, err)
	}

	changed, err := x.store.AttachIfNewer(ctx, cellID, executionID, x.now())
	if err != nil {
		return false, fmt.Errorf("attach %s: %w", cellID, err)
	}
	if changed {
		x.log.Debug("cell pointer moved", "cell_id", cellID, "execution_id", executionID)
	}
	return changed, nil
}

// Latest returns the execution the cell last ran, and false if it has none.
func (x *Index) Latest(ctx context.Context, cellID string) (string, bool, error) {
	cellID = NormalizeID(cellID)
	if cellID == "" {
		return "", false, fmt.Errorf("latest: %w: blank", store.ErrInvalidCellID)
	}
	cell, err := x.store.GetCell(ctx, cellID)
	if err != nil {
		return "", false, fmt.Errorf("latest %s: %w", cellID, err)
	}
	if cell == nil || cell.LatestExecutionID == "" {
		return "", false, nil
	}
	return cell.LatestExecutionID, true, nil
}
