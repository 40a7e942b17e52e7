package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"runtimed/internal/store"
)

// AttachIfNewer upserts the cell pointer, moving it only forward in id order.
func (s *Store) AttachIfNewer(ctx context.Context, cellID, executionID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO cells (id, latest_execution_id, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			latest_execution_id = EXCLUDED.latest_execution_id,
			updated_at = EXCLUDED.updated_at
		WHERE cells.latest_execution_id < EXCLUDED.latest_execution_id`,
		cellID, executionID, at,
	)
	if err != nil {
		return false, fmt.Errorf("failed to attach cell %s: %w", cellID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetCell returns the cell, or nil if it has never been attached.
func (s *Store) GetCell(ctx context.Context, cellID string) (*store.CodeCell, error) {
	var cell store.CodeCell
	err := s.db.QueryRowContext(ctx,
		`SELECT id, latest_execution_id, updated_at FROM cells WHERE id = $1`, cellID,
	).Scan(&cell.ID, &cell.LatestExecutionID, &cell.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &cell, nil
}
