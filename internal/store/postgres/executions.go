package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"runtimed/internal/store"

	"github.com/lib/pq"
)

const executionColumns = `id, runtime_id, cell_id, source, status, position, reason, submitted_at, started_at, completed_at, output`

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*store.Execution, error) {
	var exec store.Execution
	if err := row.Scan(
		&exec.ID, &exec.RuntimeID, &exec.CellID, &exec.Source,
		&exec.Status, &exec.Position, &exec.Reason,
		&exec.SubmittedAt, &exec.StartedAt, &exec.CompletedAt, &exec.Output,
	); err != nil {
		return nil, err
	}
	return &exec, nil
}

func insertEvent(ctx context.Context, ex executor, executionID string, event *store.ExecutionEvent) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO execution_events (execution_id, from_status, to_status, reason, created_at) VALUES ($1, $2, $3, $4, $5)`,
		executionID, event.From, event.To, event.Reason, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append event for %s: %w", executionID, err)
	}
	return nil
}

// CreateExecution inserts the execution and its first event in one transaction.
func (s *Store) CreateExecution(ctx context.Context, exec *store.Execution, event *store.ExecutionEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO executions (`+executionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		exec.ID, exec.RuntimeID, exec.CellID, exec.Source,
		exec.Status, exec.Position, exec.Reason,
		exec.SubmittedAt, exec.StartedAt, exec.CompletedAt, exec.Output,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", store.ErrDuplicateExecutionID, exec.ID)
		}
		return fmt.Errorf("failed to insert execution %s: %w", exec.ID, err)
	}

	if event != nil {
		if err := insertEvent(ctx, tx, exec.ID, event); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpdateExecution locks the row, applies mutate and writes the result with its event.
func (s *Store) UpdateExecution(ctx context.Context, id string, mutate store.MutateFunc) (*store.Execution, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	exec, err := scanExecution(tx.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrUnknownExecution, id)
		}
		return nil, err
	}

	current := *exec
	event, err := mutate(exec)
	if err != nil {
		return &current, err
	}
	if event == nil {
		return &current, nil
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE executions SET status = $2, reason = $3, started_at = $4, completed_at = $5, output = $6 WHERE id = $1`,
		id, exec.Status, exec.Reason, exec.StartedAt, exec.CompletedAt, exec.Output,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update execution %s: %w", id, err)
	}
	if err := insertEvent(ctx, tx, id, event); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return exec, nil
}

// GetExecution returns an execution by its ID.
func (s *Store) GetExecution(ctx context.Context, id string) (*store.Execution, error) {
	exec, err := scanExecution(s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrUnknownExecution, id)
		}
		return nil, err
	}
	return exec, nil
}

// ListExecutions returns executions matching filter with id > afterID, ordered by id.
func (s *Store) ListExecutions(ctx context.Context, filter store.ExecutionFilter, afterID string, limit int) ([]store.Execution, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if filter.ID != "" {
		add("id = $%d", filter.ID)
	}
	if filter.RuntimeID != "" {
		add("runtime_id = $%d", filter.RuntimeID)
	}
	if filter.CellID != "" {
		add("cell_id = $%d", filter.CellID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		add("status = ANY($%d)", pq.Array(statuses))
	}
	if afterID != "" {
		add("id > $%d", afterID)
	}

	query := `SELECT ` + executionColumns + ` FROM executions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id ASC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *exec)
	}
	return out, rows.Err()
}

// ListExecutionEvents returns the transitions of one execution in append order.
func (s *Store) ListExecutionEvents(ctx context.Context, executionID string) ([]store.ExecutionEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, from_status, to_status, reason, created_at FROM execution_events WHERE execution_id = $1 ORDER BY id ASC`,
		executionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ExecutionEvent
	for rows.Next() {
		var ev store.ExecutionEvent
		if err := rows.Scan(&ev.ID, &ev.ExecutionID, &ev.From, &ev.To, &ev.Reason, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
