package postgres

import (
	"context"
	"fmt"

	"runtimed/internal/store"
)

// SaveRuntime inserts or replaces a runtime record. Dead records are never overwritten.
func (s *Store) SaveRuntime(ctx context.Context, rt *store.Runtime) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runtimes (id, transport, descriptor, status, last_keepalive, dead_reason, created_at, died_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			last_keepalive = EXCLUDED.last_keepalive,
			dead_reason = EXCLUDED.dead_reason,
			died_at = EXCLUDED.died_at
		WHERE runtimes.status <> 'dead'`,
		rt.ID, rt.Transport, []byte(rt.Descriptor), rt.Status, rt.LastKeepalive, rt.DeadReason, rt.CreatedAt, rt.DiedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save runtime %s: %w", rt.ID, err)
	}
	return nil
}

// ListRuntimes returns every runtime ordered by id.
func (s *Store) ListRuntimes(ctx context.Context) ([]store.Runtime, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transport, descriptor, status, last_keepalive, dead_reason, created_at, died_at
		FROM runtimes
		ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Runtime
	for rows.Next() {
		var rt store.Runtime
		var descriptor []byte
		if err := rows.Scan(
			&rt.ID, &rt.Transport, &descriptor, &rt.Status,
			&rt.LastKeepalive, &rt.DeadReason, &rt.CreatedAt, &rt.DiedAt,
		); err != nil {
			return nil, err
		}
		rt.Descriptor = descriptor
		out = append(out, rt)
	}
	return out, rows.Err()
}
