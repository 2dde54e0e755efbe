package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cyclemanager/cyclemanager/pkg/taskmodel"
)

const leaseColumns = `id, task_id, owner_agent_id, expires_at`

func scanLease(row interface{ Scan(dest ...any) error }) (taskmodel.Lease, error) {
	var l taskmodel.Lease
	err := row.Scan(&l.ID, &l.TaskID, &l.OwnerAgentID, &l.ExpiresAt)
	return l, err
}

// CreateLease claims a task for an agent, failing if a lease already exists
// for that task (enforced by a unique index on task_id).
func (q *Queries) CreateLease(ctx context.Context, taskID, agentID uuid.UUID, expiresAt time.Time) (taskmodel.Lease, error) {
	row := q.db.QueryRow(ctx, `INSERT INTO leases (task_id, owner_agent_id, expires_at)
		VALUES ($1, $2, $3) RETURNING `+leaseColumns,
		taskID, agentID, expiresAt,
	)
	l, err := scanLease(row)
	if err != nil {
		return taskmodel.Lease{}, fmt.Errorf("creating lease: %w", err)
	}
	return l, nil
}

// GetLeaseForTask returns the active lease on a task, if any.
func (q *Queries) GetLeaseForTask(ctx context.Context, taskID uuid.UUID) (taskmodel.Lease, error) {
	row := q.db.QueryRow(ctx, `SELECT `+leaseColumns+` FROM leases WHERE task_id = $1`, taskID)
	return scanLease(row)
}

// RenewLease extends an existing lease's expiry.
func (q *Queries) RenewLease(ctx context.Context, id uuid.UUID, expiresAt time.Time) (taskmodel.Lease, error) {
	row := q.db.QueryRow(ctx, `UPDATE leases SET expires_at = $2 WHERE id = $1 RETURNING `+leaseColumns,
		id, expiresAt,
	)
	return scanLease(row)
}

// DeleteLease releases a task's lease.
func (q *Queries) DeleteLease(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `DELETE FROM leases WHERE id = $1`, id)
	return err
}

// DeleteLeaseForTask releases whatever lease a task currently holds.
func (q *Queries) DeleteLeaseForTask(ctx context.Context, taskID uuid.UUID) error {
	_, err := q.db.Exec(ctx, `DELETE FROM leases WHERE task_id = $1`, taskID)
	return err
}

// ListExpiredLeases returns every lease whose expiry precedes now, oldest
// first, for the lease cleaner's sweep.
func (q *Queries) ListExpiredLeases(ctx context.Context, now time.Time) ([]taskmodel.Lease, error) {
	rows, err := q.db.Query(ctx, `SELECT `+leaseColumns+` FROM leases
		WHERE expires_at < $1 ORDER BY expires_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("listing expired leases: %w", err)
	}
	defer rows.Close()

	var result []taskmodel.Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	if result == nil {
		result = []taskmodel.Lease{}
	}
	return result, rows.Err()
}

// DeleteAllLeases removes every lease in the store, regardless of expiry,
// and returns the number deleted. Used by the cycle boundary cleanup, which
// unconditionally clears lease state after the expired-lease sweep has run.
func (q *Queries) DeleteAllLeases(ctx context.Context) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM leases`)
	if err != nil {
		return 0, fmt.Errorf("deleting all leases: %w", err)
	}
	return tag.RowsAffected(), nil
}
