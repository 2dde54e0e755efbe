package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cyclemanager/cyclemanager/pkg/taskmodel"
)

const mergeQueueColumns = `id, task_id, pr_number, status, claim_owner, claim_token,
	claimed_at, claim_expires_at, next_attempt_at, updated_at`

func scanMergeQueueEntry(row interface{ Scan(dest ...any) error }) (taskmodel.MergeQueueEntry, error) {
	var m taskmodel.MergeQueueEntry
	err := row.Scan(
		&m.ID, &m.TaskID, &m.PRNumber, &m.Status, &m.ClaimOwner, &m.ClaimToken,
		&m.ClaimedAt, &m.ClaimExpiresAt, &m.NextAttemptAt, &m.UpdatedAt,
	)
	return m, err
}

// CreateMergeQueueEntry enqueues a task's PR for merge.
func (q *Queries) CreateMergeQueueEntry(ctx context.Context, taskID uuid.UUID, prNumber int) (taskmodel.MergeQueueEntry, error) {
	row := q.db.QueryRow(ctx, `INSERT INTO pr_merge_queue (task_id, pr_number, status)
		VALUES ($1, $2, $3) RETURNING `+mergeQueueColumns,
		taskID, prNumber, taskmodel.MergeQueuePending,
	)
	m, err := scanMergeQueueEntry(row)
	if err != nil {
		return taskmodel.MergeQueueEntry{}, fmt.Errorf("creating merge queue entry: %w", err)
	}
	return m, nil
}

// GetMergeQueueEntryForTask returns a task's merge-queue row, if any.
func (q *Queries) GetMergeQueueEntryForTask(ctx context.Context, taskID uuid.UUID) (taskmodel.MergeQueueEntry, error) {
	row := q.db.QueryRow(ctx, `SELECT `+mergeQueueColumns+` FROM pr_merge_queue WHERE task_id = $1`, taskID)
	return scanMergeQueueEntry(row)
}

// ListStuckMergeClaims returns entries claimed for processing whose claim
// has expired, for the merge-queue recoverer's sweep.
func (q *Queries) ListStuckMergeClaims(ctx context.Context, now time.Time) ([]taskmodel.MergeQueueEntry, error) {
	rows, err := q.db.Query(ctx, `SELECT `+mergeQueueColumns+` FROM pr_merge_queue
		WHERE status = $1 AND claim_expires_at < $2`, taskmodel.MergeQueueProcessing, now)
	if err != nil {
		return nil, fmt.Errorf("listing stuck merge claims: %w", err)
	}
	defer rows.Close()
	return collectMergeQueueEntries(rows)
}

// ListMergeQueueReadyForRetry returns failed entries whose next_attempt_at
// has elapsed.
func (q *Queries) ListMergeQueueReadyForRetry(ctx context.Context, now time.Time) ([]taskmodel.MergeQueueEntry, error) {
	rows, err := q.db.Query(ctx, `SELECT `+mergeQueueColumns+` FROM pr_merge_queue
		WHERE status = $1 AND next_attempt_at <= $2`, taskmodel.MergeQueueFailed, now)
	if err != nil {
		return nil, fmt.Errorf("listing merge queue entries ready for retry: %w", err)
	}
	defer rows.Close()
	return collectMergeQueueEntries(rows)
}

// ReleaseMergeClaim clears an expired or failed claim, returning the entry
// to pending and scheduling its next attempt.
func (q *Queries) ReleaseMergeClaim(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time) (taskmodel.MergeQueueEntry, error) {
	row := q.db.QueryRow(ctx, `UPDATE pr_merge_queue SET status = $2, claim_owner = NULL,
		claim_token = NULL, claimed_at = NULL, claim_expires_at = NULL,
		next_attempt_at = $3, updated_at = now()
		WHERE id = $1 RETURNING `+mergeQueueColumns,
		id, taskmodel.MergeQueuePending, nextAttemptAt,
	)
	return scanMergeQueueEntry(row)
}

// UpdateMergeQueueStatus transitions an entry's status.
func (q *Queries) UpdateMergeQueueStatus(ctx context.Context, id uuid.UUID, status taskmodel.MergeQueueStatus) (taskmodel.MergeQueueEntry, error) {
	row := q.db.QueryRow(ctx, `UPDATE pr_merge_queue SET status = $2, updated_at = now()
		WHERE id = $1 RETURNING `+mergeQueueColumns, id, status)
	return scanMergeQueueEntry(row)
}

func collectMergeQueueEntries(rows pgx.Rows) ([]taskmodel.MergeQueueEntry, error) {
	var result []taskmodel.MergeQueueEntry
	for rows.Next() {
		m, err := scanMergeQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	if result == nil {
		result = []taskmodel.MergeQueueEntry{}
	}
	return result, rows.Err()
}
