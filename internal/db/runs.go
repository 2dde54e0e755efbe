package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cyclemanager/cyclemanager/pkg/taskmodel"
)

const runColumns = `id, task_id, agent_id, status, started_at, finished_at,
	cost_tokens, error_message, error_meta, judged_at, artifacts`

func scanRun(row interface{ Scan(dest ...any) error }) (taskmodel.Run, error) {
	var r taskmodel.Run
	var errorMetaJSON []byte
	err := row.Scan(
		&r.ID, &r.TaskID, &r.AgentID, &r.Status, &r.StartedAt, &r.FinishedAt,
		&r.CostTokens, &r.ErrorMessage, &errorMetaJSON, &r.JudgedAt, &r.Artifacts,
	)
	if err != nil {
		return taskmodel.Run{}, err
	}
	if len(errorMetaJSON) > 0 {
		var meta taskmodel.RunErrorMeta
		if err := unmarshalJSON(errorMetaJSON, &meta); err != nil {
			return taskmodel.Run{}, fmt.Errorf("decoding run error meta: %w", err)
		}
		r.ErrorMeta = &meta
	}
	return r, nil
}

// CreateRun starts a new run for a task, claimed by the given agent.
func (q *Queries) CreateRun(ctx context.Context, taskID, agentID uuid.UUID) (taskmodel.Run, error) {
	row := q.db.QueryRow(ctx, `INSERT INTO runs (task_id, agent_id, status, started_at)
		VALUES ($1, $2, $3, now())
		RETURNING `+runColumns,
		taskID, agentID, taskmodel.RunRunning,
	)
	r, err := scanRun(row)
	if err != nil {
		return taskmodel.Run{}, fmt.Errorf("creating run: %w", err)
	}
	return r, nil
}

// GetRun fetches a run by ID.
func (q *Queries) GetRun(ctx context.Context, id uuid.UUID) (taskmodel.Run, error) {
	row := q.db.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	return scanRun(row)
}

// FinishRunParams is the input to FinishRun.
type FinishRunParams struct {
	ID           uuid.UUID
	Status       taskmodel.RunStatus
	CostTokens   *int64
	ErrorMessage *string
	ErrorMeta    *taskmodel.RunErrorMeta
	Artifacts    []taskmodel.ArtifactType
}

// FinishRun records a run's terminal outcome.
func (q *Queries) FinishRun(ctx context.Context, arg FinishRunParams) (taskmodel.Run, error) {
	var errorMetaJSON []byte
	if arg.ErrorMeta != nil {
		var err error
		errorMetaJSON, err = marshalJSON(arg.ErrorMeta)
		if err != nil {
			return taskmodel.Run{}, fmt.Errorf("encoding run error meta: %w", err)
		}
	}

	row := q.db.QueryRow(ctx, `UPDATE runs SET status = $2, finished_at = now(),
		cost_tokens = $3, error_message = $4, error_meta = $5, artifacts = $6
		WHERE id = $1 RETURNING `+runColumns,
		arg.ID, arg.Status, arg.CostTokens, arg.ErrorMessage, errorMetaJSON, arg.Artifacts,
	)
	r, err := scanRun(row)
	if err != nil {
		return taskmodel.Run{}, fmt.Errorf("finishing run: %w", err)
	}
	return r, nil
}

// MarkRunJudged stamps a run as having been reviewed by the Judge.
func (q *Queries) MarkRunJudged(ctx context.Context, id uuid.UUID) (taskmodel.Run, error) {
	row := q.db.QueryRow(ctx, `UPDATE runs SET judged_at = now() WHERE id = $1 RETURNING `+runColumns, id)
	return scanRun(row)
}

// ListRunsForTask returns every run of a task, most recent first.
func (q *Queries) ListRunsForTask(ctx context.Context, taskID uuid.UUID) ([]taskmodel.Run, error) {
	rows, err := q.db.Query(ctx, `SELECT `+runColumns+` FROM runs
		WHERE task_id = $1 ORDER BY started_at DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("listing runs for task: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// ListRecentFailedRunsForTask returns up to limit failed runs for a task,
// most recent first, for failure-signature repeat detection.
func (q *Queries) ListRecentFailedRunsForTask(ctx context.Context, taskID uuid.UUID, limit int) ([]taskmodel.Run, error) {
	rows, err := q.db.Query(ctx, `SELECT `+runColumns+` FROM runs
		WHERE task_id = $1 AND status = $2
		ORDER BY started_at DESC LIMIT $3`, taskID, taskmodel.RunFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent failed runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// ListRecentTerminalRunsForTask returns up to limit runs in a failed or
// cancelled state for a task, most recent first, for failure-signature
// repeat detection.
func (q *Queries) ListRecentTerminalRunsForTask(ctx context.Context, taskID uuid.UUID, limit int) ([]taskmodel.Run, error) {
	rows, err := q.db.Query(ctx, `SELECT `+runColumns+` FROM runs
		WHERE task_id = $1 AND status IN ($2, $3)
		ORDER BY started_at DESC LIMIT $4`,
		taskID, taskmodel.RunFailed, taskmodel.RunCancelled, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent terminal runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// CountRunsForTaskSince counts runs started for a task since cutoff,
// regardless of status.
func (q *Queries) CountRunsForTaskSince(ctx context.Context, taskID uuid.UUID, cutoff time.Time) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM runs WHERE task_id = $1 AND started_at >= $2`, taskID, cutoff).Scan(&n)
	return n, err
}

// ListStuckRuns returns runs still marked running whose start time precedes
// cutoff, for the run cleaner's timeout sweep.
func (q *Queries) ListStuckRuns(ctx context.Context, cutoff time.Time) ([]taskmodel.Run, error) {
	rows, err := q.db.Query(ctx, `SELECT `+runColumns+` FROM runs
		WHERE status = $1 AND started_at < $2 ORDER BY started_at ASC`, taskmodel.RunRunning, cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing stuck runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// CancelRun marks a run cancelled, used by the run cleaner on timeout.
func (q *Queries) CancelRun(ctx context.Context, id uuid.UUID) (taskmodel.Run, error) {
	row := q.db.QueryRow(ctx, `UPDATE runs SET status = $2, finished_at = now()
		WHERE id = $1 RETURNING `+runColumns, id, taskmodel.RunCancelled)
	return scanRun(row)
}

// CancelAllRunningRuns marks every run still in the running state as
// cancelled, stamping errorMessage, and returns the number affected. Used by
// the cycle boundary cleanup.
func (q *Queries) CancelAllRunningRuns(ctx context.Context, errorMessage string) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE runs SET status = $1, finished_at = now(), error_message = $2
		WHERE status = $3`,
		taskmodel.RunCancelled, errorMessage, taskmodel.RunRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("cancelling running runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetLatestTerminalRunForTask returns the most recent failed or cancelled
// run for a task, used by the requeuers to classify the failure driving the
// current cooldown cycle.
func (q *Queries) GetLatestTerminalRunForTask(ctx context.Context, taskID uuid.UUID) (taskmodel.Run, error) {
	row := q.db.QueryRow(ctx, `SELECT `+runColumns+` FROM runs
		WHERE task_id = $1 AND status IN ($2, $3)
		ORDER BY started_at DESC LIMIT 1`,
		taskID, taskmodel.RunFailed, taskmodel.RunCancelled)
	return scanRun(row)
}

// FindPendingJudgeRun returns a success run awaiting judgement (judgedAt
// still null), if one exists for the task.
func (q *Queries) FindPendingJudgeRun(ctx context.Context, taskID uuid.UUID) (taskmodel.Run, error) {
	row := q.db.QueryRow(ctx, `SELECT `+runColumns+` FROM runs
		WHERE task_id = $1 AND status = $2 AND judged_at IS NULL
		ORDER BY started_at DESC LIMIT 1`, taskID, taskmodel.RunSuccess)
	return scanRun(row)
}

// FindLatestJudgeableRun returns the most recent success run carrying a
// judgeable artifact (PR, worktree, or research deliverable), regardless of
// judged state, for restoring a judge review after a requeue.
func (q *Queries) FindLatestJudgeableRun(ctx context.Context, taskID uuid.UUID) (taskmodel.Run, error) {
	rows, err := q.db.Query(ctx, `SELECT `+runColumns+` FROM runs
		WHERE task_id = $1 AND status = $2
		ORDER BY started_at DESC`, taskID, taskmodel.RunSuccess)
	if err != nil {
		return taskmodel.Run{}, fmt.Errorf("listing success runs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return taskmodel.Run{}, err
		}
		if r.HasJudgeableArtifact() {
			return r, nil
		}
	}
	if err := rows.Err(); err != nil {
		return taskmodel.Run{}, err
	}
	return taskmodel.Run{}, pgx.ErrNoRows
}

// ClearRunJudgedAt resets a run's judgedAt to null, restoring it to the
// Judge's pending queue.
func (q *Queries) ClearRunJudgedAt(ctx context.Context, id uuid.UUID) (taskmodel.Run, error) {
	row := q.db.QueryRow(ctx, `UPDATE runs SET judged_at = NULL WHERE id = $1 RETURNING `+runColumns, id)
	return scanRun(row)
}

// SumCostTokensSince totals the cost_tokens of runs finished since cutoff,
// for cost accounting.
func (q *Queries) SumCostTokensSince(ctx context.Context, cutoff time.Time) (int64, error) {
	var total *int64
	err := q.db.QueryRow(ctx, `SELECT sum(cost_tokens) FROM runs WHERE finished_at >= $1`, cutoff).Scan(&total)
	if err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

// CostBucket is one status's aggregate within a cost-by-period query.
type CostBucket struct {
	Count  int64
	Tokens int64
}

// GetCostByPeriod sums cost_tokens and counts runs finished within
// [start, end), grouped by status, for cost accounting.
func (q *Queries) GetCostByPeriod(ctx context.Context, start, end time.Time) (map[taskmodel.RunStatus]CostBucket, error) {
	rows, err := q.db.Query(ctx, `SELECT status, count(*), coalesce(sum(cost_tokens), 0)
		FROM runs WHERE finished_at >= $1 AND finished_at < $2 GROUP BY status`, start, end)
	if err != nil {
		return nil, fmt.Errorf("grouping cost by period: %w", err)
	}
	defer rows.Close()

	buckets := make(map[taskmodel.RunStatus]CostBucket)
	for rows.Next() {
		var status taskmodel.RunStatus
		var b CostBucket
		if err := rows.Scan(&status, &b.Count, &b.Tokens); err != nil {
			return nil, err
		}
		buckets[status] = b
	}
	return buckets, rows.Err()
}

func collectRuns(rows pgx.Rows) ([]taskmodel.Run, error) {
	var result []taskmodel.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	if result == nil {
		result = []taskmodel.Run{}
	}
	return result, rows.Err()
}
