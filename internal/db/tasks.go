package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cyclemanager/cyclemanager/pkg/taskmodel"
)

const taskColumns = `id, title, goal, role, kind, status, block_reason, retry_count,
	priority, risk_level, timebox_minutes, allowed_paths, commands, dependencies,
	context, created_at, updated_at`

func scanTask(row interface{ Scan(dest ...any) error }) (taskmodel.Task, error) {
	var t taskmodel.Task
	var contextJSON []byte
	err := row.Scan(
		&t.ID, &t.Title, &t.Goal, &t.Role, &t.Kind, &t.Status, &t.BlockReason, &t.RetryCount,
		&t.Priority, &t.RiskLevel, &t.TimeboxMinutes, &t.AllowedPaths, &t.Commands, &t.Dependencies,
		&contextJSON, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return taskmodel.Task{}, err
	}
	if len(contextJSON) > 0 {
		if err := unmarshalJSON(contextJSON, &t.Context); err != nil {
			return taskmodel.Task{}, fmt.Errorf("decoding task context: %w", err)
		}
	}
	t.BlockReason = taskmodel.NormalizeBlockReason(t.BlockReason)
	return t, nil
}

// GetTask fetches a task by ID.
func (q *Queries) GetTask(ctx context.Context, id uuid.UUID) (taskmodel.Task, error) {
	row := q.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	return scanTask(row)
}

// CreateTaskParams is the input to CreateTask.
type CreateTaskParams struct {
	Title          string
	Goal           string
	Role           taskmodel.TaskRole
	Kind           taskmodel.TaskKind
	Priority       int
	RiskLevel      int
	TimeboxMinutes int
	AllowedPaths   []string
	Commands       []string
	Dependencies   []uuid.UUID
	Context        taskmodel.TaskContext
}

// CreateTask inserts a new task in the queued state.
func (q *Queries) CreateTask(ctx context.Context, arg CreateTaskParams) (taskmodel.Task, error) {
	contextJSON, err := marshalJSON(arg.Context)
	if err != nil {
		return taskmodel.Task{}, fmt.Errorf("encoding task context: %w", err)
	}

	row := q.db.QueryRow(ctx, `INSERT INTO tasks
		(title, goal, role, kind, status, block_reason, retry_count, priority, risk_level,
		 timebox_minutes, allowed_paths, commands, dependencies, context)
		VALUES ($1,$2,$3,$4,$5,'',0,$6,$7,$8,$9,$10,$11,$12)
		RETURNING `+taskColumns,
		arg.Title, arg.Goal, arg.Role, arg.Kind, taskmodel.TaskQueued,
		arg.Priority, arg.RiskLevel, arg.TimeboxMinutes,
		arg.AllowedPaths, arg.Commands, arg.Dependencies, contextJSON,
	)
	t, err := scanTask(row)
	if err != nil {
		return taskmodel.Task{}, fmt.Errorf("creating task: %w", err)
	}
	return t, nil
}

// ListTasksByStatus returns every task in the given status, oldest first.
func (q *Queries) ListTasksByStatus(ctx context.Context, status taskmodel.TaskStatus) ([]taskmodel.Task, error) {
	rows, err := q.db.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = $1 ORDER BY updated_at ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("listing tasks by status: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListBlockedTasksByReason returns every blocked task with the given block
// reason, oldest first.
func (q *Queries) ListBlockedTasksByReason(ctx context.Context, reason taskmodel.BlockReason) ([]taskmodel.Task, error) {
	rows, err := q.db.Query(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE status = $1 AND block_reason = $2 ORDER BY updated_at ASC`,
		taskmodel.TaskBlocked, reason)
	if err != nil {
		return nil, fmt.Errorf("listing blocked tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListTasks returns a filtered, paginated list of tasks for the operator
// console. An empty status matches every status.
func (q *Queries) ListTasks(ctx context.Context, status taskmodel.TaskStatus, limit, offset int) ([]taskmodel.Task, error) {
	var rows pgx.Rows
	var err error
	if status == "" {
		rows, err = q.db.Query(ctx, `SELECT `+taskColumns+` FROM tasks
			ORDER BY updated_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	} else {
		rows, err = q.db.Query(ctx, `SELECT `+taskColumns+` FROM tasks
			WHERE status = $1 ORDER BY updated_at DESC LIMIT $2 OFFSET $3`, status, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows pgx.Rows) ([]taskmodel.Task, error) {
	var result []taskmodel.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if result == nil {
		result = []taskmodel.Task{}
	}
	return result, rows.Err()
}

// ListActiveTasksByTitlePrefix returns every non-terminal task (queued,
// running, or blocked) whose title starts with prefix, used to detect an
// already-in-flight AutoFix/AutoFix-Conflict task for a PR.
func (q *Queries) ListActiveTasksByTitlePrefix(ctx context.Context, prefix string) ([]taskmodel.Task, error) {
	rows, err := q.db.Query(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE title LIKE $1 AND status IN ($2, $3, $4)
		ORDER BY updated_at ASC`,
		prefix+"%", taskmodel.TaskQueued, taskmodel.TaskRunning, taskmodel.TaskBlocked,
	)
	if err != nil {
		return nil, fmt.Errorf("listing active tasks by title prefix: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// UpdateTaskStatusParams is the input to UpdateTaskStatus.
type UpdateTaskStatusParams struct {
	ID          uuid.UUID
	Status      taskmodel.TaskStatus
	BlockReason taskmodel.BlockReason
}

// UpdateTaskStatus transitions a task to a new status and block reason.
func (q *Queries) UpdateTaskStatus(ctx context.Context, arg UpdateTaskStatusParams) (taskmodel.Task, error) {
	row := q.db.QueryRow(ctx, `UPDATE tasks SET status = $2, block_reason = $3, updated_at = now()
		WHERE id = $1 RETURNING `+taskColumns,
		arg.ID, arg.Status, arg.BlockReason,
	)
	return scanTask(row)
}

// IncrementRetryCount atomically bumps a task's retry count and returns the
// updated task.
func (q *Queries) IncrementRetryCount(ctx context.Context, id uuid.UUID) (taskmodel.Task, error) {
	row := q.db.QueryRow(ctx, `UPDATE tasks SET retry_count = retry_count + 1, updated_at = now()
		WHERE id = $1 RETURNING `+taskColumns, id)
	return scanTask(row)
}

// RequeueTaskParams moves a task back to queued, optionally adjusting its
// priority or timebox (used by the console's force-requeue action).
type RequeueTaskParams struct {
	ID             uuid.UUID
	Priority       *int
	TimeboxMinutes *int
}

// RequeueTask transitions a task to queued, clearing its block reason.
func (q *Queries) RequeueTask(ctx context.Context, arg RequeueTaskParams) (taskmodel.Task, error) {
	row := q.db.QueryRow(ctx, `UPDATE tasks SET status = $2, block_reason = '',
		priority = COALESCE($3, priority),
		timebox_minutes = COALESCE($4, timebox_minutes),
		updated_at = now()
		WHERE id = $1 RETURNING `+taskColumns,
		arg.ID, taskmodel.TaskQueued, arg.Priority, arg.TimeboxMinutes,
	)
	return scanTask(row)
}

// UpdateTaskRecoveryParams is the input to UpdateTaskRecovery.
type UpdateTaskRecoveryParams struct {
	ID           uuid.UUID
	Status       taskmodel.TaskStatus
	BlockReason  taskmodel.BlockReason
	Commands     *[]string
	AllowedPaths *[]string
}

// UpdateTaskRecovery applies a requeuer's recovery adjustment in one
// statement: optionally replaces commands and/or allowedPaths, transitions
// status/blockReason, and bumps retryCount. A nil Commands/AllowedPaths
// leaves the existing column untouched.
func (q *Queries) UpdateTaskRecovery(ctx context.Context, arg UpdateTaskRecoveryParams) (taskmodel.Task, error) {
	row := q.db.QueryRow(ctx, `UPDATE tasks SET
		status = $2, block_reason = $3,
		commands = COALESCE($4, commands),
		allowed_paths = COALESCE($5, allowed_paths),
		retry_count = retry_count + 1,
		updated_at = now()
		WHERE id = $1 RETURNING `+taskColumns,
		arg.ID, arg.Status, arg.BlockReason, arg.Commands, arg.AllowedPaths,
	)
	return scanTask(row)
}

// UpdateTaskContext replaces a task's structured context payload.
func (q *Queries) UpdateTaskContext(ctx context.Context, id uuid.UUID, c taskmodel.TaskContext) (taskmodel.Task, error) {
	contextJSON, err := marshalJSON(c)
	if err != nil {
		return taskmodel.Task{}, fmt.Errorf("encoding task context: %w", err)
	}
	row := q.db.QueryRow(ctx, `UPDATE tasks SET context = $2, updated_at = now()
		WHERE id = $1 RETURNING `+taskColumns, id, contextJSON)
	return scanTask(row)
}

// CountTasksByStatus returns the number of tasks in each status, for
// anomaly detection and console summaries.
func (q *Queries) CountTasksByStatus(ctx context.Context) (map[taskmodel.TaskStatus]int64, error) {
	rows, err := q.db.Query(ctx, `SELECT status, count(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting tasks by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[taskmodel.TaskStatus]int64)
	for rows.Next() {
		var status taskmodel.TaskStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// CountStaleRunningTasks counts tasks in "running" whose updated_at
// precedes cutoff.
func (q *Queries) CountStaleRunningTasks(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM tasks t
		WHERE t.status = $1 AND t.updated_at < $2`,
		taskmodel.TaskRunning, cutoff,
	).Scan(&n)
	return n, err
}

// RevertAllRunningTasksToQueued reverts every currently running task to
// queued, unconditionally, and returns the number affected. Used by the
// cycle boundary cleanup.
func (q *Queries) RevertAllRunningTasksToQueued(ctx context.Context) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE tasks SET status = $1, block_reason = $2, updated_at = now()
		WHERE status = $3`,
		taskmodel.TaskQueued, taskmodel.BlockNone, taskmodel.TaskRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("reverting running tasks to queued: %w", err)
	}
	return tag.RowsAffected(), nil
}
