package requeue

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cyclemanager/cyclemanager/internal/db"
	"github.com/cyclemanager/cyclemanager/internal/events"
	"github.com/cyclemanager/cyclemanager/pkg/taskmodel"
)

// DefaultBlockedTaskCooldown is the default wait after a blocked task's
// last update before the blocked-task requeuer will act on it.
const DefaultBlockedTaskCooldown = 300 * time.Second

// BlockedTaskRequeuer applies reason-specific recovery to blocked tasks
// (C10): rework splitting, judge-run restoration, and quota back-off.
type BlockedTaskRequeuer struct {
	pool            *pgxpool.Pool
	logger          *slog.Logger
	cooldown        time.Duration
	quotaBackoff    QuotaBackoffConfig
	requeuedMetric  *prometheus.CounterVec
	escalatedMetric *prometheus.CounterVec
}

// NewBlockedTaskRequeuer creates a BlockedTaskRequeuer.
func NewBlockedTaskRequeuer(
	pool *pgxpool.Pool,
	logger *slog.Logger,
	cooldown time.Duration,
	quotaBackoff QuotaBackoffConfig,
	requeuedMetric, escalatedMetric *prometheus.CounterVec,
) *BlockedTaskRequeuer {
	if cooldown <= 0 {
		cooldown = DefaultBlockedTaskCooldown
	}
	return &BlockedTaskRequeuer{
		pool: pool, logger: logger, cooldown: cooldown, quotaBackoff: quotaBackoff,
		requeuedMetric: requeuedMetric, escalatedMetric: escalatedMetric,
	}
}

// Run sweeps every blocked task and applies its reason-specific recovery
// once its required cooldown has elapsed. Returns the number of tasks
// acted on.
func (r *BlockedTaskRequeuer) Run(ctx context.Context) (int, error) {
	q := db.New(r.pool)
	tasks, err := q.ListTasksByStatus(ctx, taskmodel.TaskBlocked)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	var acted int
	for _, task := range tasks {
		task.BlockReason = taskmodel.NormalizeBlockReason(task.BlockReason)

		required := r.cooldown
		if task.BlockReason == taskmodel.BlockQuotaWait {
			required = r.requiredQuotaCooldown(ctx, q, task)
		}
		if task.UpdatedAt.Add(required).After(now) {
			continue
		}

		did, err := r.recoverOne(ctx, q, task, required, now)
		if err != nil {
			r.logger.Error("blocked-task requeuer", "task_id", task.ID, "error", err)
			continue
		}
		if did {
			acted++
		}
	}
	return acted, nil
}

func (r *BlockedTaskRequeuer) requiredQuotaCooldown(ctx context.Context, q *db.Queries, task taskmodel.Task) time.Duration {
	latestMessage := ""
	if run, err := q.GetLatestTerminalRunForTask(ctx, task.ID); err == nil && run.ErrorMessage != nil {
		latestMessage = *run.ErrorMessage
	}
	return ComputeQuotaBackoff(r.quotaBackoff, task.RetryCount, task.ID, latestMessage)
}

func (r *BlockedTaskRequeuer) recoverOne(ctx context.Context, q *db.Queries, task taskmodel.Task, required time.Duration, now time.Time) (bool, error) {
	switch task.BlockReason {
	case taskmodel.BlockNeedsRework:
		return r.recoverNeedsRework(ctx, task)
	case taskmodel.BlockAwaitingJudge:
		return r.recoverAwaitingJudge(ctx, task, required)
	default:
		return r.recoverGeneric(ctx, task, blockReasonGenericRetryName(task.BlockReason), required, now)
	}
}

func (r *BlockedTaskRequeuer) recoverNeedsRework(ctx context.Context, task taskmodel.Task) (bool, error) {
	switch {
	case IsPRReviewTask(task):
		return r.recoverNeedsReworkPRReview(ctx, task)
	case IsConflictAutofixTask(task):
		return r.recoverConflictAutofix(ctx, task)
	default:
		return r.recoverNeedsReworkGeneric(ctx, task)
	}
}

func (r *BlockedTaskRequeuer) recoverNeedsReworkPRReview(ctx context.Context, task taskmodel.Task) (bool, error) {
	if task.Context.PR != nil {
		q := db.New(r.pool)
		active, err := q.ListActiveTasksByTitlePrefix(ctx, autoFixTitlePrefix)
		if err != nil {
			return false, err
		}
		activeConflict, err := q.ListActiveTasksByTitlePrefix(ctx, autoFixConflictTitlePrefix)
		if err != nil {
			return false, err
		}
		if ActiveAutoFixExistsForPR(append(active, activeConflict...), task.Context.PR.Number) {
			return false, nil
		}
	}

	var did bool
	err := db.RunInTransaction(ctx, r.pool, func(tx *db.Queries) error {
		reason, err := restoreOrKeepPendingJudgeRun(ctx, tx, task.ID)
		if err != nil {
			return err
		}
		if _, err := tx.UpdateTaskRecovery(ctx, db.UpdateTaskRecoveryParams{
			ID: task.ID, Status: taskmodel.TaskBlocked, BlockReason: taskmodel.BlockAwaitingJudge,
		}); err != nil {
			return err
		}
		if _, err := events.Record(ctx, tx, "task.requeued", "task", task.ID, nil,
			map[string]any{"reason": reason}); err != nil {
			return err
		}
		r.incRequeued(reason)
		did = true
		return nil
	})
	return did, err
}

func (r *BlockedTaskRequeuer) recoverConflictAutofix(ctx context.Context, task taskmodel.Task) (bool, error) {
	var did bool
	err := db.RunInTransaction(ctx, r.pool, func(tx *db.Queries) error {
		if _, err := tx.UpdateTaskStatus(ctx, db.UpdateTaskStatusParams{
			ID: task.ID, Status: taskmodel.TaskCancelled, BlockReason: taskmodel.BlockNone,
		}); err != nil {
			return err
		}

		if task.Context.PR != nil && task.Context.PR.SourceTaskID != "" {
			sourceID, err := parseTaskID(task.Context.PR.SourceTaskID)
			if err == nil {
				source, err := tx.GetTask(ctx, sourceID)
				if err == nil && IsPRReviewTask(source) {
					if _, err := tx.UpdateTaskRecovery(ctx, db.UpdateTaskRecoveryParams{
						ID: source.ID, Status: taskmodel.TaskBlocked, BlockReason: taskmodel.BlockAwaitingJudge,
					}); err != nil {
						return err
					}
				}
			}
		}

		if _, err := events.Record(ctx, tx, "task.recovery_escalated", "task", task.ID, nil,
			map[string]any{"reason": "conflict_autofix_needs_rework_suppressed"}); err != nil {
			return err
		}
		r.incEscalated("conflict_autofix_needs_rework_suppressed")
		did = true
		return nil
	})
	return did, err
}

func (r *BlockedTaskRequeuer) recoverNeedsReworkGeneric(ctx context.Context, task taskmodel.Task) (bool, error) {
	notes := task.Context.Notes
	payload, hasMarker, strippedNotes := ExtractVerifyReworkMarker(notes)

	reworkContext := task.Context
	reworkContext.Notes = ""
	if hasMarker {
		specs := append([]string(nil), task.Context.Specs...)
		if payload.FailedCommand != "" {
			specs = append(specs, "Failed command: "+payload.FailedCommand)
		}
		if payload.Source != "" {
			specs = append(specs, "Source: "+payload.Source)
		}
		reworkContext.Specs = specs
		var notesParts []string
		if payload.Stderr != "" {
			notesParts = append(notesParts, payload.Stderr)
		}
		reworkContext.Notes = strings.TrimSpace(strings.Join(notesParts, "\n"))
	}

	timebox := int(math.Max(30, math.Floor(float64(task.TimeboxMinutes)*0.8)))

	var did bool
	err := db.RunInTransaction(ctx, r.pool, func(tx *db.Queries) error {
		if hasMarker {
			task.Context.Notes = strippedNotes
			if _, err := tx.UpdateTaskContext(ctx, task.ID, task.Context); err != nil {
				return err
			}
		}

		rework, err := tx.CreateTask(ctx, db.CreateTaskParams{
			Title:          ReworkTitle(task.Title, hasMarker),
			Goal:           task.Goal,
			Role:           task.Role,
			Kind:           task.Kind,
			Priority:       task.Priority + 5,
			RiskLevel:      task.RiskLevel,
			TimeboxMinutes: timebox,
			AllowedPaths:   task.AllowedPaths,
			Commands:       task.Commands,
			Dependencies:   task.Dependencies,
			Context:        reworkContext,
		})
		if err != nil {
			return err
		}

		if _, err := tx.UpdateTaskStatus(ctx, db.UpdateTaskStatusParams{
			ID: task.ID, Status: taskmodel.TaskFailed, BlockReason: taskmodel.BlockNone,
		}); err != nil {
			return err
		}

		if _, err := events.Record(ctx, tx, "task.split", "task", task.ID, nil,
			map[string]any{"reworkTaskId": rework.ID}); err != nil {
			return err
		}
		did = true
		return nil
	})
	return did, err
}

func (r *BlockedTaskRequeuer) recoverAwaitingJudge(ctx context.Context, task taskmodel.Task, required time.Duration) (bool, error) {
	q := db.New(r.pool)
	if _, err := q.FindPendingJudgeRun(ctx, task.ID); err == nil {
		return false, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}

	run, err := q.FindLatestJudgeableRun(ctx, task.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.recoverGeneric(ctx, task, "awaiting_judge_timeout_retry", required, time.Now())
		}
		return false, err
	}

	var did bool
	err = db.RunInTransaction(ctx, r.pool, func(tx *db.Queries) error {
		if _, err := tx.ClearRunJudgedAt(ctx, run.ID); err != nil {
			return err
		}
		if _, err := tx.UpdateTaskRecovery(ctx, db.UpdateTaskRecoveryParams{
			ID: task.ID, Status: taskmodel.TaskBlocked, BlockReason: taskmodel.BlockAwaitingJudge,
		}); err != nil {
			return err
		}
		if _, err := events.Record(ctx, tx, "task.requeued", "task", task.ID, nil,
			map[string]any{"reason": "awaiting_judge_run_restored"}); err != nil {
			return err
		}
		r.incRequeued("awaiting_judge_run_restored")
		did = true
		return nil
	})
	return did, err
}

func blockReasonGenericRetryName(reason taskmodel.BlockReason) string {
	if reason == taskmodel.BlockQuotaWait {
		return "quota_wait_retry"
	}
	return "blocked_cooldown_retry"
}

func (r *BlockedTaskRequeuer) recoverGeneric(ctx context.Context, task taskmodel.Task, reason string, required time.Duration, now time.Time) (bool, error) {
	var did bool
	err := db.RunInTransaction(ctx, r.pool, func(tx *db.Queries) error {
		if _, err := tx.UpdateTaskRecovery(ctx, db.UpdateTaskRecoveryParams{
			ID: task.ID, Status: taskmodel.TaskQueued, BlockReason: taskmodel.BlockNone,
		}); err != nil {
			return err
		}
		if _, err := events.Record(ctx, tx, "task.requeued", "task", task.ID, nil,
			map[string]any{
				"reason":     reason,
				"cooldownMs": required.Milliseconds(),
				"retryAt":    now.Add(required).Format(time.RFC3339),
			}); err != nil {
			return err
		}
		r.incRequeued(reason)
		did = true
		return nil
	})
	return did, err
}

func parseTaskID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

func (r *BlockedTaskRequeuer) incRequeued(reason string) {
	if r.requeuedMetric != nil {
		r.requeuedMetric.WithLabelValues(reason).Inc()
	}
}

func (r *BlockedTaskRequeuer) incEscalated(reason string) {
	if r.escalatedMetric != nil {
		r.escalatedMetric.WithLabelValues(reason).Inc()
	}
}
