package requeue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cyclemanager/cyclemanager/internal/db"
	"github.com/cyclemanager/cyclemanager/internal/events"
	"github.com/cyclemanager/cyclemanager/pkg/classifier"
	"github.com/cyclemanager/cyclemanager/pkg/retrypolicy"
	"github.com/cyclemanager/cyclemanager/pkg/taskmodel"
)

// DefaultFailedTaskCooldown is the default wait after a task's last update
// before the failed-task requeuer will act on it.
const DefaultFailedTaskCooldown = 120 * time.Second

// FailedTaskRequeuer drives failed tasks back to queued, blocked, or
// escalated per the classified failure (C9).
type FailedTaskRequeuer struct {
	pool               *pgxpool.Pool
	logger             *slog.Logger
	cooldown           time.Duration
	policy             retrypolicy.Policy
	signatures         *classifier.SignatureDetector
	signatureThreshold int
	requeuedMetric     *prometheus.CounterVec
	escalatedMetric    *prometheus.CounterVec
}

// NewFailedTaskRequeuer creates a FailedTaskRequeuer.
func NewFailedTaskRequeuer(
	pool *pgxpool.Pool,
	logger *slog.Logger,
	cooldown time.Duration,
	policy retrypolicy.Policy,
	signatures *classifier.SignatureDetector,
	signatureThreshold int,
	requeuedMetric, escalatedMetric *prometheus.CounterVec,
) *FailedTaskRequeuer {
	if cooldown <= 0 {
		cooldown = DefaultFailedTaskCooldown
	}
	return &FailedTaskRequeuer{
		pool: pool, logger: logger, cooldown: cooldown, policy: policy,
		signatures: signatures, signatureThreshold: signatureThreshold,
		requeuedMetric: requeuedMetric, escalatedMetric: escalatedMetric,
	}
}

// Run sweeps every failed task past cooldown and requeues, adjusts, or
// escalates each one. Returns the number of tasks acted on.
func (r *FailedTaskRequeuer) Run(ctx context.Context) (int, error) {
	q := db.New(r.pool)
	tasks, err := q.ListTasksByStatus(ctx, taskmodel.TaskFailed)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-r.cooldown)
	var acted int
	for _, task := range tasks {
		if !task.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := r.requeueOne(ctx, q, task); err != nil {
			r.logger.Error("failed-task requeuer", "task_id", task.ID, "error", err)
			continue
		}
		acted++
	}
	return acted, nil
}

func (r *FailedTaskRequeuer) requeueOne(ctx context.Context, q *db.Queries, task taskmodel.Task) error {
	if IsPRReviewTask(task) {
		return r.requeuePRReview(ctx, task)
	}

	run, err := q.GetLatestTerminalRunForTask(ctx, task.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Warn("failed task has no terminal run to classify", "task_id", task.ID)
			return nil
		}
		return err
	}

	errorMessage := ""
	if run.ErrorMessage != nil {
		errorMessage = *run.ErrorMessage
	}
	classification := classifier.Classify(errorMessage, run.ErrorMeta)

	categoryLimit := r.policy.ResolveCategoryLimit(classification.Category)
	globalAllowed := r.policy.IsRetryAllowed(task.RetryCount)
	categoryAllowed := r.policy.IsCategoryRetryAllowed(task.RetryCount, categoryLimit)

	signature := classifier.NormalizeFailureSignature(errorMessage, classification.Reason)
	repeatedFailure, err := r.signatures.HasRepeatedFailureSignature(ctx, task.ID, signature, r.signatureThreshold)
	if err != nil {
		r.logger.Warn("signature detection failed, assuming not repeated", "task_id", task.ID, "error", err)
	}

	if changed, err := r.tryVerificationAdjustment(ctx, task, classification.Reason, run.ErrorMeta); err != nil {
		return err
	} else if changed {
		return nil
	}

	if classification.Reason == classifier.ReasonPolicyViolation {
		if changed, err := r.tryPolicyAdjustment(ctx, task, errorMessage, run.ErrorMeta); err != nil {
			return err
		} else if changed {
			return nil
		}
	}

	if !globalAllowed || !classification.Retryable || !categoryAllowed || repeatedFailure {
		blockReason := classification.BlockReason
		if repeatedFailure {
			blockReason = taskmodel.BlockNeedsRework
		}
		return db.RunInTransaction(ctx, r.pool, func(tx *db.Queries) error {
			if _, err := tx.UpdateTaskRecovery(ctx, db.UpdateTaskRecoveryParams{
				ID: task.ID, Status: taskmodel.TaskBlocked, BlockReason: blockReason,
			}); err != nil {
				return err
			}
			if _, err := events.Record(ctx, tx, "task.recovery_escalated", "task", task.ID, nil,
				map[string]any{"reason": classification.Reason, "repeatedFailure": repeatedFailure}); err != nil {
				return err
			}
			r.incEscalated(classification.Reason)
			return nil
		})
	}

	return db.RunInTransaction(ctx, r.pool, func(tx *db.Queries) error {
		if _, err := tx.UpdateTaskRecovery(ctx, db.UpdateTaskRecoveryParams{
			ID: task.ID, Status: taskmodel.TaskQueued, BlockReason: taskmodel.BlockNone,
		}); err != nil {
			return err
		}
		if _, err := events.Record(ctx, tx, "task.requeued", "task", task.ID, nil,
			map[string]any{"reason": "cooldown_retry"}); err != nil {
			return err
		}
		r.incRequeued("cooldown_retry")
		return nil
	})
}

func (r *FailedTaskRequeuer) requeuePRReview(ctx context.Context, task taskmodel.Task) error {
	return db.RunInTransaction(ctx, r.pool, func(tx *db.Queries) error {
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
		return nil
	})
}

// restoreOrKeepPendingJudgeRun implements the shared PR-review/awaiting_judge
// run restoration step used by both requeuers: keep an existing pending
// judge run untouched, else restore the latest judgeable run by clearing
// its judgedAt, else note there was nothing to restore.
func restoreOrKeepPendingJudgeRun(ctx context.Context, tx *db.Queries, taskID uuid.UUID) (string, error) {
	_, err := tx.FindPendingJudgeRun(ctx, taskID)
	if err == nil {
		return "awaiting_judge_pending", nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}

	run, err := tx.FindLatestJudgeableRun(ctx, taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "awaiting_judge_no_run_to_restore", nil
		}
		return "", err
	}
	if _, err := tx.ClearRunJudgedAt(ctx, run.ID); err != nil {
		return "", err
	}
	return "awaiting_judge_run_restored", nil
}

func (r *FailedTaskRequeuer) tryVerificationAdjustment(ctx context.Context, task taskmodel.Task, reason string, errorMeta *taskmodel.RunErrorMeta) (bool, error) {
	newCommands, changed, rule := AdjustCommandsForVerificationRecovery(reason, task.Commands, errorMeta)
	if !changed {
		return false, nil
	}

	err := db.RunInTransaction(ctx, r.pool, func(tx *db.Queries) error {
		if _, err := tx.UpdateTaskRecovery(ctx, db.UpdateTaskRecoveryParams{
			ID: task.ID, Status: taskmodel.TaskQueued, BlockReason: taskmodel.BlockNone,
			Commands: &newCommands,
		}); err != nil {
			return err
		}
		if _, err := events.Record(ctx, tx, "task.requeued", "task", task.ID, nil,
			map[string]any{"reason": reason, "recoveryRule": rule}); err != nil {
			return err
		}
		r.incRequeued(rule)
		return nil
	})
	return true, err
}

func (r *FailedTaskRequeuer) tryPolicyAdjustment(ctx context.Context, task taskmodel.Task, errorMessage string, errorMeta *taskmodel.RunErrorMeta) (bool, error) {
	newPaths, changed := AdjustAllowedPathsForPolicyViolation(task, errorMessage, errorMeta)
	if !changed {
		return false, nil
	}

	const reason = "policy_allowed_paths_adjusted"
	err := db.RunInTransaction(ctx, r.pool, func(tx *db.Queries) error {
		if _, err := tx.UpdateTaskRecovery(ctx, db.UpdateTaskRecoveryParams{
			ID: task.ID, Status: taskmodel.TaskQueued, BlockReason: taskmodel.BlockNone,
			AllowedPaths: &newPaths,
		}); err != nil {
			return err
		}
		if _, err := events.Record(ctx, tx, "task.requeued", "task", task.ID, nil,
			map[string]any{"reason": reason}); err != nil {
			return err
		}
		r.incRequeued(reason)
		return nil
	})
	return true, err
}

func (r *FailedTaskRequeuer) incRequeued(reason string) {
	if r.requeuedMetric != nil {
		r.requeuedMetric.WithLabelValues(reason).Inc()
	}
}

func (r *FailedTaskRequeuer) incEscalated(reason string) {
	if r.escalatedMetric != nil {
		r.escalatedMetric.WithLabelValues(reason).Inc()
	}
}
