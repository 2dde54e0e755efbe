package cleaners

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cyclemanager/cyclemanager/internal/db"
	"github.com/cyclemanager/cyclemanager/internal/events"
	"github.com/cyclemanager/cyclemanager/pkg/taskmodel"
)

// DefaultRunTimeout is the default maximum duration a run may stay in
// status=running before the run cleaner cancels it.
const DefaultRunTimeout = 15 * time.Minute

// RunCleaner cancels runs that exceed their maximum duration and fails
// their underlying task (C7).
type RunCleaner struct {
	pool    *pgxpool.Pool
	metric  prometheus.Counter
	timeout time.Duration
}

// NewRunCleaner creates a RunCleaner with the given maximum run duration.
func NewRunCleaner(pool *pgxpool.Pool, metric prometheus.Counter, timeout time.Duration) *RunCleaner {
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	return &RunCleaner{pool: pool, metric: metric, timeout: timeout}
}

const timeoutErrorMessage = "Cancelled due to timeout"

// Clean cancels every run still marked running whose start time precedes
// now minus the configured timeout, and fails the task it belonged to.
// Returns the number of runs cancelled.
func (c *RunCleaner) Clean(ctx context.Context) (int, error) {
	q := db.New(c.pool)
	cutoff := time.Now().Add(-c.timeout)

	stuck, err := q.ListStuckRuns(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing stuck runs: %w", err)
	}
	if len(stuck) == 0 {
		return 0, nil
	}

	var cancelled int
	err = db.RunInTransaction(ctx, c.pool, func(tx *db.Queries) error {
		for _, run := range stuck {
			msg := timeoutErrorMessage
			if _, err := tx.FinishRun(ctx, db.FinishRunParams{
				ID: run.ID, Status: taskmodel.RunCancelled, ErrorMessage: &msg,
			}); err != nil {
				return fmt.Errorf("cancelling run %s: %w", run.ID, err)
			}

			if _, err := tx.UpdateTaskStatus(ctx, db.UpdateTaskStatusParams{
				ID: run.TaskID, Status: taskmodel.TaskFailed, BlockReason: taskmodel.BlockNone,
			}); err != nil {
				return fmt.Errorf("failing task %s: %w", run.TaskID, err)
			}

			if _, err := events.Record(ctx, tx, "run.timeout", "run", run.ID, &run.AgentID,
				map[string]any{"taskId": run.TaskID}); err != nil {
				return fmt.Errorf("recording run.timeout: %w", err)
			}
			cancelled++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if c.metric != nil {
		c.metric.Add(float64(cancelled))
	}
	return cancelled, nil
}
