// Package cleaners holds the periodic recovery sweeps that keep the
// task/run/lease/agent/merge-queue state machines honest: expired leases,
// offline agents, stuck runs, and stale external merge-queue claims.
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

// LeaseCleaner reclaims expired leases (C5).
type LeaseCleaner struct {
	pool   *pgxpool.Pool
	metric prometheus.Counter
}

// NewLeaseCleaner creates a LeaseCleaner.
func NewLeaseCleaner(pool *pgxpool.Pool, metric prometheus.Counter) *LeaseCleaner {
	return &LeaseCleaner{pool: pool, metric: metric}
}

// Clean deletes every lease whose expiry has passed and, for tasks still
// marked running, reverts them to queued. Returns the number of leases
// released.
func (c *LeaseCleaner) Clean(ctx context.Context) (int, error) {
	q := db.New(c.pool)
	expired, err := q.ListExpiredLeases(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("listing expired leases: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	var released int
	err = db.RunInTransaction(ctx, c.pool, func(tx *db.Queries) error {
		for _, lease := range expired {
			if err := tx.DeleteLease(ctx, lease.ID); err != nil {
				return fmt.Errorf("deleting lease %s: %w", lease.ID, err)
			}

			task, err := tx.GetTask(ctx, lease.TaskID)
			if err != nil {
				return fmt.Errorf("loading task %s: %w", lease.TaskID, err)
			}
			if task.Status == taskmodel.TaskRunning {
				if _, err := tx.UpdateTaskStatus(ctx, db.UpdateTaskStatusParams{
					ID: task.ID, Status: taskmodel.TaskQueued, BlockReason: taskmodel.BlockNone,
				}); err != nil {
					return fmt.Errorf("requeuing task %s: %w", task.ID, err)
				}
			}

			if _, err := events.Record(ctx, tx, "lease.expired", "lease", lease.ID, nil,
				map[string]any{"taskId": lease.TaskID}); err != nil {
				return fmt.Errorf("recording lease.expired: %w", err)
			}
			released++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if c.metric != nil {
		c.metric.Add(float64(released))
	}
	return released, nil
}
