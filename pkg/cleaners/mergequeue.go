package cleaners

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cyclemanager/cyclemanager/internal/db"
	"github.com/cyclemanager/cyclemanager/internal/events"
)

// DefaultMergeQueueRetryDelay is the default backoff before a recovered
// merge-queue claim is eligible to be attempted again.
const DefaultMergeQueueRetryDelay = 30 * time.Second

// MergeQueueRecoverer releases pr_merge_queue claims left processing past
// their expiry, returning them to pending for another attempt (C8).
type MergeQueueRecoverer struct {
	pool       *pgxpool.Pool
	retryDelay time.Duration
}

// NewMergeQueueRecoverer creates a MergeQueueRecoverer.
func NewMergeQueueRecoverer(pool *pgxpool.Pool, retryDelay time.Duration) *MergeQueueRecoverer {
	if retryDelay <= 0 {
		retryDelay = DefaultMergeQueueRetryDelay
	}
	return &MergeQueueRecoverer{pool: pool, retryDelay: retryDelay}
}

// Clean releases every merge-queue entry whose processing claim has
// expired. A single cycle.merge_queue_claim_recovered event is emitted
// carrying every recovered task, rather than one event per row, since the
// recovery is one cycle-level action. Returns the number of claims
// released.
func (c *MergeQueueRecoverer) Clean(ctx context.Context) (int, error) {
	q := db.New(c.pool)
	now := time.Now()

	stuck, err := q.ListStuckMergeClaims(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("listing stuck merge claims: %w", err)
	}
	if len(stuck) == 0 {
		return 0, nil
	}

	nextAttempt := now.Add(c.retryDelay)
	recoveredTaskIDs := make([]uuid.UUID, 0, len(stuck))

	err = db.RunInTransaction(ctx, c.pool, func(tx *db.Queries) error {
		for _, entry := range stuck {
			if _, err := tx.ReleaseMergeClaim(ctx, entry.ID, nextAttempt); err != nil {
				return fmt.Errorf("releasing merge claim %s: %w", entry.ID, err)
			}
			recoveredTaskIDs = append(recoveredTaskIDs, entry.TaskID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if _, err := events.Record(ctx, q, "cycle.merge_queue_claim_recovered", "cycle", uuid.Nil, nil,
		map[string]any{"taskIds": recoveredTaskIDs, "count": len(recoveredTaskIDs)}); err != nil {
		return len(recoveredTaskIDs), fmt.Errorf("recording merge queue recovery event: %w", err)
	}

	return len(recoveredTaskIDs), nil
}
