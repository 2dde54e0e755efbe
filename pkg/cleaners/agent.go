package cleaners

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cyclemanager/cyclemanager/internal/db"
	"github.com/cyclemanager/cyclemanager/internal/events"
	"github.com/cyclemanager/cyclemanager/pkg/taskmodel"
)

// agentHeartbeatTimeout is the fixed threshold past which a non-offline
// agent with no heartbeat is considered dead. Documented constant per the
// observed behavior; not currently env-overridable.
const agentHeartbeatTimeout = 10 * time.Minute

// AgentCleaner marks heartbeat-expired agents offline (C6).
type AgentCleaner struct {
	pool *pgxpool.Pool
}

// NewAgentCleaner creates an AgentCleaner.
func NewAgentCleaner(pool *pgxpool.Pool) *AgentCleaner {
	return &AgentCleaner{pool: pool}
}

// Clean transitions every non-offline agent whose heartbeat predates the timeout
// threshold to offline, clearing its current task binding. Returns the
// number of agents marked offline.
func (c *AgentCleaner) Clean(ctx context.Context) (int, error) {
	q := db.New(c.pool)
	cutoff := time.Now().Add(-agentHeartbeatTimeout)

	stale, err := q.ListStaleAgents(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing stale agents: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	var marked int
	err = db.RunInTransaction(ctx, c.pool, func(tx *db.Queries) error {
		for _, agent := range stale {
			if _, err := tx.SetAgentStatus(ctx, agent.ID, taskmodel.AgentOffline, nil); err != nil {
				return fmt.Errorf("marking agent %s offline: %w", agent.ID, err)
			}
			if _, err := events.Record(ctx, tx, "agent.offline", "agent", agent.ID, &agent.ID,
				map[string]any{"reason": "heartbeat_timeout"}); err != nil {
				return fmt.Errorf("recording agent.offline: %w", err)
			}
			marked++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return marked, nil
}
