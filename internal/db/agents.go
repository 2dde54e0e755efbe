package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cyclemanager/cyclemanager/pkg/taskmodel"
)

const agentColumns = `id, role, status, current_task_id, last_heartbeat, metadata`

func scanAgent(row interface{ Scan(dest ...any) error }) (taskmodel.Agent, error) {
	var a taskmodel.Agent
	err := row.Scan(&a.ID, &a.Role, &a.Status, &a.CurrentTaskID, &a.LastHeartbeat, &a.Metadata)
	return a, err
}

// UpsertAgentParams is the input to UpsertAgent, called on every heartbeat.
type UpsertAgentParams struct {
	ID            uuid.UUID
	Role          taskmodel.TaskRole
	Status        taskmodel.AgentStatus
	CurrentTaskID *uuid.UUID
	Metadata      json.RawMessage
}

// UpsertAgent registers an agent or refreshes its heartbeat and status.
func (q *Queries) UpsertAgent(ctx context.Context, arg UpsertAgentParams) (taskmodel.Agent, error) {
	meta := arg.Metadata
	if meta == nil {
		meta = json.RawMessage("{}")
	}
	row := q.db.QueryRow(ctx, `INSERT INTO agents (id, role, status, current_task_id, last_heartbeat, metadata)
		VALUES ($1, $2, $3, $4, now(), $5)
		ON CONFLICT (id) DO UPDATE SET
			role = EXCLUDED.role,
			status = EXCLUDED.status,
			current_task_id = EXCLUDED.current_task_id,
			last_heartbeat = now(),
			metadata = EXCLUDED.metadata
		RETURNING `+agentColumns,
		arg.ID, arg.Role, arg.Status, arg.CurrentTaskID, meta,
	)
	a, err := scanAgent(row)
	if err != nil {
		return taskmodel.Agent{}, fmt.Errorf("upserting agent: %w", err)
	}
	return a, nil
}

// GetAgent fetches an agent by ID.
func (q *Queries) GetAgent(ctx context.Context, id uuid.UUID) (taskmodel.Agent, error) {
	row := q.db.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	return scanAgent(row)
}

// SetAgentStatus transitions an agent's status, optionally clearing its
// current task.
func (q *Queries) SetAgentStatus(ctx context.Context, id uuid.UUID, status taskmodel.AgentStatus, currentTaskID *uuid.UUID) (taskmodel.Agent, error) {
	row := q.db.QueryRow(ctx, `UPDATE agents SET status = $2, current_task_id = $3
		WHERE id = $1 RETURNING `+agentColumns,
		id, status, currentTaskID,
	)
	return scanAgent(row)
}

// ListAgentsByStatus returns every agent in the given status.
func (q *Queries) ListAgentsByStatus(ctx context.Context, status taskmodel.AgentStatus) ([]taskmodel.Agent, error) {
	rows, err := q.db.Query(ctx, `SELECT `+agentColumns+` FROM agents WHERE status = $1`, status)
	if err != nil {
		return nil, fmt.Errorf("listing agents by status: %w", err)
	}
	defer rows.Close()
	return collectAgents(rows)
}

// ListStaleAgents returns non-offline agents whose heartbeat precedes
// cutoff, for the agent cleaner's sweep.
func (q *Queries) ListStaleAgents(ctx context.Context, cutoff time.Time) ([]taskmodel.Agent, error) {
	rows, err := q.db.Query(ctx, `SELECT `+agentColumns+` FROM agents
		WHERE status != $1 AND last_heartbeat < $2`, taskmodel.AgentOffline, cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing stale agents: %w", err)
	}
	defer rows.Close()
	return collectAgents(rows)
}

// ResetNonOfflineAgentsToIdle transitions every agent not currently offline
// to idle, clearing its current task binding, and returns the number
// affected. Used by the cycle boundary cleanup, after offline agents have
// already been swept by the agent cleaner.
func (q *Queries) ResetNonOfflineAgentsToIdle(ctx context.Context) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE agents SET status = $1, current_task_id = NULL
		WHERE status != $2`, taskmodel.AgentIdle, taskmodel.AgentOffline)
	if err != nil {
		return 0, fmt.Errorf("resetting non-offline agents: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectAgents(rows pgx.Rows) ([]taskmodel.Agent, error) {
	var result []taskmodel.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if result == nil {
		result = []taskmodel.Agent{}
	}
	return result, rows.Err()
}
