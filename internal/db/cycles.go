package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/cyclemanager/cyclemanager/pkg/taskmodel"
)

const cycleColumns = `id, number, status, started_at, finished_at, stats, state_snapshot`

func scanCycle(row interface{ Scan(dest ...any) error }) (taskmodel.Cycle, error) {
	var c taskmodel.Cycle
	err := row.Scan(&c.ID, &c.Number, &c.Status, &c.StartedAt, &c.FinishedAt, &c.Stats, &c.StateSnapshot)
	return c, err
}

// StartCycle records the beginning of a new orchestrator tick epoch.
func (q *Queries) StartCycle(ctx context.Context, number int64) (taskmodel.Cycle, error) {
	row := q.db.QueryRow(ctx, `INSERT INTO cycles (number, status, started_at, stats, state_snapshot)
		VALUES ($1, $2, now(), '{}', '{}') RETURNING `+cycleColumns,
		number, taskmodel.CycleRunning,
	)
	c, err := scanCycle(row)
	if err != nil {
		return taskmodel.Cycle{}, fmt.Errorf("starting cycle: %w", err)
	}
	return c, nil
}

// FinishCycleParams is the input to FinishCycle.
type FinishCycleParams struct {
	ID     uuid.UUID
	Status taskmodel.CycleStatus
	Stats  json.RawMessage
}

// FinishCycle records a tick epoch's outcome and summary stats.
func (q *Queries) FinishCycle(ctx context.Context, arg FinishCycleParams) (taskmodel.Cycle, error) {
	stats := arg.Stats
	if stats == nil {
		stats = json.RawMessage("{}")
	}
	row := q.db.QueryRow(ctx, `UPDATE cycles SET status = $2, finished_at = now(), stats = $3
		WHERE id = $1 RETURNING `+cycleColumns,
		arg.ID, arg.Status, stats,
	)
	c, err := scanCycle(row)
	if err != nil {
		return taskmodel.Cycle{}, fmt.Errorf("finishing cycle: %w", err)
	}
	return c, nil
}

// GetCycle fetches a cycle by ID.
func (q *Queries) GetCycle(ctx context.Context, id uuid.UUID) (taskmodel.Cycle, error) {
	row := q.db.QueryRow(ctx, `SELECT `+cycleColumns+` FROM cycles WHERE id = $1`, id)
	return scanCycle(row)
}

// ListCycles returns the most recent cycles, newest first.
func (q *Queries) ListCycles(ctx context.Context, limit int) ([]taskmodel.Cycle, error) {
	rows, err := q.db.Query(ctx, `SELECT `+cycleColumns+` FROM cycles
		ORDER BY number DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing cycles: %w", err)
	}
	defer rows.Close()

	var result []taskmodel.Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if result == nil {
		result = []taskmodel.Cycle{}
	}
	return result, rows.Err()
}

// LastCycleNumber returns the highest recorded cycle number, or 0 if none
// exist yet.
func (q *Queries) LastCycleNumber(ctx context.Context) (int64, error) {
	var n *int64
	err := q.db.QueryRow(ctx, `SELECT max(number) FROM cycles`).Scan(&n)
	if err != nil {
		return 0, err
	}
	if n == nil {
		return 0, nil
	}
	return *n, nil
}
