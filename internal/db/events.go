package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cyclemanager/cyclemanager/pkg/taskmodel"
)

const eventColumns = `id, type, entity_type, entity_id, agent_id, payload, created_at`

func scanEvent(row interface{ Scan(dest ...any) error }) (taskmodel.Event, error) {
	var e taskmodel.Event
	err := row.Scan(&e.ID, &e.Type, &e.EntityType, &e.EntityID, &e.AgentID, &e.Payload, &e.CreatedAt)
	return e, err
}

// InsertEventParams is the input to InsertEvent.
type InsertEventParams struct {
	Type       string
	EntityType string
	EntityID   uuid.UUID
	AgentID    *uuid.UUID
	Payload    json.RawMessage
}

// InsertEvent appends a row to the event log.
func (q *Queries) InsertEvent(ctx context.Context, arg InsertEventParams) (taskmodel.Event, error) {
	payload := arg.Payload
	if payload == nil {
		payload = json.RawMessage("{}")
	}
	row := q.db.QueryRow(ctx, `INSERT INTO events (type, entity_type, entity_id, agent_id, payload)
		VALUES ($1, $2, $3, $4, $5) RETURNING `+eventColumns,
		arg.Type, arg.EntityType, arg.EntityID, arg.AgentID, payload,
	)
	e, err := scanEvent(row)
	if err != nil {
		return taskmodel.Event{}, fmt.Errorf("inserting event: %w", err)
	}
	return e, nil
}

// ListEventsForEntity returns the most recent events recorded against a
// given entity, newest first.
func (q *Queries) ListEventsForEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit int) ([]taskmodel.Event, error) {
	rows, err := q.db.Query(ctx, `SELECT `+eventColumns+` FROM events
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC LIMIT $3`, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing events for entity: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ListRecentEvents returns the most recent events across all entities, for
// the operator console activity feed.
func (q *Queries) ListRecentEvents(ctx context.Context, limit int) ([]taskmodel.Event, error) {
	rows, err := q.db.Query(ctx, `SELECT `+eventColumns+` FROM events
		ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]taskmodel.Event, error) {
	var result []taskmodel.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if result == nil {
		result = []taskmodel.Event{}
	}
	return result, rows.Err()
}
