// Package events is the append-only event log (C2): synchronous recording
// for state transitions that must land in the same transaction as the
// mutation they describe, plus an async buffered path (grounded on the
// teacher's audit.Writer) for the monitors' observational events, which are
// never transaction-bound.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cyclemanager/cyclemanager/internal/db"
	"github.com/cyclemanager/cyclemanager/pkg/taskmodel"
)

// Logger records structured events. Record is synchronous and must be
// called with a Queries bound to the same transaction as the mutation it
// describes, so event ordering stays causal per entity. Async is a
// best-effort buffered path for monitor observations that have no mutation
// to pair with.
type Logger struct {
	logger  *slog.Logger
	async   chan asyncEntry
	wg      sync.WaitGroup
	pool    *db.Queries
}

type asyncEntry struct {
	eventType  string
	entityType string
	entityID   uuid.UUID
	agentID    *uuid.UUID
	payload    json.RawMessage
}

const (
	asyncBufferSize  = 256
	asyncFlushPeriod = 2 * time.Second
	asyncFlushBatch  = 32
)

// NewLogger creates a Logger. pool backs the async flush path; Record calls
// always take their own *db.Queries explicitly so they can participate in a
// caller's transaction. Call Start to begin the async flush goroutine.
func NewLogger(pool *db.Queries, logger *slog.Logger) *Logger {
	return &Logger{
		logger: logger,
		pool:   pool,
		async:  make(chan asyncEntry, asyncBufferSize),
	}
}

// Start launches the background goroutine that flushes async entries and
// returns immediately. The goroutine exits once ctx is cancelled or the
// channel is closed via Close.
func (l *Logger) Start(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.run(ctx)
	}()
}

// Close stops accepting async entries and waits for the flush goroutine to
// drain.
func (l *Logger) Close() {
	close(l.async)
	l.wg.Wait()
}

func (l *Logger) run(ctx context.Context) {
	ticker := time.NewTicker(asyncFlushPeriod)
	defer ticker.Stop()

	batch := make([]asyncEntry, 0, asyncFlushBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		for _, e := range batch {
			if _, err := l.pool.InsertEvent(ctx, db.InsertEventParams{
				Type: e.eventType, EntityType: e.entityType, EntityID: e.entityID,
				AgentID: e.agentID, Payload: e.payload,
			}); err != nil {
				l.logger.Error("flushing async event", "type", e.eventType, "error", err)
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case e, ok := <-l.async:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= asyncFlushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Record synchronously inserts an event row using the given Queries, which
// should be the same Queries the caller's state mutation used so the event
// lands in the same transaction.
func Record(ctx context.Context, q *db.Queries, eventType, entityType string, entityID uuid.UUID, agentID *uuid.UUID, payload any) (taskmodel.Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return taskmodel.Event{}, err
	}
	return q.InsertEvent(ctx, db.InsertEventParams{
		Type: eventType, EntityType: entityType, EntityID: entityID,
		AgentID: agentID, Payload: raw,
	})
}

// Async enqueues an event for best-effort asynchronous recording. It never
// blocks the caller; if the buffer is full the entry is dropped and a
// warning is logged. Used by monitors (C11/C12) that observe state rather
// than mutate it.
func (l *Logger) Async(eventType, entityType string, entityID uuid.UUID, agentID *uuid.UUID, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		l.logger.Error("marshaling async event payload", "type", eventType, "error", err)
		return
	}
	select {
	case l.async <- asyncEntry{eventType, entityType, entityID, agentID, raw}:
	default:
		l.logger.Warn("async event buffer full, dropping entry", "type", eventType)
	}
}
