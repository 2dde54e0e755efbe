// Package db is the hand-written persistence gateway for the cycle manager:
// a DBTX abstraction over a pool or transaction, a Queries struct built on
// top of it, and typed row/param structs for every table the orchestrator
// and operator console touch.
package db

import (
	"context"
	"hash/fnv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, letting every query
// method run unmodified inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries wraps a DBTX with the cycle manager's typed operations.
type Queries struct {
	db DBTX
}

// New creates a Queries backed by the given connection or transaction.
func New(dbtx DBTX) *Queries {
	return &Queries{db: dbtx}
}

// WithTx returns a copy of q bound to the given transaction, for callers
// that already hold a DBTX capable of beginning one (*pgxpool.Pool).
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

// Beginner is satisfied by *pgxpool.Pool: anything that can start a
// transaction.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// RunInTransaction runs fn inside a transaction opened on pool, committing
// on success and rolling back if fn returns an error or panics.
func RunInTransaction(ctx context.Context, pool Beginner, fn func(q *Queries) error) (err error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	err = fn(New(tx))
	return err
}

// TryAdvisoryLock attempts to acquire a transaction-scoped Postgres advisory
// lock keyed by an arbitrary string (a failure signature, a task ID, a
// merge-queue claim key). It returns false without blocking if the lock is
// already held elsewhere. The lock is released automatically when the
// enclosing transaction commits or rolls back, so this must be called with
// a Queries bound to a transaction (see RunInTransaction), not a bare pool.
func (q *Queries) TryAdvisoryLock(ctx context.Context, key string) (bool, error) {
	var acquired bool
	err := q.db.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, advisoryKeyHash(key)).Scan(&acquired)
	if err != nil {
		return false, err
	}
	return acquired, nil
}

// advisoryKeyHash folds an arbitrary string key into the int64 space
// pg_try_advisory_xact_lock expects.
func advisoryKeyHash(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}
