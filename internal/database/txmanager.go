// Package database carries a pgx transaction through the context so that a
// store write and the event describing it commit or roll back together.
package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the SQLSTATE raised on a duplicate key.
const uniqueViolation = "23505"

type txKey struct{}

type txState struct {
	tx    pgx.Tx
	hooks []func()
}

// Querier is satisfied by *pgxpool.Pool and pgx.Tx. Begin on a pgx.Tx opens
// a savepoint, so repository code may start its own transaction either way.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TxManager runs a unit of work atomically.
type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type pgxTxManager struct {
	db *pgxpool.Pool
}

// NewTxManager returns a manager over db. A nil pool yields a manager that
// only runs after-commit hooks, for the in-memory backends.
func NewTxManager(db *pgxpool.Pool) TxManager {
	if db == nil {
		return memoryTxManager{}
	}
	return &pgxTxManager{db: db}
}

// WithTx runs fn inside a transaction and commits when fn succeeds. A call
// nested in an existing unit of work joins it.
func (m *pgxTxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*txState); ok {
		return fn(ctx)
	}

	tx, err := m.db.Begin(ctx)
	if err != nil {
		return err
	}
	state := &txState{tx: tx}

	if err := fn(context.WithValue(ctx, txKey{}, state)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	state.run()
	return nil
}

type memoryTxManager struct{}

func (memoryTxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*txState); ok {
		return fn(ctx)
	}
	state := &txState{}
	if err := fn(context.WithValue(ctx, txKey{}, state)); err != nil {
		return err
	}
	state.run()
	return nil
}

func (s *txState) run() {
	for _, hook := range s.hooks {
		hook()
	}
}

// GetTx returns the transaction bound to ctx, or db when there is none.
func GetTx(ctx context.Context, db *pgxpool.Pool) Querier {
	if state, ok := ctx.Value(txKey{}).(*txState); ok && state.tx != nil {
		return state.tx
	}
	return db
}

// InTx reports whether ctx carries a unit of work.
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*txState)
	return ok
}

// AfterCommit defers fn until the unit of work in ctx commits. It is dropped
// on rollback, and runs at once when ctx carries no unit of work.
func AfterCommit(ctx context.Context, fn func()) {
	if state, ok := ctx.Value(txKey{}).(*txState); ok {
		state.hooks = append(state.hooks, fn)
		return
	}
	fn()
}

// IsUniqueViolation reports whether err is a duplicate-key error.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
