package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/scheduling-engine/internal/apperr"
)

// Transactor runs fn inside a single transaction. Repositories called with
// the ctx handed to fn join that transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Querier is the subset of pgx shared by pools and transactions.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type txKey struct{}

// Conn returns the transaction bound to ctx, or the pool when there is none.
func Conn(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return pool
}

// AdvisoryLock takes a transaction-scoped advisory lock on key. It must be
// called inside InTx; the lock is released on commit or rollback.
func AdvisoryLock(ctx context.Context, pool *pgxpool.Pool, key string) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); !ok {
		return errors.New("advisory lock requested outside a transaction")
	}
	_, err := Conn(ctx, pool).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key)
	if err != nil {
		return fmt.Errorf("advisory lock %s: %w", key, err)
	}
	return nil
}

type PgTransactor struct {
	pool     *pgxpool.Pool
	attempts int
}

func NewTransactor(pool *pgxpool.Pool, attempts int) *PgTransactor {
	if attempts < 1 {
		attempts = 1
	}
	return &PgTransactor{pool: pool, attempts: attempts}
}

// InTx retries fn when Postgres reports a serialization failure, a deadlock
// or a lock timeout. Once the attempts are spent the failure is surfaced as
// apperr.ErrTransient.
func (t *PgTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	var err error
	for i := 0; i < t.attempts; i++ {
		err = t.run(ctx, fn)
		if err == nil || !retryable(err) {
			return err
		}
	}
	return apperr.ErrTransient.Wrap(err)
}

func (t *PgTransactor) run(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := t.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return true
	}
	return false
}

// IsUniqueViolation reports whether err is a unique constraint failure,
// optionally on a specific constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
