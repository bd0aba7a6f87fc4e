package repository

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"fuelops/internal/domain"
)

type Repository struct {
	pool              *pgxpool.Pool
	maxRetries        int
	reconTolerancePct int
}

func New(pool *pgxpool.Pool, maxRetries, reconTolerancePercent int) *Repository {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Repository{
		pool:              pool,
		maxRetries:        maxRetries,
		reconTolerancePct: reconTolerancePercent,
	}
}

// withTx runs fn inside a serializable transaction. Every ledger mutation
// re-reads the aggregate it depends on inside the transaction, so a
// serialization failure or deadlock is safe to replay as a whole; ids and
// references are generated by the caller before the first attempt, which makes
// the replay unable to duplicate a ledger row.
func (r *Repository) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = r.runTx(ctx, fn)
		if err == nil || !isRetryable(err) || attempt >= r.maxRetries {
			return err
		}
		log.Printf("warn: transaction conflict, replaying (attempt %d): %v", attempt, err)
	}
}

func (r *Repository) runTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// isRetryable reports whether err is a store-level transient failure:
// serialization conflict (40001) or deadlock (40P01). Business rejections are
// never retried.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return constraint == "" || pgErr.ConstraintName == constraint
	}
	return false
}

func notFoundOr(err error, wrap string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return fmt.Errorf("%s: %w", wrap, err)
}
