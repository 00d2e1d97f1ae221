package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultTxTimeout bounds every transaction; on expiry the driver aborts the
// transaction and the caller observes a context error after rollback.
const DefaultTxTimeout = 15 * time.Second

// TxOptions are the options every write transaction runs under. ReadCommitted
// lets a concurrent `balance = balance + delta` UPDATE block and then apply on
// the committed row instead of aborting with a serialization failure; the
// increments themselves are atomic, so no stricter isolation is needed.
var TxOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// WithTx executes fn within a transaction bounded by DefaultTxTimeout.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(context.Context, pgx.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultTxTimeout)
	defer cancel()

	tx, err := pool.BeginTx(ctx, TxOptions)
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}
