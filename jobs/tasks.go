// Package jobs hosts the background worker built on Asynq: scheduled
// maintenance (idempotency key cleanup) and the overdue invoice scan.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearbooks/clearbooks/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
	// TaskOverdueScan flags posted invoices past their due date.
	TaskOverdueScan = "ar:overdue_scan"
)

// IdempotencyCleanupPayload configures the retention window.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}

// NewIdempotencyCleanupHandler returns the handler for cleanup tasks.
func NewIdempotencyCleanupHandler(store *shared.IdempotencyStore, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload IdempotencyCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.Retention <= 0 {
			payload.Retention = 24 * time.Hour
		}
		if err := store.Cleanup(ctx, payload.Retention); err != nil {
			logger.Error("idempotency cleanup", slog.Any("error", err))
			return err
		}
		logger.Info("idempotency cleanup done", slog.Duration("retention", payload.Retention))
		return nil
	}
}

// NewOverdueScanTask constructs the overdue invoice scan task.
func NewOverdueScanTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskOverdueScan, nil), nil
}

// NewOverdueScanHandler counts posted invoices past due across all
// organizations and logs the totals per organization. Notification fan-out
// hangs off this scan once an email channel exists.
func NewOverdueScanHandler(pool *pgxpool.Pool, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		rows, err := pool.Query(ctx, `SELECT organization_id, COUNT(*), COALESCE(SUM(total - paid_amount),0)
FROM invoices WHERE status='POSTED' AND due_date < CURRENT_DATE
GROUP BY organization_id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var orgID, count int64
			var outstanding float64
			if err := rows.Scan(&orgID, &count, &outstanding); err != nil {
				return err
			}
			logger.Info("overdue invoices",
				slog.Int64("org_id", orgID),
				slog.Int64("count", count),
				slog.Float64("outstanding", outstanding))
		}
		return rows.Err()
	}
}
