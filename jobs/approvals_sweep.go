package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/calyx-catalog/calyx/internal/shared"
)

const (
	// TaskApprovalsSweep flags submitted requests that sat unreviewed.
	TaskApprovalsSweep = "approvals:sweep"

	defaultStaleAfter = 14 * 24 * time.Hour
)

// ApprovalsSweepPayload configures the staleness cutoff.
type ApprovalsSweepPayload struct {
	StaleAfter time.Duration `json:"stale_after,omitempty"`
}

// NewApprovalsSweepTask builds a sweep task.
func NewApprovalsSweepTask(staleAfter time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(ApprovalsSweepPayload{StaleAfter: staleAfter})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskApprovalsSweep, body, asynq.Queue(QueueDefault)), nil
}

// NewApprovalsSweepHandler returns the sweep handler. Stale rows are
// not decided automatically; they are flagged in the audit trail so
// reviewers can find them.
func NewApprovalsSweepHandler(pool *pgxpool.Pool, audit *shared.AuditLogger, metrics JobMetrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ApprovalsSweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		staleAfter := payload.StaleAfter
		if staleAfter <= 0 {
			staleAfter = defaultStaleAfter
		}
		cutoff := time.Now().Add(-staleAfter)

		rows, err := pool.Query(ctx, `SELECT id, change_type, requestor, created_at FROM change_requests
WHERE status = 'submitted' AND created_at < $1 ORDER BY created_at ASC`, cutoff)
		if err != nil {
			recordJob(metrics, TaskApprovalsSweep, "error")
			return fmt.Errorf("jobs: sweep query: %w", err)
		}
		defer rows.Close()

		flagged := 0
		for rows.Next() {
			var (
				id         string
				changeType string
				requestor  string
				createdAt  time.Time
			)
			if err := rows.Scan(&id, &changeType, &requestor, &createdAt); err != nil {
				recordJob(metrics, TaskApprovalsSweep, "error")
				return fmt.Errorf("jobs: sweep scan: %w", err)
			}
			if err := audit.Record(ctx, shared.AuditLog{
				Actor:    "system",
				Action:   "stale_change_request",
				Entity:   "change_request",
				EntityID: id,
				After: map[string]any{
					"change_type": changeType,
					"requestor":   requestor,
					"age_days":    int(time.Since(createdAt).Hours() / 24),
				},
			}); err != nil {
				logger.Warn("sweep audit", slog.String("id", id), slog.Any("error", err))
				continue
			}
			flagged++
		}
		if err := rows.Err(); err != nil {
			recordJob(metrics, TaskApprovalsSweep, "error")
			return err
		}
		logger.Info("approvals sweep finished", slog.Int("flagged", flagged))
		recordJob(metrics, TaskApprovalsSweep, "ok")
		return nil
	}
}
