package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// TaskApprovalsDigest mails reviewers a summary of the open queue.
	TaskApprovalsDigest = "approvals:digest"
)

// ApprovalsDigestPayload selects digest recipients.
type ApprovalsDigestPayload struct {
	// Recipients are principal addresses; when empty the digest goes to
	// everyone holding an admin-portal role.
	Recipients []string `json:"recipients,omitempty"`
}

// NewApprovalsDigestTask builds a digest task.
func NewApprovalsDigestTask(recipients []string) (*asynq.Task, error) {
	body, err := json.Marshal(ApprovalsDigestPayload{Recipients: recipients})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskApprovalsDigest, body, asynq.Queue(QueueDefault)), nil
}

// JobMetrics counts job runs.
type JobMetrics interface {
	JobRan(task, result string)
}

// PendingCount is one open-queue line of the digest summary.
type PendingCount struct {
	ChangeType string
	Count      int
}

// DigestStore supplies the digest's queue summary and its fallback
// recipient list.
type DigestStore interface {
	PendingByType(ctx context.Context) ([]PendingCount, error)
	AdminRecipients(ctx context.Context) ([]string, error)
}

// MailEnqueuer queues transactional mail for the mail:send handler.
// *Client satisfies it.
type MailEnqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error)
}

// PGDigestStore reads digest inputs from PostgreSQL.
type PGDigestStore struct {
	pool *pgxpool.Pool
}

// NewPGDigestStore constructs a PGDigestStore.
func NewPGDigestStore(pool *pgxpool.Pool) *PGDigestStore {
	return &PGDigestStore{pool: pool}
}

// PendingByType counts submitted change requests per change type.
func (s *PGDigestStore) PendingByType(ctx context.Context) ([]PendingCount, error) {
	rows, err := s.pool.Query(ctx, `SELECT change_type, COUNT(*) FROM change_requests
WHERE status = 'submitted' GROUP BY change_type ORDER BY change_type`)
	if err != nil {
		return nil, fmt.Errorf("jobs: digest query: %w", err)
	}
	defer rows.Close()
	var out []PendingCount
	for rows.Next() {
		var pc PendingCount
		if err := rows.Scan(&pc.ChangeType, &pc.Count); err != nil {
			return nil, fmt.Errorf("jobs: digest scan: %w", err)
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}

// AdminRecipients lists every principal holding an admin-portal role.
func (s *PGDigestStore) AdminRecipients(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT principal FROM user_roles
WHERE role_code IN ('admin', 'steward') ORDER BY principal`)
	if err != nil {
		return nil, fmt.Errorf("jobs: digest recipients: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var principal string
		if err := rows.Scan(&principal); err != nil {
			return nil, err
		}
		out = append(out, principal)
	}
	return out, rows.Err()
}

// NewApprovalsDigestHandler returns the digest handler. It summarizes
// submitted change requests per change type and queues one mail:send
// task per recipient; delivery and retries are the mail handler's job.
func NewApprovalsDigestHandler(store DigestStore, mail MailEnqueuer, metrics JobMetrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ApprovalsDigestPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}

		counts, err := store.PendingByType(ctx)
		if err != nil {
			recordJob(metrics, TaskApprovalsDigest, "error")
			return err
		}
		var (
			lines []string
			total int
		)
		for _, pc := range counts {
			lines = append(lines, fmt.Sprintf("%s: %d pending", pc.ChangeType, pc.Count))
			total += pc.Count
		}
		if total == 0 {
			logger.Info("approvals digest: queue empty, skipping mail")
			recordJob(metrics, TaskApprovalsDigest, "ok")
			return nil
		}

		recipients := payload.Recipients
		if len(recipients) == 0 {
			recipients, err = store.AdminRecipients(ctx)
			if err != nil {
				recordJob(metrics, TaskApprovalsDigest, "error")
				return err
			}
		}

		subject := fmt.Sprintf("Approval queue digest: %d pending", total)
		body := strings.Join(lines, "\n")
		queued := 0
		for _, to := range recipients {
			if _, err := mail.EnqueueSendEmail(ctx, SendEmailPayload{To: to, Subject: subject, Body: body}); err != nil {
				logger.Warn("approvals digest enqueue", slog.String("to", to), slog.Any("error", err))
				continue
			}
			queued++
		}
		logger.Info("approvals digest queued",
			slog.Int("pending", total),
			slog.Int("recipients", queued))
		recordJob(metrics, TaskApprovalsDigest, "ok")
		return nil
	}
}

func recordJob(metrics JobMetrics, task, result string) {
	if metrics != nil {
		metrics.JobRan(task, result)
	}
}
