package jobs

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type stubDigestStore struct {
	counts     []PendingCount
	admins     []string
	adminCalls int
}

func (s *stubDigestStore) PendingByType(ctx context.Context) ([]PendingCount, error) {
	return s.counts, nil
}

func (s *stubDigestStore) AdminRecipients(ctx context.Context) ([]string, error) {
	s.adminCalls++
	return s.admins, nil
}

type stubMailQueue struct {
	queued []SendEmailPayload
}

func (s *stubMailQueue) EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error) {
	s.queued = append(s.queued, payload)
	return &asynq.TaskInfo{}, nil
}

type stubJobMetrics struct {
	runs map[string]string
}

func (s *stubJobMetrics) JobRan(task, result string) {
	if s.runs == nil {
		s.runs = map[string]string{}
	}
	s.runs[task] = result
}

func digestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDigestQueuesOneMailPerRecipient(t *testing.T) {
	store := &stubDigestStore{counts: []PendingCount{
		{ChangeType: "add_offering", Count: 2},
		{ChangeType: "update_contract", Count: 1},
	}}
	mail := &stubMailQueue{}
	metrics := &stubJobMetrics{}

	task, err := NewApprovalsDigestTask([]string{"pat", "sam"})
	require.NoError(t, err)
	handler := NewApprovalsDigestHandler(store, mail, metrics, digestLogger())
	require.NoError(t, handler(context.Background(), task))

	require.Len(t, mail.queued, 2)
	require.Equal(t, "pat", mail.queued[0].To)
	require.Equal(t, "sam", mail.queued[1].To)
	require.Equal(t, "Approval queue digest: 3 pending", mail.queued[0].Subject)
	require.Contains(t, mail.queued[0].Body, "add_offering: 2 pending")
	require.Contains(t, mail.queued[0].Body, "update_contract: 1 pending")
	require.Zero(t, store.adminCalls, "explicit recipients skip the directory")
	require.Equal(t, "ok", metrics.runs[TaskApprovalsDigest])
}

func TestDigestDefaultsToAdminRecipients(t *testing.T) {
	store := &stubDigestStore{
		counts: []PendingCount{{ChangeType: "archive_vendor", Count: 1}},
		admins: []string{"root"},
	}
	mail := &stubMailQueue{}

	task, err := NewApprovalsDigestTask(nil)
	require.NoError(t, err)
	handler := NewApprovalsDigestHandler(store, mail, nil, digestLogger())
	require.NoError(t, handler(context.Background(), task))

	require.Equal(t, 1, store.adminCalls)
	require.Len(t, mail.queued, 1)
	require.Equal(t, "root", mail.queued[0].To)
}

func TestDigestSkipsMailWhenQueueEmpty(t *testing.T) {
	store := &stubDigestStore{admins: []string{"root"}}
	mail := &stubMailQueue{}
	metrics := &stubJobMetrics{}

	task, err := NewApprovalsDigestTask(nil)
	require.NoError(t, err)
	handler := NewApprovalsDigestHandler(store, mail, metrics, digestLogger())
	require.NoError(t, handler(context.Background(), task))

	require.Empty(t, mail.queued)
	require.Zero(t, store.adminCalls)
	require.Equal(t, "ok", metrics.runs[TaskApprovalsDigest])
}
